// Package pacing throttles campaign delivery against its budget schedule.
// The engine is pure on top of the analytics store: it reads today's and
// all-time spend, decides admit/deny, and returns a multiplicative weight
// in [0.1, 1.0] for admitted creatives.
package pacing

import (
	"context"
	"time"

	"github.com/sponsorlabs/placemint/internal/analytics"
	"github.com/sponsorlabs/placemint/internal/model"
)

// Reason tags surfaced on candidates and in audit traces.
const (
	ReasonNoAnalytics          = "no_analytics"
	ReasonTotalBudgetExhausted = "total_budget_exhausted"
	ReasonDailyBudgetExhausted = "daily_budget_exhausted"
	ReasonPaced                = "paced"
	ReasonWithinBudget         = "within_budget"
)

const minWeight = 0.1

// StatsReader is the slice of the analytics store the engine consumes.
type StatsReader interface {
	CampaignStats(ctx context.Context, campaignID string, since, until *time.Time) (analytics.CampaignStats, error)
	RecentStats(ctx context.Context, campaignID string, window time.Duration) (analytics.CampaignStats, error)
}

// Decision is the outcome for one creative.
type Decision struct {
	Allow  bool
	Weight float64
	Reason string
}

// Engine evaluates budget pacing per creative payload.
type Engine struct {
	stats StatsReader
	now   func() time.Time
}

// NewEngine returns a pacing engine. stats may be nil, in which case every
// creative is admitted at full weight.
func NewEngine(stats StatsReader) *Engine {
	return &Engine{stats: stats, now: time.Now}
}

// NewEngineAt returns an engine with an injected clock, for tests.
func NewEngineAt(stats StatsReader, now func() time.Time) *Engine {
	return &Engine{stats: stats, now: now}
}

// Evaluate decides admission and weight for a creative payload. The read is
// not transactional with the analytics write that follows admission;
// over-spend by one in-flight request per worker is accepted.
func (e *Engine) Evaluate(ctx context.Context, p model.Payload) (Decision, error) {
	campaignID := p.Str("campaign_id")
	if campaignID == "" || e.stats == nil {
		return Decision{Allow: true, Weight: 1.0, Reason: ReasonNoAnalytics}, nil
	}

	totalBudget := p.FloatPtr("total_budget")
	dailyBudget := p.FloatPtr("daily_budget")
	mode, err := model.ParsePacingMode(p.Str("pacing_mode"))
	if err != nil {
		mode = model.PacingEven
	}

	now := e.now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	todayStats, err := e.stats.CampaignStats(ctx, campaignID, &todayStart, nil)
	if err != nil {
		return Decision{}, err
	}
	totalStats, err := e.stats.CampaignStats(ctx, campaignID, nil, nil)
	if err != nil {
		return Decision{}, err
	}

	if totalBudget != nil && totalStats.Spend >= *totalBudget {
		return Decision{Allow: false, Weight: 0.0, Reason: ReasonTotalBudgetExhausted}, nil
	}
	if dailyBudget != nil && todayStats.Spend >= *dailyBudget {
		return Decision{Allow: false, Weight: 0.0, Reason: ReasonDailyBudgetExhausted}, nil
	}

	weight := 1.0
	if dailyBudget != nil && *dailyBudget > 0 {
		elapsed := now.Sub(todayStart).Seconds()
		expected := *dailyBudget * (elapsed / 86400.0)
		if expected > 0 && todayStats.Spend > expected {
			over := todayStats.Spend / expected
			if mode != model.PacingAccelerated {
				weight = max(minWeight, 1.0/over)
			}
		}
	}

	if mode == model.PacingAdaptive {
		if target := p.FloatPtr("target_ctr"); target != nil {
			recent, err := e.stats.RecentStats(ctx, campaignID, time.Hour)
			if err != nil {
				return Decision{}, err
			}
			if recent.AvgScore < *target {
				weight = max(minWeight, weight*0.8)
			}
		}
	}

	reason := ReasonWithinBudget
	if weight < 1.0 {
		reason = ReasonPaced
	}
	return Decision{Allow: true, Weight: weight, Reason: reason}, nil
}
