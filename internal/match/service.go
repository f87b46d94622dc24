// Package match implements the staged retrieve-filter-pace-rank pipeline
// that turns a request into a ranked, policy-safe, budget-paced candidate
// list, plus the explain lookup over its audit traces.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sponsorlabs/placemint/internal/analytics"
	"github.com/sponsorlabs/placemint/internal/audit"
	"github.com/sponsorlabs/placemint/internal/fault"
	"github.com/sponsorlabs/placemint/internal/filter"
	"github.com/sponsorlabs/placemint/internal/index"
	"github.com/sponsorlabs/placemint/internal/model"
	"github.com/sponsorlabs/placemint/internal/pacing"
	"github.com/sponsorlabs/placemint/internal/policy"
	"github.com/sponsorlabs/placemint/internal/targeting"
	"github.com/sponsorlabs/placemint/internal/telemetry"
)

// DefaultCPM is the imputed cost basis when a creative carries no cpm.
const DefaultCPM = 10.0

// shortContextChars is the normalized length below which a warning is
// attached to the response.
const shortContextChars = 20

// Embedder is the slice of the embedding provider the pipeline uses.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the slice of the vector index the pipeline uses.
type Searcher interface {
	Query(ctx context.Context, vector []float32, expr filter.Expression, topK int) ([]index.Hit, error)
}

// AnalyticsStore combines the pacing reads and the match-event write.
// A nil store disables pacing and recording.
type AnalyticsStore interface {
	pacing.StatsReader
	RecordMatch(ctx context.Context, ev analytics.MatchEvent) error
}

// Deps are the collaborators the service is composed from.
type Deps struct {
	Embedder  Embedder
	Index     Searcher
	Analytics AnalyticsStore // may be nil
	Audit     *audit.Store
	Logger    *slog.Logger
}

// Options tune pipeline limits.
type Options struct {
	// MaxTopK caps the index fetch regardless of the requested top_k.
	MaxTopK int
	// RequestTimeout bounds one match end to end. Zero disables the
	// deadline.
	RequestTimeout time.Duration
	// DefaultCPM replaces a missing cpm payload field. Zero means
	// DefaultCPM.
	DefaultCPM float64
}

// Service orchestrates the match pipeline. It is the only component
// that calls every other one.
type Service struct {
	embedder  Embedder
	index     Searcher
	analytics AnalyticsStore
	audit     *audit.Store
	targeting *targeting.Engine
	policy    *policy.Engine
	pacing    *pacing.Engine
	logger    *slog.Logger

	maxTopK    int
	timeout    time.Duration
	defaultCPM float64
	now        func() time.Time
	newID      func() uuid.UUID

	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewService builds the pipeline from its collaborators.
func NewService(deps Deps, opts Options) *Service {
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = model.MaxTopK
	}
	if opts.DefaultCPM <= 0 {
		opts.DefaultCPM = DefaultCPM
	}
	var stats pacing.StatsReader
	if deps.Analytics != nil {
		stats = deps.Analytics
	}

	meter := telemetry.Meter("placemint/match")
	requests, _ := meter.Int64Counter("placemint.match.requests",
		metric.WithDescription("Match requests by outcome"))
	latency, _ := meter.Float64Histogram("placemint.match.duration_seconds",
		metric.WithDescription("Match request duration"))

	return &Service{
		embedder:   deps.Embedder,
		index:      deps.Index,
		analytics:  deps.Analytics,
		audit:      deps.Audit,
		targeting:  targeting.NewEngine(),
		policy:     policy.NewEngine(),
		pacing:     pacing.NewEngine(stats),
		logger:     deps.Logger,
		maxTopK:    opts.MaxTopK,
		timeout:    opts.RequestTimeout,
		defaultCPM: opts.DefaultCPM,
		now:        time.Now,
		newID:      uuid.New,
		requests:   requests,
		latency:    latency,
	}
}

// Match runs the full pipeline for one request. On success the returned
// trace has already been persisted under every candidate's match id.
// Failures are typed; partial responses are never returned.
func (s *Service) Match(ctx context.Context, req model.MatchRequest) (model.MatchResponse, model.AuditTrace, error) {
	start := s.now()
	resp, trace, err := s.match(ctx, req)

	outcome := "ok"
	if err != nil {
		outcome = string(fault.KindOf(err))
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	s.requests.Add(ctx, 1, attrs)
	s.latency.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		s.logger.Error("match: request failed",
			"kind", fault.KindOf(err), "error", err)
		return model.MatchResponse{}, model.AuditTrace{}, err
	}
	s.logger.Info("match: request completed",
		"request_id", resp.RequestID,
		"placement", resp.Placement,
		"candidates", len(resp.Candidates),
		"decisions", len(trace.Decisions),
		"duration_ms", time.Since(start).Milliseconds())
	return resp, trace, nil
}

func (s *Service) match(ctx context.Context, req model.MatchRequest) (model.MatchResponse, model.AuditTrace, error) {
	var zeroResp model.MatchResponse
	var zeroTrace model.AuditTrace

	if v := req.Validate(); !v.Valid {
		return zeroResp, zeroTrace, fault.Newf(fault.InvalidInput, "match: invalid request: %s", strings.Join(v.Errors, "; "))
	}

	requestID := s.newID()

	normalized := strings.Join(strings.Fields(req.ContextText), " ")
	if normalized == "" {
		return zeroResp, zeroTrace, fault.New(fault.InvalidInput, "match: context_text is empty after normalization")
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	vector, err := s.embedder.Embed(ctx, normalized)
	if err != nil {
		return zeroResp, zeroTrace, classify(err, "match: embed context")
	}

	expr := s.targeting.BuildFilter(req.Constraints, req.Placement)

	topK := req.TopK
	if topK > s.maxTopK {
		topK = s.maxTopK
	}
	hits, err := s.index.Query(ctx, vector, expr, topK)
	if err != nil {
		return zeroResp, zeroTrace, classify(err, "match: index query")
	}
	if err := ctx.Err(); err != nil {
		return zeroResp, zeroTrace, classify(err, "match: after index query")
	}

	// Policy pass: one decision per hit in index order. Eligible hits
	// remember their decision's position so the pacing pass can patch
	// records in place instead of scanning by id.
	decisions := make([]model.Decision, 0, len(hits))
	impact := map[string]int{}
	type eligible struct {
		hit         index.Hit
		decisionPos int
	}
	var eligibles []eligible
	for _, hit := range hits {
		reason := s.policy.Reason(hit.Payload, req.Constraints, req.ContextText)
		decisions = append(decisions, model.Decision{
			CreativeID: hit.CreativeID,
			CampaignID: hit.CampaignID,
			Score:      float64(hit.Score),
			Reason:     reason,
		})
		if reason == policy.ReasonAllowed {
			eligibles = append(eligibles, eligible{hit: hit, decisionPos: len(decisions) - 1})
		} else if tag := policy.ConstraintTag(reason); tag != "" {
			impact[tag]++
		}
	}

	// Pacing and ranking pass: the index's return order is the base
	// order; pacing and boost adjust the surfaced score but never
	// reshuffle.
	candidates := make([]model.Candidate, 0, len(eligibles))
	for _, e := range eligibles {
		d, err := s.pacing.Evaluate(ctx, e.hit.Payload)
		if err != nil {
			return zeroResp, zeroTrace, classify(err, "match: pacing evaluation")
		}
		if !d.Allow {
			decisions[e.decisionPos].Reason = "pacing:" + d.Reason
			impact["pacing"]++
			continue
		}

		boost := boostFor(e.hit.Payload, req.BoostKeywords)
		score := clamp01(float64(e.hit.Score) * d.Weight * boost)
		matchID := uuid.NewSHA1(requestID, []byte(e.hit.CreativeID)).String()

		weight := d.Weight
		applied := boost
		decisions[e.decisionPos].MatchID = matchID
		decisions[e.decisionPos].PacingWeight = &weight
		decisions[e.decisionPos].BoostApplied = &applied

		p := e.hit.Payload
		candidates = append(candidates, model.Candidate{
			CreativeID:   e.hit.CreativeID,
			CampaignID:   e.hit.CampaignID,
			AdvertiserID: e.hit.AdvertiserID,
			CampaignName: p.Str("campaign_name"),
			Title:        p.Str("title"),
			Body:         p.Str("body"),
			CTAText:      p.Str("cta_text"),
			LandingURL:   p.Str("landing_url"),
			Score:        score,
			MatchID:      matchID,
			PacingWeight: d.Weight,
			PacingReason: d.Reason,
			BoostApplied: boost,
		})

		if s.analytics != nil {
			cpm := p.Float("cpm", s.defaultCPM)
			ev := analytics.MatchEvent{
				TS:           s.now().UTC(),
				RequestID:    requestID.String(),
				Placement:    req.Placement.Placement,
				CampaignID:   e.hit.CampaignID,
				CreativeID:   e.hit.CreativeID,
				Score:        score,
				PacingWeight: d.Weight,
				Cost:         cpm / 1000.0,
				Metadata: map[string]any{
					"pacing_reason": d.Reason,
					"boost_applied": boost,
				},
			}
			if err := s.analytics.RecordMatch(ctx, ev); err != nil {
				return zeroResp, zeroTrace, classify(err, "match: record analytics event")
			}
		}
	}

	var warnings []string
	if len(normalized) < shortContextChars {
		warnings = append(warnings, "context_text too short")
	}
	if len(eligibles) > 0 && len(candidates) == 0 && impact["pacing"] == len(eligibles) {
		warnings = append(warnings, "all eligible candidates were pacing-denied")
	}

	resp := model.MatchResponse{
		Candidates:       candidates,
		RequestID:        requestID.String(),
		Placement:        req.Placement.Placement,
		Warnings:         warnings,
		ConstraintImpact: impact,
	}

	trace := model.AuditTrace{
		RequestID:     requestID.String(),
		Placement:     req.Placement.Placement,
		ContextText:   truncate(req.ContextText, model.TraceContextChars),
		Constraints:   req.Constraints,
		BoostKeywords: req.BoostKeywords,
		Decisions:     decisions,
		Source:        "fresh",
	}

	// Trace persistence happens after assembly; a store problem must
	// not fail the request.
	if s.audit != nil {
		for _, c := range candidates {
			s.audit.Put(c.MatchID, trace)
		}
	}

	return resp, trace, nil
}

// Explain resolves a match id back to its stored trace. Unknown ids are
// a typed NotFound, never a panic or a generic error.
func (s *Service) Explain(_ context.Context, matchID string) (model.AuditTrace, error) {
	if s.audit == nil {
		return model.AuditTrace{}, fault.New(fault.NotFound, "match: audit store not configured")
	}
	trace, ok := s.audit.Get(matchID)
	if !ok {
		return model.AuditTrace{}, fault.Newf(fault.NotFound, "match: no trace for match id %q", matchID)
	}
	return trace, nil
}

// classify maps a collaborator failure into the core taxonomy. Already
// tagged errors pass through; context expiry becomes Timeout; anything
// else is a dependency failure.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.Timeout, msg, err)
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fault.Wrap(fault.Unavailable, msg, err)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// truncate cuts s to at most n bytes, backing off to the nearest rune
// boundary so the result stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
