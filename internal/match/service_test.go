package match

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sponsorlabs/placemint/internal/analytics"
	"github.com/sponsorlabs/placemint/internal/audit"
	"github.com/sponsorlabs/placemint/internal/fault"
	"github.com/sponsorlabs/placemint/internal/filter"
	"github.com/sponsorlabs/placemint/internal/index"
	"github.com/sponsorlabs/placemint/internal/model"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0, 0}, nil
}

type fakeIndex struct {
	hits     []index.Hit
	lastExpr filter.Expression
	lastTopK int
	err      error
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, expr filter.Expression, topK int) ([]index.Hit, error) {
	f.lastExpr = expr
	f.lastTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type fakeAnalytics struct {
	todaySpend map[string]float64
	totalSpend map[string]float64
	recentAvg  map[string]float64
	events     []analytics.MatchEvent
	recordErr  error
}

func (f *fakeAnalytics) CampaignStats(_ context.Context, campaignID string, since, _ *time.Time) (analytics.CampaignStats, error) {
	if since != nil {
		return analytics.CampaignStats{Spend: f.todaySpend[campaignID]}, nil
	}
	return analytics.CampaignStats{Spend: f.totalSpend[campaignID]}, nil
}

func (f *fakeAnalytics) RecentStats(_ context.Context, campaignID string, _ time.Duration) (analytics.CampaignStats, error) {
	return analytics.CampaignStats{AvgScore: f.recentAvg[campaignID]}, nil
}

func (f *fakeAnalytics) RecordMatch(_ context.Context, ev analytics.MatchEvent) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.events = append(f.events, ev)
	return nil
}

func hit(creativeID, campaignID string, score float32, extra map[string]any) index.Hit {
	payload := model.Payload{
		"creative_id":   creativeID,
		"campaign_id":   campaignID,
		"advertiser_id": "adv-1",
		"campaign_name": "Spring Push",
		"title":         "Cloud Hosting for Gophers",
		"body":          "Deploy Go services in seconds.",
		"cta_text":      "Try it",
		"landing_url":   "https://example.com",
	}
	for k, v := range extra {
		payload[k] = v
	}
	return index.Hit{
		CreativeID:   creativeID,
		CampaignID:   campaignID,
		AdvertiserID: "adv-1",
		Score:        score,
		Payload:      payload,
	}
}

type fixture struct {
	svc       *Service
	embedder  *fakeEmbedder
	index     *fakeIndex
	analytics *fakeAnalytics
	audit     *audit.Store
}

func newFixture(hits []index.Hit) *fixture {
	f := &fixture{
		embedder: &fakeEmbedder{},
		index:    &fakeIndex{hits: hits},
		analytics: &fakeAnalytics{
			todaySpend: map[string]float64{},
			totalSpend: map[string]float64{},
			recentAvg:  map[string]float64{},
		},
		audit: audit.NewStore(0),
	}
	f.svc = NewService(Deps{
		Embedder:  f.embedder,
		Index:     f.index,
		Analytics: f.analytics,
		Audit:     f.audit,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{})
	return f
}

func baseRequest() model.MatchRequest {
	return model.MatchRequest{
		ContextText: "deploying go services to the cloud",
		TopK:        10,
		Placement:   model.Placement{Placement: "inline", Surface: "chat"},
	}
}

func TestMatch_HappyPath(t *testing.T) {
	f := newFixture([]index.Hit{
		hit("cr-1", "camp-1", 0.95, nil),
		hit("cr-2", "camp-1", 0.80, nil),
		hit("cr-3", "camp-2", 0.60, nil),
	})

	resp, trace, err := f.svc.Match(context.Background(), baseRequest())
	require.NoError(t, err)

	require.Len(t, resp.Candidates, 3)
	assert.Equal(t, []string{"cr-1", "cr-2", "cr-3"}, []string{
		resp.Candidates[0].CreativeID, resp.Candidates[1].CreativeID, resp.Candidates[2].CreativeID,
	})
	for i, raw := range []float32{0.95, 0.80, 0.60} {
		c := resp.Candidates[i]
		assert.InDelta(t, float64(raw), c.Score, 1e-6)
		assert.Equal(t, 1.0, c.PacingWeight)
		assert.Equal(t, 1.0, c.BoostApplied)
	}
	assert.Empty(t, resp.ConstraintImpact)
	assert.Empty(t, resp.Warnings)
	assert.Equal(t, "inline", resp.Placement)
	assert.Equal(t, "fresh", trace.Source)
	assert.Len(t, trace.Decisions, 3)
	assert.Len(t, f.analytics.events, 3)
}

func TestMatch_AgeGate(t *testing.T) {
	f := newFixture([]index.Hit{
		hit("cr-a", "camp-1", 0.9, nil),
		hit("cr-b", "camp-1", 0.8, map[string]any{"age_restricted": true}),
	})

	resp, trace, err := f.svc.Match(context.Background(), baseRequest())
	require.NoError(t, err)

	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "cr-a", resp.Candidates[0].CreativeID)
	assert.Equal(t, map[string]int{"age_restricted": 1}, resp.ConstraintImpact)

	require.Len(t, trace.Decisions, 2)
	assert.Equal(t, "denied: age_restricted", trace.Decisions[1].Reason)
	assert.Empty(t, trace.Decisions[1].MatchID)
	assert.Nil(t, trace.Decisions[1].PacingWeight)
}

func TestMatch_BlockedKeywordSubstring(t *testing.T) {
	f := newFixture([]index.Hit{
		hit("cr-1", "camp-1", 0.9, map[string]any{"blocked_keywords": []any{"gamb"}}),
	})
	req := baseRequest()
	req.ContextText = "best gambling games tonight"

	resp, trace, err := f.svc.Match(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, resp.Candidates)
	require.Len(t, trace.Decisions, 1)
	assert.Equal(t, "denied: blocked_keywords", trace.Decisions[0].Reason)
	assert.Equal(t, map[string]int{"blocked_keywords": 1}, resp.ConstraintImpact)
	assert.Empty(t, f.analytics.events, "policy-denied creatives never reach analytics")
}

func TestMatch_LocaleGlobality(t *testing.T) {
	f := newFixture(nil)
	req := baseRequest()
	req.Constraints.Locale = "en-US"

	_, _, err := f.svc.Match(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, f.index.lastExpr.Must, 1)
	p := f.index.lastExpr.Must[0]
	assert.Equal(t, "locale", p.Field)
	assert.Equal(t, filter.OpAnyOf, p.Op)
	assert.Equal(t, []string{"en-US", ""}, p.Values)
}

func TestMatch_DailyBudgetExhausted(t *testing.T) {
	f := newFixture([]index.Hit{
		hit("cr-1", "camp-1", 0.9, map[string]any{"daily_budget": 0.5}),
	})
	f.analytics.todaySpend["camp-1"] = 1.0

	resp, trace, err := f.svc.Match(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.Empty(t, resp.Candidates)
	require.Len(t, trace.Decisions, 1)
	assert.Equal(t, "pacing:daily_budget_exhausted", trace.Decisions[0].Reason)
	assert.Equal(t, map[string]int{"pacing": 1}, resp.ConstraintImpact)
	assert.Contains(t, resp.Warnings, "all eligible candidates were pacing-denied")
	assert.Empty(t, f.analytics.events)
}

func TestMatch_BoostApplication(t *testing.T) {
	f := newFixture([]index.Hit{
		hit("cr-1", "camp-1", 0.5, map[string]any{"topics": []any{"python", "web"}}),
		hit("cr-2", "camp-1", 0.5, map[string]any{"topics": []any{"rust"}}),
	})
	req := baseRequest()
	req.BoostKeywords = map[string]float64{"python": 1.5}

	resp, _, err := f.svc.Match(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, resp.Candidates, 2)
	assert.Equal(t, 1.5, resp.Candidates[0].BoostApplied)
	assert.InDelta(t, 0.75, resp.Candidates[0].Score, 1e-6)
	assert.Equal(t, 1.0, resp.Candidates[1].BoostApplied)
	assert.InDelta(t, 0.5, resp.Candidates[1].Score, 1e-6)
}

func TestMatch_ScoreClamp(t *testing.T) {
	f := newFixture([]index.Hit{
		hit("cr-1", "camp-1", 0.9, map[string]any{"topics": []any{"go"}}),
	})
	req := baseRequest()
	req.BoostKeywords = map[string]float64{"go": 2.0}

	resp, _, err := f.svc.Match(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, 1.0, resp.Candidates[0].Score)
	assert.Equal(t, 2.0, resp.Candidates[0].BoostApplied)
}

func TestMatch_ScoreBounds(t *testing.T) {
	f := newFixture([]index.Hit{
		hit("cr-1", "camp-1", 1.4, nil), // indexes do not guarantee [0,1]
		hit("cr-2", "camp-1", 0.2, nil),
	})

	resp, _, err := f.svc.Match(context.Background(), baseRequest())
	require.NoError(t, err)
	for _, c := range resp.Candidates {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
}

func TestMatch_DeterministicMatchID(t *testing.T) {
	f := newFixture([]index.Hit{hit("cr-1", "camp-1", 0.9, nil)})

	resp, _, err := f.svc.Match(context.Background(), baseRequest())
	require.NoError(t, err)

	require.Len(t, resp.Candidates, 1)
	reqID := uuid.MustParse(resp.RequestID)
	want := uuid.NewSHA1(reqID, []byte("cr-1")).String()
	assert.Equal(t, want, resp.Candidates[0].MatchID)
}

func TestMatch_TraceResolvability(t *testing.T) {
	f := newFixture([]index.Hit{
		hit("cr-1", "camp-1", 0.9, nil),
		hit("cr-2", "camp-2", 0.8, nil),
	})

	resp, _, err := f.svc.Match(context.Background(), baseRequest())
	require.NoError(t, err)

	for _, c := range resp.Candidates {
		trace, err := f.svc.Explain(context.Background(), c.MatchID)
		require.NoError(t, err)
		assert.Equal(t, resp.RequestID, trace.RequestID)
	}
}

func TestExplain_NotFound(t *testing.T) {
	f := newFixture(nil)

	_, err := f.svc.Explain(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.NotFound))
}

func TestMatch_ConstraintImpactConservation(t *testing.T) {
	f := newFixture([]index.Hit{
		hit("cr-1", "camp-1", 0.9, nil),
		hit("cr-2", "camp-1", 0.8, map[string]any{"sensitive": true}),
		hit("cr-3", "camp-2", 0.7, map[string]any{"age_restricted": true}),
		hit("cr-4", "camp-3", 0.6, map[string]any{"daily_budget": 0.1}),
	})
	f.analytics.todaySpend["camp-3"] = 5.0

	resp, trace, err := f.svc.Match(context.Background(), baseRequest())
	require.NoError(t, err)

	deniedPolicy := 0
	deniedPacing := 0
	for _, d := range trace.Decisions {
		switch {
		case len(d.Reason) > 7 && d.Reason[:7] == "denied:":
			deniedPolicy++
		case len(d.Reason) > 7 && d.Reason[:7] == "pacing:":
			deniedPacing++
		}
	}
	total := 0
	for _, n := range resp.ConstraintImpact {
		total += n
	}
	assert.Equal(t, deniedPolicy+deniedPacing, total)
	assert.Equal(t, 2, deniedPolicy)
	assert.Equal(t, 1, deniedPacing)
}

func TestMatch_TopKCapped(t *testing.T) {
	f := newFixture(nil)
	req := baseRequest()
	req.TopK = 100

	f.svc.maxTopK = 25
	_, _, err := f.svc.Match(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 25, f.index.lastTopK)
}

func TestMatch_ShortContextWarning(t *testing.T) {
	f := newFixture(nil)
	req := baseRequest()
	req.ContextText = "  go   hosting "

	resp, _, err := f.svc.Match(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, resp.Warnings, "context_text too short")
}

func TestMatch_InvalidInput(t *testing.T) {
	f := newFixture(nil)

	req := baseRequest()
	req.ContextText = "   "
	_, _, err := f.svc.Match(context.Background(), req)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.InvalidInput))

	req = baseRequest()
	req.TopK = 0
	_, _, err = f.svc.Match(context.Background(), req)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.InvalidInput))

	req = baseRequest()
	req.TopK = 500
	_, _, err = f.svc.Match(context.Background(), req)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.InvalidInput))
}

func TestMatch_DependencyFailures(t *testing.T) {
	t.Run("embedder down", func(t *testing.T) {
		f := newFixture(nil)
		f.embedder.err = errors.New("connection refused")
		_, _, err := f.svc.Match(context.Background(), baseRequest())
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.Unavailable))
	})

	t.Run("index down", func(t *testing.T) {
		f := newFixture(nil)
		f.index.err = errors.New("grpc unavailable")
		_, _, err := f.svc.Match(context.Background(), baseRequest())
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.Unavailable))
	})

	t.Run("deadline exceeded", func(t *testing.T) {
		f := newFixture(nil)
		f.embedder.err = context.DeadlineExceeded
		_, _, err := f.svc.Match(context.Background(), baseRequest())
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.Timeout))
	})

	t.Run("analytics write fails the request", func(t *testing.T) {
		f := newFixture([]index.Hit{hit("cr-1", "camp-1", 0.9, nil)})
		f.analytics.recordErr = errors.New("disk full")
		_, _, err := f.svc.Match(context.Background(), baseRequest())
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.Unavailable))
	})
}

func TestMatch_AuditBound(t *testing.T) {
	f := newFixture([]index.Hit{hit("cr-1", "camp-1", 0.9, nil)})
	f.svc.audit = audit.NewStore(50)
	f.audit = f.svc.audit

	for i := 0; i < 60; i++ {
		_, _, err := f.svc.Match(context.Background(), baseRequest())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, f.audit.Len(), 50)
}

func TestMatch_TracePrefixBounded(t *testing.T) {
	f := newFixture(nil)
	req := baseRequest()
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	req.ContextText = string(long)

	_, trace, err := f.svc.Match(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, trace.ContextText, model.TraceContextChars)
}

func TestMatch_TracePrefixKeepsRunesIntact(t *testing.T) {
	f := newFixture(nil)
	req := baseRequest()
	// Three-byte runes that do not divide the prefix length evenly, so a
	// naive byte cut would land mid-rune.
	req.ContextText = strings.Repeat("日", 400)

	_, trace, err := f.svc.Match(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(trace.ContextText))
	assert.LessOrEqual(t, len(trace.ContextText), model.TraceContextChars)
	assert.True(t, strings.HasPrefix(req.ContextText, trace.ContextText))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abcd", 2))
	// "é" is two bytes; cutting at 3 must back off to the rune boundary.
	assert.Equal(t, "aé", truncate("aéé", 3))
	assert.Equal(t, "", truncate("é", 1))
}

func TestCachedService_Idempotence(t *testing.T) {
	f := newFixture([]index.Hit{
		hit("cr-1", "camp-1", 0.9, nil),
		hit("cr-2", "camp-2", 0.7, nil),
	})
	cached := NewCachedService(f.svc, 10)
	req := baseRequest()

	resp1, trace1, err := cached.Match(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "fresh", trace1.Source)
	eventsAfterFirst := len(f.analytics.events)
	auditAfterFirst := f.audit.Len()

	resp2, trace2, err := cached.Match(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "cache", trace2.Source)
	assert.Equal(t, resp1.Candidates, resp2.Candidates)
	assert.Equal(t, resp1.RequestID, resp2.RequestID)

	// Advisory semantics: no replayed side effects, no new audit entries.
	assert.Equal(t, eventsAfterFirst, len(f.analytics.events))
	assert.Equal(t, auditAfterFirst, f.audit.Len())

	// The original match ids still resolve.
	for _, c := range resp2.Candidates {
		_, err := cached.Explain(context.Background(), c.MatchID)
		require.NoError(t, err)
	}
}

func TestCachedService_DistinctRequestsMiss(t *testing.T) {
	f := newFixture([]index.Hit{hit("cr-1", "camp-1", 0.9, nil)})
	cached := NewCachedService(f.svc, 10)

	_, trace1, err := cached.Match(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, "fresh", trace1.Source)

	other := baseRequest()
	other.TopK = 5
	_, trace2, err := cached.Match(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, "fresh", trace2.Source)
}

func TestBoostFor(t *testing.T) {
	payload := model.Payload{
		"title":  "Cloud Hosting for Gophers",
		"body":   "Deploy Go services in seconds.",
		"topics": []any{"go", "cloud"},
	}

	t.Run("no boosts", func(t *testing.T) {
		assert.Equal(t, 1.0, boostFor(payload, nil))
	})

	t.Run("topic exact match", func(t *testing.T) {
		assert.Equal(t, 1.5, boostFor(payload, map[string]float64{"cloud": 1.5}))
	})

	t.Run("title substring", func(t *testing.T) {
		assert.Equal(t, 1.3, boostFor(payload, map[string]float64{"gopher": 1.3}))
	})

	t.Run("max not product", func(t *testing.T) {
		got := boostFor(payload, map[string]float64{"cloud": 1.5, "gopher": 1.8})
		assert.Equal(t, 1.8, got)
	})

	t.Run("no intersection", func(t *testing.T) {
		assert.Equal(t, 1.0, boostFor(payload, map[string]float64{"python": 1.9}))
	})

	t.Run("factor clamped above", func(t *testing.T) {
		assert.Equal(t, 2.0, boostFor(payload, map[string]float64{"cloud": 9.0}))
	})

	t.Run("down-boost never drops below one", func(t *testing.T) {
		assert.Equal(t, 1.0, boostFor(payload, map[string]float64{"cloud": 0.2}))
	})
}
