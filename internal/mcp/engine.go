package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/sponsorlabs/placemint/internal/fault"
	"github.com/sponsorlabs/placemint/internal/model"
	"github.com/sponsorlabs/placemint/internal/policy"
)

// defaultTopK is applied when a match request omits top_k.
const defaultTopK = 10

func (s *Server) registerEngineTools() {
	// campaigns_match — the main pipeline entry point.
	s.mcpServer.AddTool(
		mcplib.NewTool("campaigns_match",
			mcplib.WithDescription("Match sponsorship candidates against conversation context. Returns ranked, policy-safe, budget-paced candidates with per-candidate match ids for explain."),
			mcplib.WithString("context_text", mcplib.Description("Conversation or page context to match against"), mcplib.Required()),
			mcplib.WithNumber("top_k", mcplib.Description("Maximum candidates to return (default 10)")),
			mcplib.WithString("placement", mcplib.Description("Rendering slot: inline, sidebar, or banner")),
			mcplib.WithString("surface", mcplib.Description("Host surface, e.g. chat or docs")),
			mcplib.WithObject("constraints", mcplib.Description("Targeting constraints: topics, locale, verticals, audience_segments, keywords, exclude_* lists, age_restricted_ok, sensitive_ok")),
			mcplib.WithObject("boost_keywords", mcplib.Description("Keyword to boost-factor map; factors clamp to [0.1, 2.0]")),
		),
		s.handleMatch,
	)

	// campaigns_explain — audit trace lookup with an analysis summary.
	s.mcpServer.AddTool(
		mcplib.NewTool("campaigns_explain",
			mcplib.WithDescription("Explain a match: the full audit trace for its request plus accepted/rejected counts and recommendations"),
			mcplib.WithString("match_id", mcplib.Description("Match id from a campaigns_match candidate"), mcplib.Required()),
		),
		s.handleExplain,
	)

	// campaigns_validate — shape check without execution.
	s.mcpServer.AddTool(
		mcplib.NewTool("campaigns_validate",
			mcplib.WithDescription("Validate a match request without executing it; returns errors, warnings, and the effective top_k"),
			mcplib.WithString("context_text", mcplib.Description("Context to validate"), mcplib.Required()),
			mcplib.WithNumber("top_k", mcplib.Description("Requested top_k")),
			mcplib.WithString("placement", mcplib.Description("Rendering slot")),
			mcplib.WithString("surface", mcplib.Description("Host surface")),
			mcplib.WithObject("constraints", mcplib.Description("Targeting constraints")),
			mcplib.WithObject("boost_keywords", mcplib.Description("Keyword to boost-factor map")),
		),
		s.handleValidate,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("campaigns_capabilities",
			mcplib.WithDescription("Describe the matching surface: placements, constraint fields, limits, boost range, pacing modes"),
		),
		s.handleCapabilities,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("campaigns_health",
			mcplib.WithDescription("Report backend health: vector index reachability and analytics availability"),
		),
		s.handleHealth,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("campaigns_metrics",
			mcplib.WithDescription("Report runtime metrics: embedding cache hit rate, stored audit traces, 24h delivery summary"),
		),
		s.handleMetrics,
	)
}

// matchArgs is the wire shape shared by campaigns_match and
// campaigns_validate.
type matchArgs struct {
	ContextText   string             `json:"context_text"`
	TopK          int                `json:"top_k"`
	Placement     string             `json:"placement"`
	Surface       string             `json:"surface"`
	Constraints   model.Constraints  `json:"constraints"`
	BoostKeywords map[string]float64 `json:"boost_keywords"`
}

func (a matchArgs) toRequest() model.MatchRequest {
	topK := a.TopK
	if topK == 0 {
		topK = defaultTopK
	}
	return model.MatchRequest{
		ContextText:   a.ContextText,
		TopK:          topK,
		Placement:     model.Placement{Placement: a.Placement, Surface: a.Surface},
		Constraints:   a.Constraints,
		BoostKeywords: a.BoostKeywords,
	}
}

func (s *Server) handleMatch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args matchArgs
	if err := request.BindArguments(&args); err != nil {
		return faultResult(fault.Wrap(fault.InvalidInput, "mcp: decode match arguments", err)), nil
	}

	resp, _, err := s.matcher.Match(ctx, args.toRequest())
	if err != nil {
		return faultResult(err), nil
	}

	shaped, err := shapeMatchResponse(resp)
	if err != nil {
		return faultResult(fault.Wrap(fault.Internal, "mcp: shape match response", err)), nil
	}
	return jsonResult(shaped)
}

func (s *Server) handleExplain(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	matchID := request.GetString("match_id", "")
	if matchID == "" {
		return faultResult(fault.New(fault.InvalidInput, "mcp: match_id is required")), nil
	}

	trace, err := s.matcher.Explain(ctx, matchID)
	if err != nil {
		return faultResult(err), nil
	}

	return jsonResult(map[string]any{
		"match_id": matchID,
		"trace":    trace,
		"analysis": analyzeTrace(trace),
	})
}

// traceAnalysis summarizes a trace for callers that do not want to walk
// the decision list themselves.
type traceAnalysis struct {
	Accepted         int            `json:"accepted"`
	RejectedByPolicy int            `json:"rejected_by_policy"`
	RejectedByPacing int            `json:"rejected_by_pacing"`
	DenialReasons    map[string]int `json:"denial_reasons,omitempty"`
	Recommendations  []string       `json:"recommendations"`
}

func analyzeTrace(trace model.AuditTrace) traceAnalysis {
	a := traceAnalysis{DenialReasons: map[string]int{}}
	for _, d := range trace.Decisions {
		switch {
		case strings.HasPrefix(d.Reason, "pacing:"):
			a.RejectedByPacing++
			a.DenialReasons[strings.TrimPrefix(d.Reason, "pacing:")]++
		case d.Reason == policy.ReasonAllowed:
			a.Accepted++
		default:
			a.RejectedByPolicy++
			if tag := policy.ConstraintTag(d.Reason); tag != "" {
				a.DenialReasons[tag]++
			}
		}
	}
	a.Recommendations = recommend(a)
	if len(a.DenialReasons) == 0 {
		a.DenialReasons = nil
	}
	return a
}

func recommend(a traceAnalysis) []string {
	var recs []string
	if n := a.DenialReasons["age_restricted"]; n > 0 {
		recs = append(recs, fmt.Sprintf("%d candidate(s) were age-restricted; set constraints.age_restricted_ok to include them", n))
	}
	if n := a.DenialReasons["sensitive"]; n > 0 {
		recs = append(recs, fmt.Sprintf("%d candidate(s) carry sensitive content; set constraints.sensitive_ok to include them", n))
	}
	if n := a.DenialReasons["blocked_keywords"]; n > 0 {
		recs = append(recs, fmt.Sprintf("%d candidate(s) block terms present in the context text", n))
	}
	if n := a.DenialReasons["schedule_inactive"]; n > 0 {
		recs = append(recs, fmt.Sprintf("%d candidate(s) are outside their delivery window", n))
	}
	if a.RejectedByPacing > 0 {
		recs = append(recs, fmt.Sprintf("%d candidate(s) were budget-limited; delivery may recover as budgets reset", a.RejectedByPacing))
	}
	if a.Accepted == 0 && len(recs) == 0 {
		recs = append(recs, "no candidates were admitted; broaden constraints or verify the catalog is populated")
	}
	if recs == nil {
		recs = []string{}
	}
	return recs
}

func (s *Server) handleValidate(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args matchArgs
	if err := request.BindArguments(&args); err != nil {
		return faultResult(fault.Wrap(fault.InvalidInput, "mcp: decode validate arguments", err)), nil
	}

	req := args.toRequest()
	result := req.Validate()

	effective := req.TopK
	if effective > s.maxTopK {
		effective = s.maxTopK
	}

	return jsonResult(map[string]any{
		"valid":           result.Valid,
		"errors":          result.Errors,
		"warnings":        result.Warnings,
		"effective_top_k": effective,
	})
}

func (s *Server) handleCapabilities(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(map[string]any{
		"version":    Version,
		"placements": model.KnownPlacements,
		"constraint_fields": []string{
			"topics", "locale", "verticals", "audience_segments", "keywords",
			"exclude_advertiser_ids", "exclude_campaign_ids", "exclude_creative_ids",
			"age_restricted_ok", "sensitive_ok",
		},
		"limits": map[string]any{
			"max_top_k":         s.maxTopK,
			"max_context_chars": model.MaxContextChars,
		},
		"boost_range": map[string]float64{"min": 0.1, "max": 2.0},
		"pacing_modes": []string{
			string(model.PacingEven), string(model.PacingAccelerated), string(model.PacingAdaptive),
		},
		"policy_gates": []string{
			"disabled", "age_restricted", "sensitive", "blocked_keywords", "schedule_inactive",
		},
	})
}

func (s *Server) handleHealth(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status := "ok"
	indexStatus := "ok"
	if s.index != nil {
		if err := s.index.Healthy(ctx); err != nil {
			status = "degraded"
			indexStatus = err.Error()
		}
	} else {
		indexStatus = "not configured"
	}

	analyticsStatus := "ok"
	if s.analytics == nil {
		analyticsStatus = "disabled"
	}

	return jsonResult(map[string]any{
		"status":    status,
		"index":     indexStatus,
		"analytics": analyticsStatus,
	})
}

func (s *Server) handleMetrics(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	metrics := map[string]any{}

	if s.stats != nil {
		hits, misses := s.stats()
		var rate float64
		if total := hits + misses; total > 0 {
			rate = float64(hits) / float64(total)
		}
		metrics["embedding_cache"] = map[string]any{
			"hits":     hits,
			"misses":   misses,
			"hit_rate": rate,
		}
	}

	if s.audit != nil {
		metrics["audit_traces"] = s.audit.Len()
	}

	if s.analytics != nil {
		since := time.Now().UTC().Add(-24 * time.Hour)
		summary, err := s.analytics.Summary(ctx, &since)
		if err != nil {
			return faultResult(err), nil
		}
		metrics["delivery_24h"] = summary
	}

	return jsonResult(metrics)
}
