package model

import (
	"fmt"
	"strings"
)

// Limits enforced on match requests.
const (
	MaxContextChars = 10_000
	MinTopK         = 1
	MaxTopK         = 100
)

// KnownPlacements is the advertised placement set. Unknown values are
// accepted but flagged during validation; placement never filters.
var KnownPlacements = []string{"inline", "sidebar", "banner"}

// Placement describes where a creative would be rendered. Annotate-only.
type Placement struct {
	Placement string `json:"placement"`
	Surface   string `json:"surface"`
}

// Constraints are the declarative targeting constraints of a match request.
// Policy booleans are enforced post-retrieval so their violations stay
// auditable; they never become index filters.
type Constraints struct {
	Topics               []string `json:"topics,omitempty"`
	Locale               string   `json:"locale,omitempty"`
	Verticals            []string `json:"verticals,omitempty"`
	AudienceSegments     []string `json:"audience_segments,omitempty"`
	Keywords             []string `json:"keywords,omitempty"`
	ExcludeAdvertiserIDs []string `json:"exclude_advertiser_ids,omitempty"`
	ExcludeCampaignIDs   []string `json:"exclude_campaign_ids,omitempty"`
	ExcludeCreativeIDs   []string `json:"exclude_creative_ids,omitempty"`
	AgeRestrictedOK      bool     `json:"age_restricted_ok,omitempty"`
	SensitiveOK          bool     `json:"sensitive_ok,omitempty"`
}

// MatchRequest is the input to the match pipeline.
type MatchRequest struct {
	ContextText   string             `json:"context_text"`
	TopK          int                `json:"top_k"`
	Placement     Placement          `json:"placement"`
	Constraints   Constraints        `json:"constraints"`
	BoostKeywords map[string]float64 `json:"boost_keywords,omitempty"`
}

// ValidationResult accumulates hard errors and advisory warnings for a
// request without executing it.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *ValidationResult) addError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Valid = false
}

func (r *ValidationResult) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Validate checks the request for safety and shape. Errors block execution;
// warnings are advisory and surfaced to the caller.
func (req MatchRequest) Validate() ValidationResult {
	res := ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}}

	trimmed := strings.TrimSpace(req.ContextText)
	switch {
	case trimmed == "":
		res.addError("context_text cannot be empty")
	case len(req.ContextText) > MaxContextChars:
		res.addError(fmt.Sprintf("context_text too long (%d chars; max %d)", len(req.ContextText), MaxContextChars))
	case len(trimmed) < 5:
		res.addWarning("context_text very short (< 5 chars); semantic matching may be unreliable")
	}

	if req.TopK < MinTopK {
		res.addError(fmt.Sprintf("top_k must be >= %d (got %d)", MinTopK, req.TopK))
	} else if req.TopK > MaxTopK {
		res.addError(fmt.Sprintf("top_k must be <= %d (got %d)", MaxTopK, req.TopK))
	}

	if req.Placement.Placement != "" && !knownPlacement(req.Placement.Placement) {
		res.addWarning(fmt.Sprintf("placement %q not standard; expected one of %v", req.Placement.Placement, KnownPlacements))
	}

	req.Constraints.validate(&res)

	for kw, factor := range req.BoostKeywords {
		if strings.TrimSpace(kw) == "" {
			res.addError("boost_keywords key must be a non-empty string")
			continue
		}
		if factor < 0.1 || factor > 2.0 {
			res.addWarning(fmt.Sprintf("boost_keywords[%q] = %g will be clamped to [0.1, 2.0]", kw, factor))
		}
	}

	return res
}

func (c Constraints) validate(res *ValidationResult) {
	lists := map[string][]string{
		"topics":                 c.Topics,
		"verticals":              c.Verticals,
		"audience_segments":      c.AudienceSegments,
		"keywords":               c.Keywords,
		"exclude_advertiser_ids": c.ExcludeAdvertiserIDs,
		"exclude_campaign_ids":   c.ExcludeCampaignIDs,
		"exclude_creative_ids":   c.ExcludeCreativeIDs,
	}
	for name, values := range lists {
		if len(values) > 100 {
			res.addWarning(fmt.Sprintf("constraints.%s has %d items; may be overly restrictive", name, len(values)))
		}
		for _, v := range values {
			if strings.TrimSpace(v) == "" {
				res.addError(fmt.Sprintf("constraints.%s contains an empty string", name))
				break
			}
		}
	}

	if c.Locale != "" {
		if strings.TrimSpace(c.Locale) == "" {
			res.addError("constraints.locale cannot be blank")
		} else if len(c.Locale) > 10 {
			res.addWarning(fmt.Sprintf("constraints.locale %q looks unusual (too long)", c.Locale))
		}
	}

	hasExclusions := len(c.ExcludeAdvertiserIDs) > 0 || len(c.ExcludeCampaignIDs) > 0 || len(c.ExcludeCreativeIDs) > 0
	hasPositive := len(c.Topics) > 0 || len(c.Verticals) > 0 || len(c.AudienceSegments) > 0
	if hasExclusions && !hasPositive {
		res.addWarning("using only exclusion filters without positive constraints; may result in no matches")
	}
}

func knownPlacement(p string) bool {
	for _, k := range KnownPlacements {
		if p == k {
			return true
		}
	}
	return false
}
