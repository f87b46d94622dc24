package model

// Candidate is a response-shaped vector hit: renderable fields plus the
// pacing, boost, and audit surface.
type Candidate struct {
	CreativeID   string  `json:"creative_id"`
	CampaignID   string  `json:"campaign_id"`
	AdvertiserID string  `json:"advertiser_id"`
	CampaignName string  `json:"campaign_name"`
	Title        string  `json:"title"`
	Body         string  `json:"body"`
	CTAText      string  `json:"cta_text"`
	LandingURL   string  `json:"landing_url"`
	Score        float64 `json:"score"`
	MatchID      string  `json:"match_id"`
	PacingWeight float64 `json:"pacing_weight"`
	PacingReason string  `json:"pacing_reason"`
	BoostApplied float64 `json:"boost_applied"`
}

// MatchResponse is the ordered result of a match. Candidate order follows
// the index's similarity ranking, never a re-sort by final score.
type MatchResponse struct {
	Candidates       []Candidate    `json:"candidates"`
	RequestID        string         `json:"request_id"`
	Placement        string         `json:"placement"`
	Warnings         []string       `json:"warnings"`
	ConstraintImpact map[string]int `json:"constraint_impact,omitempty"`
}

// Decision records the outcome for one retrieved hit. Reason is "allowed",
// "denied: <policy reason>", or "pacing:<pacing reason>". Accepted hits
// additionally carry their match id, pacing weight, and boost.
type Decision struct {
	CreativeID   string   `json:"creative_id"`
	CampaignID   string   `json:"campaign_id"`
	Score        float64  `json:"score"`
	Reason       string   `json:"reason"`
	MatchID      string   `json:"match_id,omitempty"`
	PacingWeight *float64 `json:"pacing_weight,omitempty"`
	BoostApplied *float64 `json:"boost_applied,omitempty"`
}

// TraceContextChars caps the context prefix captured in an audit trace.
const TraceContextChars = 500

// AuditTrace is the decision record for one request: why each retrieved
// candidate was accepted, down-ranked, or rejected.
type AuditTrace struct {
	RequestID     string             `json:"request_id"`
	Placement     string             `json:"placement"`
	ContextText   string             `json:"context_text"` // prefix, at most TraceContextChars
	Constraints   Constraints        `json:"constraints"`
	BoostKeywords map[string]float64 `json:"boost_keywords"`
	Decisions     []Decision         `json:"decisions"`
	Source        string             `json:"source,omitempty"` // "fresh" or "cache"
}

// Clone returns a deep copy of the trace so stored copies cannot alias the
// caller's decision list.
func (t AuditTrace) Clone() AuditTrace {
	out := t
	out.Decisions = make([]Decision, len(t.Decisions))
	copy(out.Decisions, t.Decisions)
	if t.BoostKeywords != nil {
		out.BoostKeywords = make(map[string]float64, len(t.BoostKeywords))
		for k, v := range t.BoostKeywords {
			out.BoostKeywords[k] = v
		}
	}
	return out
}
