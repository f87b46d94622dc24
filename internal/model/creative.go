// Package model defines the catalog, request, and response types for the
// Placemint matching engine.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PacingMode selects the budget pacing strategy for a campaign.
type PacingMode string

const (
	PacingEven        PacingMode = "even"
	PacingAccelerated PacingMode = "accelerated"
	PacingAdaptive    PacingMode = "adaptive"
)

// ParsePacingMode validates a pacing mode string. The empty string maps to
// PacingEven; anything else unknown is rejected.
func ParsePacingMode(s string) (PacingMode, error) {
	switch PacingMode(s) {
	case PacingEven, PacingAccelerated, PacingAdaptive:
		return PacingMode(s), nil
	case "":
		return PacingEven, nil
	default:
		return "", fmt.Errorf("model: unknown pacing mode %q", s)
	}
}

// UnmarshalJSON rejects unknown pacing modes at decode time.
func (m *PacingMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	mode, err := ParsePacingMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Schedule is the delivery window for a campaign. Either endpoint may be
// unset; endpoints are normalized to UTC.
type Schedule struct {
	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `json:"end_at,omitempty"`
}

// Active reports whether now falls inside the window. Unset endpoints are
// unbounded.
func (s Schedule) Active(now time.Time) bool {
	now = now.UTC()
	if s.StartAt != nil && now.Before(s.StartAt.UTC()) {
		return false
	}
	if s.EndAt != nil && now.After(s.EndAt.UTC()) {
		return false
	}
	return true
}

// Budget holds budget and pacing configuration for a campaign.
type Budget struct {
	TotalBudget *float64   `json:"total_budget,omitempty"`
	DailyBudget *float64   `json:"daily_budget,omitempty"`
	Currency    string     `json:"currency,omitempty"`
	PacingMode  PacingMode `json:"pacing_mode,omitempty"`
	CPM         float64    `json:"cpm,omitempty"`
	TargetCTR   *float64   `json:"target_ctr,omitempty"`
}

// Targeting holds the attributes the filter algebra matches against.
type Targeting struct {
	Topics           []string `json:"topics,omitempty"`
	Locale           []string `json:"locale,omitempty"`
	Verticals        []string `json:"verticals,omitempty"`
	BlockedKeywords  []string `json:"blocked_keywords,omitempty"`
	AudienceSegments []string `json:"audience_segments,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
}

// PolicyFlags holds the content eligibility flags for a campaign.
type PolicyFlags struct {
	Sensitive       bool   `json:"sensitive,omitempty"`
	AgeRestricted   bool   `json:"age_restricted,omitempty"`
	BrandSafetyTier string `json:"brand_safety_tier,omitempty"`
}

// CreativeSpec is a creative unit inside a campaign definition, before the
// campaign's shared metadata is attached.
type CreativeSpec struct {
	CreativeID string `json:"creative_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	CTAText    string `json:"cta_text"`
	LandingURL string `json:"landing_url"`
}

// Creative is a renderable creative with campaign metadata attached. This
// is the unit stored in the vector index.
type Creative struct {
	CreativeID   string      `json:"creative_id"`
	CampaignID   string      `json:"campaign_id"`
	AdvertiserID string      `json:"advertiser_id"`
	CampaignName string      `json:"campaign_name"`
	Title        string      `json:"title"`
	Body         string      `json:"body"`
	CTAText      string      `json:"cta_text"`
	LandingURL   string      `json:"landing_url"`
	Targeting    Targeting   `json:"targeting,omitempty"`
	Policy       PolicyFlags `json:"policy,omitempty"`
	Schedule     Schedule    `json:"schedule,omitempty"`
	Budget       Budget      `json:"budget,omitempty"`
	Enabled      *bool       `json:"enabled,omitempty"` // nil means enabled
}

// Validate checks the identifier triple.
func (c Creative) Validate() error {
	if strings.TrimSpace(c.CreativeID) == "" {
		return fmt.Errorf("model: creative_id is required")
	}
	if strings.TrimSpace(c.CampaignID) == "" {
		return fmt.Errorf("model: campaign_id is required")
	}
	if strings.TrimSpace(c.AdvertiserID) == "" {
		return fmt.Errorf("model: advertiser_id is required")
	}
	return nil
}

// IsEnabled resolves the enabled flag with its default.
func (c Creative) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// EmbeddingText builds the text the creative is embedded under: title,
// body, topics, and context keywords.
func (c Creative) EmbeddingText() string {
	parts := []string{c.Title, c.Body,
		strings.Join(c.Targeting.Topics, " "),
		strings.Join(c.Targeting.Keywords, " "),
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// VectorPayload flattens the creative into the attribute bag stored next to
// its vector. List fields are unordered and emitted as []any so the map
// converts directly to the index backend's value types; schedule endpoints
// are RFC 3339 UTC.
func (c Creative) VectorPayload() map[string]any {
	p := map[string]any{
		"creative_id":       c.CreativeID,
		"campaign_id":       c.CampaignID,
		"advertiser_id":     c.AdvertiserID,
		"campaign_name":     c.CampaignName,
		"title":             c.Title,
		"body":              c.Body,
		"cta_text":          c.CTAText,
		"landing_url":       c.LandingURL,
		"topics":            anyStrings(c.Targeting.Topics),
		"locale":            anyStrings(c.Targeting.Locale),
		"verticals":         anyStrings(c.Targeting.Verticals),
		"blocked_keywords":  anyStrings(c.Targeting.BlockedKeywords),
		"audience_segments": anyStrings(c.Targeting.AudienceSegments),
		"keywords":          anyStrings(c.Targeting.Keywords),
		"sensitive":         c.Policy.Sensitive,
		"age_restricted":    c.Policy.AgeRestricted,
		"brand_safety_tier": c.Policy.BrandSafetyTier,
		"currency":          c.Budget.Currency,
		"pacing_mode":       string(c.Budget.PacingMode),
		"cpm":               c.Budget.CPM,
		"enabled":           c.IsEnabled(),
	}
	if c.Schedule.StartAt != nil {
		p["start_at"] = c.Schedule.StartAt.UTC().Format(time.RFC3339)
	}
	if c.Schedule.EndAt != nil {
		p["end_at"] = c.Schedule.EndAt.UTC().Format(time.RFC3339)
	}
	if c.Budget.TotalBudget != nil {
		p["total_budget"] = *c.Budget.TotalBudget
	}
	if c.Budget.DailyBudget != nil {
		p["daily_budget"] = *c.Budget.DailyBudget
	}
	if c.Budget.TargetCTR != nil {
		p["target_ctr"] = *c.Budget.TargetCTR
	}
	return p
}

func anyStrings(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Campaign is a campaign definition: shared metadata plus its creatives.
type Campaign struct {
	CampaignID   string         `json:"campaign_id"`
	AdvertiserID string         `json:"advertiser_id"`
	Name         string         `json:"name"`
	Creatives    []CreativeSpec `json:"creatives,omitempty"`
	Targeting    Targeting      `json:"targeting,omitempty"`
	Policy       PolicyFlags    `json:"policy,omitempty"`
	Schedule     Schedule       `json:"schedule,omitempty"`
	Budget       Budget         `json:"budget,omitempty"`
}

// Validate checks campaign identifiers and each creative spec.
func (c Campaign) Validate() error {
	if strings.TrimSpace(c.CampaignID) == "" {
		return fmt.Errorf("model: campaign_id is required")
	}
	if strings.TrimSpace(c.AdvertiserID) == "" {
		return fmt.Errorf("model: advertiser_id is required")
	}
	for i, spec := range c.Creatives {
		if strings.TrimSpace(spec.CreativeID) == "" {
			return fmt.Errorf("model: creatives[%d]: creative_id is required", i)
		}
	}
	return nil
}

// Expand turns the campaign into creative records with inherited metadata.
func (c Campaign) Expand() []Creative {
	out := make([]Creative, 0, len(c.Creatives))
	for _, spec := range c.Creatives {
		out = append(out, Creative{
			CreativeID:   spec.CreativeID,
			CampaignID:   c.CampaignID,
			AdvertiserID: c.AdvertiserID,
			CampaignName: c.Name,
			Title:        spec.Title,
			Body:         spec.Body,
			CTAText:      spec.CTAText,
			LandingURL:   spec.LandingURL,
			Targeting:    c.Targeting,
			Policy:       c.Policy,
			Schedule:     c.Schedule,
			Budget:       c.Budget,
		})
	}
	return out
}
