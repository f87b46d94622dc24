package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/sponsorlabs/placemint/internal/index"
	"github.com/sponsorlabs/placemint/internal/model"
)

// Tool payloads carry explicit field allowlists. Whatever the services
// or the index grow internally, the wire shape only changes when a field
// is added here.
var (
	matchResponseFields = fieldSet(
		"candidates", "request_id", "placement", "warnings", "constraint_impact",
	)

	candidateFields = fieldSet(
		"creative_id", "campaign_id", "advertiser_id", "campaign_name",
		"title", "body", "cta_text", "landing_url",
		"score", "match_id", "pacing_weight", "pacing_reason", "boost_applied",
	)

	ensureFields = fieldSet(
		"name", "created", "dimension", "model_id", "schema_version",
	)

	collectionInfoFields = fieldSet(
		"name", "dimension", "model_id", "schema_version",
		"points_count", "indexed_vectors_count", "status",
	)

	creativePayloadFields = fieldSet(
		"creative_id", "campaign_id", "advertiser_id", "campaign_name",
		"title", "body", "cta_text", "landing_url",
		"topics", "locale", "verticals", "blocked_keywords",
		"audience_segments", "keywords",
		"sensitive", "age_restricted", "brand_safety_tier",
		"currency", "pacing_mode", "cpm", "total_budget", "daily_budget",
		"target_ctr", "start_at", "end_at", "enabled",
	)
)

func fieldSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// toMap round-trips a value through JSON into a generic map so the
// allowlist can be applied uniformly.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: encode for shaping: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("mcp: decode for shaping: %w", err)
	}
	return m, nil
}

// keep returns a copy of m holding only allowlisted keys.
func keep(m map[string]any, allow map[string]struct{}) map[string]any {
	out := make(map[string]any, len(allow))
	for k, v := range m {
		if _, ok := allow[k]; ok {
			out[k] = v
		}
	}
	return out
}

// shapeMatchResponse applies the envelope and per-candidate allowlists.
func shapeMatchResponse(resp model.MatchResponse) (map[string]any, error) {
	m, err := toMap(resp)
	if err != nil {
		return nil, err
	}
	shaped := keep(m, matchResponseFields)

	if raw, ok := shaped["candidates"].([]any); ok {
		candidates := make([]any, 0, len(raw))
		for _, c := range raw {
			if cm, ok := c.(map[string]any); ok {
				candidates = append(candidates, keep(cm, candidateFields))
			}
		}
		shaped["candidates"] = candidates
	}
	return shaped, nil
}

func shapeEnsureResult(res index.EnsureResult) (map[string]any, error) {
	m, err := toMap(res)
	if err != nil {
		return nil, err
	}
	return keep(m, ensureFields), nil
}

func shapeCollectionInfo(info index.CollectionInfo) (map[string]any, error) {
	m, err := toMap(info)
	if err != nil {
		return nil, err
	}
	return keep(m, collectionInfoFields), nil
}

// shapeCreativePayload strips index-internal keys from a stored payload.
func shapeCreativePayload(p model.Payload) map[string]any {
	return keep(p, creativePayloadFields)
}
