// Package policy enforces non-bypassable eligibility rules on retrieved
// creatives: enabled flag, content flags, context-sensitive keyword blocks,
// and the schedule window. Rules run in a fixed order and the first failure
// wins, so every denial maps to exactly one stable reason tag.
package policy

import (
	"strings"
	"time"

	"github.com/sponsorlabs/placemint/internal/model"
)

// Stable reason tags recorded in audit traces.
const (
	ReasonAllowed          = "allowed"
	ReasonDisabled         = "denied: disabled"
	ReasonAgeRestricted    = "denied: age_restricted"
	ReasonSensitive        = "denied: sensitive"
	ReasonBlockedKeywords  = "denied: blocked_keywords"
	ReasonScheduleInactive = "denied: schedule_inactive"
)

// Engine evaluates creative eligibility. Safe on malformed payloads: a
// missing field is treated as its default (enabled, unflagged, no keywords,
// unbounded schedule) — the index is the authority, the engine must not
// fail.
type Engine struct {
	now func() time.Time
}

// NewEngine returns a policy engine using the real clock.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineAt returns a policy engine with an injected clock, for tests.
func NewEngineAt(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Reason returns the audit reason for a creative payload against the
// request's constraints and original (pre-normalization) context text.
// The clock is sampled once per evaluation.
func (e *Engine) Reason(p model.Payload, c model.Constraints, contextText string) string {
	if !p.Enabled() {
		return ReasonDisabled
	}
	if p.Bool("age_restricted", false) && !c.AgeRestrictedOK {
		return ReasonAgeRestricted
	}
	if p.Bool("sensitive", false) && !c.SensitiveOK {
		return ReasonSensitive
	}
	if blockedKeywordsIntersect(p.StrList("blocked_keywords"), contextText) {
		return ReasonBlockedKeywords
	}
	now := e.now().UTC()
	if !scheduleActive(p, now) {
		return ReasonScheduleInactive
	}
	return ReasonAllowed
}

// Allowed reports whether the payload passes every policy rule.
func (e *Engine) Allowed(p model.Payload, c model.Constraints, contextText string) bool {
	return e.Reason(p, c, contextText) == ReasonAllowed
}

// ConstraintTag extracts the constraint-impact bucket from a denial reason,
// e.g. "denied: age_restricted" reports "age_restricted". Returns "" for
// non-denial reasons.
func ConstraintTag(reason string) string {
	rest, ok := strings.CutPrefix(reason, "denied: ")
	if !ok {
		return ""
	}
	tag, _, _ := strings.Cut(rest, ":")
	return tag
}

// blockedKeywordsIntersect tokenizes the context by whitespace, lower-cases
// it, and denies when any blocked keyword is an exact token or a substring
// of one. Substring match catches inflections ("gamb" blocks "gambling").
func blockedKeywordsIntersect(blocked []string, contextText string) bool {
	if len(blocked) == 0 {
		return false
	}
	tokens := tokenize(contextText)
	if len(tokens) == 0 {
		return false
	}
	for _, kw := range blocked {
		k := strings.ToLower(kw)
		if k == "" {
			continue
		}
		if _, ok := tokens[k]; ok {
			return true
		}
		for tok := range tokens {
			if strings.Contains(tok, k) {
				return true
			}
		}
	}
	return false
}

func tokenize(text string) map[string]struct{} {
	fields := strings.Fields(text)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = struct{}{}
	}
	return set
}

func scheduleActive(p model.Payload, now time.Time) bool {
	if start := p.Time("start_at"); start != nil && now.Before(*start) {
		return false
	}
	if end := p.Time("end_at"); end != nil && now.After(*end) {
		return false
	}
	return true
}
