package model

import "time"

// Payload is the read-only attribute bag a creative is stored under in the
// vector index. The index is the authority on its contents: fields may be
// missing, null, or badly typed, and every accessor falls back to a safe
// default instead of failing.
type Payload map[string]any

// Str returns a string field, or "" when absent or not a string.
func (p Payload) Str(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns a boolean field, or def when absent or not a boolean.
func (p Payload) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// Float returns a numeric field as float64, or def when absent.
func (p Payload) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// FloatPtr returns a numeric field, or nil when absent. Distinguishes
// "unset" from zero, which matters for budget caps.
func (p Payload) FloatPtr(key string) *float64 {
	switch v := p[key].(type) {
	case float64:
		return &v
	case float32:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	default:
		return nil
	}
}

// StrList returns a list field as strings, skipping non-string elements.
func (p Payload) StrList(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Time parses an RFC 3339 timestamp field. Missing or unparseable values
// return nil (treated as an unbounded schedule endpoint). Naive timestamps
// are interpreted as UTC; zoned ones are normalized to UTC.
func (p Payload) Time(key string) *time.Time {
	s := p.Str(key)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		u := t.UTC()
		return &u
	}
	// No timezone designator: interpret as UTC.
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		u := t.UTC()
		return &u
	}
	return nil
}

// Enabled reports whether the creative is eligible for matching. Creatives
// default to enabled when the flag is absent.
func (p Payload) Enabled() bool { return p.Bool("enabled", true) }
