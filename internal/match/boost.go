package match

import (
	"strings"

	"github.com/sponsorlabs/placemint/internal/model"
)

// Boost factor bounds. Caller-supplied factors are clamped into
// [minBoost, maxBoost]; the applied boost never drops below 1.0 because
// the baseline "no keyword matched" boost participates in the max.
const (
	minBoost = 0.1
	maxBoost = 2.0
)

// boostFor computes the boost for one creative: the maximum of the
// applicable clamped factors, never their product. A keyword applies
// when it occurs as a substring of the title or body, or exactly in the
// topics list, all compared lower-cased.
func boostFor(p model.Payload, boosts map[string]float64) float64 {
	if len(boosts) == 0 {
		return 1.0
	}

	title := strings.ToLower(p.Str("title"))
	body := strings.ToLower(p.Str("body"))
	topics := make(map[string]struct{})
	for _, t := range p.StrList("topics") {
		topics[strings.ToLower(t)] = struct{}{}
	}

	best := 1.0
	for kw, factor := range boosts {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		f := clampBoost(factor)

		_, inTopics := topics[k]
		if !inTopics && !strings.Contains(title, k) && !strings.Contains(body, k) {
			continue
		}
		if f > best {
			best = f
		}
	}
	return best
}

func clampBoost(f float64) float64 {
	if f < minBoost {
		return minBoost
	}
	if f > maxBoost {
		return maxBoost
	}
	return f
}
