package match

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sponsorlabs/placemint/internal/cache"
	"github.com/sponsorlabs/placemint/internal/model"
)

// DefaultResultCacheSize bounds the advisory match-result cache.
const DefaultResultCacheSize = 100

type cachedResult struct {
	resp  model.MatchResponse
	trace model.AuditTrace
}

// CachedService wraps the pipeline with an advisory result cache. A hit
// returns the original response with the trace's source annotated as
// "cache"; it never replays the analytics write and never re-inserts
// traces into the audit store — the original match ids still resolve.
type CachedService struct {
	svc     *Service
	results *cache.Cache[cachedResult]
}

// NewCachedService wraps svc with a result cache of the given size.
func NewCachedService(svc *Service, size int) *CachedService {
	if size <= 0 {
		size = DefaultResultCacheSize
	}
	return &CachedService{
		svc:     svc,
		results: cache.New[cachedResult](size),
	}
}

// fingerprintRequest is the canonical encoding hashed into the cache
// key. encoding/json sorts map keys, so the boost map serializes
// deterministically.
type fingerprintRequest struct {
	Context     string             `json:"context"`
	TopK        int                `json:"top_k"`
	Placement   string             `json:"placement"`
	Surface     string             `json:"surface"`
	Constraints model.Constraints  `json:"constraints"`
	Boost       map[string]float64 `json:"boost"`
}

func fingerprint(req model.MatchRequest) (string, error) {
	normalized := strings.Join(strings.Fields(req.ContextText), " ")
	encoded, err := json.Marshal(fingerprintRequest{
		Context:     normalized,
		TopK:        req.TopK,
		Placement:   req.Placement.Placement,
		Surface:     req.Placement.Surface,
		Constraints: req.Constraints,
		Boost:       req.BoostKeywords,
	})
	if err != nil {
		return "", err
	}
	return cache.Key(encoded), nil
}

// Match serves from the result cache when the request fingerprint is
// known, falling through to the pipeline otherwise. Only successful
// results are cached.
func (c *CachedService) Match(ctx context.Context, req model.MatchRequest) (model.MatchResponse, model.AuditTrace, error) {
	key, err := fingerprint(req)
	if err != nil {
		// An unencodable request cannot be cached; run it fresh.
		return c.svc.Match(ctx, req)
	}

	if r, ok := c.results.Get(key); ok {
		trace := r.trace.Clone()
		trace.Source = "cache"
		return r.resp, trace, nil
	}

	resp, trace, err := c.svc.Match(ctx, req)
	if err != nil {
		return resp, trace, err
	}
	c.results.Put(key, cachedResult{resp: resp, trace: trace})
	return resp, trace, nil
}

// Explain delegates to the pipeline's audit lookup.
func (c *CachedService) Explain(ctx context.Context, matchID string) (model.AuditTrace, error) {
	return c.svc.Explain(ctx, matchID)
}
