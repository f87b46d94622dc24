package embedding

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/sponsorlabs/placemint/internal/cache"
)

// DefaultCacheSize bounds the embedding cache. Context texts repeat
// heavily within a session, so a few hundred entries absorbs most of
// the load on the embedding backend.
const DefaultCacheSize = 500

// CachedProvider wraps a Provider with a bounded FIFO cache keyed by
// model and text. Concurrent requests for the same text are collapsed
// into a single upstream call.
type CachedProvider struct {
	inner Provider
	model string
	cache *cache.Cache[[]float32]
	group singleflight.Group
}

// NewCachedProvider wraps inner with a cache of the given size. The
// model name is part of the cache key so a model swap never serves
// stale vectors.
func NewCachedProvider(inner Provider, model string, size int) *CachedProvider {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &CachedProvider{
		inner: inner,
		model: model,
		cache: cache.New[[]float32](size),
	}
}

// Dimensions returns the wrapped provider's vector size.
func (p *CachedProvider) Dimensions() int {
	return p.inner.Dimensions()
}

// Stats reports cache hit and miss counts.
func (p *CachedProvider) Stats() (hits, misses uint64) {
	return p.cache.Stats()
}

func (p *CachedProvider) key(text string) string {
	return cache.Key([]byte(p.model), []byte(text))
}

// Embed returns the cached vector for text, calling the wrapped
// provider on a miss.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := p.key(text)
	if vec, ok := p.cache.Get(key); ok {
		return vec, nil
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		if vec, ok := p.cache.Get(key); ok {
			return vec, nil
		}
		vec, err := p.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		p.cache.Put(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedBatch embeds texts, serving cached entries and fetching only the
// misses from the wrapped provider in one upstream batch.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vecs := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := p.cache.Get(p.key(text)); ok {
			vecs[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return vecs, nil
	}

	fetched, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		vecs[i] = fetched[j]
		p.cache.Put(p.key(missTexts[j]), fetched[j])
	}
	return vecs, nil
}
