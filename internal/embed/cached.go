package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder wraps another embedder with an LRU cache keyed by
// text hash. Repeated queries (and re-indexed identical chunks) skip
// the model round-trip.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with a cache of the given size.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 1000
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed serves cached vectors where possible and forwards only the
// misses to the inner embedder, preserving input order.
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if vec, ok := e.cache.Get(cacheKey(text)); ok {
			result[i] = vec
			e.hits.Add(1)
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
		e.misses.Add(1)
	}

	if len(missTexts) > 0 {
		vectors, err := e.inner.Embed(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range vectors {
			result[missIdx[j]] = vec
			e.cache.Add(cacheKey(missTexts[j]), vec)
		}
	}
	return result, nil
}

// Stats returns cache hit and miss counts.
func (e *CachedEmbedder) Stats() (hits, misses int64) {
	return e.hits.Load(), e.misses.Load()
}

func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

func (e *CachedEmbedder) Close() error {
	e.cache.Purge()
	return e.inner.Close()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
