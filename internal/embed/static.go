package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// StaticEmbedder produces deterministic embeddings from token hashes.
// No model or network involved; quality is far below a real model but
// identical text always maps to an identical vector, which is what
// offline use and tests need.
type StaticEmbedder struct {
	dims int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder. dims <= 0 selects the
// default dimension.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

func (e *StaticEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

// embedOne hashes overlapping character trigrams into buckets, then
// L2-normalizes so cosine distance behaves.
func (e *StaticEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dims)
	runes := []rune(text)
	if len(runes) < 3 {
		runes = append(runes, ' ', ' ', ' ')
	}

	for i := 0; i+3 <= len(runes); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(runes[i : i+3])))
		vec[h.Sum32()%uint32(e.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

func (e *StaticEmbedder) Close() error {
	return nil
}
