// Package embed generates vector embeddings for book chunks and search
// queries. The Ollama embedder is the production path; the static
// embedder is a deterministic offline fallback used in tests.
package embed

import (
	"context"
	"time"
)

const (
	// DefaultBatchSize is the number of texts embedded per request.
	DefaultBatchSize = 32

	// DefaultTimeout bounds one embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultOllamaHost is the local Ollama endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// StaticDimensions is the static embedder's vector size.
	StaticDimensions = 256
)

// Embedder generates embeddings for text.
type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Close releases resources held by the embedder.
	Close() error
}
