// Package store persists indexed books. SQLite is the durable record
// of truth; the HNSW graph and the bleve keyword index are derived
// indexes rebuilt from SQLite when they fall out of step.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Book is the persisted record for one indexed book.
type Book struct {
	// ID is derived from the source filename; see SourceID.
	ID string
	// SourceID identifies the source file for pre-flight scanning.
	// Currently equal to ID.
	SourceID string
	Title    string
	Author   string
	// Format is the lowercased extension including the dot.
	Format   string
	Filename string
	Size     int64
	Pages    int
	// ChunkCount is the number of chunks written for this book.
	ChunkCount int
	IndexedAt  time.Time
}

// Chunk is one embedded slice of a book's text.
type Chunk struct {
	// ID is "<bookID>_chunk_<seq>".
	ID     string
	BookID string
	Seq    int
	Text   string
	// Vector is the chunk embedding.
	Vector []float32
}

// VectorResult is one nearest-neighbor hit.
type VectorResult struct {
	ChunkID  string
	Distance float32
}

// KeywordResult is one keyword-index hit.
type KeywordResult struct {
	ChunkID string
	Score   float64
}

// Stats summarizes store contents.
type Stats struct {
	Books  int
	Chunks int
}

// SourceID derives the stable book identifier from a source filename
// (base name, as the original file may move between directories).
func SourceID(filename string) string {
	sum := sha256.Sum256([]byte(filename))
	return hex.EncodeToString(sum[:16])
}

// ChunkID builds the chunk identifier for a book and sequence number.
func ChunkID(bookID string, seq int) string {
	return fmt.Sprintf("%s_chunk_%d", bookID, seq)
}
