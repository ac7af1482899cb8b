// Package search answers natural-language queries over the indexed
// library. Semantic and keyword rankings run in parallel and are fused
// with weighted reciprocal-rank fusion; chunk hits are grouped into
// per-book results with a best-match excerpt.
package search

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/libris-dev/libris/internal/embed"
	"github.com/libris-dev/libris/internal/library"
	"github.com/libris-dev/libris/internal/store"
)

// excerptLength caps the best-match excerpt, in runes.
const excerptLength = 300

// overfetch widens the per-branch candidate pool before grouping.
const overfetch = 4

// Config tunes ranking.
type Config struct {
	// MaxResults is the number of books returned.
	MaxResults int
	// RRFConstant is the reciprocal-rank smoothing constant.
	RRFConstant int
	// KeywordWeight and SemanticWeight weight the two rankings.
	KeywordWeight  float64
	SemanticWeight float64
}

// DefaultConfig returns the standard ranking parameters.
func DefaultConfig() Config {
	return Config{
		MaxResults:     5,
		RRFConstant:    60,
		KeywordWeight:  0.4,
		SemanticWeight: 0.6,
	}
}

// BookResult is one book in the answer, ranked by fused score.
type BookResult struct {
	BookID   string
	Title    string
	Author   string
	Filename string
	// Relevance is the fused score of the book's best chunk.
	Relevance float64
	// Similarity is 1 - cosine distance of the best semantic hit, 0
	// when the book surfaced through keywords only.
	Similarity float64
	// BestMatch is an excerpt from the highest-scoring chunk.
	BestMatch string
	// MatchedChunks is how many of the book's chunks hit.
	MatchedChunks int
}

// Engine runs queries.
type Engine struct {
	lib      *library.Library
	embedder embed.Embedder
	cfg      Config
	logger   *slog.Logger
}

// NewEngine creates a search engine.
func NewEngine(lib *library.Library, embedder embed.Embedder, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxResults <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{lib: lib, embedder: embedder, cfg: cfg, logger: logger}
}

// Search returns up to cfg.MaxResults books for the query. Search is a
// lock-free read path: it runs concurrently with a background indexing
// job and reflects whatever is committed at read time.
func (e *Engine) Search(ctx context.Context, query string) ([]*BookResult, error) {
	pool := e.cfg.MaxResults * overfetch

	var semantic []*store.VectorResult
	var keyword []*store.KeywordResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vectors, err := e.embedder.Embed(gctx, []string{query})
		if err != nil {
			return err
		}
		semantic, err = e.lib.SemanticSearch(gctx, vectors[0], pool)
		return err
	})
	g.Go(func() error {
		var err error
		keyword, err = e.lib.KeywordSearch(gctx, query, pool)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := e.fuse(semantic, keyword)
	if len(fused) == 0 {
		return nil, nil
	}
	return e.group(ctx, fused, semantic)
}

type scoredChunk struct {
	chunkID string
	score   float64
}

// fuse merges the two rankings with weighted reciprocal-rank fusion:
// score(chunk) = Σ weight / (k + rank).
func (e *Engine) fuse(semantic []*store.VectorResult, keyword []*store.KeywordResult) []scoredChunk {
	k := float64(e.cfg.RRFConstant)
	scores := make(map[string]float64)

	for rank, hit := range semantic {
		scores[hit.ChunkID] += e.cfg.SemanticWeight / (k + float64(rank+1))
	}
	for rank, hit := range keyword {
		scores[hit.ChunkID] += e.cfg.KeywordWeight / (k + float64(rank+1))
	}

	fused := make([]scoredChunk, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, scoredChunk{chunkID: id, score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].chunkID < fused[j].chunkID
	})
	return fused
}

// group collapses chunk hits into ranked books.
func (e *Engine) group(ctx context.Context, fused []scoredChunk, semantic []*store.VectorResult) ([]*BookResult, error) {
	chunkIDs := make([]string, len(fused))
	for i, sc := range fused {
		chunkIDs[i] = sc.chunkID
	}
	chunks, err := e.lib.GetChunks(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}

	similarity := make(map[string]float64, len(semantic))
	for _, hit := range semantic {
		similarity[hit.ChunkID] = 1 - float64(hit.Distance)
	}

	byBook := make(map[string]*BookResult)
	var order []string
	for _, sc := range fused {
		chunk, ok := chunks[sc.chunkID]
		if !ok {
			continue
		}

		result, seen := byBook[chunk.BookID]
		if !seen {
			book, err := e.lib.GetBook(ctx, chunk.BookID)
			if err != nil {
				return nil, err
			}
			if book == nil {
				continue
			}
			result = &BookResult{
				BookID:   book.ID,
				Title:    book.Title,
				Author:   book.Author,
				Filename: book.Filename,
			}
			byBook[chunk.BookID] = result
			order = append(order, chunk.BookID)
		}

		result.MatchedChunks++
		if sc.score > result.Relevance {
			result.Relevance = sc.score
			result.BestMatch = excerpt(chunk.Text)
		}
		if sim := similarity[sc.chunkID]; sim > result.Similarity {
			result.Similarity = sim
		}
	}

	results := make([]*BookResult, 0, len(order))
	for _, id := range order {
		results = append(results, byBook[id])
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})

	if len(results) > e.cfg.MaxResults {
		results = results[:e.cfg.MaxResults]
	}

	e.logger.Debug("search_completed",
		slog.Int("semantic_hits", len(semantic)),
		slog.Int("books", len(results)))
	return results, nil
}

// excerpt truncates chunk text for display.
func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptLength {
		return text
	}
	return string(runes[:excerptLength]) + "..."
}
