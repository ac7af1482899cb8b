// Package index orchestrates the extract → chunk → embed → write
// pipeline. Books are processed strictly one at a time so at most one
// book's text and chunks are in memory; each book is committed as one
// atomic batch.
package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/libris-dev/libris/internal/chunk"
	"github.com/libris-dev/libris/internal/embed"
	liberrors "github.com/libris-dev/libris/internal/errors"
	"github.com/libris-dev/libris/internal/extract"
	"github.com/libris-dev/libris/internal/store"
)

// BookWriter is the slice of the library facade the pipeline mutates
// through.
type BookWriter interface {
	AddBook(ctx context.Context, book *store.Book, chunks []*store.Chunk) error
	KnownSourceIDs(ctx context.Context) (map[string]bool, error)
}

// BookOutcome reports one source's fate.
type BookOutcome struct {
	Path    string
	BookID  string
	Title   string
	Chunks  int
	Skipped bool
	Err     error
}

// JobOutcome aggregates per-book outcomes for one run.
type JobOutcome struct {
	Outcomes  []BookOutcome
	Indexed   int
	Skipped   int
	Failed    int
	Cancelled bool
}

// Progress is invoked after each book with counts so far and the book
// just finished. May be nil.
type Progress func(done, total int, outcome BookOutcome)

// Pipeline indexes book files.
type Pipeline struct {
	writer   BookWriter
	registry *extract.Registry
	chunker  *chunk.Chunker
	embedder embed.Embedder
	retry    liberrors.RetryConfig
	logger   *slog.Logger
}

// Config assembles a pipeline.
type Config struct {
	Writer   BookWriter
	Registry *extract.Registry
	Chunker  *chunk.Chunker
	Embedder embed.Embedder
	Retry    *liberrors.RetryConfig
	Logger   *slog.Logger
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Registry == nil {
		cfg.Registry = extract.NewRegistry()
	}
	if cfg.Chunker == nil {
		cfg.Chunker = chunk.New(chunk.DefaultOptions())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	retry := liberrors.DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	return &Pipeline{
		writer:   cfg.Writer,
		registry: cfg.Registry,
		chunker:  cfg.Chunker,
		embedder: cfg.Embedder,
		retry:    retry,
		logger:   cfg.Logger,
	}
}

// IndexOne processes a single source: extract, chunk, embed, and write
// one atomic batch. Already-indexed sources are skipped.
func (p *Pipeline) IndexOne(ctx context.Context, path string) BookOutcome {
	outcome := BookOutcome{Path: path}

	known, err := p.writer.KnownSourceIDs(ctx)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	id := store.SourceID(filepath.Base(path))
	outcome.BookID = id
	if known[id] {
		outcome.Skipped = true
		p.logger.Debug("book_already_indexed", slog.String("path", path))
		return outcome
	}

	extracted, err := p.registry.Extract(path)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Title = extracted.Title

	pieces := p.chunker.Split(extracted.Content)
	if len(pieces) == 0 {
		outcome.Err = liberrors.Newf(liberrors.ErrCodeExtraction,
			"no indexable text in %s", filepath.Base(path))
		return outcome
	}

	var vectors [][]float32
	err = liberrors.Retry(ctx, p.retry, func() error {
		var embedErr error
		vectors, embedErr = p.embedder.Embed(ctx, pieces)
		return embedErr
	})
	if err != nil {
		outcome.Err = liberrors.Wrap(liberrors.ErrCodeEmbedding, err)
		return outcome
	}

	book := &store.Book{
		ID:        id,
		SourceID:  id,
		Title:     extracted.Title,
		Author:    extracted.Author,
		Format:    extracted.Format,
		Filename:  extracted.Filename,
		Size:      extracted.Size,
		Pages:     extracted.Pages,
		IndexedAt: time.Now(),
	}
	chunks := make([]*store.Chunk, len(pieces))
	for i, text := range pieces {
		chunks[i] = &store.Chunk{
			ID:     store.ChunkID(id, i),
			BookID: id,
			Seq:    i,
			Text:   text,
			Vector: vectors[i],
		}
	}

	if err := p.writer.AddBook(ctx, book, chunks); err != nil {
		outcome.Err = err
		return outcome
	}

	outcome.Chunks = len(chunks)
	p.logger.Info("book_indexed",
		slog.String("title", book.Title),
		slog.String("author", book.Author),
		slog.Int("chunks", len(chunks)))
	return outcome
}

// IndexMany processes sources one at a time. Cancellation via ctx is
// cooperative and observed only at book boundaries: the in-flight book
// always finishes and commits, then the loop stops. Per-book failures
// are recorded and do not abort the remaining sources.
func (p *Pipeline) IndexMany(ctx context.Context, paths []string, progress Progress) *JobOutcome {
	job := &JobOutcome{}

	for _, path := range paths {
		select {
		case <-ctx.Done():
			job.Cancelled = true
			p.logger.Info("indexing_cancelled",
				slog.Int("completed", len(job.Outcomes)),
				slog.Int("remaining", len(paths)-len(job.Outcomes)))
			return job
		default:
		}

		// The in-flight book must finish even if cancellation arrives
		// mid-book: no partial book is ever committed, and completed
		// work is never thrown away.
		outcome := p.IndexOne(context.WithoutCancel(ctx), path)
		job.Outcomes = append(job.Outcomes, outcome)

		switch {
		case outcome.Err != nil:
			job.Failed++
			p.logger.Warn("book_index_failed",
				slog.String("path", path),
				slog.String("error", outcome.Err.Error()))
		case outcome.Skipped:
			job.Skipped++
		default:
			job.Indexed++
		}

		if progress != nil {
			progress(len(job.Outcomes), len(paths), outcome)
		}
	}
	return job
}
