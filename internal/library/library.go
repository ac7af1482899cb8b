// Package library is the single authorized entry point to the book
// store. Every mutation acquires the cross-process lock for the
// duration of the call and releases it on all exit paths; reads go
// straight to the store, which tolerates concurrent reads during a
// write (SQLite WAL).
package library

import (
	"context"
	"log/slog"
	"time"

	"github.com/libris-dev/libris/internal/lock"
	"github.com/libris-dev/libris/internal/store"
)

// Config configures the library facade.
type Config struct {
	// Dir is the database directory.
	Dir string

	// Lock configures cross-process lock acquisition.
	Lock lock.Config

	// RenewInterval is the heartbeat refresh interval for locks held
	// across long writes. Must be well under Lock.StaleAfter.
	RenewInterval time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Library mediates all store access.
type Library struct {
	dir           string
	store         *store.Store
	locks         *lock.Manager
	renewInterval time.Duration
	logger        *slog.Logger
}

// Open opens the store at cfg.Dir and prepares the lock manager.
func Open(cfg Config) (*Library, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = 10 * time.Second
	}
	if cfg.Lock.Timeout == 0 {
		cfg.Lock = lock.DefaultConfig()
	}

	st, err := store.Open(cfg.Dir, logger)
	if err != nil {
		return nil, err
	}

	return &Library{
		dir:           cfg.Dir,
		store:         st,
		locks:         lock.NewManager(cfg.Lock, logger),
		renewInterval: cfg.RenewInterval,
		logger:        logger,
	}, nil
}

// withLock runs fn while holding the database lock, with heartbeat
// renewal running, and releases on every exit path.
func (l *Library) withLock(ctx context.Context, fn func(context.Context) error) error {
	handle, err := l.locks.Acquire(ctx, l.dir)
	if err != nil {
		return err
	}

	renewer := lock.NewRenewer(l.locks, handle, l.renewInterval, l.logger)
	renewer.Start()
	defer func() {
		renewer.Stop()
		if relErr := l.locks.Release(handle); relErr != nil {
			l.logger.Error("lock_release_failed",
				slog.String("dir", l.dir),
				slog.String("error", relErr.Error()))
		}
	}()

	return fn(ctx)
}

// AddBook writes one book and its chunks as a single locked, atomic
// batch.
func (l *Library) AddBook(ctx context.Context, book *store.Book, chunks []*store.Chunk) error {
	return l.withLock(ctx, func(ctx context.Context) error {
		return l.store.AddBook(ctx, book, chunks)
	})
}

// DeleteBook removes one book under the lock.
func (l *Library) DeleteBook(ctx context.Context, bookID string) error {
	return l.withLock(ctx, func(ctx context.Context) error {
		return l.store.DeleteBook(ctx, bookID)
	})
}

// Reset wipes the store under the lock.
func (l *Library) Reset(ctx context.Context) error {
	return l.withLock(ctx, func(ctx context.Context) error {
		return l.store.Reset(ctx)
	})
}

// SemanticSearch is a lock-free read.
func (l *Library) SemanticSearch(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	return l.store.SemanticSearch(ctx, query, k)
}

// KeywordSearch is a lock-free read.
func (l *Library) KeywordSearch(ctx context.Context, query string, k int) ([]*store.KeywordResult, error) {
	return l.store.KeywordSearch(ctx, query, k)
}

// GetBook is a lock-free read.
func (l *Library) GetBook(ctx context.Context, bookID string) (*store.Book, error) {
	return l.store.GetBook(ctx, bookID)
}

// ListBooks is a lock-free read.
func (l *Library) ListBooks(ctx context.Context) ([]*store.Book, error) {
	return l.store.ListBooks(ctx)
}

// KnownSourceIDs is a lock-free read used by the pre-flight scanner.
// During a concurrent indexing job it reflects a point-in-time
// snapshot and may under-report sources being written right now.
func (l *Library) KnownSourceIDs(ctx context.Context) (map[string]bool, error) {
	return l.store.KnownSourceIDs(ctx)
}

// GetChunks is a lock-free read.
func (l *Library) GetChunks(ctx context.Context, chunkIDs []string) (map[string]*store.Chunk, error) {
	return l.store.GetChunks(ctx, chunkIDs)
}

// Stats is a lock-free read.
func (l *Library) Stats(ctx context.Context) (*store.Stats, error) {
	return l.store.Stats(ctx)
}

// LockInfo returns the current lock record, or nil when unlocked.
func (l *Library) LockInfo() (*lock.Record, error) {
	return l.locks.Inspect(l.dir)
}

// Dir returns the database directory.
func (l *Library) Dir() string {
	return l.dir
}

// Close closes the store. It does not touch the lock file: the lock is
// only ever held inside withLock.
func (l *Library) Close() error {
	return l.store.Close()
}
