package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	liberrors "github.com/libris-dev/libris/internal/errors"
)

const (
	vectorFileName = "vectors.hnsw"
	keywordDirName = "keyword.bleve"
)

// Store combines the durable SQLite store with the derived vector and
// keyword indexes. All mutation goes through AddBook/DeleteBook; the
// caller (the library facade) is responsible for holding the
// cross-process lock around mutations.
type Store struct {
	dir     string
	logger  *slog.Logger
	sqlite  *SQLiteStore
	keyword *KeywordIndex

	mu     sync.RWMutex
	vector *VectorIndex // nil until the embedding dimension is known
}

// Open opens the store rooted at dir, creating it if needed. Derived
// indexes that disagree with SQLite (e.g. after a crash between the
// SQLite commit and the index writes) are rebuilt from SQLite.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlite, err := OpenSQLite(dir)
	if err != nil {
		return nil, err
	}

	keyword, err := NewKeywordIndex(filepath.Join(dir, keywordDirName))
	if err != nil {
		sqlite.Close()
		return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
	}

	s := &Store{
		dir:     dir,
		logger:  logger,
		sqlite:  sqlite,
		keyword: keyword,
	}

	if err := s.loadOrRebuildVector(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// loadOrRebuildVector restores the saved HNSW graph, falling back to a
// full rebuild from SQLite when the graph is missing or stale.
func (s *Store) loadOrRebuildVector(ctx context.Context) error {
	stats, err := s.sqlite.Stats(ctx)
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, vectorFileName)
	loaded := NewVectorIndex(0)
	if err := loaded.Load(path); err == nil {
		if loaded.Count() == stats.Chunks {
			s.vector = loaded
			return nil
		}
		s.logger.Warn("vector_index_stale",
			slog.Int("indexed", loaded.Count()),
			slog.Int("expected", stats.Chunks))
	} else if !os.IsNotExist(err) {
		s.logger.Warn("vector_index_unreadable", slog.String("error", err.Error()))
	}

	if stats.Chunks == 0 {
		s.vector = nil
		return nil
	}
	return s.rebuildDerived(ctx)
}

// rebuildDerived reconstructs both derived indexes from SQLite.
func (s *Store) rebuildDerived(ctx context.Context) error {
	s.logger.Info("derived_index_rebuild_started", slog.String("dir", s.dir))

	var vector *VectorIndex
	var ids []string
	var vectors [][]float32
	if err := s.sqlite.ForEachChunk(ctx, func(chunk *Chunk) error {
		if vector == nil {
			vector = NewVectorIndex(len(chunk.Vector))
		}
		ids = append(ids, chunk.ID)
		vectors = append(vectors, chunk.Vector)
		return nil
	}); err != nil {
		return err
	}
	if vector == nil {
		s.vector = nil
		return nil
	}
	if err := vector.Add(ids, vectors); err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	s.vector = vector

	// Keyword index: re-index every book's chunks with its metadata.
	books, err := s.sqlite.ListBooks(ctx)
	if err != nil {
		return err
	}
	for _, book := range books {
		chunkIDs := make([]string, book.ChunkCount)
		for i := range chunkIDs {
			chunkIDs[i] = ChunkID(book.ID, i)
		}
		chunkMap, err := s.sqlite.GetChunks(ctx, chunkIDs)
		if err != nil {
			return err
		}
		chunks := make([]*Chunk, 0, len(chunkMap))
		for _, id := range chunkIDs {
			if chunk, ok := chunkMap[id]; ok {
				chunks = append(chunks, chunk)
			}
		}
		if err := s.keyword.Index(ctx, book, chunks); err != nil {
			return liberrors.Wrap(liberrors.ErrCodeStore, err)
		}
	}

	s.logger.Info("derived_index_rebuild_finished",
		slog.Int("chunks", s.vector.Count()),
		slog.Int("books", len(books)))
	return nil
}

// AddBook persists one book atomically. The SQLite transaction is the
// durability point; derived index writes follow and are repaired on the
// next Open if the process dies between the two.
func (s *Store) AddBook(ctx context.Context, book *Book, chunks []*Chunk) error {
	if err := s.sqlite.AddBook(ctx, book, chunks); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vector == nil && len(chunks) > 0 {
		s.vector = NewVectorIndex(len(chunks[0].Vector))
	}

	ids := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
		vectors[i] = chunk.Vector
	}

	if s.vector != nil {
		if err := s.vector.Add(ids, vectors); err != nil {
			// Durable data is already committed; the derived index will
			// be rebuilt on next open.
			s.logger.Error("vector_index_write_failed",
				slog.String("book_id", book.ID),
				slog.String("error", err.Error()))
			return nil
		}
	}
	if err := s.keyword.Index(ctx, book, chunks); err != nil {
		s.logger.Error("keyword_index_write_failed",
			slog.String("book_id", book.ID),
			slog.String("error", err.Error()))
		return nil
	}

	if err := s.saveVectorLocked(); err != nil {
		s.logger.Warn("vector_index_save_failed", slog.String("error", err.Error()))
	}
	return nil
}

// DeleteBook removes a book everywhere.
func (s *Store) DeleteBook(ctx context.Context, bookID string) error {
	book, err := s.sqlite.GetBook(ctx, bookID)
	if err != nil {
		return err
	}
	if book == nil {
		return nil
	}

	chunkIDs := make([]string, book.ChunkCount)
	for i := range chunkIDs {
		chunkIDs[i] = ChunkID(bookID, i)
	}

	if err := s.sqlite.DeleteBook(ctx, bookID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vector != nil {
		s.vector.Delete(chunkIDs)
	}
	if err := s.keyword.Delete(ctx, chunkIDs); err != nil {
		s.logger.Warn("keyword_index_delete_failed", slog.String("error", err.Error()))
	}
	return nil
}

// SemanticSearch returns the k nearest chunks to the query vector.
func (s *Store) SemanticSearch(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.vector == nil {
		return nil, nil
	}
	results, err := s.vector.Search(query, k)
	if err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	return results, nil
}

// KeywordSearch returns chunks matching the text query.
func (s *Store) KeywordSearch(ctx context.Context, query string, k int) ([]*KeywordResult, error) {
	return s.keyword.Search(ctx, query, k)
}

// GetBook returns one book, or nil.
func (s *Store) GetBook(ctx context.Context, bookID string) (*Book, error) {
	return s.sqlite.GetBook(ctx, bookID)
}

// ListBooks returns all indexed books.
func (s *Store) ListBooks(ctx context.Context) ([]*Book, error) {
	return s.sqlite.ListBooks(ctx)
}

// KnownSourceIDs returns indexed source identifiers.
func (s *Store) KnownSourceIDs(ctx context.Context) (map[string]bool, error) {
	return s.sqlite.KnownSourceIDs(ctx)
}

// GetChunks returns chunks by ID.
func (s *Store) GetChunks(ctx context.Context, chunkIDs []string) (map[string]*Chunk, error) {
	return s.sqlite.GetChunks(ctx, chunkIDs)
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	return s.sqlite.Stats(ctx)
}

// Reset wipes everything, including derived indexes.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.sqlite.Reset(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vector = nil
	os.Remove(filepath.Join(s.dir, vectorFileName))
	os.Remove(filepath.Join(s.dir, vectorFileName+".meta"))

	// Recreate the keyword index from scratch.
	if err := s.keyword.Close(); err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	if err := os.RemoveAll(filepath.Join(s.dir, keywordDirName)); err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	keyword, err := NewKeywordIndex(filepath.Join(s.dir, keywordDirName))
	if err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	s.keyword = keyword
	return nil
}

// Close persists the vector index and closes everything.
func (s *Store) Close() error {
	s.mu.Lock()
	if err := s.saveVectorLocked(); err != nil {
		s.logger.Warn("vector_index_save_failed", slog.String("error", err.Error()))
	}
	s.mu.Unlock()

	kerr := s.keyword.Close()
	serr := s.sqlite.Close()
	if kerr != nil {
		return kerr
	}
	return serr
}

func (s *Store) saveVectorLocked() error {
	if s.vector == nil {
		return nil
	}
	return s.vector.Save(filepath.Join(s.dir, vectorFileName))
}
