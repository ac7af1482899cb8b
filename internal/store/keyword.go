package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	bolt "go.etcd.io/bbolt"

	liberrors "github.com/libris-dev/libris/internal/errors"
)

// KeywordIndex is the bleve full-text index over chunk content. Like
// the vector index, it is derived from SQLite and rebuildable.
type KeywordIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	path  string
}

// keywordDocument is what gets indexed per chunk.
type keywordDocument struct {
	Content string `json:"content"`
	Title   string `json:"title"`
	Author  string `json:"author"`
}

// keywordOpenTimeout bounds how long opening the index waits for the
// bolt file lock. The bleve index is single-open: unlike the SQLite
// metadata, it cannot be shared between processes, so a second process
// gets a clear error here instead of hanging on the lock.
const keywordOpenTimeout = 2 * time.Second

// NewKeywordIndex opens or creates a bleve index at path. An empty
// path creates an in-memory index (tests).
func NewKeywordIndex(path string) (*KeywordIndex, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		idx, err = bleve.OpenUsing(path, map[string]interface{}{
			"bolt_timeout": keywordOpenTimeout.String(),
		})
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) || strings.Contains(err.Error(), bolt.ErrTimeout.Error()) {
			return nil, liberrors.New(liberrors.ErrCodeStore,
				fmt.Sprintf("keyword index at %s is open in another libris process", path), err).
				WithSuggestion("close the other libris process and retry")
		}
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	return &KeywordIndex{index: idx, path: path}, nil
}

// Index adds chunks for a book in one batch.
func (k *KeywordIndex) Index(ctx context.Context, book *Book, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	batch := k.index.NewBatch()
	for _, chunk := range chunks {
		doc := keywordDocument{
			Content: chunk.Text,
			Title:   book.Title,
			Author:  book.Author,
		}
		if err := batch.Index(chunk.ID, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", chunk.ID, err)
		}
	}

	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

// Search returns chunks matching the query, scored by relevance.
func (k *KeywordIndex) Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	request := bleve.NewSearchRequest(matchQuery)
	request.Size = limit

	result, err := k.index.SearchInContext(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	results := make([]*KeywordResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &KeywordResult{
			ChunkID: hit.ID,
			Score:   hit.Score,
		})
	}
	return results, nil
}

// Delete removes chunks from the index.
func (k *KeywordIndex) Delete(ctx context.Context, chunkIDs []string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	batch := k.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	return k.index.Batch(batch)
}

// Count returns the number of indexed chunks.
func (k *KeywordIndex) Count() (uint64, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.index.DocCount()
}

// Close closes the underlying index.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.index.Close()
}
