package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	liberrors "github.com/libris-dev/libris/internal/errors"
)

func removeVectorFiles(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(dir, vectorFileName)))
	require.NoError(t, os.Remove(filepath.Join(dir, vectorFileName+".meta")))
}

func testBook(n int) (*Book, []*Chunk) {
	filename := fmt.Sprintf("book-%d.txt", n)
	id := SourceID(filename)
	book := &Book{
		ID:        id,
		SourceID:  id,
		Title:     fmt.Sprintf("Book %d", n),
		Author:    "Test Author",
		Format:    ".txt",
		Filename:  filename,
		Size:      1234,
		IndexedAt: time.Now(),
	}

	chunks := make([]*Chunk, 3)
	for i := range chunks {
		chunks[i] = &Chunk{
			ID:     ChunkID(id, i),
			BookID: id,
			Seq:    i,
			Text:   fmt.Sprintf("chapter %d of book %d discusses seafaring", i, n),
			Vector: []float32{float32(n), float32(i), 1},
		}
	}
	return book, chunks
}

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	return s
}

func TestStore_AddAndGetBook(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	book, chunks := testBook(1)
	require.NoError(t, s.AddBook(context.Background(), book, chunks))

	got, err := s.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, book.Title, got.Title)
	assert.Equal(t, 3, got.ChunkCount)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Books)
	assert.Equal(t, 3, stats.Chunks)
}

func TestStore_DuplicateSourceRejected(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	book, chunks := testBook(1)
	require.NoError(t, s.AddBook(context.Background(), book, chunks))

	err := s.AddBook(context.Background(), book, chunks)
	assert.Error(t, err, "same source id must violate the unique constraint")
}

func TestStore_AtomicBatch_NoPartialBookOnFailure(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	book, chunks := testBook(1)
	// Duplicate chunk IDs make the insert fail mid-batch.
	chunks[2].ID = chunks[0].ID

	err := s.AddBook(context.Background(), book, chunks)
	require.Error(t, err)

	// The failed batch must leave no trace.
	got, err := s.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Books)
	assert.Equal(t, 0, stats.Chunks)
}

func TestStore_TwoBooksDoNotInterleave(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	bookA, chunksA := testBook(1)
	bookB, chunksB := testBook(2)
	require.NoError(t, s.AddBook(context.Background(), bookA, chunksA))
	require.NoError(t, s.AddBook(context.Background(), bookB, chunksB))

	for _, book := range []*Book{bookA, bookB} {
		ids := make([]string, book.ChunkCount)
		for i := range ids {
			ids[i] = ChunkID(book.ID, i)
		}
		got, err := s.GetChunks(context.Background(), ids)
		require.NoError(t, err)
		require.Len(t, got, book.ChunkCount)
		for _, chunk := range got {
			assert.Equal(t, book.ID, chunk.BookID)
		}
	}
}

func TestStore_KnownSourceIDs(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	book, chunks := testBook(1)
	require.NoError(t, s.AddBook(context.Background(), book, chunks))

	known, err := s.KnownSourceIDs(context.Background())
	require.NoError(t, err)
	assert.True(t, known[book.SourceID])
	assert.False(t, known[SourceID("other.txt")])
}

func TestStore_SemanticSearch(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	book, chunks := testBook(1)
	require.NoError(t, s.AddBook(context.Background(), book, chunks))

	results, err := s.SemanticSearch(context.Background(), chunks[0].Vector, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, chunks[0].ID, results[0].ChunkID)
}

func TestStore_SemanticSearchEmptyStore(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	results, err := s.SemanticSearch(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_KeywordSearch(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	book, chunks := testBook(1)
	require.NoError(t, s.AddBook(context.Background(), book, chunks))

	results, err := s.KeywordSearch(context.Background(), "seafaring", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestStore_DeleteBook(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	book, chunks := testBook(1)
	require.NoError(t, s.AddBook(context.Background(), book, chunks))
	require.NoError(t, s.DeleteBook(context.Background(), book.ID))

	got, err := s.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	results, err := s.SemanticSearch(context.Background(), chunks[0].Vector, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s := openTestStore(t, dir)
	book, chunks := testBook(1)
	require.NoError(t, s.AddBook(context.Background(), book, chunks))
	require.NoError(t, s.Close())

	reopened := openTestStore(t, dir)
	defer reopened.Close()

	got, err := reopened.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	results, err := reopened.SemanticSearch(context.Background(), chunks[1].Vector, 1)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, chunks[1].ID, results[0].ChunkID)
}

func TestStore_RebuildsVectorIndexFromSQLite(t *testing.T) {
	// Simulates a crash between the SQLite commit and the vector index
	// save: the saved graph is missing on reopen.
	dir := t.TempDir()

	s := openTestStore(t, dir)
	book, chunks := testBook(1)
	require.NoError(t, s.AddBook(context.Background(), book, chunks))
	require.NoError(t, s.Close())

	removeVectorFiles(t, dir)

	reopened := openTestStore(t, dir)
	defer reopened.Close()

	results, err := reopened.SemanticSearch(context.Background(), chunks[0].Vector, 1)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, chunks[0].ID, results[0].ChunkID)
}

func TestStore_Reset(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	book, chunks := testBook(1)
	require.NoError(t, s.AddBook(context.Background(), book, chunks))
	require.NoError(t, s.Reset(context.Background()))

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Books)

	results, err := s.KeywordSearch(context.Background(), "seafaring", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorIndex_RoundTrip(t *testing.T) {
	v := NewVectorIndex(3)
	require.NoError(t, v.Add([]string{"a", "b"}, [][]float32{{1, 0, 0}, {0, 1, 0}}))

	results, err := v.Search([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ChunkID)
}

func TestVectorIndex_DimensionMismatch(t *testing.T) {
	v := NewVectorIndex(3)

	err := v.Add([]string{"a"}, [][]float32{{1, 0}})
	assert.Error(t, err)

	_, err = v.Search([]float32{1, 0}, 1)
	assert.Error(t, err)
}

func TestVectorIndex_LazyDelete(t *testing.T) {
	v := NewVectorIndex(3)
	require.NoError(t, v.Add([]string{"a", "b"}, [][]float32{{1, 0, 0}, {0, 1, 0}}))

	v.Delete([]string{"a"})

	assert.False(t, v.Contains("a"))
	assert.Equal(t, 1, v.Count())

	results, err := v.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ChunkID)
	}
}

func TestKeywordIndex_SecondOpenFailsClearly(t *testing.T) {
	// The bleve index is single-open (its bolt root file is locked
	// exclusively), so a second open must fail fast with a clear error
	// instead of hanging on the file lock.
	path := filepath.Join(t.TempDir(), "keyword.bleve")

	first, err := NewKeywordIndex(path)
	require.NoError(t, err)
	defer first.Close()

	_, err = NewKeywordIndex(path)

	require.Error(t, err)
	assert.Equal(t, liberrors.ErrCodeStore, liberrors.GetCode(err))
	assert.Contains(t, err.Error(), "another libris process")
}
