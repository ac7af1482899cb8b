package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	liberrors "github.com/libris-dev/libris/internal/errors"
)

// SQLiteStore is the durable book store. WAL mode lets search reads
// proceed concurrently with an indexing write; the cross-process lock
// serializes writers.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id          TEXT PRIMARY KEY,
	source_id   TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL,
	author      TEXT NOT NULL,
	format      TEXT NOT NULL,
	filename    TEXT NOT NULL,
	size        INTEGER NOT NULL,
	pages       INTEGER NOT NULL,
	chunk_count INTEGER NOT NULL,
	indexed_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	id        TEXT PRIMARY KEY,
	book_id   TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
	seq       INTEGER NOT NULL,
	content   TEXT NOT NULL,
	embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_book ON chunks(book_id);
`

// OpenSQLite opens (or creates) the database file under dir.
func OpenSQLite(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	path := filepath.Join(dir, "libris.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// AddBook writes a book and all its chunks in one transaction. The
// commit is the durability point for the whole batch: a failure at any
// step leaves no trace of the book.
func (s *SQLiteStore) AddBook(ctx context.Context, book *Book, chunks []*Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO books (id, source_id, title, author, format, filename, size, pages, chunk_count, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID, book.SourceID, book.Title, book.Author, book.Format,
		book.Filename, book.Size, book.Pages, len(chunks), book.IndexedAt.UTC()); err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStore, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, book_id, seq, content, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, book.ID, chunk.Seq, chunk.Text, encodeVector(chunk.Vector)); err != nil {
			return liberrors.Wrap(liberrors.ErrCodeStore, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	return nil
}

// DeleteBook removes a book and its chunks (cascade).
func (s *SQLiteStore) DeleteBook(ctx context.Context, bookID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, bookID); err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	return nil
}

// GetBook returns one book, or nil if absent.
func (s *SQLiteStore) GetBook(ctx context.Context, bookID string) (*Book, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_id, title, author, format, filename, size, pages, chunk_count, indexed_at
		 FROM books WHERE id = ?`, bookID)
	book, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	return book, nil
}

// ListBooks returns all books ordered by indexing time.
func (s *SQLiteStore) ListBooks(ctx context.Context) ([]*Book, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, title, author, format, filename, size, pages, chunk_count, indexed_at
		 FROM books ORDER BY indexed_at, id`)
	if err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// KnownSourceIDs returns the set of indexed source identifiers. Used by
// the pre-flight scanner; a plain read, safe during a concurrent write.
func (s *SQLiteStore) KnownSourceIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id FROM books`)
	if err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
		}
		known[id] = true
	}
	return known, rows.Err()
}

// GetChunks returns the requested chunks keyed by ID. Missing IDs are
// simply absent from the result.
func (s *SQLiteStore) GetChunks(ctx context.Context, chunkIDs []string) (map[string]*Chunk, error) {
	result := make(map[string]*Chunk, len(chunkIDs))
	for _, id := range chunkIDs {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, book_id, seq, content, embedding FROM chunks WHERE id = ?`, id)
		chunk, err := scanChunk(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
		}
		result[id] = chunk
	}
	return result, nil
}

// ForEachChunk streams every chunk, in book insertion order. Used to
// rebuild derived indexes.
func (s *SQLiteStore) ForEachChunk(ctx context.Context, fn func(*Chunk) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, book_id, seq, content, embedding FROM chunks ORDER BY book_id, seq`)
	if err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	defer rows.Close()

	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return liberrors.Wrap(liberrors.ErrCodeStore, err)
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Stats returns book and chunk counts.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&stats.Books); err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.Chunks); err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	return &stats, nil
}

// Reset deletes all books and chunks.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM books`); err != nil {
		return liberrors.Wrap(liberrors.ErrCodeStore, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*Book, error) {
	var book Book
	var indexedAt time.Time
	if err := row.Scan(&book.ID, &book.SourceID, &book.Title, &book.Author,
		&book.Format, &book.Filename, &book.Size, &book.Pages,
		&book.ChunkCount, &indexedAt); err != nil {
		return nil, err
	}
	book.IndexedAt = indexedAt
	return &book, nil
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var chunk Chunk
	var blob []byte
	if err := row.Scan(&chunk.ID, &chunk.BookID, &chunk.Seq, &chunk.Text, &blob); err != nil {
		return nil, err
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", chunk.ID, err)
	}
	chunk.Vector = vec
	return &chunk, nil
}

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	reader := bytes.NewReader(blob)
	if err := binary.Read(reader, binary.LittleEndian, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}
