// Package scanner performs the pre-flight diff between candidate book
// files and the store's known sources. It never mutates anything.
package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/libris-dev/libris/internal/extract"
	"github.com/libris-dev/libris/internal/store"
)

// SourceIndex is the read-only view of indexed sources the scanner
// needs. Satisfied by the library facade.
type SourceIndex interface {
	KnownSourceIDs(ctx context.Context) (map[string]bool, error)
}

// Result partitions the candidates of one scan.
type Result struct {
	// New are supported files not yet in the store, in sorted order.
	New []string
	// Indexed are supported files already in the store.
	Indexed []string
	// Unsupported are files with no registered extractor.
	Unsupported []string
}

// Scanner diffs candidate paths against known sources.
type Scanner struct {
	sources  SourceIndex
	registry *extract.Registry
	logger   *slog.Logger
}

// New creates a scanner over the given source index.
func New(sources SourceIndex, registry *extract.Registry, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = extract.NewRegistry()
	}
	return &Scanner{sources: sources, registry: registry, logger: logger}
}

// Scan partitions candidates against a point-in-time snapshot of known
// sources. Safe to call during a background indexing job; sources being
// written concurrently may still appear as new (documented staleness).
func (s *Scanner) Scan(ctx context.Context, candidates []string) (*Result, error) {
	known, err := s.sources.KnownSourceIDs(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, path := range candidates {
		if !s.registry.Supported(path) {
			result.Unsupported = append(result.Unsupported, path)
			continue
		}
		if known[store.SourceID(filepath.Base(path))] {
			result.Indexed = append(result.Indexed, path)
		} else {
			result.New = append(result.New, path)
		}
	}

	sort.Strings(result.New)
	sort.Strings(result.Indexed)
	sort.Strings(result.Unsupported)

	s.logger.Debug("preflight_scan",
		slog.Int("candidates", len(candidates)),
		slog.Int("new", len(result.New)),
		slog.Int("indexed", len(result.Indexed)),
		slog.Int("unsupported", len(result.Unsupported)))
	return result, nil
}

// Discover walks dir and returns every supported book file.
func (s *Scanner) Discover(dir string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if s.registry.Supported(path) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}

// ScanDir discovers supported files under dir and partitions them.
func (s *Scanner) ScanDir(ctx context.Context, dir string) (*Result, error) {
	candidates, err := s.Discover(dir)
	if err != nil {
		return nil, err
	}
	return s.Scan(ctx, candidates)
}
