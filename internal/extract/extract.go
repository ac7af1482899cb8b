// Package extract pulls text and metadata out of book files. Supported
// formats: PDF, EPUB, FB2, plain text, and markdown.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	liberrors "github.com/libris-dev/libris/internal/errors"
)

// Book is the result of extracting one source file.
type Book struct {
	// Title from embedded metadata, falling back to the filename stem.
	Title string
	// Author from embedded metadata, or "Unknown".
	Author string
	// Format is the lowercased extension including the dot (".epub").
	Format string
	// Filename is the base name of the source file.
	Filename string
	// Size is the source file size in bytes.
	Size int64
	// Pages is the page count (PDF only, 0 otherwise).
	Pages int
	// Content is the cleaned full text.
	Content string
}

// Extractor extracts a single format.
type Extractor interface {
	// Extract reads the file at path and returns its text and metadata.
	Extract(path string) (*Book, error)
}

// Registry dispatches extraction by file extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry returns a registry with all built-in extractors.
func NewRegistry() *Registry {
	return &Registry{
		byExt: map[string]Extractor{
			".pdf":  &PDFExtractor{},
			".epub": &EPUBExtractor{},
			".fb2":  &FB2Extractor{},
			".txt":  &PlainTextExtractor{},
			".md":   &PlainTextExtractor{},
		},
	}
}

// Supported reports whether path's extension has a registered extractor.
func (r *Registry) Supported(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions returns the supported extensions, for display.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}

// Extract dispatches to the extractor for path's extension. Returns the
// unsupported-format error for unknown extensions and an extraction
// error when the format extractor fails.
func (r *Registry) Extract(path string) (*Book, error) {
	ext := strings.ToLower(filepath.Ext(path))
	extractor, ok := r.byExt[ext]
	if !ok {
		return nil, liberrors.Newf(liberrors.ErrCodeUnsupportedFormat,
			"no extractor for %q", ext).WithDetail("path", path)
	}

	book, err := extractor.Extract(path)
	if err != nil {
		return nil, liberrors.New(liberrors.ErrCodeExtraction,
			fmt.Sprintf("extracting %s: %v", filepath.Base(path), err), err).
			WithDetail("path", path)
	}
	return book, nil
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// cleanText collapses runs of whitespace into single spaces.
func cleanText(text string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
}

// baseBook fills the fields derived from the file itself.
func baseBook(path string) (*Book, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(path))
	return &Book{
		Title:    strings.TrimSuffix(name, filepath.Ext(name)),
		Author:   "Unknown",
		Format:   ext,
		Filename: name,
		Size:     info.Size(),
	}, nil
}
