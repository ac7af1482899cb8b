package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor extracts text from PDF files page by page. Pages whose
// text cannot be decoded are skipped rather than failing the book.
type PDFExtractor struct{}

var _ Extractor = (*PDFExtractor)(nil)

func (e *PDFExtractor) Extract(path string) (*Book, error) {
	book, err := baseBook(path)
	if err != nil {
		return nil, err
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	applyPDFInfo(book, reader)

	book.Pages = reader.NumPage()
	var parts []string
	for i := 1; i <= book.Pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text != "" {
			parts = append(parts, text)
		}
	}

	book.Content = cleanText(strings.Join(parts, "\n"))
	if book.Content == "" {
		return nil, fmt.Errorf("no extractable text in %d pages", book.Pages)
	}
	return book, nil
}

// applyPDFInfo copies title and author from the document info
// dictionary when present.
func applyPDFInfo(book *Book, reader *pdf.Reader) {
	defer func() {
		// The trailer of a damaged PDF can panic inside the library;
		// metadata is best-effort, so fall back to filename fields.
		_ = recover()
	}()

	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return
	}
	if title := strings.TrimSpace(info.Key("Title").RawString()); title != "" {
		book.Title = title
	}
	if author := strings.TrimSpace(info.Key("Author").RawString()); author != "" {
		book.Author = author
	}
}
