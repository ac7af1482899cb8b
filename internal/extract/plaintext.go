package extract

import (
	"fmt"
	"os"
)

// PlainTextExtractor handles .txt and .md files. The whole file is the
// content; metadata comes from the filename.
type PlainTextExtractor struct{}

var _ Extractor = (*PlainTextExtractor)(nil)

func (e *PlainTextExtractor) Extract(path string) (*Book, error) {
	book, err := baseBook(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	book.Content = cleanText(string(data))
	if book.Content == "" {
		return nil, fmt.Errorf("file is empty")
	}
	return book, nil
}
