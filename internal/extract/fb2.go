package extract

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
)

// FB2Extractor extracts text from FictionBook 2.0 files. Metadata comes
// from the title-info description block; content is the text of all
// body elements.
type FB2Extractor struct{}

var _ Extractor = (*FB2Extractor)(nil)

func (e *FB2Extractor) Extract(path string) (*Book, error) {
	book, err := baseBook(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	title, author, bodyText, err := parseFB2(f)
	if err != nil {
		return nil, fmt.Errorf("parse fb2: %w", err)
	}

	if title != "" {
		book.Title = title
	}
	if author != "" {
		book.Author = author
	}
	book.Content = cleanText(bodyText)
	if book.Content == "" {
		return nil, fmt.Errorf("empty body")
	}
	return book, nil
}

// parseFB2 walks the XML token stream once, collecting title-info
// metadata and the concatenated text of every <body>.
func parseFB2(r io.Reader) (title, author, body string, err error) {
	decoder := xml.NewDecoder(r)

	var sb strings.Builder
	var firstName, lastName string
	bodyDepth := 0

	// element stack tracks where character data belongs
	var stack []string

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", "", "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			if t.Name.Local == "body" {
				bodyDepth++
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if t.Name.Local == "body" && bodyDepth > 0 {
				bodyDepth--
			}
		case xml.CharData:
			text := string(t)
			if bodyDepth > 0 {
				sb.WriteString(text)
				sb.WriteByte(' ')
				continue
			}
			switch current(stack) {
			case "book-title":
				if inTitleInfo(stack) && title == "" {
					title = strings.TrimSpace(text)
				}
			case "first-name":
				if inTitleInfo(stack) && firstName == "" {
					firstName = strings.TrimSpace(text)
				}
			case "last-name":
				if inTitleInfo(stack) && lastName == "" {
					lastName = strings.TrimSpace(text)
				}
			}
		}
	}

	author = strings.TrimSpace(strings.Join(nonEmpty(firstName, lastName), " "))
	return title, author, sb.String(), nil
}

func current(stack []string) string {
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1]
}

func inTitleInfo(stack []string) bool {
	for _, name := range stack {
		if name == "title-info" {
			return true
		}
	}
	return false
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
