package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// EPUBExtractor extracts text from EPUB archives. It follows the OCF
// container to the package document, reads Dublin Core metadata, and
// walks the spine in reading order.
type EPUBExtractor struct{}

var _ Extractor = (*EPUBExtractor)(nil)

type ocfContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Metadata struct {
		Titles   []string `xml:"title"`
		Creators []string `xml:"creator"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

func (e *EPUBExtractor) Extract(filePath string) (*Book, error) {
	book, err := baseBook(filePath)
	if err != nil {
		return nil, err
	}

	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("open epub archive: %w", err)
	}
	defer archive.Close()

	entries := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		entries[f.Name] = f
	}

	opfPath, err := findPackagePath(entries)
	if err != nil {
		return nil, err
	}

	var pkg opfPackage
	if err := decodeZipXML(entries, opfPath, &pkg); err != nil {
		return nil, fmt.Errorf("parse package document: %w", err)
	}

	if len(pkg.Metadata.Titles) > 0 && strings.TrimSpace(pkg.Metadata.Titles[0]) != "" {
		book.Title = strings.TrimSpace(pkg.Metadata.Titles[0])
	}
	if len(pkg.Metadata.Creators) > 0 && strings.TrimSpace(pkg.Metadata.Creators[0]) != "" {
		book.Author = strings.TrimSpace(pkg.Metadata.Creators[0])
	}

	hrefByID := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		if item.MediaType == "application/xhtml+xml" || item.MediaType == "text/html" {
			hrefByID[item.ID] = item.Href
		}
	}

	opfDir := path.Dir(opfPath)
	var parts []string
	for _, ref := range pkg.Spine.ItemRefs {
		href, ok := hrefByID[ref.IDRef]
		if !ok {
			continue
		}
		entry, ok := entries[resolveHref(opfDir, href)]
		if !ok {
			continue
		}
		text, err := htmlEntryText(entry)
		if err != nil {
			continue
		}
		if text != "" {
			parts = append(parts, text)
		}
	}

	book.Content = cleanText(strings.Join(parts, "\n"))
	if book.Content == "" {
		return nil, fmt.Errorf("no document text in spine")
	}
	return book, nil
}

func findPackagePath(entries map[string]*zip.File) (string, error) {
	var container ocfContainer
	if err := decodeZipXML(entries, "META-INF/container.xml", &container); err != nil {
		return "", fmt.Errorf("read container.xml: %w", err)
	}
	if len(container.Rootfiles) == 0 || container.Rootfiles[0].FullPath == "" {
		return "", fmt.Errorf("container.xml lists no rootfile")
	}
	return container.Rootfiles[0].FullPath, nil
}

func decodeZipXML(entries map[string]*zip.File, name string, v any) error {
	entry, ok := entries[name]
	if !ok {
		return fmt.Errorf("missing archive entry %s", name)
	}
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(rc).Decode(v)
}

func resolveHref(opfDir, href string) string {
	if opfDir == "." {
		return href
	}
	return path.Join(opfDir, href)
}

// htmlEntryText tokenizes one XHTML document and collects its visible
// text, skipping script and style content.
func htmlEntryText(entry *zip.File) (string, error) {
	rc, err := entry.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return visibleText(rc)
}

func visibleText(r io.Reader) (string, error) {
	tokenizer := html.NewTokenizer(r)
	var sb strings.Builder
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				return sb.String(), nil
			}
			return "", tokenizer.Err()
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isSkippedTag(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isSkippedTag(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(tokenizer.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func isSkippedTag(name string) bool {
	return name == "script" || name == "style"
}
