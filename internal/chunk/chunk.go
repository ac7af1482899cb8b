// Package chunk splits book text into overlapping chunks for embedding
// and search.
package chunk

import "strings"

// Options controls chunking behavior.
type Options struct {
	// Size is the chunk length in characters (code points).
	Size int
	// Overlap is how many characters consecutive chunks share.
	Overlap int
}

// DefaultOptions returns the standard chunking parameters.
func DefaultOptions() Options {
	return Options{Size: 1000, Overlap: 200}
}

// Chunker splits text into overlapping chunks, preferring sentence
// boundaries. A chunk is cut at the last sentence end inside the
// window, but only when that boundary falls past the window midpoint,
// so chunks never shrink below half size.
type Chunker struct {
	opts Options
}

// New creates a chunker. Zero or negative sizes fall back to defaults,
// and overlap is clamped below half the size so the window always
// advances.
func New(opts Options) *Chunker {
	if opts.Size <= 0 {
		opts.Size = DefaultOptions().Size
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.Size/2 {
		opts.Overlap = opts.Size / 4
	}
	return &Chunker{opts: opts}
}

// Split chunks text. Empty or whitespace-only input yields no chunks.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.opts.Size
		if end > len(runes) {
			end = len(runes)
		} else {
			// Snap to the last sentence end in the window, unless it
			// falls in the first half.
			if boundary := lastSentenceEnd(runes[start:end]); boundary > c.opts.Size/2 {
				end = start + boundary + 1
			}
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}

		if end == len(runes) {
			break
		}
		start = end - c.opts.Overlap
	}
	return chunks
}

// lastSentenceEnd returns the index of the final '.', '?', or '!' that
// is followed by a space, or -1.
func lastSentenceEnd(window []rune) int {
	for i := len(window) - 2; i >= 0; i-- {
		switch window[i] {
		case '.', '?', '!':
			if window[i+1] == ' ' {
				return i
			}
		}
	}
	return -1
}
