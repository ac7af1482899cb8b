package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	c := New(DefaultOptions())

	chunks := c.Split("A short note about nothing much.")

	require.Len(t, chunks, 1)
	assert.Equal(t, "A short note about nothing much.", chunks[0])
}

func TestSplit_EmptyInput(t *testing.T) {
	c := New(DefaultOptions())

	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("   \n\t "))
}

func TestSplit_OverlappingWindows(t *testing.T) {
	// Given text with no sentence boundaries, forcing hard cuts
	c := New(Options{Size: 100, Overlap: 20})
	text := strings.Repeat("abcdefghij", 25) // 250 chars

	chunks := c.Split(text)

	// Then windows advance by size-overlap
	require.GreaterOrEqual(t, len(chunks), 3)
	assert.Len(t, chunks[0], 100)
	// Consecutive chunks share the overlap region.
	assert.Equal(t, chunks[0][80:], chunks[1][:20])
}

func TestSplit_PrefersSentenceBoundary(t *testing.T) {
	// Given a sentence end past the window midpoint
	c := New(Options{Size: 100, Overlap: 10})
	text := strings.Repeat("x", 70) + ". " + strings.Repeat("y", 200)

	chunks := c.Split(text)

	// Then the first chunk is cut at the period
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, strings.Repeat("x", 70)+".", chunks[0])
}

func TestSplit_IgnoresEarlySentenceBoundary(t *testing.T) {
	// A boundary in the first half of the window is not used.
	c := New(Options{Size: 100, Overlap: 10})
	text := strings.Repeat("x", 20) + ". " + strings.Repeat("y", 300)

	chunks := c.Split(text)

	require.NotEmpty(t, chunks)
	assert.Len(t, chunks[0], 100)
}

func TestSplit_CoversAllText(t *testing.T) {
	c := New(Options{Size: 120, Overlap: 30})
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)

	chunks := c.Split(text)

	// Every chunk is non-empty and the tail of the text appears.
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.NotEmpty(t, ch)
		assert.LessOrEqual(t, len([]rune(ch)), 120)
	}
	assert.Contains(t, chunks[len(chunks)-1], "lazy dog.")
}

func TestSplit_UnicodeSafe(t *testing.T) {
	c := New(Options{Size: 50, Overlap: 10})
	text := strings.Repeat("Война и мир. ", 30)

	chunks := c.Split(text)

	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.True(t, strings.HasPrefix(ch, "Война") || strings.HasPrefix(ch, "и мир") || len(ch) > 0)
		// No torn runes: the chunk must be valid UTF-8 re-encoding.
		assert.Equal(t, ch, string([]rune(ch)))
	}
}

func TestNew_ClampsDegenerateOptions(t *testing.T) {
	// Overlap >= size/2 would stall the window; it gets clamped.
	c := New(Options{Size: 10, Overlap: 9})
	chunks := c.Split(strings.Repeat("a", 100))

	assert.NotEmpty(t, chunks)
	assert.LessOrEqual(t, len(chunks), 30)
}
