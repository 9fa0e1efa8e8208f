package chunker_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personify-ai/converse-go/pkg/chunker"
)

func TestSplitEmptyInput(t *testing.T) {
	assert.Nil(t, chunker.Split("", 100))
	assert.Nil(t, chunker.Split("   \n\n  \t ", 100))
}

func TestSplitShortDocument(t *testing.T) {
	chunks := chunker.Split("Just one short paragraph.", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Just one short paragraph.", chunks[0])
}

func TestSplitPacksParagraphs(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph.\n\nThird paragraph."
	chunks := chunker.Split(text, 50)

	// First two paragraphs fit together, the third starts a new chunk.
	require.Len(t, chunks, 2)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", chunks[0])
	assert.Equal(t, "Third paragraph.", chunks[1])
}

func TestSplitRespectsLimit(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("This sentence is repeated to build a long paragraph. ")
	}
	chunks := chunker.Split(sb.String(), 200)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 200)
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
}

func TestSplitSentenceBoundaries(t *testing.T) {
	text := "Rockets are loud. Moon missions take years. Gardening is quiet."
	chunks := chunker.Split(text, 40)

	require.Equal(t, []string{
		"Rockets are loud.",
		"Moon missions take years.",
		"Gardening is quiet.",
	}, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 40)
	}
}

func TestSplitHardWrapsUnbrokenText(t *testing.T) {
	text := strings.Repeat("x", 450)
	chunks := chunker.Split(text, 200)
	require.Len(t, chunks, 3)
	assert.Equal(t, 200, utf8.RuneCountInString(chunks[0]))
	assert.Equal(t, 200, utf8.RuneCountInString(chunks[1]))
	assert.Equal(t, 50, utf8.RuneCountInString(chunks[2]))
}

func TestSplitDefaultLimit(t *testing.T) {
	chunks := chunker.Split("hello world", 0)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0])
}

func TestSplitPreservesOrder(t *testing.T) {
	text := "Alpha.\n\nBravo.\n\nCharlie.\n\nDelta."
	chunks := chunker.Split(text, 10)
	require.Len(t, chunks, 4)
	assert.Equal(t, []string{"Alpha.", "Bravo.", "Charlie.", "Delta."}, chunks)
}
