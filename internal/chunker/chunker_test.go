package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	t.Parallel()

	chunks := Split("a short BOQ extract", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short BOQ extract", chunks[0])
}

func TestSplitEmpty(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Split("", 100))
}

func TestSplitPrefersParagraphBreak(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 80) + "\n\n" + strings.Repeat("y", 80)
	chunks := Split(text, 100)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("x", 80)+"\n\n", chunks[0])
	assert.Equal(t, strings.Repeat("y", 80), chunks[1])
}

func TestSplitFallsBackToLineBreak(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 90) + "\n" + strings.Repeat("y", 90)
	chunks := Split(text, 100)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("x", 90)+"\n", chunks[0])
}

func TestSplitHardCutWithoutBreaks(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("z", 250)
	chunks := Split(text, 100)

	require.Len(t, chunks, 3)
	assert.Equal(t, 100, len(chunks[0]))
	assert.Equal(t, 100, len(chunks[1]))
	assert.Equal(t, 50, len(chunks[2]))
}

func TestSplitHardCutKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	// Two-byte runes with no break points; a byte-indexed cut at 5
	// would land mid-rune.
	text := strings.Repeat("é", 40)
	chunks := Split(text, 5)

	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
		assert.LessOrEqual(t, len(c), 5)
	}

	// Four-byte runes hit the maximum backoff.
	wide := strings.Repeat("\U0001F3D7", 10) // building construction emoji
	for _, c := range Split(wide, 10) {
		assert.True(t, utf8.ValidString(c))
	}
}

func TestSplitReassemblesExactly(t *testing.T) {
	t.Parallel()

	inputs := []string{
		strings.Repeat("line of quantities 10 m3 concrete\n", 500),
		strings.Repeat("para\n\n", 400) + "tail without newline",
		strings.Repeat("q", 35000),
		"Item\tQty\tUnit\n" + strings.Repeat("Steel beam\t12\tm\n", 1200),
	}
	for _, in := range inputs {
		chunks := Split(in, 1000)
		assert.Equal(t, in, strings.Join(chunks, ""))
		for _, c := range chunks {
			assert.NotEmpty(t, c)
			assert.LessOrEqual(t, len(c), 1000)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("100 t structural steel\n200 m3 concrete\n\n", 800)
	first := Split(in, 2500)
	second := Split(in, 2500)
	assert.Equal(t, first, second)
}

func TestSplitDefaultSize(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("a", DefaultChunkSize+5)
	chunks := Split(in, 0)
	require.Len(t, chunks, 2)
	assert.Equal(t, DefaultChunkSize, len(chunks[0]))
}
