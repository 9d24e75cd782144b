// Package chunker splits document text into bounded segments for the
// extraction prompts. Chunking is deterministic and lossless: the
// concatenation of the returned chunks is byte-identical to the input.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize bounds a chunk to fit comfortably inside one
// extraction prompt alongside the catalog sample.
const DefaultChunkSize = 12000

// lookback bounds how far back from the size boundary we scan for a
// paragraph or line break before giving up and hard-cutting.
const lookback = 2000

// Split divides text into chunks of at most size bytes. Break points are
// chosen by scanning backward from the boundary for a paragraph break,
// then a line break, then hard-cutting at the boundary. The final chunk
// may be shorter; no chunk is empty.
func Split(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	rest := text
	for len(rest) > size {
		cut := breakPoint(rest, size)
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if len(rest) > 0 {
		chunks = append(chunks, rest)
	}
	return chunks
}

// breakPoint returns the cut index for the next chunk: just after the
// last paragraph break within the window, else just after the last line
// break, else exactly at the size boundary.
func breakPoint(s string, size int) int {
	window := s[:size]
	floor := size - lookback
	if floor < 0 {
		floor = 0
	}

	if idx := strings.LastIndex(window, "\n\n"); idx >= floor {
		return idx + 2
	}
	if idx := strings.LastIndex(window, "\n"); idx >= floor {
		return idx + 1
	}

	// Hard cut, nudged back so a multi-byte rune never splits across
	// chunks. Invalid UTF-8 cuts at the boundary as before.
	cut := size
	for cut > 0 && cut > size-utf8.UTFMax && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return size
	}
	return cut
}
