package extract

import (
	"regexp"
	"strings"
)

// Lightweight PDF text recovery: scan content streams for the Tj/TJ
// show-text operators and collect their string operands. Works for PDFs
// with uncompressed text streams, which covers most BOQ exports from
// estimating software; anything compressed or image-based falls through
// to the document fallback.
var (
	showTextPattern  = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)\s*Tj`)
	showArrayPattern = regexp.MustCompile(`\[((?:\((?:\\.|[^\\()])*\)|[^\[\]])*)\]\s*TJ`)
	arrayStrings     = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)
	textLinePattern  = regexp.MustCompile(`T\*|Td|TD`)
)

func scanPDFStreams(data []byte) string {
	src := string(data)
	var b strings.Builder

	// Split on stream boundaries so operator matches stay roughly in
	// document order.
	for _, segment := range strings.Split(src, "endstream") {
		var parts []string
		for _, m := range showTextPattern.FindAllStringSubmatch(segment, -1) {
			parts = append(parts, unescapePDFString(m[1]))
		}
		for _, m := range showArrayPattern.FindAllStringSubmatch(segment, -1) {
			var run strings.Builder
			for _, s := range arrayStrings.FindAllStringSubmatch(m[1], -1) {
				run.WriteString(unescapePDFString(s[1]))
			}
			if run.Len() > 0 {
				parts = append(parts, run.String())
			}
		}
		if len(parts) == 0 {
			continue
		}

		sep := " "
		if textLinePattern.MatchString(segment) {
			sep = "\n"
		}
		b.WriteString(strings.Join(parts, sep))
		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String())
}

// unescapePDFString handles the escape sequences that show up in literal
// PDF strings: \( \) \\ and the line-control escapes.
func unescapePDFString(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			// Discard.
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
