// Package extract converts uploaded BOQ documents into plain text. Plain
// text, CSV and XLSX decode in-process; PDFs go through a lightweight
// content-stream scan with a multimodal Claude fallback for image-based
// documents.
package extract

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/terrametric/carbon-cli/pkg/anthropic"
)

// DefaultMaxFileBytes is the upload size ceiling. Inputs above it are
// rejected before any decoding.
const DefaultMaxFileBytes = 20 * 1024 * 1024

// DefaultMinPDFTextChars is the threshold below which the stream-scan
// result is considered empty and the AI fallback kicks in.
const DefaultMinPDFTextChars = 100

// ErrInvalidInput marks rejections that happened before any processing:
// empty or oversized files, unsupported MIME types. Callers map these to
// client errors rather than server failures.
var ErrInvalidInput = eris.New("invalid input")

const documentPrompt = `Extract all text content from this document. ` +
	`Preserve the tabular structure of any bill-of-quantities line items: ` +
	`one line per item with description, quantity and unit. ` +
	`Return the text only, with no commentary.`

// Options configures an Extractor.
type Options struct {
	MaxFileBytes    int
	MinPDFTextChars int
	DocumentModel   string
	MaxOutputTokens int64
}

// Extractor converts file blobs into plain text.
type Extractor struct {
	ai   anthropic.Client
	opts Options
}

// New creates an Extractor. ai may be nil, in which case image-based PDFs
// fail instead of falling back.
func New(ai anthropic.Client, opts Options) *Extractor {
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	if opts.MinPDFTextChars <= 0 {
		opts.MinPDFTextChars = DefaultMinPDFTextChars
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = 8192
	}
	return &Extractor{ai: ai, opts: opts}
}

// Text converts a file blob with a declared MIME type into plain text.
// Unsupported MIME types and oversized inputs are rejected before any
// processing; AI-call failures surface to the caller without retry.
func (e *Extractor) Text(ctx context.Context, data []byte, mime, name string) (string, error) {
	if len(data) == 0 {
		return "", eris.Wrap(ErrInvalidInput, "extract: empty file")
	}
	if len(data) > e.opts.MaxFileBytes {
		return "", eris.Wrapf(ErrInvalidInput, "extract: file %q exceeds %d byte limit", name, e.opts.MaxFileBytes)
	}

	switch normalizeMIME(mime, name) {
	case "text/plain", "text/csv":
		return decodeText(data), nil
	case "application/pdf":
		return e.pdfText(ctx, data, name)
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return xlsxText(data)
	default:
		return "", eris.Wrapf(ErrInvalidInput, "extract: unsupported file type %q for %q", mime, name)
	}
}

// pdfText tries the lightweight content-stream scan first and falls back
// to a multimodal extraction call when the scan yields too little text
// (scanned/image-based PDFs).
func (e *Extractor) pdfText(ctx context.Context, data []byte, name string) (string, error) {
	text := scanPDFStreams(data)
	if len(strings.TrimSpace(text)) >= e.opts.MinPDFTextChars {
		return text, nil
	}

	if e.ai == nil {
		return "", eris.Errorf("extract: PDF %q has no extractable text and no AI fallback is configured", name)
	}

	zap.L().Info("extract: PDF stream scan insufficient, using document fallback",
		zap.String("file", name),
		zap.Int("scanned_chars", len(text)),
	)

	resp, err := e.ai.CreateDocumentMessage(ctx, anthropic.DocumentRequest{
		Model:     e.opts.DocumentModel,
		MaxTokens: e.opts.MaxOutputTokens,
		Prompt:    documentPrompt,
		PDF:       data,
	})
	if err != nil {
		return "", eris.Wrapf(err, "extract: document fallback for %q", name)
	}
	resp.Usage.LogUsage(e.opts.DocumentModel, "pdf_fallback")

	if strings.TrimSpace(resp.Text) == "" {
		return "", eris.Errorf("extract: document fallback returned no text for %q", name)
	}
	return resp.Text, nil
}

// normalizeMIME resolves generic upload MIME types via the filename
// extension so browser uploads of CSV/XLSX still route correctly.
func normalizeMIME(mime, name string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if mime != "" && mime != "application/octet-stream" {
		return mime
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return "text/plain"
	case ".csv":
		return "text/csv"
	case ".pdf":
		return "application/pdf"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return mime
}

// decodeText strips a UTF-8 BOM and normalizes line endings.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	return strings.ReplaceAll(string(data), "\r\n", "\n")
}

// xlsxText flattens every sheet into tab-separated lines.
func xlsxText(data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", eris.Wrap(err, "extract: open xlsx")
	}

	var b strings.Builder
	for _, sheet := range f.Sheets {
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			line := strings.TrimRight(strings.Join(cells, "\t"), "\t ")
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}
