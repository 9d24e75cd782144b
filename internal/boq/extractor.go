// Package boq turns chunks of bill-of-quantities text into candidate
// material line items via a single Claude call per chunk. Responses are
// sanitized (markdown fences, stray undefined tokens) before parsing;
// anything that still is not a JSON array is a hard failure for that
// chunk, never silently coerced to an empty result.
package boq

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/terrametric/carbon-cli/internal/model"
	"github.com/terrametric/carbon-cli/pkg/anthropic"
)

// Options configures the chunk extractor.
type Options struct {
	Model     string
	MaxTokens int64
}

// Extractor sends one extraction request per chunk.
type Extractor struct {
	ai   anthropic.Client
	opts Options
}

// NewExtractor creates an Extractor over an Anthropic client.
func NewExtractor(ai anthropic.Client, opts Options) *Extractor {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &Extractor{ai: ai, opts: opts}
}

// ExtractChunk sends one chunk with the catalog sample and parses the
// returned line items. Retries are deliberately absent: rate-limit and
// quota errors pass through typed so the pipeline can halt remaining
// chunks. Token usage is returned even when parsing fails, since the
// call was still billed.
func (e *Extractor) ExtractChunk(ctx context.Context, chunk string, sample []model.ReferenceMaterial) ([]model.CandidateLineItem, anthropic.TokenUsage, error) {
	temp := 0.0
	resp, err := e.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.opts.Model,
		MaxTokens:   e.opts.MaxTokens,
		System:      systemPrompt(sample),
		User:        chunk,
		Temperature: &temp,
	})
	if err != nil {
		return nil, anthropic.TokenUsage{}, err
	}
	resp.Usage.LogUsage(e.opts.Model, "boq_extract")

	items, err := parseLineItems(resp.Text)
	if err != nil {
		return nil, resp.Usage, err
	}
	return items, resp.Usage, nil
}

var undefinedToken = regexp.MustCompile(`([:\[,])(\s*)undefined(\s*[,}\]])`)

// sanitizeJSON strips markdown code fences, isolates the array body and
// replaces bare JavaScript undefined tokens with null. String contents
// are untouched: the token is only rewritten in value position.
func sanitizeJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	// Iterate because adjacent tokens share their delimiter, which a
	// single pass would consume.
	for {
		next := undefinedToken.ReplaceAllString(text, "${1}${2}null${3}")
		if next == text {
			break
		}
		text = next
	}

	return strings.TrimSpace(text)
}

// parseLineItems parses the sanitized response into candidates. The
// response must be a JSON array; items without a name or with a
// non-positive quantity are dropped with a warning.
func parseLineItems(text string) ([]model.CandidateLineItem, error) {
	cleaned := sanitizeJSON(text)
	if cleaned == "" {
		return nil, eris.New("boq: empty extraction response")
	}

	var raw []map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(err, "boq: response is not a JSON array")
	}

	items := make([]model.CandidateLineItem, 0, len(raw))
	for _, entry := range raw {
		name, _ := entry["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			zap.L().Warn("boq: dropping line item without a name")
			continue
		}

		qty, ok := toFloat64(entry["quantity"])
		if !ok || qty <= 0 {
			zap.L().Warn("boq: dropping line item with invalid quantity",
				zap.String("name", name),
			)
			continue
		}

		item := model.CandidateLineItem{
			Name:     name,
			Quantity: qty,
		}
		if cat, ok := entry["category"].(string); ok {
			item.Category = strings.TrimSpace(cat)
		}
		if unit, ok := entry["unit"].(string); ok {
			item.Unit = strings.TrimSpace(unit)
		}
		if id, ok := entry["typeId"].(string); ok {
			item.TypeID = strings.TrimSpace(id)
		}
		if f, ok := toFloat64(entry["factor"]); ok {
			item.AIFactor = &f
		} else if f, ok := toFloat64(entry["emissionFactor"]); ok {
			item.AIFactor = &f
		}

		items = append(items, item)
	}
	return items, nil
}

// toFloat64 coerces the JSON number shapes the model actually returns:
// numbers, numeric strings, and strings with thousands separators.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
