// Package pipeline orchestrates a document import: extract text, chunk
// it, run one AI extraction call per chunk, then reconcile everything
// against the catalog. Chunks run strictly sequentially so that a
// rate-limit or quota error on chunk k halts k+1..n instead of burning
// calls; whatever was already reconciled is returned alongside the
// error.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/terrametric/carbon-cli/internal/boq"
	"github.com/terrametric/carbon-cli/internal/catalog"
	"github.com/terrametric/carbon-cli/internal/chunker"
	"github.com/terrametric/carbon-cli/internal/events"
	"github.com/terrametric/carbon-cli/internal/extract"
	"github.com/terrametric/carbon-cli/internal/model"
	"github.com/terrametric/carbon-cli/internal/reconcile"
	"github.com/terrametric/carbon-cli/internal/resilience"
	"github.com/terrametric/carbon-cli/pkg/anthropic"
)

// Options configures one pipeline instance.
type Options struct {
	ChunkSize         int
	SamplePerCategory int
	ChunkDelay        time.Duration
}

// Result is the outcome of an import. On a chunk-level failure the
// materials gathered so far are still populated and Halted is set.
type Result struct {
	Materials   []model.ValidatedLineItem `json:"materials"`
	Warnings    []string                  `json:"warnings,omitempty"`
	ChunksTotal int                       `json:"chunksTotal"`
	ChunksDone  int                       `json:"chunksDone"`
	Halted      bool                      `json:"halted,omitempty"`
}

// Pipeline wires the import stages together.
type Pipeline struct {
	docs  *extract.Extractor
	boq   *boq.Extractor
	cat   *catalog.Catalog
	rec   *reconcile.Reconciler
	queue *events.Queue
	pace  *rate.Limiter
	opts  Options
}

// New creates a Pipeline over an already-loaded catalog snapshot.
func New(docs *extract.Extractor, boqx *boq.Extractor, cat *catalog.Catalog, queue *events.Queue, opts Options) *Pipeline {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultChunkSize
	}
	if opts.SamplePerCategory <= 0 {
		opts.SamplePerCategory = 8
	}

	// Courtesy pacing between chunk calls. Best effort only: it lowers
	// the chance of tripping upstream limits, it does not guarantee it.
	pace := rate.NewLimiter(rate.Inf, 1)
	if opts.ChunkDelay > 0 {
		pace = rate.NewLimiter(rate.Every(opts.ChunkDelay), 1)
	}

	return &Pipeline{
		docs:  docs,
		boq:   boqx,
		cat:   cat,
		rec:   reconcile.New(cat),
		queue: queue,
		pace:  pace,
		opts:  opts,
	}
}

// ImportDocument extracts text from an uploaded file and runs ImportText.
func (p *Pipeline) ImportDocument(ctx context.Context, data []byte, mime, name, userID string) (*Result, error) {
	text, err := p.docs.Text(ctx, data, mime, name)
	if err != nil {
		return nil, err
	}
	return p.ImportText(ctx, text, userID)
}

// ImportText runs the chunk/extract/reconcile stages over raw text.
//
// Returns partial results together with the error when a chunk fails:
// the caller decides whether to surface them.
func (p *Pipeline) ImportText(ctx context.Context, text, userID string) (*Result, error) {
	chunks := chunker.Split(text, p.opts.ChunkSize)
	sample := p.cat.Sample(p.opts.SamplePerCategory)

	res := &Result{ChunksTotal: len(chunks)}

	p.publish(events.Event{Type: events.EventImportStarted, UserID: userID, Details: map[string]any{
		"chunks": len(chunks),
		"bytes":  len(text),
	}})

	for i, chunk := range chunks {
		if i > 0 {
			if err := p.pace.Wait(ctx); err != nil {
				res.Halted = true
				return res, err
			}
		}

		items, usage, err := p.boq.ExtractChunk(ctx, chunk, sample)
		if usage != (anthropic.TokenUsage{}) {
			p.publish(events.Event{Type: events.EventTokenUsage, UserID: userID, Details: map[string]any{
				"chunk":        i,
				"inputTokens":  usage.InputTokens,
				"outputTokens": usage.OutputTokens,
			}})
		}
		if err != nil {
			res.Halted = true
			p.publish(events.Event{Type: events.EventImportHalted, UserID: userID, Details: map[string]any{
				"chunk":  i,
				"reason": haltReason(err),
			}})
			zap.L().Warn("import halted",
				zap.Int("chunk", i),
				zap.Int("chunksTotal", len(chunks)),
				zap.Error(err))
			return res, err
		}

		validated := p.rec.Reconcile(items)
		res.Materials = append(res.Materials, validated...)
		res.ChunksDone++

		p.publish(events.Event{Type: events.EventChunkProcessed, UserID: userID, Details: map[string]any{
			"chunk": i,
			"items": len(validated),
		}})
	}

	if n := reviewCount(res.Materials); n > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d material(s) need review before they contribute to totals", n))
	}

	p.publish(events.Event{Type: events.EventImportCompleted, UserID: userID, Details: map[string]any{
		"chunks": res.ChunksDone,
		"items":  len(res.Materials),
	}})
	return res, nil
}

func (p *Pipeline) publish(ev events.Event) {
	if p.queue != nil {
		p.queue.Publish(ev)
	}
}

func haltReason(err error) string {
	switch {
	case resilience.IsRateLimit(err):
		return "rate_limited"
	case resilience.IsQuota(err):
		return "quota_exhausted"
	default:
		return "chunk_failed"
	}
}

func reviewCount(items []model.ValidatedLineItem) int {
	n := 0
	for _, it := range items {
		if it.RequiresReview {
			n++
		}
	}
	return n
}
