package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrametric/carbon-cli/internal/boq"
	"github.com/terrametric/carbon-cli/internal/catalog"
	"github.com/terrametric/carbon-cli/internal/events"
	"github.com/terrametric/carbon-cli/internal/model"
	"github.com/terrametric/carbon-cli/internal/resilience"
	"github.com/terrametric/carbon-cli/pkg/anthropic"
)

const concreteID = "6f1f8a1e-9a1e-4f6e-8d3a-111111111111"

// scriptedAI returns one canned response (or error) per call, in order.
type scriptedAI struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedAI) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	text := "[]"
	if i < len(s.responses) {
		text = s.responses[i]
	}
	return &anthropic.MessageResponse{Text: text}, nil
}

func (s *scriptedAI) CreateDocumentMessage(_ context.Context, _ anthropic.DocumentRequest) (*anthropic.MessageResponse, error) {
	return &anthropic.MessageResponse{Text: ""}, nil
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]model.ReferenceMaterial{
		{ID: concreteID, Name: "Concrete 32MPa", Category: "concrete", Unit: "m3", Factor: 300, Source: "NGA 2024"},
	})
}

func newPipeline(ai anthropic.Client, queue *events.Queue, opts Options) *Pipeline {
	boqx := boq.NewExtractor(ai, boq.Options{Model: "claude-sonnet-4-5"})
	return New(nil, boqx, testCatalog(), queue, opts)
}

func TestImportTextSingleChunk(t *testing.T) {
	t.Parallel()

	ai := &scriptedAI{responses: []string{
		`[{"name":"Concrete slab","category":"concrete","unit":"m3","quantity":10}]`,
	}}
	p := newPipeline(ai, nil, Options{})

	res, err := p.ImportText(context.Background(), "Concrete slab 10 m3", "u1")
	require.NoError(t, err)
	require.Len(t, res.Materials, 1)

	m := res.Materials[0]
	require.NotNil(t, m.Factor)
	assert.Equal(t, 300.0, *m.Factor)
	assert.Equal(t, model.MatchProxy, m.MatchType)
	assert.Equal(t, 1, res.ChunksDone)
	assert.False(t, res.Halted)
}

func TestImportTextMultipleChunksSequential(t *testing.T) {
	t.Parallel()

	ai := &scriptedAI{responses: []string{
		`[{"name":"Concrete slab","category":"concrete","unit":"m3","quantity":10}]`,
		`[{"name":"Concrete footing","category":"concrete","unit":"m3","quantity":4}]`,
	}}
	p := newPipeline(ai, nil, Options{ChunkSize: 64})

	// Two paragraphs comfortably over one chunk.
	text := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 40)
	res, err := p.ImportText(context.Background(), text, "u1")
	require.NoError(t, err)

	assert.Equal(t, 2, res.ChunksTotal)
	assert.Equal(t, 2, res.ChunksDone)
	assert.Len(t, res.Materials, 2)
	assert.Equal(t, 2, ai.calls)
}

func TestRateLimitHaltsRemainingChunks(t *testing.T) {
	t.Parallel()

	rlErr := &resilience.RateLimitError{Err: assert.AnError, RetryAfter: 30 * time.Second}
	ai := &scriptedAI{
		responses: []string{
			`[{"name":"Concrete slab","category":"concrete","unit":"m3","quantity":10}]`,
		},
		errs: []error{nil, rlErr},
	}
	p := newPipeline(ai, nil, Options{ChunkSize: 64})

	text := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 40) + "\n\n" + strings.Repeat("c", 40)
	res, err := p.ImportText(context.Background(), text, "u1")

	require.Error(t, err)
	assert.True(t, resilience.IsRateLimit(err))
	assert.True(t, res.Halted)
	assert.Equal(t, 3, res.ChunksTotal)
	assert.Equal(t, 1, res.ChunksDone)
	assert.Len(t, res.Materials, 1, "first chunk's items preserved")
	assert.Equal(t, 2, ai.calls, "chunk 3 never attempted")
}

func TestTransientChunkErrorHaltsWithoutRetry(t *testing.T) {
	t.Parallel()

	ai := &scriptedAI{
		errs: []error{resilience.NewTransientError(assert.AnError, 503)},
	}
	p := newPipeline(ai, nil, Options{})

	res, err := p.ImportText(context.Background(), "Concrete slab 10 m3", "u1")
	require.Error(t, err)
	assert.Equal(t, 1, ai.calls, "no automatic retry at this layer")
	assert.True(t, res.Halted)
}

func TestParseErrorPreservesEarlierChunks(t *testing.T) {
	t.Parallel()

	ai := &scriptedAI{responses: []string{
		`[{"name":"Concrete slab","category":"concrete","unit":"m3","quantity":10}]`,
		`this is not json`,
	}}
	p := newPipeline(ai, nil, Options{ChunkSize: 64})

	text := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 40)
	res, err := p.ImportText(context.Background(), text, "u1")

	require.Error(t, err)
	assert.False(t, resilience.IsRateLimit(err))
	assert.True(t, res.Halted)
	assert.Len(t, res.Materials, 1)
}

func TestUnmatchedItemsWarnNotFail(t *testing.T) {
	t.Parallel()

	ai := &scriptedAI{responses: []string{
		`[{"name":"Bamboo flooring","category":"bamboo","unit":"m2","quantity":50,"factor":123}]`,
	}}
	p := newPipeline(ai, nil, Options{})

	res, err := p.ImportText(context.Background(), "Bamboo flooring 50 m2", "u1")
	require.NoError(t, err)
	require.Len(t, res.Materials, 1)
	assert.Nil(t, res.Materials[0].Factor)
	assert.True(t, res.Materials[0].RequiresReview)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "review")
}

func TestImportIdempotence(t *testing.T) {
	t.Parallel()

	response := `[{"name":"Concrete slab","category":"concrete","unit":"m3","quantity":10},` +
		`{"name":"Misc","category":"widgets","unit":"ea","quantity":2}]`

	run := func() *Result {
		ai := &scriptedAI{responses: []string{response}}
		p := newPipeline(ai, nil, Options{})
		res, err := p.ImportText(context.Background(), "same document", "u1")
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, run().Materials, run().Materials, "same input, same catalog, same output")
}

func TestPipelinePublishesEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	queue := events.NewQueue(32, sink)

	ai := &scriptedAI{responses: []string{
		`[{"name":"Concrete slab","category":"concrete","unit":"m3","quantity":10}]`,
	}}
	p := newPipeline(ai, queue, Options{})

	_, err := p.ImportText(context.Background(), "Concrete slab 10 m3", "u1")
	require.NoError(t, err)
	queue.Close()

	types := make([]events.EventType, 0, len(sink.all()))
	for _, ev := range sink.all() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []events.EventType{
		events.EventImportStarted,
		events.EventChunkProcessed,
		events.EventImportCompleted,
	}, types)
}

type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Record(_ context.Context, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) all() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.events...)
}
