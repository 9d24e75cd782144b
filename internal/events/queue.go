// Package events carries usage and audit events off the request path.
// Publishing never blocks a caller: events flow through a bounded queue
// into a single worker that fans out to the configured sinks, and a full
// queue drops with a counter rather than stalling an import.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventImportStarted   EventType = "import_started"
	EventImportCompleted EventType = "import_completed"
	EventImportHalted    EventType = "import_halted"
	EventChunkProcessed  EventType = "chunk_processed"
	EventTokenUsage      EventType = "token_usage"
	EventRecordCreated   EventType = "record_created"
)

// Event is a single usage/audit entry.
type Event struct {
	Type      EventType      `json:"type"`
	UserID    string         `json:"userId,omitempty"`
	ProjectID string         `json:"projectId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives events from the queue worker. Sink errors are logged and
// never propagate to publishers.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Queue is a bounded asynchronous event queue.
type Queue struct {
	ch      chan Event
	sinks   []Sink
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	finished  chan struct{}
}

// NewQueue starts a queue with the given buffer size and sinks.
func NewQueue(size int, sinks ...Sink) *Queue {
	if size <= 0 {
		size = 256
	}
	q := &Queue{
		ch:       make(chan Event, size),
		sinks:    sinks,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go q.run()
	return q
}

// Publish enqueues an event without blocking. Events published after
// Close, or while the buffer is full, are counted and dropped.
func (q *Queue) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case <-q.done:
		q.dropped.Add(1)
		return
	default:
	}
	select {
	case q.ch <- ev:
	default:
		q.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded due to backpressure.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops accepting events and drains the buffer before returning.
// Backpressure drops accumulated over the queue's lifetime are logged
// once here.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
	<-q.finished
	if n := q.Dropped(); n > 0 {
		zap.L().Warn("event queue dropped events", zap.Int64("dropped", n))
	}
}

func (q *Queue) run() {
	defer close(q.finished)
	for {
		select {
		case ev := <-q.ch:
			q.deliver(ev)
		case <-q.done:
			for {
				select {
				case ev := <-q.ch:
					q.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) deliver(ev Event) {
	ctx := context.Background()
	for _, s := range q.sinks {
		if err := s.Record(ctx, ev); err != nil {
			zap.L().Warn("event sink failed",
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}
}
