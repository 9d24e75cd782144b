package events

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events to the structured log.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a sink over the given logger; nil uses the global.
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.L()
	}
	return &LogSink{log: log}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, ev Event) error {
	s.log.Info("event",
		zap.String("type", string(ev.Type)),
		zap.String("userId", ev.UserID),
		zap.String("projectId", ev.ProjectID),
		zap.Any("details", ev.Details),
		zap.Time("at", ev.Timestamp))
	return nil
}

// Recorder persists events. The store package implements this against
// the import_events table.
type Recorder interface {
	RecordImportEvent(ctx context.Context, ev Event) error
}

// StoreSink persists events through a Recorder.
type StoreSink struct {
	rec Recorder
}

// NewStoreSink creates a sink that writes to the given Recorder.
func NewStoreSink(rec Recorder) *StoreSink {
	return &StoreSink{rec: rec}
}

// Record implements Sink.
func (s *StoreSink) Record(ctx context.Context, ev Event) error {
	return s.rec.RecordImportEvent(ctx, ev)
}
