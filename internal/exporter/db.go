package exporter

import (
	"context"

	"github.com/ongoingai/agenttrace/internal/trace"
)

// DB persists records through a trace.Writer. Export calls never block on
// storage; a full queue is reported as ErrQueueFull.
type DB struct {
	writer *trace.Writer
}

func NewDB(store trace.Store, queueSize int) *DB {
	return &DB{writer: trace.NewWriter(store, queueSize)}
}

func (d *DB) Writer() *trace.Writer { return d.writer }

func (d *DB) Start(ctx context.Context) { d.writer.Start(ctx) }

func (d *DB) Shutdown(ctx context.Context) error { return d.writer.Shutdown(ctx) }

func (d *DB) ExportTrace(_ context.Context, t *trace.Trace) error {
	return d.enqueue(trace.TraceStartRecord(t))
}

func (d *DB) FinishTrace(_ context.Context, t *trace.Trace) error {
	return d.enqueue(trace.TraceEndRecord(t))
}

func (d *DB) ExportSpan(_ context.Context, s *trace.Span) error {
	return d.enqueue(trace.SpanRecord(s))
}

func (d *DB) enqueue(record trace.Record) error {
	if !d.writer.Enqueue(record) {
		return ErrQueueFull
	}
	return nil
}
