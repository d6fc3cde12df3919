package exporter

import (
	"context"

	"github.com/ongoingai/agenttrace/internal/trace"
)

// Memory keeps every exported record in process memory. It also serves the
// trace.Reader surface, so captured chains can be reconstructed without a
// database. Spans and Traces list records in export order.
type Memory struct {
	*trace.MemoryStore
}

func NewMemory() *Memory {
	return &Memory{MemoryStore: trace.NewMemoryStore()}
}

func (m *Memory) ExportTrace(ctx context.Context, t *trace.Trace) error {
	return m.InsertTrace(ctx, t)
}

func (m *Memory) ExportSpan(ctx context.Context, s *trace.Span) error {
	return m.InsertSpan(ctx, s)
}
