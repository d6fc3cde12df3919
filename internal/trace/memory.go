package trace

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps traces and spans in process memory. It backs the memory
// exporter and tests, with the same semantics as the SQL stores except for
// foreign keys.
type MemoryStore struct {
	mu      sync.RWMutex
	traces  map[string]*Trace
	spans   map[string]*Span
	order   []string
	started []string
	details map[string]*SpanDetails
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		traces:  make(map[string]*Trace),
		spans:   make(map[string]*Span),
		details: make(map[string]*SpanDetails),
	}
}

func (m *MemoryStore) InsertTrace(ctx context.Context, t *Trace) error {
	return m.Apply(ctx, []Record{TraceStartRecord(t)})
}

func (m *MemoryStore) FinishTrace(ctx context.Context, t *Trace) error {
	return m.Apply(ctx, []Record{TraceEndRecord(t)})
}

func (m *MemoryStore) InsertSpan(ctx context.Context, s *Span) error {
	return m.Apply(ctx, []Record{SpanRecord(s)})
}

func (m *MemoryStore) Apply(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range records {
		switch record.Kind {
		case RecordTraceStart:
			if record.Trace == nil {
				continue
			}
			if _, exists := m.traces[record.Trace.ID]; exists {
				continue
			}
			stored := *record.Trace
			m.traces[stored.ID] = &stored
			m.started = append(m.started, stored.ID)
		case RecordTraceEnd:
			if record.Trace == nil {
				continue
			}
			if stored, ok := m.traces[record.Trace.ID]; ok {
				stored.EndedAt = record.Trace.EndedAt
				if strings.TrimSpace(record.Trace.Metadata) != "" {
					stored.Metadata = record.Trace.Metadata
				}
			}
		case RecordSpan:
			if record.Span == nil {
				continue
			}
			if _, exists := m.spans[record.Span.ID]; exists {
				continue
			}
			stored := *record.Span
			stored.Attributes = CloneAttributes(record.Span.Attributes)
			m.spans[stored.ID] = &stored
			m.order = append(m.order, stored.ID)
			m.details[stored.ID] = DeriveRecords(&stored)
		}
	}
	return nil
}

func (m *MemoryStore) GetTrace(_ context.Context, id string) (*Trace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.traces[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *stored
	return &out, nil
}

func (m *MemoryStore) ListTraces(_ context.Context, filter TraceFilter) (*TraceResult, error) {
	limit := clampLimit(filter.Limit)
	var (
		cursorStarted int64
		cursorID      string
		hasCursor     bool
	)
	if cursor := strings.TrimSpace(filter.Cursor); cursor != "" {
		startedAt, id, err := decodeTraceCursor(cursor)
		if err != nil {
			return nil, err
		}
		cursorStarted, cursorID, hasCursor = startedAt, id, true
	}

	m.mu.RLock()
	items := make([]*Trace, 0, len(m.traces))
	for _, stored := range m.traces {
		if filter.SessionID != "" && stored.SessionID != filter.SessionID {
			continue
		}
		started := unixNano(stored.StartedAt)
		if hasCursor && !(started < cursorStarted || (started == cursorStarted && stored.ID < cursorID)) {
			continue
		}
		out := *stored
		items = append(items, &out)
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		a, b := unixNano(items[i].StartedAt), unixNano(items[j].StartedAt)
		if a != b {
			return a > b
		}
		return items[i].ID > items[j].ID
	})
	return paginate(items, limit), nil
}

func (m *MemoryStore) GetSpans(_ context.Context, traceID string) ([]*Span, error) {
	m.mu.RLock()
	spans := []*Span{}
	for _, id := range m.order {
		stored := m.spans[id]
		if stored.TraceID != traceID {
			continue
		}
		out := *stored
		out.Attributes = CloneAttributes(stored.Attributes)
		spans = append(spans, &out)
	}
	m.mu.RUnlock()

	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].StartedAt.Before(spans[j].StartedAt)
	})
	return spans, nil
}

func (m *MemoryStore) GetSpanDetails(_ context.Context, spanID string) (*SpanDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if details, ok := m.details[spanID]; ok {
		return copyDetails(details), nil
	}
	return NewSpanDetails(), nil
}

func (m *MemoryStore) GetTraceDetails(_ context.Context, traceID string) (map[string]*SpanDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*SpanDetails)
	for id, stored := range m.spans {
		if stored.TraceID != traceID {
			continue
		}
		out[id] = copyDetails(m.details[id])
	}
	return out, nil
}

// Spans returns every stored span in insertion order.
func (m *MemoryStore) Spans() []*Span {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Span, 0, len(m.order))
	for _, id := range m.order {
		stored := *m.spans[id]
		stored.Attributes = CloneAttributes(stored.Attributes)
		out = append(out, &stored)
	}
	return out
}

// Traces returns every stored trace in insertion order.
func (m *MemoryStore) Traces() []*Trace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Trace, 0, len(m.started))
	for _, id := range m.started {
		stored := *m.traces[id]
		out = append(out, &stored)
	}
	return out
}

func (m *MemoryStore) Close() error { return nil }

func copyDetails(in *SpanDetails) *SpanDetails {
	out := NewSpanDetails()
	if in == nil {
		return out
	}
	out.Prompts = append(out.Prompts, in.Prompts...)
	out.Completions = append(out.Completions, in.Completions...)
	out.Tools = append(out.Tools, in.Tools...)
	return out
}
