package trace

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("trace store record not found")
var ErrInvalidCursor = errors.New("trace cursor is invalid")

// Reader is the read surface consumed by reconstruction and the API.
// Lookups of unknown spans or traces return empty results, except GetTrace
// which reports ErrNotFound.
type Reader interface {
	GetTrace(ctx context.Context, id string) (*Trace, error)
	ListTraces(ctx context.Context, filter TraceFilter) (*TraceResult, error)
	GetSpans(ctx context.Context, traceID string) ([]*Span, error)
	GetSpanDetails(ctx context.Context, spanID string) (*SpanDetails, error)
	GetTraceDetails(ctx context.Context, traceID string) (map[string]*SpanDetails, error)
}

type Store interface {
	Reader
	// InsertTrace is idempotent by trace id.
	InsertTrace(ctx context.Context, t *Trace) error
	FinishTrace(ctx context.Context, t *Trace) error
	// InsertSpan commits the span row and its derived prompt, completion and
	// tool rows as one unit.
	InsertSpan(ctx context.Context, s *Span) error
	// Apply commits records in order within one transaction.
	Apply(ctx context.Context, records []Record) error
	Close() error
}

type TraceFilter struct {
	SessionID string
	Limit     int
	Cursor    string
}

type TraceResult struct {
	Items      []*Trace
	NextCursor string
}

type RecordKind int

const (
	RecordTraceStart RecordKind = iota + 1
	RecordTraceEnd
	RecordSpan
)

func (k RecordKind) String() string {
	switch k {
	case RecordTraceStart:
		return "insert_trace"
	case RecordTraceEnd:
		return "finish_trace"
	case RecordSpan:
		return "insert_span"
	default:
		return "unknown"
	}
}

// Record is one queued write. Exactly one of Trace or Span is set, matching Kind.
type Record struct {
	Kind  RecordKind
	Trace *Trace
	Span  *Span
}

func TraceStartRecord(t *Trace) Record { return Record{Kind: RecordTraceStart, Trace: t} }
func TraceEndRecord(t *Trace) Record   { return Record{Kind: RecordTraceEnd, Trace: t} }
func SpanRecord(s *Span) Record        { return Record{Kind: RecordSpan, Span: s} }

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
