package observability

import (
	"context"
	"log/slog"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ongoingai/agenttrace/internal/correlation"
	"github.com/ongoingai/agenttrace/internal/tracectx"
)

// traceLogHandler enriches log records with the identifiers found on the
// context: the OpenTelemetry span, the active agenttrace chain and span, and
// the read-API request id.
type traceLogHandler struct {
	inner slog.Handler
}

// NewTraceLogHandler wraps inner. If inner is nil, slog.Default().Handler()
// is used.
func NewTraceLogHandler(inner slog.Handler) slog.Handler {
	if inner == nil {
		inner = slog.Default().Handler()
	}
	return &traceLogHandler{inner: inner}
}

func (h *traceLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *traceLogHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx == nil {
		return h.inner.Handle(ctx, record)
	}
	span := oteltrace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.IsValid() && span.IsRecording() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if identity, ok := tracectx.CurrentTrace(ctx); ok {
		record.AddAttrs(slog.String("agent_trace_id", identity.ID))
	}
	if spanID, ok := tracectx.CurrentSpan(ctx); ok {
		record.AddAttrs(slog.String("agent_span_id", spanID))
	}
	if requestID, ok := correlation.FromContext(ctx); ok {
		record.AddAttrs(slog.String("request_id", requestID))
	}
	return h.inner.Handle(ctx, record)
}

func (h *traceLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceLogHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *traceLogHandler) WithGroup(name string) slog.Handler {
	return &traceLogHandler{inner: h.inner.WithGroup(name)}
}
