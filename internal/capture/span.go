package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ongoingai/agenttrace/internal/normalize"
	"github.com/ongoingai/agenttrace/internal/trace"
	"github.com/ongoingai/agenttrace/internal/tracectx"
)

var errExportPanic = errors.New("exporter panicked")

// spanRun is one in-flight capture.
type spanRun struct {
	tracer *Tracer
	cfg    spanConfig
	ctx    context.Context

	span  *trace.Span
	state *spanState
	owned *trace.Trace
	otel  oteltrace.Span
}

func (t *Tracer) start(ctx context.Context, name string, cfg spanConfig) *spanRun {
	if ctx == nil {
		ctx = context.Background()
	}
	run := &spanRun{tracer: t, cfg: cfg}

	identity, ok := tracectx.CurrentTrace(ctx)
	if !ok {
		ctx, _ = tracectx.BeginTrace(ctx, name)
		identity, _ = tracectx.CurrentTrace(ctx)
		run.owned = &trace.Trace{
			ID:        identity.ID,
			Name:      identity.Name,
			StartedAt: t.now(),
			SessionID: t.SessionID(ctx),
		}
		t.export(ctx, "export_trace", func() error { return t.exporter.ExportTrace(ctx, run.owned) })
	}
	parentID, _ := tracectx.CurrentSpan(ctx)

	attrs := make(map[string]any, len(cfg.metadata)+3)
	maps.Copy(attrs, cfg.metadata)
	attrs[trace.AttrTraceID] = identity.ID
	attrs[trace.AttrTraceName] = identity.Name
	if session := t.SessionID(ctx); session != "" {
		attrs[trace.AttrSessionID] = session
	}

	run.span = &trace.Span{
		ID:        tracectx.NewID(),
		TraceID:   identity.ID,
		ParentID:  parentID,
		Name:      name,
		Kind:      cfg.kind,
		StartedAt: t.now(),
		Status:    trace.StatusUnset,
	}
	run.state = &spanState{attrs: attrs}

	ctx, run.otel = t.otel.Start(ctx, name,
		oteltrace.WithSpanKind(otelKind(cfg.kind)),
		oteltrace.WithAttributes(
			attribute.String("agenttrace.trace_id", identity.ID),
			attribute.String("agenttrace.span_id", run.span.ID),
		),
	)
	ctx = tracectx.WithSpan(ctx, run.span.ID)
	run.ctx = context.WithValue(ctx, spanStateKey{}, run.state)

	// Recorded before the body runs so the outermost span's input wins.
	input := cfg.input
	if input == nil {
		input = cfg.args
	}
	tracectx.RecordInputIfUnset(run.ctx, input)
	return run
}

func (r *spanRun) finish(result any, err error) {
	t := r.tracer
	end := t.now()
	span := r.span
	span.EndedAt = end
	span.Duration = end.Sub(span.StartedAt)

	attrs := r.state.snapshot()

	if err == nil {
		output := result
		if r.cfg.hasOutput {
			output = r.cfg.output
		}
		if !r.cfg.plain {
			if usage, ok := normalize.ExtractUsage(result); ok {
				maps.Copy(attrs, usage.Attributes())
			}
			usage := normalize.Usage{
				PromptTokens:     trace.AttributeInt64Ptr(attrs, trace.AttrPromptTokens),
				CompletionTokens: trace.AttributeInt64Ptr(attrs, trace.AttrCompletionTokens),
				TotalTokens:      trace.AttributeInt64Ptr(attrs, trace.AttrTotalTokens),
			}.Complete()
			maps.Copy(attrs, usage.Attributes())
			io := normalize.Normalize(r.cfg.input, r.cfg.output, r.cfg.args, result, attrs)
			attrs[trace.AttrNormalizedIO] = io.Encode()
		}
		tracectx.RecordOutput(r.ctx, output)
		span.Status = trace.StatusOK
		r.otel.SetStatus(codes.Ok, "")
	} else {
		if !r.cfg.plain {
			io := normalize.Normalize(r.cfg.input, nil, r.cfg.args, nil, attrs)
			attrs[trace.AttrNormalizedIO] = io.Encode()
		}
		span.Status = trace.StatusError
		span.StatusMessage = err.Error()
		r.otel.RecordError(err)
		r.otel.SetStatus(codes.Error, err.Error())
	}
	span.Attributes = attrs
	r.otel.End(oteltrace.WithTimestamp(end))

	t.export(r.ctx, "export_span", func() error { return t.exporter.ExportSpan(r.ctx, span) })
	if t.hooks.OnSpan != nil {
		t.hooks.OnSpan(r.ctx, span.Name, span.Status, span.Duration)
	}

	if r.owned == nil {
		return
	}
	pending := tracectx.Pending(r.ctx)
	finished := *r.owned
	finished.EndedAt = end
	finished.Metadata = chainMetadata(pending)
	t.export(r.ctx, "finish_trace", func() error { return t.exporter.FinishTrace(r.ctx, &finished) })
	tracectx.Clear(r.ctx)
}

// chainMetadata records the chain's outermost input and innermost output.
func chainMetadata(pending tracectx.PendingIO) string {
	if !pending.HasInput && !pending.HasOutput {
		return ""
	}
	metadata := make(map[string]string, 2)
	if pending.HasInput {
		metadata["input"] = normalize.Stringify(pending.Input)
	}
	if pending.HasOutput {
		metadata["output"] = normalize.Stringify(pending.Output)
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func (t *Tracer) export(ctx context.Context, operation string, fn func() error) {
	if t.exporter == nil {
		return
	}
	if err := callExport(fn); err != nil {
		t.logger.WarnContext(ctx, "trace export failed", "operation", operation, "error", err)
		if t.hooks.OnExportError != nil {
			t.hooks.OnExportError(ctx, operation, err)
		}
	}
}

// callExport turns a panicking exporter into an export error.
func callExport(fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", errExportPanic, recovered)
		}
	}()
	return fn()
}

func otelKind(kind trace.SpanKind) oteltrace.SpanKind {
	switch kind {
	case trace.SpanKindClient:
		return oteltrace.SpanKindClient
	case trace.SpanKindServer:
		return oteltrace.SpanKindServer
	case trace.SpanKindProducer:
		return oteltrace.SpanKindProducer
	case trace.SpanKindConsumer:
		return oteltrace.SpanKindConsumer
	default:
		return oteltrace.SpanKindInternal
	}
}
