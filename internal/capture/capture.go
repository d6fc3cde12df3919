// Package capture times units of work as spans, correlates them into traces
// through the context, normalizes their input and output, and hands finished
// spans to an exporter.
//
// Tracing is a side channel: errors returned by a captured body reach the
// caller unchanged, and export failures are only logged and counted.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ongoingai/agenttrace/internal/exporter"
	"github.com/ongoingai/agenttrace/internal/trace"
	"github.com/ongoingai/agenttrace/internal/tracectx"
)

const instrumentationName = "github.com/ongoingai/agenttrace/internal/capture"

// errAborted marks a body that exited through runtime.Goexit.
var errAborted = errors.New("span body aborted")

// Hooks receive capture events, typically to drive metrics.
type Hooks struct {
	OnSpan        func(ctx context.Context, name, status string, duration time.Duration)
	OnExportError func(ctx context.Context, operation string, err error)
}

type Tracer struct {
	exporter exporter.Exporter
	logger   *slog.Logger
	hooks    Hooks
	now      func() time.Time
	otel     oteltrace.Tracer

	sessionEnabled bool
	sessionID      string
}

type Option func(*Tracer)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithHooks(hooks Hooks) Option {
	return func(t *Tracer) { t.hooks = hooks }
}

// WithClock replaces time.Now for span timing.
func WithClock(now func() time.Time) Option {
	return func(t *Tracer) {
		if now != nil {
			t.now = now
		}
	}
}

// WithSession enables session correlation. An empty id is replaced by a
// generated one, fixed for the life of the tracer.
func WithSession(enabled bool, id string) Option {
	return func(t *Tracer) {
		t.sessionEnabled = enabled
		t.sessionID = id
	}
}

// WithOTelTracer mirrors every captured span into tracer. By default the
// global OpenTelemetry provider is used.
func WithOTelTracer(tracer oteltrace.Tracer) Option {
	return func(t *Tracer) {
		if tracer != nil {
			t.otel = tracer
		}
	}
}

func NewTracer(exp exporter.Exporter, opts ...Option) *Tracer {
	t := &Tracer{
		exporter: exp,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.otel == nil {
		t.otel = otel.Tracer(instrumentationName)
	}
	if t.sessionEnabled && t.sessionID == "" {
		t.sessionID = uuid.NewString()
	}
	return t
}

// SessionID returns the session attached to spans captured on ctx, or ""
// when session correlation is off.
func (t *Tracer) SessionID(ctx context.Context) string {
	if id, ok := tracectx.SessionID(ctx); ok {
		return id
	}
	if t.sessionEnabled {
		return t.sessionID
	}
	return ""
}

type spanConfig struct {
	metadata  map[string]any
	kind      trace.SpanKind
	input     any
	output    any
	args      any
	plain     bool
	hasOutput bool
}

type SpanOption func(*spanConfig)

// WithMetadata adds caller attributes to the span.
func WithMetadata(metadata map[string]any) SpanOption {
	return func(c *spanConfig) {
		if c.metadata == nil {
			c.metadata = make(map[string]any, len(metadata))
		}
		maps.Copy(c.metadata, metadata)
	}
}

// WithAgentName sets the display name used when the span is an agent.
func WithAgentName(name string) SpanOption {
	return WithMetadata(map[string]any{trace.AttrAgentName: name})
}

func WithKind(kind trace.SpanKind) SpanOption {
	return func(c *spanConfig) { c.kind = kind }
}

// WithInput declares the span input, taking precedence over WithArgs.
func WithInput(input any) SpanOption {
	return func(c *spanConfig) { c.input = input }
}

// WithOutput declares the span output, taking precedence over the body's
// return value.
func WithOutput(output any) SpanOption {
	return func(c *spanConfig) {
		c.output = output
		c.hasOutput = output != nil
	}
}

// WithArgs supplies the raw call arguments used as fallback input.
func WithArgs(args ...any) SpanOption {
	return func(c *spanConfig) {
		if len(args) == 1 {
			c.args = args[0]
			return
		}
		c.args = args
	}
}

// Capture runs body exactly once inside a new span. When ctx carries no
// trace, Capture begins one named after the span and finishes it on return.
// A panic in body is recorded as an error span and re-panicked.
func (t *Tracer) Capture(ctx context.Context, name string, body func(context.Context) (any, error), opts ...SpanOption) (any, error) {
	cfg := spanConfig{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}
	if body == nil {
		body = func(context.Context) (any, error) { return nil, nil }
	}

	run := t.start(ctx, name, cfg)
	finished := false
	defer func() {
		if finished {
			return
		}
		recovered := recover()
		if recovered == nil {
			run.finish(nil, errAborted)
			return
		}
		run.finish(nil, fmt.Errorf("panic: %v", recovered))
		panic(recovered)
	}()

	result, err := body(run.ctx)
	finished = true
	run.finish(result, err)
	return result, err
}

// Capture is the typed form of Tracer.Capture.
func Capture[T any](ctx context.Context, t *Tracer, name string, body func(context.Context) (T, error), opts ...SpanOption) (T, error) {
	var typed T
	_, err := t.Capture(ctx, name, func(ctx context.Context) (any, error) {
		value, err := body(ctx)
		typed = value
		return value, err
	}, opts...)
	return typed, err
}

// Trace runs body inside a span that records timing, identity and session
// but no normalized input/output.
func (t *Tracer) Trace(ctx context.Context, name string, body func(context.Context) error, opts ...SpanOption) error {
	opts = append(opts, func(c *spanConfig) { c.plain = true })
	_, err := t.Capture(ctx, name, func(ctx context.Context) (any, error) {
		if body == nil {
			return nil, nil
		}
		return nil, body(ctx)
	}, opts...)
	return err
}

// spanState is the mutable attribute set of the open span.
type spanState struct {
	mu    sync.Mutex
	attrs map[string]any
}

type spanStateKey struct{}

// SetAttributes merges attrs into the innermost open span. It reports false
// when ctx has no open span.
func SetAttributes(ctx context.Context, attrs map[string]any) bool {
	if ctx == nil {
		return false
	}
	state, _ := ctx.Value(spanStateKey{}).(*spanState)
	if state == nil {
		return false
	}
	state.mu.Lock()
	maps.Copy(state.attrs, attrs)
	state.mu.Unlock()
	return true
}

func (s *spanState) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return trace.CloneAttributes(s.attrs)
}
