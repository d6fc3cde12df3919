// Package exporter delivers captured traces and spans to a destination: the
// trace store through the async writer, JSON lines on a stream, or process
// memory.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ongoingai/agenttrace/internal/trace"
)

// ErrQueueFull reports a record dropped because the write queue was full or
// already shut down.
var ErrQueueFull = errors.New("exporter queue is full")

// Exporter receives the lifecycle of traces and every finished span.
// Implementations must be safe for concurrent use.
type Exporter interface {
	ExportTrace(ctx context.Context, t *trace.Trace) error
	FinishTrace(ctx context.Context, t *trace.Trace) error
	ExportSpan(ctx context.Context, s *trace.Span) error
}

type Mode string

const (
	ModeDB      Mode = "db"
	ModeConsole Mode = "console"
	ModeMemory  Mode = "memory"
	// ModeDev is accepted as an alias for ModeDB.
	ModeDev Mode = "dev"
)

// ParseMode normalizes a configured exporter name.
func ParseMode(raw string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "", ModeDB, ModeDev:
		return ModeDB, nil
	case ModeConsole, ModeMemory:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported exporter %q (want db, dev, console or memory)", raw)
	}
}

type Options struct {
	// Store is required for ModeDB.
	Store     trace.Store
	QueueSize int
	// Metrics are attached to the db writer.
	Metrics *trace.WriterMetrics
	// OnWriteFailure receives asynchronous persistence failures.
	OnWriteFailure trace.WriteFailureHandler
	// Out receives console output. It defaults to stdout.
	Out io.Writer
}

// New builds the exporter for mode. A db exporter is started and must be
// shut down with Shutdown.
func New(ctx context.Context, mode Mode, opts Options) (Exporter, error) {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	switch mode {
	case ModeConsole:
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		return NewConsole(out), nil
	case ModeMemory:
		return NewMemory(), nil
	default:
		if opts.Store == nil {
			return nil, errors.New("db exporter requires a trace store")
		}
		db := NewDB(opts.Store, opts.QueueSize)
		db.Writer().SetMetrics(opts.Metrics)
		db.Writer().SetWriteFailureHandler(opts.OnWriteFailure)
		db.Start(ctx)
		return db, nil
	}
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Shutdown flushes exporters that buffer records. Others are a no-op.
func Shutdown(ctx context.Context, exp Exporter) error {
	if s, ok := exp.(shutdowner); ok {
		return s.Shutdown(ctx)
	}
	return nil
}
