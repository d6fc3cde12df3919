package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ongoingai/agenttrace/internal/trace"
)

type consoleEvent struct {
	Event string       `json:"event"`
	Trace *trace.Trace `json:"trace,omitempty"`
	Span  *trace.Span  `json:"span,omitempty"`
}

// Console writes one JSON object per event to a stream.
type Console struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func NewConsole(out io.Writer) *Console {
	encoder := json.NewEncoder(out)
	encoder.SetEscapeHTML(false)
	return &Console{encoder: encoder}
}

func (c *Console) ExportTrace(_ context.Context, t *trace.Trace) error {
	return c.write(consoleEvent{Event: "trace_start", Trace: t})
}

func (c *Console) FinishTrace(_ context.Context, t *trace.Trace) error {
	return c.write(consoleEvent{Event: "trace_end", Trace: t})
}

func (c *Console) ExportSpan(_ context.Context, s *trace.Span) error {
	return c.write(consoleEvent{Event: "span", Span: s})
}

func (c *Console) write(event consoleEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.encoder.Encode(event); err != nil {
		return fmt.Errorf("write console %s event: %w", event.Event, err)
	}
	return nil
}
