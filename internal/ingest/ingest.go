// Package ingest replays recorded provider calls through the capture tracer
// so that traffic recorded outside an instrumented process lands in the
// trace store as ordinary agent traces.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ongoingai/agenttrace/internal/capture"
	"github.com/ongoingai/agenttrace/internal/providers"
	"github.com/ongoingai/agenttrace/internal/tracectx"
)

const (
	DefaultTraceName = "ingest"
	// MaxCalls bounds a single batch.
	MaxCalls = 1000

	maxLineBytes = 8 << 20
)

// ErrInvalidBatch marks batches rejected before anything is recorded.
var ErrInvalidBatch = errors.New("invalid ingest batch")

// Call is one recorded vendor call. Request and Response hold the raw JSON
// bodies exchanged with the provider.
type Call struct {
	Provider string          `json:"provider"`
	Agent    string          `json:"agent,omitempty"`
	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type Batch struct {
	Name      string `json:"name,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Calls     []Call `json:"calls"`
}

type Result struct {
	TraceID string `json:"trace_id"`
	Calls   int    `json:"calls"`
	Failed  int    `json:"failed"`
}

// Decode reads one Call per line. Blank lines are skipped.
func Decode(r io.Reader) ([]Call, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var calls []Call
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var call Call
		if err := json.Unmarshal(raw, &call); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidBatch, line, err)
		}
		calls = append(calls, call)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read calls: %w", err)
	}
	return calls, nil
}

type Replayer struct {
	tracer   *capture.Tracer
	registry *providers.Registry
}

func NewReplayer(tracer *capture.Tracer, registry *providers.Registry) *Replayer {
	if registry == nil {
		registry = providers.DefaultRegistry()
	}
	return &Replayer{tracer: tracer, registry: registry}
}

// Replay records batch as one trace. Consecutive calls sharing an agent
// name are grouped under an agent span of that name; calls without one sit
// directly under the root span. A call carrying an error is recorded as a
// failed LLM span and counted in Result.Failed.
func (r *Replayer) Replay(ctx context.Context, batch Batch) (Result, error) {
	adapters, err := r.validate(batch)
	if err != nil {
		return Result{}, err
	}

	name := strings.TrimSpace(batch.Name)
	if name == "" {
		name = DefaultTraceName
	}
	if sessionID := strings.TrimSpace(batch.SessionID); sessionID != "" {
		ctx = tracectx.WithSession(ctx, sessionID)
	}

	var opts []capture.SpanOption
	if first, err := adapters[0].Extract(batch.Calls[0].Request, nil); err == nil {
		if prompt := first.PromptText(); prompt != "" {
			opts = append(opts, capture.WithInput(prompt))
		}
	}

	result := Result{Calls: len(batch.Calls)}
	_, err = capture.Capture(ctx, r.tracer, name, func(ctx context.Context) (string, error) {
		if identity, ok := tracectx.CurrentTrace(ctx); ok {
			result.TraceID = identity.ID
		}

		var last string
		for start := 0; start < len(batch.Calls); {
			end := start + 1
			for end < len(batch.Calls) && batch.Calls[end].Agent == batch.Calls[start].Agent {
				end++
			}
			agent := strings.TrimSpace(batch.Calls[start].Agent)
			group, groupAdapters := batch.Calls[start:end], adapters[start:end]

			var text string
			if agent == "" {
				text = r.replayCalls(ctx, group, groupAdapters, &result)
			} else {
				text, _ = capture.Capture(ctx, r.tracer, agent, func(ctx context.Context) (string, error) {
					return r.replayCalls(ctx, group, groupAdapters, &result), nil
				}, capture.WithAgentName(agent))
			}
			if text != "" {
				last = text
			}
			start = end
		}
		return last, nil
	}, opts...)
	return result, err
}

func (r *Replayer) validate(batch Batch) ([]providers.Adapter, error) {
	if len(batch.Calls) == 0 {
		return nil, fmt.Errorf("%w: no calls", ErrInvalidBatch)
	}
	if len(batch.Calls) > MaxCalls {
		return nil, fmt.Errorf("%w: %d calls exceeds the limit of %d", ErrInvalidBatch, len(batch.Calls), MaxCalls)
	}

	adapters := make([]providers.Adapter, len(batch.Calls))
	for i, call := range batch.Calls {
		adapter, err := r.registry.Lookup(call.Provider)
		if err != nil {
			return nil, fmt.Errorf("%w: call %d: %v", ErrInvalidBatch, i+1, err)
		}
		if len(bytes.TrimSpace(call.Request)) == 0 {
			return nil, fmt.Errorf("%w: call %d: request is required", ErrInvalidBatch, i+1)
		}
		adapters[i] = adapter
	}
	return adapters, nil
}

// replayCalls records calls in order and returns the last non-empty
// completion.
func (r *Replayer) replayCalls(ctx context.Context, calls []Call, adapters []providers.Adapter, result *Result) string {
	var last string
	for i, call := range calls {
		adapter := adapters[i]
		resp, err := providers.Instrument(ctx, r.tracer, adapter, call.Request, func(context.Context) (json.RawMessage, error) {
			if call.Error != "" {
				return nil, errors.New(call.Error)
			}
			return call.Response, nil
		})
		if err != nil {
			result.Failed++
			continue
		}
		if data, err := adapter.Extract(nil, resp); err == nil && data.Completion != "" {
			last = data.Completion
		}
	}
	return last
}
