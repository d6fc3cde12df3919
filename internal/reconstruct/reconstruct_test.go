package reconstruct

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ongoingai/agenttrace/internal/trace"
)

var base = time.Unix(1700000000, 0).UTC()

func at(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

func strp(s string) *string { return &s }

func span(id, parent, name string, kind trace.SpanKind, startMS, durMS int, attrs map[string]any) *trace.Span {
	return &trace.Span{
		ID:         id,
		TraceID:    "trace-1",
		ParentID:   parent,
		Name:       name,
		Kind:       kind,
		StartedAt:  at(startMS),
		EndedAt:    at(startMS + durMS),
		Duration:   time.Duration(durMS) * time.Millisecond,
		Attributes: attrs,
	}
}

func TestTraceInputAndOutput(t *testing.T) {
	t.Parallel()

	spans := []*trace.Span{
		span("s1", "", "setup", trace.SpanKindInternal, 0, 1, nil),
		span("s2", "", "ask", trace.SpanKindInternal, 1, 1, nil),
		span("s3", "", "draft", trace.SpanKindInternal, 2, 1, nil),
		span("s4", "", "final", trace.SpanKindInternal, 3, 1, nil),
	}
	details := map[string]*trace.SpanDetails{
		"s2": {Prompts: []trace.PromptRecord{{SpanID: "s2", Role: "user", Content: "A"}}},
		"s3": {Completions: []trace.CompletionRecord{{SpanID: "s3", Role: "assistant", Content: "B"}}},
		"s4": {Completions: []trace.CompletionRecord{{SpanID: "s4", Role: "assistant", Content: "C"}}},
	}

	view := BuildAgentView(spans, details)
	if view.TraceInput == nil || *view.TraceInput != "A" {
		t.Fatalf("trace_input=%v, want A", view.TraceInput)
	}
	if view.TraceOutput == nil || *view.TraceOutput != "C" {
		t.Fatalf("trace_output=%v, want C", view.TraceOutput)
	}
}

func TestTraceInputSkipsEmptyPromptWhenLaterOneExists(t *testing.T) {
	t.Parallel()

	spans := []*trace.Span{
		span("s1", "", "a", trace.SpanKindInternal, 0, 1, nil),
		span("s2", "", "b", trace.SpanKindInternal, 1, 1, nil),
	}
	details := map[string]*trace.SpanDetails{
		"s1": {Prompts: []trace.PromptRecord{{Role: "system", Content: "rules"}, {Role: "user", Content: ""}}},
		"s2": {Prompts: []trace.PromptRecord{{Role: "user", Content: "real question"}}},
	}
	if view := BuildAgentView(spans, details); view.TraceInput == nil || *view.TraceInput != "real question" {
		t.Fatalf("trace_input=%v, want real question", view.TraceInput)
	}

	onlyEmpty := map[string]*trace.SpanDetails{"s1": details["s1"]}
	if view := BuildAgentView(spans, onlyEmpty); view.TraceInput == nil || *view.TraceInput != "" {
		t.Fatalf("trace_input=%v, want empty string", view.TraceInput)
	}
	if view := BuildAgentView(spans, nil); view.TraceInput != nil || view.TraceOutput != nil {
		t.Fatalf("view=%+v, want absent input and output", view)
	}
}

func TestBuildAgentView(t *testing.T) {
	t.Parallel()

	spans := []*trace.Span{
		// Input order is not chronological.
		span("llm-2", "planner", "openai.chat", trace.SpanKindClient, 400, 200, map[string]any{
			trace.ToolCallKey(0, "name"):      "book",
			trace.ToolCallKey(0, "arguments"): `{"id":`,
		}),
		span("planner", "", "plan_trip", trace.SpanKindInternal, 0, 1234, map[string]any{
			trace.AttrAgentName: "Planner",
		}),
		span("llm-1", "planner", "openai.chat", trace.SpanKindClient, 100, 250, map[string]any{
			trace.ToolCallKey(0, "name"):      "search",
			trace.ToolCallKey(0, "arguments"): `{"city":"Paris"}`,
			trace.ToolCallKey(1, "name"):      "search",
			trace.ToolCallKey(1, "arguments"): `{"city":"Rome"}`,
			trace.ToolCallKey(3, "name"):      "unreachable",
		}),
		span("writer", "", "", trace.SpanKindInternal, 2000, 500, map[string]any{
			trace.AttrNormalizedIO: `{"prompts":[],"completions":[]}`,
		}),
		span("helper", "", "format", trace.SpanKindInternal, 3000, 10, nil),
	}
	details := map[string]*trace.SpanDetails{
		"llm-1": {
			Completions: []trace.CompletionRecord{{Role: "assistant", Content: "first"}},
			Tools: []trace.ToolCallRecord{
				{Name: "search", Output: strp("sunny")},
				{Name: "search", Output: strp("rainy")},
			},
		},
		"llm-2": {
			Completions: []trace.CompletionRecord{{Role: "assistant", Content: "booked"}},
			Tools:       []trace.ToolCallRecord{{Name: "book"}},
		},
	}

	got := BuildAgentView(spans, details)
	want := AgentView{
		TraceOutput: strp("booked"),
		Agents: []Agent{
			{
				SpanID:    "planner",
				Name:      "Planner",
				Duration:  1.23,
				StartTime: 1700000000,
				EndTime:   1700000001.23,
				ToolsCalled: []ToolCall{
					{Name: "search", Args: map[string]any{"city": "Paris"}, Output: strp("sunny"), Duration: 0.25, SpanID: "llm-1"},
					{Name: "search", Args: map[string]any{"city": "Rome"}, Output: strp("rainy"), Duration: 0.25, SpanID: "llm-1"},
					{Name: "book", Args: nil, Output: nil, Duration: 0.2, SpanID: "llm-2"},
				},
				FinalCompletion: strp("booked"),
			},
			{
				SpanID:      "writer",
				Name:        "Agent 2",
				Duration:    0.5,
				StartTime:   1700000002,
				EndTime:     1700000002.5,
				ToolsCalled: []ToolCall{},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("BuildAgentView() mismatch (-want +got):\n%s", diff)
	}
}

func TestLeafLLMSpanIsNeverAnAgent(t *testing.T) {
	t.Parallel()

	spans := []*trace.Span{
		span("llm", "", "openai.chat", trace.SpanKindClient, 0, 10, nil),
		span("internal-llm", "", "anthropic.chat", trace.SpanKindInternal, 20, 10, nil),
	}
	if view := BuildAgentView(spans, nil); len(view.Agents) != 0 {
		t.Fatalf("agents=%+v, want none", view.Agents)
	}
}

func TestOnlyDirectChildrenContribute(t *testing.T) {
	t.Parallel()

	spans := []*trace.Span{
		span("outer", "", "outer", trace.SpanKindInternal, 0, 100, map[string]any{trace.AttrNormalizedIO: "{}"}),
		span("inner", "outer", "inner", trace.SpanKindInternal, 10, 50, nil),
		span("llm", "inner", "openai.chat", trace.SpanKindClient, 20, 10, map[string]any{trace.ToolCallKey(0, "name"): "deep"}),
	}
	details := map[string]*trace.SpanDetails{
		"llm": {Completions: []trace.CompletionRecord{{Role: "assistant", Content: "deep answer"}}},
	}

	view := BuildAgentView(spans, details)
	if len(view.Agents) != 2 {
		t.Fatalf("agents=%d, want outer and inner", len(view.Agents))
	}
	outer, inner := view.Agents[0], view.Agents[1]
	if len(outer.ToolsCalled) != 0 || outer.FinalCompletion != nil {
		t.Fatalf("outer=%+v, want nothing from grandchildren", outer)
	}
	if len(inner.ToolsCalled) != 1 || inner.FinalCompletion == nil || *inner.FinalCompletion != "deep answer" {
		t.Fatalf("inner=%+v, want the LLM child's tool call and completion", inner)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := trace.NewMemoryStore()
	view, err := Load(ctx, store, "missing")
	if err != nil {
		t.Fatalf("Load(missing): %v", err)
	}
	if view.Agents == nil || len(view.Agents) != 0 || view.TraceInput != nil {
		t.Fatalf("Load(missing)=%+v, want empty view", view)
	}

	if err := store.InsertTrace(ctx, &trace.Trace{ID: "trace-1", Name: "chain", StartedAt: base}); err != nil {
		t.Fatalf("InsertTrace: %v", err)
	}
	agentSpan := span("agent", "", "agent", trace.SpanKindInternal, 0, 100, nil)
	llm := span("llm", "agent", "openai.chat", trace.SpanKindClient, 10, 50, map[string]any{
		trace.AttrNormalizedIO: `{"prompts":[{"role":"user","content":"hi"}],"completions":[{"role":"assistant","content":"hello"}]}`,
	})
	for _, s := range []*trace.Span{agentSpan, llm} {
		if err := store.InsertSpan(ctx, s); err != nil {
			t.Fatalf("InsertSpan(%s): %v", s.ID, err)
		}
	}

	view, err = Load(ctx, store, "trace-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *view.TraceInput != "hi" || *view.TraceOutput != "hello" {
		t.Fatalf("view=%+v, want hi/hello", view)
	}
	if len(view.Agents) != 1 || view.Agents[0].FinalCompletion == nil || *view.Agents[0].FinalCompletion != "hello" {
		t.Fatalf("agents=%+v", view.Agents)
	}
}
