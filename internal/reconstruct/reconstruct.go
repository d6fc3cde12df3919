// Package reconstruct turns the flat span table of one trace into the agent
// view: the internal spans that represent agent executions, each with the
// tool calls and final completion of its direct children.
package reconstruct

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ongoingai/agenttrace/internal/trace"
)

// maxToolCallsPerChild bounds the tool-call descriptor scan of one child.
const maxToolCallsPerChild = 5

// llmCallMarker identifies LLM-call spans such as "openai.chat".
const llmCallMarker = ".chat"

type ToolCall struct {
	Name     string  `json:"name"`
	Args     any     `json:"args"`
	Output   *string `json:"output"`
	Duration float64 `json:"duration"`
	SpanID   string  `json:"span_id"`
}

type Agent struct {
	SpanID          string     `json:"span_id"`
	Name            string     `json:"name"`
	Duration        float64    `json:"duration"`
	StartTime       float64    `json:"start_time"`
	EndTime         float64    `json:"end_time"`
	ToolsCalled     []ToolCall `json:"tools_called"`
	FinalCompletion *string    `json:"final_completion"`
}

// AgentView is computed per read and never stored. Times are seconds,
// rounded to two decimals.
type AgentView struct {
	TraceInput  *string `json:"trace_input"`
	TraceOutput *string `json:"trace_output"`
	Agents      []Agent `json:"agents"`
}

func emptyView() AgentView {
	return AgentView{Agents: []Agent{}}
}

// Load reads the spans and derived records of traceID and builds its view.
// An unknown trace yields the empty view.
func Load(ctx context.Context, reader trace.Reader, traceID string) (AgentView, error) {
	spans, err := reader.GetSpans(ctx, traceID)
	if err != nil {
		return emptyView(), fmt.Errorf("load spans for trace %s: %w", traceID, err)
	}
	if len(spans) == 0 {
		return emptyView(), nil
	}
	details, err := reader.GetTraceDetails(ctx, traceID)
	if err != nil {
		return emptyView(), fmt.Errorf("load span details for trace %s: %w", traceID, err)
	}
	return BuildAgentView(spans, details), nil
}

// BuildAgentView derives the agent view from a trace's spans and the derived
// records keyed by span id. Only direct children of an agent contribute tool
// calls and completions.
func BuildAgentView(spans []*trace.Span, details map[string]*trace.SpanDetails) AgentView {
	view := emptyView()

	ordered := make([]*trace.Span, 0, len(spans))
	for _, span := range spans {
		if span != nil {
			ordered = append(ordered, span)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartedAt.Before(ordered[j].StartedAt)
	})

	detailsOf := func(spanID string) *trace.SpanDetails {
		if d := details[spanID]; d != nil {
			return d
		}
		return trace.NewSpanDetails()
	}

	view.TraceInput = traceInput(ordered, detailsOf)
	view.TraceOutput = traceOutput(ordered, detailsOf)

	children := make(map[string][]*trace.Span, len(ordered))
	for _, span := range ordered {
		if span.ParentID != "" {
			children[span.ParentID] = append(children[span.ParentID], span)
		}
	}

	for _, span := range ordered {
		if !isAgent(span, children[span.ID]) {
			continue
		}
		agent := Agent{
			SpanID:      span.ID,
			Name:        agentName(span, len(view.Agents)+1),
			Duration:    seconds(span.Duration),
			StartTime:   epochSeconds(span.StartedAt),
			EndTime:     epochSeconds(span.EndedAt),
			ToolsCalled: []ToolCall{},
		}
		for _, child := range children[span.ID] {
			childDetails := detailsOf(child.ID)
			agent.ToolsCalled = append(agent.ToolsCalled, toolCalls(child, childDetails)...)
			if content, ok := lastAssistantCompletion(childDetails); ok {
				agent.FinalCompletion = &content
			}
		}
		view.Agents = append(view.Agents, agent)
	}
	return view
}

// traceInput is the first user prompt of the earliest span whose first user
// prompt is non-empty. An empty prompt is kept only when nothing better is
// found.
func traceInput(ordered []*trace.Span, detailsOf func(string) *trace.SpanDetails) *string {
	var found *string
	for _, span := range ordered {
		for _, prompt := range detailsOf(span.ID).Prompts {
			if prompt.Role != trace.RoleUser {
				continue
			}
			content := prompt.Content
			found = &content
			break
		}
		if found != nil && *found != "" {
			break
		}
	}
	return found
}

// traceOutput mirrors traceInput for assistant completions, scanning spans
// from the latest.
func traceOutput(ordered []*trace.Span, detailsOf func(string) *trace.SpanDetails) *string {
	var found *string
	for i := len(ordered) - 1; i >= 0; i-- {
		for _, completion := range detailsOf(ordered[i].ID).Completions {
			if completion.Role != trace.RoleAssistant {
				continue
			}
			content := completion.Content
			found = &content
			break
		}
		if found != nil && *found != "" {
			break
		}
	}
	return found
}

func isAgent(span *trace.Span, children []*trace.Span) bool {
	if span.Kind != trace.SpanKindInternal && span.Kind != "" {
		return false
	}
	if _, ok := span.Attributes[trace.AttrNormalizedIO]; ok {
		return true
	}
	for _, child := range children {
		if strings.Contains(child.Name, llmCallMarker) {
			return true
		}
	}
	return false
}

func agentName(span *trace.Span, position int) string {
	if name := trace.AttributeText(span.Attributes[trace.AttrAgentName]); name != "" {
		return name
	}
	if span.Name != "" {
		return span.Name
	}
	return fmt.Sprintf("Agent %d", position)
}

// toolCalls lists the child's tool-call descriptors in index order. The n-th
// call to a tool takes its output from the n-th tool record with that name.
func toolCalls(child *trace.Span, details *trace.SpanDetails) []ToolCall {
	descriptors := trace.ToolCallDescriptors(child.Attributes, maxToolCallsPerChild)
	if len(descriptors) == 0 {
		return nil
	}
	seen := make(map[string]int, len(descriptors))
	calls := make([]ToolCall, 0, len(descriptors))
	for _, descriptor := range descriptors {
		occurrence := seen[descriptor.Name]
		seen[descriptor.Name] = occurrence + 1
		calls = append(calls, ToolCall{
			Name:     descriptor.Name,
			Args:     trace.ParseToolArguments(descriptor.Arguments),
			Output:   toolOutput(details, descriptor.Name, occurrence),
			Duration: seconds(child.Duration),
			SpanID:   child.ID,
		})
	}
	return calls
}

func toolOutput(details *trace.SpanDetails, name string, occurrence int) *string {
	for _, record := range details.Tools {
		if record.Name != name {
			continue
		}
		if occurrence > 0 {
			occurrence--
			continue
		}
		if record.Output == nil {
			return nil
		}
		output := *record.Output
		return &output
	}
	return nil
}

func lastAssistantCompletion(details *trace.SpanDetails) (string, bool) {
	for i := len(details.Completions) - 1; i >= 0; i-- {
		if details.Completions[i].Role == trace.RoleAssistant {
			return details.Completions[i].Content, true
		}
	}
	return "", false
}

func seconds(d time.Duration) float64 {
	return round2(d.Seconds())
}

func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return round2(float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
