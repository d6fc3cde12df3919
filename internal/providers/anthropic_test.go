package providers

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ongoingai/agenttrace/internal/trace"
)

func TestAnthropicExtractSDKTypes(t *testing.T) {
	t.Parallel()

	request := anthropic.MessageNewParams{
		Model:     anthropic.Model("claude-sonnet-4-20250514"),
		MaxTokens: 256,
		System:    []anthropic.TextBlockParam{{Text: "you are terse"}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("find flights")),
		},
	}
	response := anthropic.Message{
		Model: anthropic.Model("claude-sonnet-4-20250514"),
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "Searching."},
			{Type: "tool_use", Name: "search_flights", Input: json.RawMessage(`{"from":"SFO"}`)},
		},
		StopReason: anthropic.StopReason("tool_use"),
		Usage:      anthropic.Usage{InputTokens: 20, OutputTokens: 9},
	}

	data, err := Anthropic{}.Extract(&request, &response)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(data.Messages) != 2 || data.Messages[0].Role != "system" || data.PromptText() != "find flights" {
		t.Fatalf("messages=%+v, want system then user", data.Messages)
	}
	if data.Completion != "Searching." || data.FinishReason != "tool_use" {
		t.Fatalf("completion=%q finish=%q", data.Completion, data.FinishReason)
	}
	if len(data.ToolCalls) != 1 || data.ToolCalls[0].Arguments != `{"from":"SFO"}` {
		t.Fatalf("tool calls=%+v", data.ToolCalls)
	}
	if data.Usage.TotalTokens == nil || *data.Usage.TotalTokens != 29 {
		t.Fatalf("total=%v, want derived 29", data.Usage.TotalTokens)
	}

	attrs := data.Attributes()
	if attrs[trace.AttrRequestModel] != "claude-sonnet-4-20250514" || attrs[trace.AttrCompletionRole] != trace.RoleAssistant {
		t.Fatalf("attributes=%v", attrs)
	}
	descriptors := trace.ToolCallDescriptors(attrs, 5)
	if len(descriptors) != 1 || descriptors[0].Name != "search_flights" {
		t.Fatalf("descriptors=%+v", descriptors)
	}
}

func TestAnthropicExtractRawJSON(t *testing.T) {
	t.Parallel()

	request := `{"model":"claude-3-5-haiku-20241022","system":"be kind","messages":[{"role":"user","content":[{"type":"text","text":"hello"}]}]}`
	response := json.RawMessage(`{"model":"claude-3-5-haiku-20241022","stop_reason":"end_turn","content":[{"type":"text","text":"hi there"},{"type":"tool_use","name":"lookup","input":{"q":1}}],"usage":{"input_tokens":4,"output_tokens":2}}`)

	data, err := Anthropic{}.Extract(request, response)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if data.Model != "claude-3-5-haiku-20241022" || data.Completion != "hi there" || data.FinishReason != "end_turn" {
		t.Fatalf("data=%+v", data)
	}
	if len(data.Messages) != 2 || data.Messages[0].Content != "be kind" || data.Messages[1].Content != "hello" {
		t.Fatalf("messages=%+v", data.Messages)
	}
	if len(data.ToolCalls) != 1 || data.ToolCalls[0].Arguments != `{"q":1}` {
		t.Fatalf("tool calls=%+v, want object input serialized", data.ToolCalls)
	}
	if data.Usage.TotalTokens == nil || *data.Usage.TotalTokens != 6 {
		t.Fatalf("total=%v, want 6", data.Usage.TotalTokens)
	}
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	registry := DefaultRegistry()
	if names := registry.Names(); len(names) != 2 || names[0] != "anthropic" || names[1] != "openai" {
		t.Fatalf("Names()=%v", names)
	}
	if adapter, err := registry.Lookup(" OpenAI "); err != nil || adapter.Name() != "openai" {
		t.Fatalf("Lookup(OpenAI)=(%v,%v)", adapter, err)
	}
	if _, err := registry.Lookup("mistral"); err == nil {
		t.Fatal("Lookup(mistral) error=nil")
	}
}
