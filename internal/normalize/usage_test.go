package normalize

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/go-cmp/cmp"
	openai "github.com/sashabaranov/go-openai"
)

type mapUsage struct{}

func (mapUsage) UsageMap() map[string]any {
	return map[string]any{"input_tokens": 5, "output_tokens": 6}
}

func TestExtractUsageStrategies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result any
		want   Usage
		wantOK bool
	}{
		{
			name:   "mapping with openai keys",
			result: map[string]any{"usage": map[string]any{"prompt_tokens": 2.0, "completion_tokens": 3.0}},
			want:   Usage{PromptTokens: int64p(2), CompletionTokens: int64p(3)},
			wantOK: true,
		},
		{
			name:   "mapping with anthropic keys",
			result: map[string]any{"usage": map[string]int{"input_tokens": 7, "output_tokens": 1, "total_tokens": 9}},
			want:   Usage{PromptTokens: int64p(7), CompletionTokens: int64p(1), TotalTokens: int64p(9)},
			wantOK: true,
		},
		{
			name:   "converter",
			result: mapUsage{},
			want:   Usage{PromptTokens: int64p(5), CompletionTokens: int64p(6)},
			wantOK: true,
		},
		{
			name:   "openai response",
			result: &openai.ChatCompletionResponse{Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}},
			want:   Usage{PromptTokens: int64p(10), CompletionTokens: int64p(20), TotalTokens: int64p(30)},
			wantOK: true,
		},
		{
			name:   "anthropic message",
			result: anthropic.Message{Usage: anthropic.Usage{InputTokens: 4, OutputTokens: 8}},
			want:   Usage{PromptTokens: int64p(4), CompletionTokens: int64p(8), TotalTokens: int64p(12)},
			wantOK: true,
		},
		{name: "zero sdk usage", result: openai.ChatCompletionResponse{}, wantOK: false},
		{name: "mapping without usage", result: map[string]any{"text": "x"}, wantOK: false},
		{name: "plain string", result: "hello", wantOK: false},
		{name: "nil", result: nil, wantOK: false},
		{name: "nil pointer", result: (*openai.ChatCompletionResponse)(nil), wantOK: false},
	}
	for _, tt := range tests {
		got, ok := ExtractUsage(tt.result)
		if ok != tt.wantOK {
			t.Fatalf("%s: ExtractUsage() ok=%t, want %t", tt.name, ok, tt.wantOK)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("%s: ExtractUsage() mismatch (-want +got):\n%s", tt.name, diff)
		}
	}
}

func TestUsageComplete(t *testing.T) {
	t.Parallel()

	if got := (Usage{}).Complete(); got.TotalTokens != nil {
		t.Fatalf("Complete() on empty usage derived total %d", *got.TotalTokens)
	}
	if got := (Usage{CompletionTokens: int64p(5)}).Complete(); got.TotalTokens != nil {
		t.Fatalf("Complete() with only completion tokens derived total %d", *got.TotalTokens)
	}
	if got := (Usage{PromptTokens: int64p(10)}).Complete(); got.TotalTokens != nil {
		t.Fatalf("Complete() with only prompt tokens derived total %d", *got.TotalTokens)
	}
	got := Usage{PromptTokens: int64p(10), CompletionTokens: int64p(5)}.Complete()
	if got.TotalTokens == nil || *got.TotalTokens != 15 {
		t.Fatalf("Complete() total=%v, want 15", got.TotalTokens)
	}
	kept := Usage{PromptTokens: int64p(1), CompletionTokens: int64p(1), TotalTokens: int64p(10)}.Complete()
	if *kept.TotalTokens != 10 {
		t.Fatalf("Complete() overwrote reported total: %d", *kept.TotalTokens)
	}
}

func TestStringifyKnownSDKTypes(t *testing.T) {
	t.Parallel()

	resp := openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Role: "assistant", Content: "sunny"},
	}}}
	if got := Stringify(resp); got != "sunny" {
		t.Fatalf("Stringify(openai response)=%q, want sunny", got)
	}

	multi := openai.ChatCompletionMessage{MultiContent: []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: "one"},
		{Type: openai.ChatMessagePartTypeImageURL},
		{Type: openai.ChatMessagePartTypeText, Text: "two"},
	}}
	if got := Stringify(multi); got != "one\ntwo" {
		t.Fatalf("Stringify(multi-part)=%q", got)
	}

	msg := anthropic.Message{Content: []anthropic.ContentBlockUnion{
		{Type: "text", Text: "hello"},
		{Type: "tool_use", Name: "lookup"},
	}}
	if got := Stringify(&msg); got != "hello" {
		t.Fatalf("Stringify(anthropic message)=%q, want hello", got)
	}
}
