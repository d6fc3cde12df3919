package providers

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ongoingai/agenttrace/internal/capture"
	"github.com/ongoingai/agenttrace/internal/exporter"
	"github.com/ongoingai/agenttrace/internal/trace"
)

func TestInstrumentRecordsClientSpan(t *testing.T) {
	t.Parallel()

	mem := exporter.NewMemory()
	tracer := capture.NewTracer(mem)
	request := openai.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "2+2?"}},
	}

	resp, err := Instrument(context.Background(), tracer, OpenAI{}, request, func(context.Context) (openai.ChatCompletionResponse, error) {
		return openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: "assistant", Content: "4"},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: openai.Usage{PromptTokens: 6, CompletionTokens: 1, TotalTokens: 7},
		}, nil
	})
	if err != nil {
		t.Fatalf("Instrument() error: %v", err)
	}
	if resp.Choices[0].Message.Content != "4" {
		t.Fatalf("response=%+v, want the native response", resp)
	}

	spans := mem.Spans()
	if len(spans) != 1 {
		t.Fatalf("spans=%d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != "openai.chat" || span.Kind != trace.SpanKindClient || span.Status != trace.StatusOK {
		t.Fatalf("span=%+v, want OK openai.chat client span", span)
	}
	if span.Attributes[trace.AttrRequestModel] != "gpt-4o" {
		t.Fatalf("model=%v", span.Attributes[trace.AttrRequestModel])
	}

	details := trace.DeriveRecords(span)
	if len(details.Prompts) != 1 || details.Prompts[0].Content != "2+2?" {
		t.Fatalf("prompts=%+v", details.Prompts)
	}
	if len(details.Completions) != 1 {
		t.Fatalf("completions=%+v", details.Completions)
	}
	completion := details.Completions[0]
	if completion.Content != "4" || completion.FinishReason != "stop" || completion.TotalTokens == nil || *completion.TotalTokens != 7 {
		t.Fatalf("completion=%+v", completion)
	}
}

func TestInstrumentPassesErrorsThrough(t *testing.T) {
	t.Parallel()

	mem := exporter.NewMemory()
	tracer := capture.NewTracer(mem)
	rateLimited := errors.New("429 too many requests")

	_, err := Instrument(context.Background(), tracer, Anthropic{}, `{"model":"claude","messages":[{"role":"user","content":"hi"}]}`, func(context.Context) ([]byte, error) {
		return nil, rateLimited
	})
	if !errors.Is(err, rateLimited) {
		t.Fatalf("err=%v, want rate limit error", err)
	}
	span := mem.Spans()[0]
	if span.Name != "anthropic.chat" || span.Status != trace.StatusError {
		t.Fatalf("span=%+v, want ERROR anthropic.chat", span)
	}
	details := trace.DeriveRecords(span)
	if len(details.Prompts) != 1 || len(details.Completions) != 0 {
		t.Fatalf("details=%+v, want prompt only", details)
	}
}
