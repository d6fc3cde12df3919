package normalize

import (
	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ongoingai/agenttrace/internal/trace"
)

// Usage holds token counters. Nil fields were not reported.
type Usage struct {
	PromptTokens     *int64 `json:"prompt_tokens,omitempty"`
	CompletionTokens *int64 `json:"completion_tokens,omitempty"`
	TotalTokens      *int64 `json:"total_tokens,omitempty"`
}

// Complete returns u with TotalTokens derived as prompt + completion when
// it was not reported and both counters were.
func (u Usage) Complete() Usage {
	if u.TotalTokens != nil || u.PromptTokens == nil || u.CompletionTokens == nil {
		return u
	}
	total := *u.PromptTokens + *u.CompletionTokens
	u.TotalTokens = &total
	return u
}

func (u Usage) IsZero() bool {
	return u.PromptTokens == nil && u.CompletionTokens == nil && u.TotalTokens == nil
}

// Attributes returns the span attributes for the reported counters.
func (u Usage) Attributes() map[string]any {
	attrs := make(map[string]any, 3)
	if u.PromptTokens != nil {
		attrs[trace.AttrPromptTokens] = *u.PromptTokens
	}
	if u.CompletionTokens != nil {
		attrs[trace.AttrCompletionTokens] = *u.CompletionTokens
	}
	if u.TotalTokens != nil {
		attrs[trace.AttrTotalTokens] = *u.TotalTokens
	}
	return attrs
}

// UsageConverter is implemented by results that can render their usage as a
// mapping with prompt/completion token keys.
type UsageConverter interface {
	UsageMap() map[string]any
}

// UsageReporter is implemented by results that already carry Usage.
type UsageReporter interface {
	TokenUsage() Usage
}

type usageStrategy struct {
	name    string
	extract func(result any) (Usage, bool)
}

// Strategies are tried in order; the first match wins.
var usageStrategies = []usageStrategy{
	{name: "mapping", extract: usageFromMapping},
	{name: "conversion", extract: usageFromConverter},
	{name: "fields", extract: usageFromFields},
}

// ExtractUsage finds token usage in a call result. It reports false when no
// strategy recognizes the result.
func ExtractUsage(result any) (usage Usage, ok bool) {
	defer func() {
		if recover() != nil {
			usage, ok = Usage{}, false
		}
	}()
	if !present(result) {
		return Usage{}, false
	}
	for _, strategy := range usageStrategies {
		if usage, ok := strategy.extract(result); ok {
			return usage, true
		}
	}
	return Usage{}, false
}

func usageFromMapping(result any) (Usage, bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return Usage{}, false
	}
	switch raw := m["usage"].(type) {
	case map[string]any:
		return usageFromMap(raw)
	case map[string]int:
		converted := make(map[string]any, len(raw))
		for key, value := range raw {
			converted[key] = value
		}
		return usageFromMap(converted)
	case map[string]int64:
		converted := make(map[string]any, len(raw))
		for key, value := range raw {
			converted[key] = value
		}
		return usageFromMap(converted)
	}
	return Usage{}, false
}

func usageFromConverter(result any) (Usage, bool) {
	converter, ok := result.(UsageConverter)
	if !ok {
		return Usage{}, false
	}
	return usageFromMap(converter.UsageMap())
}

func usageFromFields(result any) (Usage, bool) {
	switch v := result.(type) {
	case UsageReporter:
		usage := v.TokenUsage()
		return usage, !usage.IsZero()
	case Usage:
		return v, !v.IsZero()
	case *Usage:
		return *v, !v.IsZero()
	case openai.Usage:
		return openAIUsage(v)
	case *openai.Usage:
		return openAIUsage(*v)
	case openai.ChatCompletionResponse:
		return openAIUsage(v.Usage)
	case *openai.ChatCompletionResponse:
		return openAIUsage(v.Usage)
	case anthropic.Usage:
		return anthropicUsage(v)
	case *anthropic.Usage:
		return anthropicUsage(*v)
	case anthropic.Message:
		return anthropicUsage(v.Usage)
	case *anthropic.Message:
		return anthropicUsage(v.Usage)
	}
	return Usage{}, false
}

func usageFromMap(m map[string]any) (Usage, bool) {
	usage := Usage{
		PromptTokens:     firstInt64(m, "prompt_tokens", "input_tokens"),
		CompletionTokens: firstInt64(m, "completion_tokens", "output_tokens"),
		TotalTokens:      firstInt64(m, "total_tokens"),
	}
	return usage, !usage.IsZero()
}

func firstInt64(m map[string]any, keys ...string) *int64 {
	for _, key := range keys {
		if value := trace.AttributeInt64Ptr(m, key); value != nil {
			return value
		}
	}
	return nil
}

// SDK structs report zero for absent counters, so an all-zero block is not
// treated as usage.
func openAIUsage(u openai.Usage) (Usage, bool) {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return Usage{}, false
	}
	prompt, completion, total := int64(u.PromptTokens), int64(u.CompletionTokens), int64(u.TotalTokens)
	return Usage{PromptTokens: &prompt, CompletionTokens: &completion, TotalTokens: &total}, true
}

func anthropicUsage(u anthropic.Usage) (Usage, bool) {
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return Usage{}, false
	}
	prompt, completion := u.InputTokens, u.OutputTokens
	return Usage{PromptTokens: &prompt, CompletionTokens: &completion}.Complete(), true
}
