package trace

import (
	"encoding/json"
	"strconv"
	"strings"
)

const maxDerivedToolCalls = 128

// ToolCallDescriptor is one indexed tool call carried in span attributes.
type ToolCallDescriptor struct {
	Index     int
	Name      string
	Arguments string
	Output    *string
}

// ToolCallKey returns the attribute key for field of the tool call at index.
func ToolCallKey(index int, field string) string {
	return AttrToolCallPrefix + strconv.Itoa(index) + "." + field
}

// ToolCallDescriptors scans tool call descriptors starting at index 0. The
// first index without a name ends the scan. A limit <= 0 means no bound.
func ToolCallDescriptors(attrs map[string]any, limit int) []ToolCallDescriptor {
	var out []ToolCallDescriptor
	for i := 0; limit <= 0 || i < limit; i++ {
		name := AttributeString(attrs, ToolCallKey(i, "name"))
		if name == "" {
			break
		}
		desc := ToolCallDescriptor{
			Index:     i,
			Name:      name,
			Arguments: AttributeText(attrs[ToolCallKey(i, "arguments")]),
		}
		if raw, ok := attrs[ToolCallKey(i, "output")]; ok && raw != nil {
			output := AttributeText(raw)
			desc.Output = &output
		}
		out = append(out, desc)
	}
	return out
}

// DeriveRecords builds the prompt, completion and tool rows for a finished
// span from its attributes. Malformed attributes yield fewer rows, never an
// error.
func DeriveRecords(span *Span) *SpanDetails {
	details := NewSpanDetails()
	if span == nil {
		return details
	}
	details.Prompts, details.Completions = ParseNormalizedIO(span.ID, span.Attributes[AttrNormalizedIO])
	for _, desc := range ToolCallDescriptors(span.Attributes, maxDerivedToolCalls) {
		details.Tools = append(details.Tools, ToolCallRecord{
			SpanID:    span.ID,
			Name:      desc.Name,
			Arguments: desc.Arguments,
			Output:    desc.Output,
		})
	}
	return details
}

// ParseNormalizedIO reads the normalized I/O blob, given either as its JSON
// text or as an already decoded map. Message indexes follow list position.
func ParseNormalizedIO(spanID string, raw any) ([]PromptRecord, []CompletionRecord) {
	prompts := []PromptRecord{}
	completions := []CompletionRecord{}

	var blob map[string]any
	switch typed := raw.(type) {
	case string:
		blob = DecodeAttributes(typed)
	case []byte:
		blob = DecodeAttributes(string(typed))
	case map[string]any:
		blob = typed
	}
	if blob == nil {
		return prompts, completions
	}

	for i, item := range asObjectList(blob["prompts"]) {
		prompts = append(prompts, PromptRecord{
			SpanID:       spanID,
			Role:         stringOr(item["role"], RoleUser),
			Content:      AttributeText(item["content"]),
			MessageIndex: i,
		})
	}
	for i, item := range asObjectList(blob["completions"]) {
		record := CompletionRecord{
			SpanID:           spanID,
			Role:             stringOr(item["role"], RoleAssistant),
			Content:          AttributeText(item["content"]),
			MessageIndex:     i,
			FinishReason:     AttributeText(item["finish_reason"]),
			PromptTokens:     AttributeInt64Ptr(item, "prompt_tokens"),
			CompletionTokens: AttributeInt64Ptr(item, "completion_tokens"),
			TotalTokens:      AttributeInt64Ptr(item, "total_tokens"),
		}
		if record.TotalTokens == nil && record.PromptTokens != nil && record.CompletionTokens != nil {
			total := *record.PromptTokens + *record.CompletionTokens
			record.TotalTokens = &total
		}
		completions = append(completions, record)
	}
	return prompts, completions
}

func asObjectList(raw any) []map[string]any {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			obj = map[string]any{}
		}
		out = append(out, obj)
	}
	return out
}

func stringOr(raw any, fallback string) string {
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseToolArguments decodes tool call arguments. Empty or malformed payloads
// return nil.
func ParseToolArguments(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil
	}
	return decoded
}
