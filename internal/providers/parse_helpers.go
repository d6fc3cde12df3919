package providers

import (
	"encoding/json"
	"strings"

	"github.com/ongoingai/agenttrace/internal/normalize"
	"github.com/ongoingai/agenttrace/internal/trace"
)

// rawJSON returns the bytes of a raw JSON request or response value.
func rawJSON(value any) ([]byte, bool) {
	switch typed := value.(type) {
	case []byte:
		return typed, true
	case json.RawMessage:
		return typed, true
	case string:
		return []byte(typed), true
	}
	return nil, false
}

func parseJSONMap(raw []byte) (map[string]any, bool) {
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return nil, false
	}

	decoder := json.NewDecoder(strings.NewReader(value))
	decoder.UseNumber()
	var out map[string]any
	if err := decoder.Decode(&out); err != nil {
		return nil, false
	}
	return out, true
}

func extractModel(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	model, _ := payload["model"].(string)
	return strings.TrimSpace(model)
}

func extractUsage(payload map[string]any) normalize.Usage {
	usage, _ := normalize.ExtractUsage(payload)
	return usage.Complete()
}

func stringField(payload map[string]any, key string) string {
	value, _ := payload[key].(string)
	return value
}

// messagesFromJSON reads a "messages" array of {role, content} objects.
// Content may be a string or a list of typed parts, whose text parts are
// joined.
func messagesFromJSON(payload map[string]any) []Message {
	items, _ := payload["messages"].([]any)
	messages := make([]Message, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		messages = append(messages, Message{
			Role:    stringField(entry, "role"),
			Content: contentFromJSON(entry["content"]),
		})
	}
	return messages
}

func contentFromJSON(raw any) string {
	switch typed := raw.(type) {
	case string:
		return typed
	case []any:
		parts := make([]string, 0, len(typed))
		for _, part := range typed {
			block, ok := part.(map[string]any)
			if !ok || stringField(block, "type") != "text" {
				continue
			}
			if text := stringField(block, "text"); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	case nil:
		return ""
	}
	return trace.AttributeText(raw)
}

// argumentsText renders tool arguments that arrive either as a JSON string or
// as a decoded object.
func argumentsText(raw any) string {
	switch typed := raw.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.RawMessage:
		return string(typed)
	}
	return trace.AttributeText(raw)
}
