package normalize

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

// ContentProvider is implemented by values that expose a primary text
// content, such as a vendor message wrapper.
type ContentProvider interface {
	GetContent() string
}

// Stringify renders value as text for a prompt or completion record.
// Opaque values such as funcs, channels and structs with no exported shape
// become the empty string.
func Stringify(value any) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case ContentProvider:
		if !present(v) {
			return ""
		}
		return v.GetContent()
	}

	if text, ok := sdkContent(value); ok {
		return text
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return "{}"
		}
		return jsonOrEmpty(value)
	case reflect.Slice:
		if rv.IsNil() {
			return "[]"
		}
		return jsonOrEmpty(value)
	case reflect.Array:
		return jsonOrEmpty(value)
	}

	switch v := value.(type) {
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	case reflect.Struct:
		encoded := jsonOrEmpty(value)
		if encoded == "{}" {
			return ""
		}
		return encoded
	}
	return ""
}

func jsonOrEmpty(value any) string {
	encoded, err := compactJSON(value)
	if err != nil {
		return ""
	}
	return encoded
}

// sdkContent extracts the primary text of known vendor SDK values.
func sdkContent(value any) (string, bool) {
	switch v := value.(type) {
	case openai.ChatCompletionMessage:
		return OpenAIMessageText(v), true
	case *openai.ChatCompletionMessage:
		if v == nil {
			return "", true
		}
		return OpenAIMessageText(*v), true
	case openai.ChatCompletionResponse:
		return openAIResponseText(v), true
	case *openai.ChatCompletionResponse:
		if v == nil {
			return "", true
		}
		return openAIResponseText(*v), true
	case anthropic.Message:
		return AnthropicText(v.Content), true
	case *anthropic.Message:
		if v == nil {
			return "", true
		}
		return AnthropicText(v.Content), true
	}
	return "", false
}

// OpenAIMessageText returns the message content, joining text parts of a
// multi-part message.
func OpenAIMessageText(msg openai.ChatCompletionMessage) string {
	if msg.Content != "" || len(msg.MultiContent) == 0 {
		return msg.Content
	}
	parts := make([]string, 0, len(msg.MultiContent))
	for _, part := range msg.MultiContent {
		if part.Type == openai.ChatMessagePartTypeText && part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func openAIResponseText(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return OpenAIMessageText(resp.Choices[0].Message)
}

// AnthropicText joins the text blocks of an Anthropic message.
func AnthropicText(blocks []anthropic.ContentBlockUnion) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
