// Package normalize reduces heterogeneous LLM call inputs and outputs to the
// canonical {prompts, completions} shape. Every function in this package is
// pure and total: unknown shapes degrade to text or to no record, never to an
// error or a panic.
package normalize

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/ongoingai/agenttrace/internal/trace"
)

type Prompt struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Completion struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	FinishReason     string `json:"finish_reason,omitempty"`
	PromptTokens     *int64 `json:"prompt_tokens,omitempty"`
	CompletionTokens *int64 `json:"completion_tokens,omitempty"`
	TotalTokens      *int64 `json:"total_tokens,omitempty"`
}

// IO is the normalized input/output of one span.
type IO struct {
	Prompts     []Prompt     `json:"prompts"`
	Completions []Completion `json:"completions"`
}

func emptyIO() IO {
	return IO{Prompts: []Prompt{}, Completions: []Completion{}}
}

// Encode renders io as compact JSON for the normalized I/O attribute.
func (io IO) Encode() string {
	if io.Prompts == nil {
		io.Prompts = []Prompt{}
	}
	if io.Completions == nil {
		io.Completions = []Completion{}
	}
	encoded, err := compactJSON(io)
	if err != nil {
		return `{"prompts":[],"completions":[]}`
	}
	return encoded
}

// Normalize builds the canonical records for one call. The explicit values
// win when present; fallbackInput is used only when it is non-empty. Finish
// reason and token counts come from extra, the span's current attributes.
func Normalize(explicitInput, explicitOutput, fallbackInput, fallbackOutput any, extra map[string]any) (out IO) {
	out = emptyIO()
	defer func() {
		if recover() != nil {
			out = emptyIO()
		}
	}()

	switch {
	case present(explicitInput):
		out.Prompts = append(out.Prompts, Prompt{Role: trace.RoleUser, Content: Stringify(explicitInput)})
	case truthy(fallbackInput):
		out.Prompts = append(out.Prompts, Prompt{Role: trace.RoleUser, Content: Stringify(fallbackInput)})
	}

	output := explicitOutput
	if !present(output) {
		output = fallbackOutput
	}
	if !present(output) {
		return out
	}

	usage := Usage{
		PromptTokens:     trace.AttributeInt64Ptr(extra, trace.AttrPromptTokens),
		CompletionTokens: trace.AttributeInt64Ptr(extra, trace.AttrCompletionTokens),
		TotalTokens:      trace.AttributeInt64Ptr(extra, trace.AttrTotalTokens),
	}.Complete()
	out.Completions = append(out.Completions, Completion{
		Role:             trace.RoleAssistant,
		Content:          Stringify(output),
		FinishReason:     trace.AttributeText(extra[trace.AttrFinishReason]),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	})
	return out
}

// present reports whether v carries a value. Typed nil pointers, maps,
// slices and funcs count as absent.
func present(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// truthy reports whether v is present and non-empty.
func truthy(v any) bool {
	if !present(v) {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	}
	return true
}

func compactJSON(v any) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
