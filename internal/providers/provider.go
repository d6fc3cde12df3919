package providers

import (
	"strconv"

	"github.com/ongoingai/agenttrace/internal/normalize"
	"github.com/ongoingai/agenttrace/internal/trace"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ToolCall struct {
	Name      string
	Arguments string
	// Output is the realized tool result, when the caller knows it.
	Output *string
}

// CallData is one vendor call reduced to the fields span capture records.
type CallData struct {
	System       string
	Model        string
	Messages     []Message
	Completion   string
	FinishReason string
	ToolCalls    []ToolCall
	Usage        normalize.Usage
}

// Adapter converts a vendor SDK request and response into CallData.
// Extract accepts a nil response, returning the request side only.
type Adapter interface {
	Name() string
	Extract(request, response any) (CallData, error)
}

// GetContent makes CallData usable as a normalized completion.
func (c CallData) GetContent() string { return c.Completion }

func (c CallData) TokenUsage() normalize.Usage { return c.Usage }

// Attributes returns the gen_ai span attributes describing the call.
func (c CallData) Attributes() map[string]any {
	attrs := make(map[string]any, 8+2*len(c.Messages)+3*len(c.ToolCalls))
	if c.System != "" {
		attrs[trace.AttrSystem] = c.System
	}
	if c.Model != "" {
		attrs[trace.AttrRequestModel] = c.Model
	}
	for i, msg := range c.Messages {
		prefix := trace.AttrPromptPrefix + strconv.Itoa(i)
		attrs[prefix+".role"] = msg.Role
		attrs[prefix+".content"] = msg.Content
	}
	if c.Completion != "" || len(c.ToolCalls) > 0 {
		attrs[trace.AttrCompletionRole] = trace.RoleAssistant
		attrs[trace.AttrCompletionContent] = c.Completion
	}
	if c.FinishReason != "" {
		attrs[trace.AttrFinishReason] = c.FinishReason
	}
	for i, call := range c.ToolCalls {
		attrs[trace.ToolCallKey(i, "name")] = call.Name
		attrs[trace.ToolCallKey(i, "arguments")] = call.Arguments
		if call.Output != nil {
			attrs[trace.ToolCallKey(i, "output")] = *call.Output
		}
	}
	for key, value := range c.Usage.Complete().Attributes() {
		attrs[key] = value
	}
	return attrs
}

// PromptText is the text recorded as the span input: the last user message,
// or the last message of any role when there is no user message.
func (c CallData) PromptText() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == trace.RoleUser {
			return c.Messages[i].Content
		}
	}
	if len(c.Messages) > 0 {
		return c.Messages[len(c.Messages)-1].Content
	}
	return ""
}
