package providers

import (
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ongoingai/agenttrace/internal/normalize"
)

// Anthropic adapts anthropic-sdk-go message requests and responses, and
// their raw JSON bodies.
type Anthropic struct{}

func (Anthropic) Name() string {
	return "anthropic"
}

func (a Anthropic) Extract(request, response any) (CallData, error) {
	data := CallData{System: a.Name()}

	switch req := request.(type) {
	case nil:
	case anthropic.MessageNewParams:
		applyAnthropicRequest(&data, req)
	case *anthropic.MessageNewParams:
		if req != nil {
			applyAnthropicRequest(&data, *req)
		}
	default:
		raw, ok := rawJSON(request)
		if !ok {
			return data, fmt.Errorf("anthropic: unsupported request type %T", request)
		}
		if payload, ok := parseJSONMap(raw); ok {
			data.Model = extractModel(payload)
			if system := contentFromJSON(payload["system"]); system != "" {
				data.Messages = append(data.Messages, Message{Role: "system", Content: system})
			}
			data.Messages = append(data.Messages, messagesFromJSON(payload)...)
		}
	}

	switch resp := response.(type) {
	case nil:
	case anthropic.Message:
		applyAnthropicResponse(&data, resp)
	case *anthropic.Message:
		if resp != nil {
			applyAnthropicResponse(&data, *resp)
		}
	default:
		raw, ok := rawJSON(response)
		if !ok {
			return data, fmt.Errorf("anthropic: unsupported response type %T", response)
		}
		if payload, ok := parseJSONMap(raw); ok {
			applyAnthropicResponseJSON(&data, payload)
		}
	}
	return data, nil
}

func applyAnthropicRequest(data *CallData, req anthropic.MessageNewParams) {
	data.Model = string(req.Model)
	data.Messages = make([]Message, 0, len(req.Messages)+1)
	if len(req.System) > 0 {
		parts := make([]string, 0, len(req.System))
		for _, block := range req.System {
			parts = append(parts, block.Text)
		}
		data.Messages = append(data.Messages, Message{Role: "system", Content: strings.Join(parts, "\n")})
	}
	for _, msg := range req.Messages {
		parts := make([]string, 0, len(msg.Content))
		for _, block := range msg.Content {
			if block.OfText != nil && block.OfText.Text != "" {
				parts = append(parts, block.OfText.Text)
			}
		}
		data.Messages = append(data.Messages, Message{Role: string(msg.Role), Content: strings.Join(parts, "\n")})
	}
}

func applyAnthropicResponse(data *CallData, msg anthropic.Message) {
	if msg.Model != "" {
		data.Model = string(msg.Model)
	}
	if usage, ok := normalize.ExtractUsage(msg.Usage); ok {
		data.Usage = usage
	}
	data.Completion = normalize.AnthropicText(msg.Content)
	data.FinishReason = string(msg.StopReason)
	for _, block := range msg.Content {
		if block.Type == "tool_use" {
			data.ToolCalls = append(data.ToolCalls, ToolCall{Name: block.Name, Arguments: string(block.Input)})
		}
	}
}

func applyAnthropicResponseJSON(data *CallData, payload map[string]any) {
	if model := extractModel(payload); model != "" {
		data.Model = model
	}
	data.Usage = extractUsage(payload)
	data.FinishReason = stringField(payload, "stop_reason")
	data.Completion = contentFromJSON(payload["content"])

	blocks, _ := payload["content"].([]any)
	for _, item := range blocks {
		block, _ := item.(map[string]any)
		if stringField(block, "type") != "tool_use" {
			continue
		}
		data.ToolCalls = append(data.ToolCalls, ToolCall{
			Name:      stringField(block, "name"),
			Arguments: argumentsText(block["input"]),
		})
	}
}
