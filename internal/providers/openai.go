package providers

import (
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ongoingai/agenttrace/internal/normalize"
)

// OpenAI adapts go-openai chat completion requests and responses, and their
// raw JSON bodies.
type OpenAI struct{}

func (OpenAI) Name() string {
	return "openai"
}

func (a OpenAI) Extract(request, response any) (CallData, error) {
	data := CallData{System: a.Name()}

	switch req := request.(type) {
	case nil:
	case openai.ChatCompletionRequest:
		applyOpenAIRequest(&data, req)
	case *openai.ChatCompletionRequest:
		if req != nil {
			applyOpenAIRequest(&data, *req)
		}
	default:
		raw, ok := rawJSON(request)
		if !ok {
			return data, fmt.Errorf("openai: unsupported request type %T", request)
		}
		if payload, ok := parseJSONMap(raw); ok {
			data.Model = extractModel(payload)
			data.Messages = messagesFromJSON(payload)
		}
	}

	switch resp := response.(type) {
	case nil:
	case openai.ChatCompletionResponse:
		applyOpenAIResponse(&data, resp)
	case *openai.ChatCompletionResponse:
		if resp != nil {
			applyOpenAIResponse(&data, *resp)
		}
	default:
		raw, ok := rawJSON(response)
		if !ok {
			return data, fmt.Errorf("openai: unsupported response type %T", response)
		}
		if payload, ok := parseJSONMap(raw); ok {
			applyOpenAIResponseJSON(&data, payload)
		}
	}
	return data, nil
}

func applyOpenAIRequest(data *CallData, req openai.ChatCompletionRequest) {
	data.Model = req.Model
	data.Messages = make([]Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		data.Messages = append(data.Messages, Message{Role: msg.Role, Content: normalize.OpenAIMessageText(msg)})
	}
}

func applyOpenAIResponse(data *CallData, resp openai.ChatCompletionResponse) {
	if resp.Model != "" {
		data.Model = resp.Model
	}
	if usage, ok := normalize.ExtractUsage(resp.Usage); ok {
		data.Usage = usage
	}
	if len(resp.Choices) == 0 {
		return
	}
	choice := resp.Choices[0]
	data.Completion = normalize.OpenAIMessageText(choice.Message)
	data.FinishReason = string(choice.FinishReason)
	for _, call := range choice.Message.ToolCalls {
		data.ToolCalls = append(data.ToolCalls, ToolCall{Name: call.Function.Name, Arguments: call.Function.Arguments})
	}
}

func applyOpenAIResponseJSON(data *CallData, payload map[string]any) {
	if model := extractModel(payload); model != "" {
		data.Model = model
	}
	data.Usage = extractUsage(payload)

	choices, _ := payload["choices"].([]any)
	if len(choices) == 0 {
		return
	}
	choice, _ := choices[0].(map[string]any)
	data.FinishReason = stringField(choice, "finish_reason")
	message, _ := choice["message"].(map[string]any)
	data.Completion = contentFromJSON(message["content"])
	calls, _ := message["tool_calls"].([]any)
	for _, item := range calls {
		call, _ := item.(map[string]any)
		function, _ := call["function"].(map[string]any)
		data.ToolCalls = append(data.ToolCalls, ToolCall{
			Name:      stringField(function, "name"),
			Arguments: argumentsText(function["arguments"]),
		})
	}
}
