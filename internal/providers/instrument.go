package providers

import (
	"context"

	"github.com/ongoingai/agenttrace/internal/capture"
	"github.com/ongoingai/agenttrace/internal/trace"
)

// SpanName is the name of the span recorded for one call through adapter.
func SpanName(adapter Adapter) string {
	return adapter.Name() + ".chat"
}

// Instrument runs call inside a client span named after the adapter. The
// request and response are reduced with adapter and recorded as gen_ai
// attributes, declared input and completion. The response and error of call
// are returned unchanged.
func Instrument[Resp any](ctx context.Context, tracer *capture.Tracer, adapter Adapter, request any, call func(context.Context) (Resp, error)) (Resp, error) {
	var response Resp
	opts := []capture.SpanOption{capture.WithKind(trace.SpanKindClient)}
	requestData, requestErr := adapter.Extract(request, nil)
	if requestErr == nil {
		opts = append(opts, capture.WithInput(requestData.PromptText()))
	} else {
		opts = append(opts, capture.WithArgs(request))
	}

	_, err := tracer.Capture(ctx, SpanName(adapter), func(ctx context.Context) (any, error) {
		if requestErr == nil {
			capture.SetAttributes(ctx, requestData.Attributes())
		}
		resp, err := call(ctx)
		response = resp
		if err != nil {
			return nil, err
		}
		data, err := adapter.Extract(request, resp)
		if err != nil {
			return resp, nil
		}
		capture.SetAttributes(ctx, data.Attributes())
		return data, nil
	}, opts...)
	return response, err
}
