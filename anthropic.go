package ongoingai

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic wraps an Anthropic client so message creation is traced with
// token and cost accounting. The Messages field shadows the embedded
// client's service; all other services promote through unchanged.
type Anthropic struct {
	anthropic.Client

	Messages *AnthropicMessages
}

// AnthropicMessages is the instrumented message service.
type AnthropicMessages struct {
	svc anthropic.MessageService
	obs *Client
}

// InstrumentAnthropic returns a shape-identical wrapper around api whose
// Messages.New calls are traced through this client.
func (c *Client) InstrumentAnthropic(api anthropic.Client) *Anthropic {
	return &Anthropic{
		Client: api,
		Messages: &AnthropicMessages{
			svc: api.Messages,
			obs: c,
		},
	}
}

// New traces the wrapped message creation and returns its result and
// error untouched.
func (m *AnthropicMessages) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	trace := m.obs.StartTrace(TraceOptions{Name: "anthropic.messages.create"})

	var input any
	if len(params.Messages) > 0 {
		input = jsonValue(params.Messages[len(params.Messages)-1])
	}
	span := trace.StartSpan(SpanOptions{
		Type:     SpanTypeGeneration,
		Model:    string(params.Model),
		Provider: "anthropic",
		Input:    input,
	})

	message, err := m.svc.New(ctx, params, opts...)
	if err != nil {
		span.End(EndSpanOptions{Status: SpanStatusError, ErrorMessage: err.Error()})
		trace.End(EndTraceOptions{Status: TraceStatusError})
		return message, err
	}

	model := string(message.Model)
	if model == "" {
		model = string(params.Model)
	}
	inputTokens := int(message.Usage.InputTokens)
	outputTokens := int(message.Usage.OutputTokens)
	cost := m.obs.costFor(model, inputTokens, outputTokens)

	var output any
	if len(message.Content) > 0 {
		output = message.Content[0].Text
	}

	span.End(EndSpanOptions{
		Status:       SpanStatusOK,
		InputTokens:  Int(inputTokens),
		OutputTokens: Int(outputTokens),
		Cost:         Float64(cost),
		Output:       output,
	})
	trace.End(EndTraceOptions{Status: TraceStatusCompleted, Output: output})

	return message, nil
}
