package ongoingai

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI wraps an OpenAI client so chat completion and embedding calls
// are traced with token and cost accounting. Every other method promotes
// through the embedded client unchanged, including methods added in
// later client versions.
type OpenAI struct {
	*openai.Client

	obs      *Client
	provider string
}

type OpenAIOption func(*OpenAI)

// WithOpenAIEndpoint classifies the wrapper's provider from the client's
// configured base URL, for OpenAI-compatible backends like Azure.
func WithOpenAIEndpoint(endpoint string) OpenAIOption {
	return func(w *OpenAI) {
		w.provider = ProviderForEndpoint(endpoint)
	}
}

// InstrumentOpenAI returns a shape-identical wrapper around api whose
// known call paths are traced through this client. The provider defaults
// to "openai" unless an endpoint option says otherwise.
func (c *Client) InstrumentOpenAI(api *openai.Client, opts ...OpenAIOption) *OpenAI {
	wrapper := &OpenAI{
		Client:   api,
		obs:      c,
		provider: "openai",
	}
	for _, opt := range opts {
		opt(wrapper)
	}
	return wrapper
}

// CreateChatCompletion traces the wrapped call and returns its response
// and error untouched.
func (w *OpenAI) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	trace := w.obs.StartTrace(TraceOptions{Name: w.provider + ".chat.completions.create"})

	var input any
	if len(request.Messages) > 0 {
		input = jsonValue(request.Messages[len(request.Messages)-1])
	}
	span := trace.StartSpan(SpanOptions{
		Type:     SpanTypeGeneration,
		Model:    request.Model,
		Provider: w.provider,
		Input:    input,
	})

	response, err := w.Client.CreateChatCompletion(ctx, request)
	if err != nil {
		span.End(EndSpanOptions{Status: SpanStatusError, ErrorMessage: err.Error()})
		trace.End(EndTraceOptions{Status: TraceStatusError})
		return response, err
	}

	model := response.Model
	if model == "" {
		model = request.Model
	}
	inputTokens := response.Usage.PromptTokens
	outputTokens := response.Usage.CompletionTokens
	cost := w.obs.costFor(model, inputTokens, outputTokens)

	var output any
	if len(response.Choices) > 0 {
		output = response.Choices[0].Message.Content
	}

	span.End(EndSpanOptions{
		Status:       SpanStatusOK,
		InputTokens:  Int(inputTokens),
		OutputTokens: Int(outputTokens),
		Cost:         Float64(cost),
		Output:       output,
	})
	trace.End(EndTraceOptions{Status: TraceStatusCompleted, Output: output})

	return response, nil
}

// CreateEmbeddings traces the wrapped call. Embeddings bill prompt tokens
// only, so output tokens stay null and cost uses the input rate alone.
func (w *OpenAI) CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	request := conv.Convert()
	trace := w.obs.StartTrace(TraceOptions{Name: w.provider + ".embeddings.create"})
	span := trace.StartSpan(SpanOptions{
		Type:     SpanTypeGeneration,
		Model:    string(request.Model),
		Provider: w.provider,
		Input:    jsonValue(request.Input),
	})

	response, err := w.Client.CreateEmbeddings(ctx, conv)
	if err != nil {
		span.End(EndSpanOptions{Status: SpanStatusError, ErrorMessage: err.Error()})
		trace.End(EndTraceOptions{Status: TraceStatusError})
		return response, err
	}

	model := string(response.Model)
	if model == "" {
		model = string(request.Model)
	}
	inputTokens := response.Usage.PromptTokens
	cost := w.obs.costFor(model, inputTokens, 0)

	span.End(EndSpanOptions{
		Status:      SpanStatusOK,
		InputTokens: Int(inputTokens),
		Cost:        Float64(cost),
	})
	trace.End(EndTraceOptions{Status: TraceStatusCompleted})

	return response, nil
}
