package ongoingai

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func newOpenAIBackend(t *testing.T, handler http.HandlerFunc) *openai.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = server.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func TestInstrumentedChatCompletion(t *testing.T) {
	client, sink := newTestClient(t)

	api := newOpenAIBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path=%q, want /v1/chat/completions", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150}
		}`))
	})
	wrapped := client.InstrumentOpenAI(api)

	response, err := wrapped.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion() error: %v", err)
	}
	if got := response.Choices[0].Message.Content; got != "hello!" {
		t.Fatalf("content=%q, want %q", got, "hello!")
	}

	traces := sink.Traces()
	if len(traces) != 1 {
		t.Fatalf("traces=%d, want 1", len(traces))
	}
	trace := traces[0]
	if trace.Name != "openai.chat.completions.create" {
		t.Fatalf("trace name=%q, want openai.chat.completions.create", trace.Name)
	}
	if trace.Status != "completed" {
		t.Fatalf("trace status=%q, want completed", trace.Status)
	}
	if len(trace.Spans) != 1 {
		t.Fatalf("spans=%d, want 1", len(trace.Spans))
	}
	span := trace.Spans[0]
	if span.SpanType != "generation" {
		t.Fatalf("span_type=%q, want generation", span.SpanType)
	}
	if span.Provider == nil || *span.Provider != "openai" {
		t.Fatalf("provider=%v, want openai", span.Provider)
	}
	if span.InputTokens == nil || *span.InputTokens != 100 {
		t.Fatalf("input_tokens=%v, want 100", span.InputTokens)
	}
	if span.OutputTokens == nil || *span.OutputTokens != 50 {
		t.Fatalf("output_tokens=%v, want 50", span.OutputTokens)
	}
	if span.Cost == nil || math.Abs(*span.Cost-0.00075) > 1e-12 {
		t.Fatalf("cost=%v, want 0.00075", span.Cost)
	}
	if span.Status == nil || *span.Status != "ok" {
		t.Fatalf("span status=%v, want ok", span.Status)
	}
	if span.Output != "hello!" {
		t.Fatalf("span output=%v, want hello!", span.Output)
	}
}

func TestInstrumentedChatCompletionPropagatesError(t *testing.T) {
	client, sink := newTestClient(t)

	api := newOpenAIBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "invalid api key", "type": "invalid_request_error"}}`))
	})
	wrapped := client.InstrumentOpenAI(api)

	_, err := wrapped.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("CreateChatCompletion() returned nil error")
	}

	traces := sink.Traces()
	if len(traces) != 1 {
		t.Fatalf("traces=%d, want 1", len(traces))
	}
	trace := traces[0]
	if trace.Status != "error" {
		t.Fatalf("trace status=%q, want error", trace.Status)
	}
	span := trace.Spans[0]
	if span.Status == nil || *span.Status != "error" {
		t.Fatalf("span status=%v, want error", span.Status)
	}
	if span.ErrorMessage == nil || *span.ErrorMessage != err.Error() {
		t.Fatalf("error_message=%v, want %q", span.ErrorMessage, err.Error())
	}
}

func TestInstrumentedEmbeddingsCountsPromptTokensOnly(t *testing.T) {
	client, sink := newTestClient(t)

	api := newOpenAIBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path=%q, want /v1/embeddings", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"object": "list",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.1, 0.2]}],
			"model": "text-embedding-3-small",
			"usage": {"prompt_tokens": 8, "total_tokens": 8}
		}`))
	})
	wrapped := client.InstrumentOpenAI(api)

	_, err := wrapped.CreateEmbeddings(context.Background(), openai.EmbeddingRequest{
		Input: []string{"hello"},
		Model: openai.SmallEmbedding3,
	})
	if err != nil {
		t.Fatalf("CreateEmbeddings() error: %v", err)
	}

	traces := sink.Traces()
	if len(traces) != 1 {
		t.Fatalf("traces=%d, want 1", len(traces))
	}
	trace := traces[0]
	if trace.Name != "openai.embeddings.create" {
		t.Fatalf("trace name=%q, want openai.embeddings.create", trace.Name)
	}
	span := trace.Spans[0]
	if span.InputTokens == nil || *span.InputTokens != 8 {
		t.Fatalf("input_tokens=%v, want 8", span.InputTokens)
	}
	if span.OutputTokens != nil {
		t.Fatalf("output_tokens=%v, want nil", span.OutputTokens)
	}
	if span.Cost == nil || math.Abs(*span.Cost-8*0.02e-6) > 1e-15 {
		t.Fatalf("cost=%v, want %v", span.Cost, 8*0.02e-6)
	}
}

func TestInstrumentedClientPromotesUnknownMethods(t *testing.T) {
	client, sink := newTestClient(t)

	api := newOpenAIBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path=%q, want /v1/models", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object": "list", "data": [{"id": "gpt-4o", "object": "model", "owned_by": "openai"}]}`))
	})
	wrapped := client.InstrumentOpenAI(api)

	models, err := wrapped.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	if len(models.Models) != 1 || models.Models[0].ID != "gpt-4o" {
		t.Fatalf("models=%+v, want single gpt-4o", models.Models)
	}
	// Untraced call paths never create telemetry.
	if got := len(sink.Traces()); got != 0 {
		t.Fatalf("traces=%d, want 0", got)
	}
}

func TestWithOpenAIEndpointReclassifiesProvider(t *testing.T) {
	client, sink := newTestClient(t)

	api := newOpenAIBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`))
	})
	wrapped := client.InstrumentOpenAI(api, WithOpenAIEndpoint("https://myorg.openai.azure.com/openai"))

	_, err := wrapped.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion() error: %v", err)
	}

	traces := sink.Traces()
	if len(traces) != 1 {
		t.Fatalf("traces=%d, want 1", len(traces))
	}
	if traces[0].Name != "azure_openai.chat.completions.create" {
		t.Fatalf("trace name=%q, want azure_openai.chat.completions.create", traces[0].Name)
	}
	if provider := traces[0].Spans[0].Provider; provider == nil || *provider != "azure_openai" {
		t.Fatalf("provider=%v, want azure_openai", provider)
	}
}
