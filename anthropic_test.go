package ongoingai

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

func newAnthropicBackend(t *testing.T, handler http.HandlerFunc) anthropic.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return anthropic.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(server.URL),
	)
}

func TestInstrumentedAnthropicMessages(t *testing.T) {
	client, sink := newTestClient(t)

	api := newAnthropicBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path=%q, want /v1/messages", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "hello there"}],
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 12, "output_tokens": 5}
		}`))
	})
	wrapped := client.InstrumentAnthropic(api)

	message, err := wrapped.Messages.New(context.Background(), anthropic.MessageNewParams{
		Model:     "claude-3-5-haiku-latest",
		MaxTokens: 64,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
		},
	})
	if err != nil {
		t.Fatalf("Messages.New() error: %v", err)
	}
	if got := message.Content[0].Text; got != "hello there" {
		t.Fatalf("content=%q, want %q", got, "hello there")
	}

	traces := sink.Traces()
	if len(traces) != 1 {
		t.Fatalf("traces=%d, want 1", len(traces))
	}
	trace := traces[0]
	if trace.Name != "anthropic.messages.create" {
		t.Fatalf("trace name=%q, want anthropic.messages.create", trace.Name)
	}
	if trace.Status != "completed" {
		t.Fatalf("trace status=%q, want completed", trace.Status)
	}
	span := trace.Spans[0]
	if span.Provider == nil || *span.Provider != "anthropic" {
		t.Fatalf("provider=%v, want anthropic", span.Provider)
	}
	if span.Model == nil || *span.Model != "claude-3-5-haiku-latest" {
		t.Fatalf("model=%v, want claude-3-5-haiku-latest", span.Model)
	}
	if span.InputTokens == nil || *span.InputTokens != 12 {
		t.Fatalf("input_tokens=%v, want 12", span.InputTokens)
	}
	if span.OutputTokens == nil || *span.OutputTokens != 5 {
		t.Fatalf("output_tokens=%v, want 5", span.OutputTokens)
	}
	wantCost := 12*0.8e-6 + 5*4e-6
	if span.Cost == nil || math.Abs(*span.Cost-wantCost) > 1e-12 {
		t.Fatalf("cost=%v, want %v", span.Cost, wantCost)
	}
	if span.Output != "hello there" {
		t.Fatalf("span output=%v, want hello there", span.Output)
	}
}

func TestInstrumentedAnthropicPropagatesError(t *testing.T) {
	client, sink := newTestClient(t)

	api := newAnthropicBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type": "error", "error": {"type": "invalid_request_error", "message": "max_tokens required"}}`))
	})
	wrapped := client.InstrumentAnthropic(api)

	_, err := wrapped.Messages.New(context.Background(), anthropic.MessageNewParams{
		Model:     "claude-3-5-haiku-latest",
		MaxTokens: 64,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
		},
	})
	if err == nil {
		t.Fatal("Messages.New() returned nil error")
	}

	traces := sink.Traces()
	if len(traces) != 1 {
		t.Fatalf("traces=%d, want 1", len(traces))
	}
	if traces[0].Status != "error" {
		t.Fatalf("trace status=%q, want error", traces[0].Status)
	}
	span := traces[0].Spans[0]
	if span.Status == nil || *span.Status != "error" {
		t.Fatalf("span status=%v, want error", span.Status)
	}
	if span.ErrorMessage == nil || *span.ErrorMessage != err.Error() {
		t.Fatalf("error_message=%v, want %q", span.ErrorMessage, err.Error())
	}
}
