package ongoingai

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ongoingai/sdk-go/internal/ingest"
)

// captureSink records enqueued payloads instead of delivering them.
type captureSink struct {
	mu     sync.Mutex
	traces []ingest.TracePayload
	events []ingest.ErrorEvent
	closed bool
}

func (s *captureSink) EnqueueTrace(payload ingest.TracePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, payload)
}

func (s *captureSink) EnqueueError(event ingest.ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) Flush(_ context.Context) {}

func (s *captureSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) Traces() []ingest.TracePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ingest.TracePayload(nil), s.traces...)
}

func (s *captureSink) Events() []ingest.ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ingest.ErrorEvent(nil), s.events...)
}

// newTestClient builds a client whose pipeline is replaced by a capture
// sink. Tests using it must not run in parallel because the constructor
// seam is package-global.
func newTestClient(t *testing.T) (*Client, *captureSink) {
	t.Helper()

	sink := &captureSink{}
	original := newPipeline
	newPipeline = func(_ ingest.Options) ingestSink { return sink }
	t.Cleanup(func() { newPipeline = original })

	cfg := Default()
	cfg.ProjectKey = "pk_test_0123456789"
	client, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close(context.Background())
	})
	return client, sink
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.Endpoint = ""
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("New() accepted empty endpoint")
	}
}

func TestCloseClosesPipeline(t *testing.T) {
	client, sink := newTestClient(t)
	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !sink.closed {
		t.Fatal("pipeline was not closed")
	}
}

func TestSetModelCostAffectsInstrumentedCost(t *testing.T) {
	client, _ := newTestClient(t)

	client.SetModelCost("gpt-4o", ModelCost{Input: 1e-6, Output: 1e-6})
	if got, want := client.costFor("gpt-4o", 100, 50), 150e-6; got != want {
		t.Fatalf("cost=%v, want %v", got, want)
	}
}
