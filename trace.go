package ongoingai

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ongoingai/sdk-go/internal/ingest"
)

type TraceStatus string

const (
	TraceStatusRunning   TraceStatus = "running"
	TraceStatusCompleted TraceStatus = "completed"
	TraceStatusError     TraceStatus = "error"
)

// TraceOptions configures a trace at creation. Name is required.
type TraceOptions struct {
	Name          string
	SessionID     string
	UserID        string
	Input         any
	Metadata      map[string]any
	PromptName    string
	PromptVersion int
}

// EndTraceOptions carries the final status and optional output payload.
type EndTraceOptions struct {
	Status TraceStatus
	Output any
}

// Trace is one named logical operation owning an append-only ordered span
// sequence. Ending a trace snapshots all current spans, open ones
// included, into an immutable payload handed to the delivery pipeline.
// End must be called at most once; the trace is not reused afterward.
type Trace struct {
	client *Client
	logger *slog.Logger

	id            string
	name          string
	sessionID     *string
	userID        *string
	input         any
	metadata      map[string]any
	promptName    *string
	promptVersion *int
	startedAt     time.Time

	mu     sync.Mutex
	status TraceStatus
	spans  []*Span
	ended  bool
}

func newTrace(client *Client, opts TraceOptions) *Trace {
	trace := &Trace{
		client:     client,
		logger:     client.logger,
		id:         newID(),
		name:       opts.Name,
		sessionID:  nonEmpty(opts.SessionID),
		userID:     nonEmpty(opts.UserID),
		input:      opts.Input,
		metadata:   opts.Metadata,
		promptName: nonEmpty(opts.PromptName),
		startedAt:  time.Now().UTC(),
		status:     TraceStatusRunning,
	}
	if opts.PromptVersion > 0 {
		version := opts.PromptVersion
		trace.promptVersion = &version
	}
	return trace
}

// ID returns the trace's opaque identifier.
func (t *Trace) ID() string {
	return t.id
}

// StartSpan creates a root-level span appended to the trace's sequence.
// The caller ends the returned span independently; there is no ordering
// constraint between span ends and the trace's own End.
func (t *Trace) StartSpan(opts SpanOptions) *Span {
	span := newSpan(t.logger, opts)

	t.mu.Lock()
	t.spans = append(t.spans, span)
	t.mu.Unlock()

	return span
}

// End fixes the trace's final status, snapshots the payload, and hands it
// to the delivery pipeline. A second End logs a warning and is ignored so
// the first payload stands.
func (t *Trace) End(opts EndTraceOptions) {
	now := time.Now().UTC()

	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		t.logger.Warn("trace ended more than once", "trace_id", t.id, "trace_name", t.name)
		return
	}
	t.ended = true

	status := opts.Status
	if status == "" {
		status = TraceStatusCompleted
	}
	t.status = status

	spans := make([]ingest.SpanPayload, 0, len(t.spans))
	for _, span := range t.spans {
		spans = append(spans, span.payload())
	}
	t.mu.Unlock()

	payload := ingest.TracePayload{
		ID:            t.id,
		SessionID:     t.sessionID,
		UserID:        t.userID,
		Name:          t.name,
		Status:        string(status),
		Input:         t.input,
		Output:        opts.Output,
		Metadata:      t.metadata,
		PromptName:    t.promptName,
		PromptVersion: t.promptVersion,
		StartedAt:     t.startedAt,
		EndedAt:       &now,
		Spans:         spans,
	}

	t.client.deliverTrace(payload)
}

func newID() string {
	var bytes [16]byte
	if _, err := rand.Read(bytes[:]); err != nil {
		return fmt.Sprintf("id-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes[:])
}
