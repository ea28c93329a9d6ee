package ongoingai

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ongoingai/sdk-go/internal/ingest"
)

type SpanType string

const (
	SpanTypeGeneration SpanType = "generation"
	SpanTypeTool       SpanType = "tool"
	SpanTypeRetrieval  SpanType = "retrieval"
	SpanTypeCustom     SpanType = "custom"
)

type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "ok"
	SpanStatusError SpanStatus = "error"
)

// SpanOptions configures a span at creation. Type is required; Name
// defaults to the type.
type SpanOptions struct {
	Type     SpanType
	Name     string
	Model    string
	Provider string
	Input    any
	Metadata map[string]any
}

// EndSpanOptions carries the metrics fixed when a span completes.
// ErrorMessage is expected, by convention, when Status is error.
type EndSpanOptions struct {
	Status             SpanStatus
	InputTokens        *int
	OutputTokens       *int
	Cost               *float64
	TimeToFirstTokenMS *int64
	ErrorMessage       string
	Output             any
}

// Span is one timed, typed unit of work inside a Trace. Metrics fields
// stay nil until End fixes them; an open span serializes with null
// metrics. End must be called at most once.
type Span struct {
	logger *slog.Logger

	id           string
	parentSpanID *string
	spanType     SpanType
	name         string
	model        *string
	provider     *string
	input        any
	metadata     map[string]any
	startedAt    time.Time

	mu                 sync.Mutex
	ended              bool
	status             *string
	inputTokens        *int
	outputTokens       *int
	cost               *float64
	latencyMS          *int64
	timeToFirstTokenMS *int64
	errorMessage       *string
	output             any
}

func newSpan(logger *slog.Logger, opts SpanOptions) *Span {
	name := opts.Name
	if name == "" {
		name = string(opts.Type)
	}
	return &Span{
		logger:    logger,
		id:        newID(),
		spanType:  opts.Type,
		name:      name,
		model:     nonEmpty(opts.Model),
		provider:  nonEmpty(opts.Provider),
		input:     opts.Input,
		metadata:  opts.Metadata,
		startedAt: time.Now().UTC(),
	}
}

// ID returns the span's opaque identifier.
func (s *Span) ID() string {
	return s.id
}

// End fixes the span's metrics. Latency is derived from the span's start
// time and never negative. A second End logs a warning and is ignored.
func (s *Span) End(opts EndSpanOptions) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		s.logger.Warn("span ended more than once", "span_id", s.id, "span_name", s.name)
		return
	}
	s.ended = true

	status := opts.Status
	if status == "" {
		status = SpanStatusOK
	}
	statusValue := string(status)
	s.status = &statusValue

	latency := now.Sub(s.startedAt).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	s.latencyMS = &latency

	s.inputTokens = opts.InputTokens
	s.outputTokens = opts.OutputTokens
	s.cost = opts.Cost
	s.timeToFirstTokenMS = opts.TimeToFirstTokenMS
	s.errorMessage = nonEmpty(opts.ErrorMessage)
	s.output = opts.Output
}

// payload projects the span's current state to its wire shape. Open spans
// project with null metrics.
func (s *Span) payload() ingest.SpanPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ingest.SpanPayload{
		ID:                 s.id,
		ParentSpanID:       s.parentSpanID,
		SpanType:           string(s.spanType),
		Name:               s.name,
		Model:              s.model,
		Provider:           s.provider,
		Input:              s.input,
		Output:             s.output,
		Metadata:           s.metadata,
		StartedAt:          s.startedAt,
		InputTokens:        s.inputTokens,
		OutputTokens:       s.outputTokens,
		Cost:               s.cost,
		LatencyMS:          s.latencyMS,
		TimeToFirstTokenMS: s.timeToFirstTokenMS,
		Status:             s.status,
		ErrorMessage:       s.errorMessage,
	}
}
