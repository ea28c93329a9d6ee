package ingest

import "time"

// TracePayload is the wire form of a finished trace. Optional fields are
// pointers so absent values serialize as explicit JSON null; the ingest API
// relies on a stable object shape and never on field omission.
type TracePayload struct {
	ID            string         `json:"id"`
	SessionID     *string        `json:"session_id"`
	UserID        *string        `json:"user_id"`
	Name          string         `json:"name"`
	Status        string         `json:"status"`
	Input         any            `json:"input"`
	Output        any            `json:"output"`
	Metadata      map[string]any `json:"metadata"`
	PromptName    *string        `json:"prompt_name"`
	PromptVersion *int           `json:"prompt_version"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       *time.Time     `json:"ended_at"`
	Spans         []SpanPayload  `json:"spans"`
}

// SpanPayload is the wire form of a span. Metrics fields stay null when the
// span was never ended; a trace may legally ship spans that are still open.
type SpanPayload struct {
	ID                 string         `json:"id"`
	ParentSpanID       *string        `json:"parent_span_id"`
	SpanType           string         `json:"span_type"`
	Name               string         `json:"name"`
	Model              *string        `json:"model"`
	Provider           *string        `json:"provider"`
	Input              any            `json:"input"`
	Output             any            `json:"output"`
	Metadata           map[string]any `json:"metadata"`
	StartedAt          time.Time      `json:"started_at"`
	InputTokens        *int           `json:"input_tokens"`
	OutputTokens       *int           `json:"output_tokens"`
	Cost               *float64       `json:"cost"`
	LatencyMS          *int64         `json:"latency_ms"`
	TimeToFirstTokenMS *int64         `json:"time_to_first_token_ms"`
	Status             *string        `json:"status"`
	ErrorMessage       *string        `json:"error_message"`
}

// ErrorEvent is one captured application error in wire form.
type ErrorEvent struct {
	Timestamp        time.Time      `json:"timestamp"`
	Source           string         `json:"source"`
	Environment      string         `json:"environment"`
	Release          *string        `json:"release"`
	ErrorType        string         `json:"error_type"`
	Message          string         `json:"message"`
	RouteOrProcedure *string        `json:"route_or_procedure"`
	Stack            *string        `json:"stack"`
	HTTPStatus       *int           `json:"http_status"`
	RequestID        *string        `json:"request_id"`
	UserIDHash       *string        `json:"user_id_hash"`
	Metadata         map[string]any `json:"metadata"`
}

type traceBatch struct {
	Traces []TracePayload `json:"traces"`
}

type eventBatch struct {
	Events []ErrorEvent `json:"events"`
}
