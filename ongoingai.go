// Package ongoingai is the client-side telemetry SDK for OngoingAI.
// Applications either drive traces and spans manually, or hand their
// OpenAI/Anthropic client to an instrumentation wrapper and keep their
// call sites unchanged. Finished traces and captured errors are batched,
// signed, and delivered best-effort to the ingest API.
package ongoingai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ongoingai/sdk-go/internal/ingest"
	"github.com/ongoingai/sdk-go/internal/observability"
	"github.com/ongoingai/sdk-go/internal/version"
)

// ingestSink is the delivery surface the client and traces depend on.
type ingestSink interface {
	EnqueueTrace(ingest.TracePayload)
	EnqueueError(ingest.ErrorEvent)
	Flush(ctx context.Context)
	Close(ctx context.Context) error
}

// newPipeline builds the delivery pipeline; a variable so tests can
// substitute a capturing sink.
var newPipeline = func(opts ingest.Options) ingestSink {
	return ingest.New(opts)
}

// Client is the SDK entry point. It owns the cost table, the delivery
// pipeline, and the optional OpenTelemetry bridge.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	costs    *costTable
	pipeline ingestSink
	otel     *observability.Runtime
}

// New validates cfg and assembles a Client. A nil logger falls back to
// slog.Default().
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	otelRuntime, err := observability.Setup(context.Background(), cfg.Observability.OTel, version.Version, logger)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}
	if otelRuntime.Enabled() {
		logger = slog.New(observability.NewTraceLogHandler(logger.Handler()))
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelRuntime.WrapHTTPTransport(nil),
	}

	client := &Client{
		cfg:    cfg,
		logger: logger,
		costs:  newCostTable(cfg.Costs),
		otel:   otelRuntime,
	}
	client.pipeline = newPipeline(ingest.Options{
		Endpoint:       cfg.Endpoint,
		ProjectKey:     cfg.ProjectKey,
		Secret:         cfg.Secret,
		FlushInterval:  time.Duration(cfg.Flush.IntervalMS) * time.Millisecond,
		ErrorThreshold: cfg.Flush.ErrorThreshold,
		HTTPClient:     httpClient,
		UserAgent:      version.UserAgent(),
		Logger:         logger,
		Metrics: ingest.Metrics{
			OnFlush:       otelRuntime.RecordBatchFlush,
			OnSendFailure: otelRuntime.RecordSendFailure,
		},
	})

	return client, nil
}

// StartTrace opens a new trace delivered through this client's pipeline
// when ended.
func (c *Client) StartTrace(opts TraceOptions) *Trace {
	return newTrace(c, opts)
}

// SetModelCost installs a per-token rate override for model, taking
// precedence over the built-in table for all subsequent calls.
func (c *Client) SetModelCost(model string, cost ModelCost) {
	c.costs.Set(model, cost)
}

// Flush drains and sends all pending telemetry, returning when the sends
// finished.
func (c *Client) Flush(ctx context.Context) {
	c.pipeline.Flush(ctx)
}

// Close stops the pipeline after one final flush and shuts down the
// OpenTelemetry bridge. Intended as the last lifecycle call before exit.
func (c *Client) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return errors.Join(
		c.pipeline.Close(ctx),
		c.otel.Shutdown(ctx),
	)
}

func (c *Client) deliverTrace(payload ingest.TracePayload) {
	c.pipeline.EnqueueTrace(payload)
	c.otel.MirrorTrace(payload)
}

func (c *Client) costFor(model string, inputTokens, outputTokens int) float64 {
	return c.costs.Cost(model, inputTokens, outputTokens)
}

// Int returns a pointer to v, for optional wire fields.
func Int(v int) *int { return &v }

// Int64 returns a pointer to v, for optional wire fields.
func Int64(v int64) *int64 { return &v }

// Float64 returns a pointer to v, for optional wire fields.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to v, for optional wire fields.
func String(v string) *string { return &v }

func nonEmpty(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// jsonValue reduces v to plain JSON-compatible data so payload snapshots
// stay decoupled from provider SDK types.
func jsonValue(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return string(data)
	}
	return out
}
