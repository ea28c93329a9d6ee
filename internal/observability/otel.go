package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ongoingai/sdk-go/internal/ingest"
)

const (
	instrumentationName = "ongoingai.sdk"
)

// Config controls the optional OpenTelemetry bridge. Disabled by default;
// the SDK's own delivery path never depends on it.
type Config struct {
	Enabled                bool    `yaml:"enabled"`
	Endpoint               string  `yaml:"endpoint"`
	Insecure               bool    `yaml:"insecure"`
	ServiceName            string  `yaml:"service_name"`
	TracesEnabled          bool    `yaml:"traces_enabled"`
	MetricsEnabled         bool    `yaml:"metrics_enabled"`
	SamplingRatio          float64 `yaml:"sampling_ratio"`
	ExportTimeoutMS        int     `yaml:"export_timeout_ms"`
	MetricExportIntervalMS int     `yaml:"metric_export_interval_ms"`
}

// Default returns the bridge defaults used when no configuration is given.
func Default() Config {
	return Config{
		Enabled:                false,
		Endpoint:               "localhost:4318",
		Insecure:               false,
		ServiceName:            "ongoingai-sdk",
		TracesEnabled:          true,
		MetricsEnabled:         true,
		SamplingRatio:          1.0,
		ExportTimeoutMS:        10000,
		MetricExportIntervalMS: 60000,
	}
}

// Validate checks bridge settings; a disabled bridge is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("observability.otel.endpoint must not be empty when otel is enabled")
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		return errors.New("observability.otel.service_name must not be empty when otel is enabled")
	}
	if c.SamplingRatio < 0 || c.SamplingRatio > 1 {
		return fmt.Errorf("observability.otel.sampling_ratio must be between 0 and 1 (got %v)", c.SamplingRatio)
	}
	if c.ExportTimeoutMS <= 0 {
		return errors.New("observability.otel.export_timeout_ms must be greater than zero")
	}
	if c.MetricExportIntervalMS <= 0 {
		return errors.New("observability.otel.metric_export_interval_ms must be greater than zero")
	}
	return nil
}

// Runtime exposes the OpenTelemetry hooks the SDK uses: transport wrapping,
// delivery counters, and mirroring of finished traces into OTel spans.
type Runtime struct {
	enabled bool

	tracer                 oteltrace.Tracer
	batchesFlushedCounter  metric.Int64Counter
	batchSendFailedCounter metric.Int64Counter

	shutdownFns []func(context.Context) error
}

// Setup initializes OpenTelemetry providers and runtime hooks.
func Setup(ctx context.Context, cfg Config, serviceVersion string, logger *slog.Logger) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	runtime := &Runtime{}
	if !cfg.Enabled {
		return runtime, nil
	}

	exportTimeout := time.Duration(cfg.ExportTimeoutMS) * time.Millisecond
	metricInterval := time.Duration(cfg.MetricExportIntervalMS) * time.Millisecond
	otlpEndpoint, inferredInsecure, err := normalizeOTLPEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	insecure := cfg.Insecure
	if strings.Contains(strings.TrimSpace(cfg.Endpoint), "://") {
		// Endpoint URLs carry explicit transport intent and win over the
		// insecure toggle to avoid mismatches like https endpoints + insecure=true.
		insecure = inferredInsecure
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", strings.TrimSpace(cfg.ServiceName)),
		attribute.String("service.version", strings.TrimSpace(serviceVersion)),
	)

	if cfg.TracesEnabled {
		traceExporterOptions := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(otlpEndpoint),
			otlptracehttp.WithTimeout(exportTimeout),
		}
		if insecure {
			traceExporterOptions = append(traceExporterOptions, otlptracehttp.WithInsecure())
		}
		traceExporter, err := otlptracehttp.New(ctx, traceExporterOptions...)
		if err != nil {
			return nil, fmt.Errorf("initialize otel trace exporter: %w", err)
		}

		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))),
			sdktrace.WithBatcher(newScrubbingExporter(traceExporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, tracerProvider.Shutdown)
		runtime.tracer = tracerProvider.Tracer(instrumentationName)
	}

	if cfg.MetricsEnabled {
		metricExporterOptions := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(otlpEndpoint),
			otlpmetrichttp.WithTimeout(exportTimeout),
		}
		if insecure {
			metricExporterOptions = append(metricExporterOptions, otlpmetrichttp.WithInsecure())
		}
		metricExporter, err := otlpmetrichttp.New(ctx, metricExporterOptions...)
		if err != nil {
			_ = runtime.Shutdown(context.Background())
			return nil, fmt.Errorf("initialize otel metric exporter: %w", err)
		}

		reader := sdkmetric.NewPeriodicReader(
			metricExporter,
			sdkmetric.WithInterval(metricInterval),
			sdkmetric.WithTimeout(exportTimeout),
		)
		meterProvider := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		otel.SetMeterProvider(meterProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, meterProvider.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	meter := otel.Meter(instrumentationName)
	batchesFlushedCounter, metricErr := meter.Int64Counter(
		"ongoingai.sdk.batches_flushed_total",
		metric.WithDescription("Count of telemetry batches accepted by the ingest endpoint."),
	)
	if metricErr != nil && logger != nil {
		logger.Warn("failed to create opentelemetry counter", "metric", "ongoingai.sdk.batches_flushed_total", "error", metricErr)
	}
	runtime.batchesFlushedCounter = batchesFlushedCounter

	batchSendFailedCounter, metricErr := meter.Int64Counter(
		"ongoingai.sdk.batch_send_failed_total",
		metric.WithDescription("Count of telemetry batches dropped after send failures."),
	)
	if metricErr != nil && logger != nil {
		logger.Warn("failed to create opentelemetry counter", "metric", "ongoingai.sdk.batch_send_failed_total", "error", metricErr)
	}
	runtime.batchSendFailedCounter = batchSendFailedCounter

	runtime.enabled = true
	if logger != nil {
		logger.Info(
			"opentelemetry enabled",
			"otel_endpoint", otlpEndpoint,
			"otel_traces_enabled", cfg.TracesEnabled,
			"otel_metrics_enabled", cfg.MetricsEnabled,
			"otel_sampling_ratio", cfg.SamplingRatio,
		)
	}

	return runtime, nil
}

// Enabled reports whether OpenTelemetry instrumentation is active.
func (r *Runtime) Enabled() bool {
	return r != nil && r.enabled
}

// WrapHTTPTransport wraps the ingest HTTP transport with OpenTelemetry spans.
func (r *Runtime) WrapHTTPTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if !r.Enabled() {
		return base
	}
	return otelhttp.NewTransport(
		base,
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return "ingest " + normalizedMethod(req.Method) + " " + req.URL.Path
		}),
	)
}

// RecordBatchFlush increments the accepted-batch counter.
func (r *Runtime) RecordBatchFlush(kind string, batchSize int, duration time.Duration) {
	if !r.Enabled() || r.batchesFlushedCounter == nil {
		return
	}
	r.batchesFlushedCounter.Add(
		context.Background(),
		1,
		metric.WithAttributes(
			attribute.String("kind", strings.TrimSpace(kind)),
			attribute.Int("batch_size", batchSize),
			attribute.Int64("duration_ms", duration.Milliseconds()),
		),
	)
}

// RecordSendFailure increments the dropped-batch counter.
func (r *Runtime) RecordSendFailure(kind string, batchSize int) {
	if !r.Enabled() || r.batchSendFailedCounter == nil {
		return
	}
	r.batchSendFailedCounter.Add(
		context.Background(),
		int64(batchSize),
		metric.WithAttributes(attribute.String("kind", strings.TrimSpace(kind))),
	)
}

// MirrorTrace re-emits a finished trace as OpenTelemetry spans with explicit
// timestamps. Mirroring is best-effort and never affects batch delivery.
func (r *Runtime) MirrorTrace(payload ingest.TracePayload) {
	if !r.Enabled() || r.tracer == nil {
		return
	}

	endedAt := payload.StartedAt
	if payload.EndedAt != nil {
		endedAt = *payload.EndedAt
	}

	ctx, root := r.tracer.Start(
		context.Background(),
		payload.Name,
		oteltrace.WithTimestamp(payload.StartedAt),
		oteltrace.WithAttributes(attribute.String("ongoingai.trace_id", payload.ID)),
	)
	if payload.Status == "error" {
		root.SetStatus(codes.Error, "trace ended with error status")
	}

	for _, span := range payload.Spans {
		spanEnd := span.StartedAt
		if span.LatencyMS != nil {
			spanEnd = span.StartedAt.Add(time.Duration(*span.LatencyMS) * time.Millisecond)
		}

		attrs := []attribute.KeyValue{
			attribute.String("ongoingai.span_id", span.ID),
			attribute.String("ongoingai.span_type", span.SpanType),
		}
		if span.Model != nil {
			attrs = append(attrs, attribute.String("ongoingai.model", *span.Model))
		}
		if span.Provider != nil {
			attrs = append(attrs, attribute.String("ongoingai.provider", *span.Provider))
		}
		if span.InputTokens != nil {
			attrs = append(attrs, attribute.Int("ongoingai.input_tokens", *span.InputTokens))
		}
		if span.OutputTokens != nil {
			attrs = append(attrs, attribute.Int("ongoingai.output_tokens", *span.OutputTokens))
		}
		if span.Cost != nil {
			attrs = append(attrs, attribute.Float64("ongoingai.cost_usd", *span.Cost))
		}

		_, child := r.tracer.Start(
			ctx,
			span.Name,
			oteltrace.WithTimestamp(span.StartedAt),
			oteltrace.WithAttributes(attrs...),
		)
		if span.Status != nil && *span.Status == "error" {
			message := "span ended with error status"
			if span.ErrorMessage != nil {
				message = *span.ErrorMessage
			}
			child.SetStatus(codes.Error, message)
		}
		child.End(oteltrace.WithTimestamp(spanEnd))
	}

	root.End(oteltrace.WithTimestamp(endedAt))
}

// Shutdown flushes and stops OpenTelemetry providers.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil || len(r.shutdownFns) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i := len(r.shutdownFns) - 1; i >= 0; i-- {
		if err := r.shutdownFns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func normalizeOTLPEndpoint(raw string) (string, bool, error) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return "", false, errors.New("observability.otel.endpoint must not be empty")
	}

	if !strings.Contains(endpoint, "://") {
		return endpoint, false, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse observability.otel.endpoint: %w", err)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", false, fmt.Errorf("observability.otel.endpoint must include host (got %q)", raw)
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return parsed.Host, true, nil
	case "https":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("observability.otel.endpoint scheme must be http or https when provided (got %q)", parsed.Scheme)
	}
}

func normalizedMethod(method string) string {
	method = strings.TrimSpace(method)
	if method == "" {
		return "UNKNOWN"
	}
	return method
}
