package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	traceBatchPath = "/v1/traces/batch"
	eventBatchPath = "/v1/ingest/batch"

	headerSignature  = "X-Signature"
	headerProjectKey = "X-Project-Key"

	defaultFlushInterval  = 5 * time.Second
	defaultErrorThreshold = 10
	defaultSendTimeout    = 10 * time.Second
)

const (
	kindTraces = "traces"
	kindEvents = "events"
)

// Metrics holds optional callbacks the pipeline invokes at delivery points.
type Metrics struct {
	// OnFlush is called after a batch was accepted by the ingest endpoint.
	OnFlush func(kind string, batchSize int, duration time.Duration)
	// OnSendFailure is called when a batch is lost to a transport failure
	// or a non-success status.
	OnSendFailure func(kind string, batchSize int)
}

// Options configures a Pipeline.
type Options struct {
	Endpoint       string
	ProjectKey     string
	Secret         string // legacy signing secret, used when ProjectKey is empty
	FlushInterval  time.Duration
	ErrorThreshold int
	HTTPClient     *http.Client
	UserAgent      string
	Logger         *slog.Logger
	Metrics        Metrics
}

// Pipeline buffers finished error events and trace payloads and delivers
// them as signed batches. Delivery is best-effort, at-most-once: a batch
// that fails to send is logged and dropped, never re-queued.
type Pipeline struct {
	endpoint   string
	projectKey string
	userAgent  string
	threshold  int
	client     *http.Client
	logger     *slog.Logger
	metrics    Metrics

	mu     sync.Mutex
	events []ErrorEvent
	traces []TracePayload

	// key is written once by the derivation goroutine before keyReady is
	// closed; senders only read it after <-keyReady.
	key      []byte
	keyReady chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Pipeline and starts its key-derivation task and periodic
// flush timer.
func New(opts Options) *Pipeline {
	interval := opts.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	threshold := opts.ErrorThreshold
	if threshold <= 0 {
		threshold = defaultErrorThreshold
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultSendTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pipeline := &Pipeline{
		endpoint:   strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/"),
		projectKey: strings.TrimSpace(opts.ProjectKey),
		userAgent:  strings.TrimSpace(opts.UserAgent),
		threshold:  threshold,
		client:     client,
		logger:     logger.With("component", "ingest"),
		metrics:    opts.Metrics,
		keyReady:   make(chan struct{}),
		done:       make(chan struct{}),
	}

	secret := pipeline.projectKey
	if secret == "" {
		secret = strings.TrimSpace(opts.Secret)
	}
	go func() {
		pipeline.key = DeriveKey(secret)
		close(pipeline.keyReady)
	}()

	pipeline.wg.Add(1)
	go func() {
		defer pipeline.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-pipeline.done:
				return
			case <-ticker.C:
				pipeline.Flush(context.Background())
			}
		}
	}()

	return pipeline
}

// EnqueueError appends an error event. Reaching the configured threshold
// triggers a detached flush of the error buffer; the caller never observes
// its outcome.
func (p *Pipeline) EnqueueError(event ErrorEvent) {
	p.mu.Lock()
	p.events = append(p.events, event)
	pending := len(p.events)
	p.mu.Unlock()

	if pending >= p.threshold {
		go p.flushEvents(context.Background())
	}
}

// EnqueueTrace appends a finished trace payload for the next flush.
func (p *Pipeline) EnqueueTrace(payload TracePayload) {
	p.mu.Lock()
	p.traces = append(p.traces, payload)
	p.mu.Unlock()
}

// Flush drains and sends both buffers concurrently, returning once both
// sends finished. Each buffer is drained atomically before any network I/O,
// so items enqueued during an in-flight send land in the next batch and a
// concurrent flush of the same buffer can never double-send an item.
func (p *Pipeline) Flush(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.flushEvents(ctx)
	}()
	go func() {
		defer wg.Done()
		p.flushTraces(ctx)
	}()
	wg.Wait()
}

// Close stops the periodic timer and performs one final flush. It does not
// wait for detached threshold flushes already in flight.
func (p *Pipeline) Close(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	p.Flush(ctx)
	return nil
}

func (p *Pipeline) flushEvents(ctx context.Context) {
	p.mu.Lock()
	batch := p.events
	p.events = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	body, err := json.Marshal(eventBatch{Events: batch})
	if err != nil {
		p.logger.Warn("failed to encode error batch", "error", err)
		return
	}
	p.send(ctx, eventBatchPath, kindEvents, body, len(batch))
}

func (p *Pipeline) flushTraces(ctx context.Context) {
	p.mu.Lock()
	batch := p.traces
	p.traces = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	body, err := json.Marshal(traceBatch{Traces: batch})
	if err != nil {
		p.logger.Warn("failed to encode trace batch", "error", err)
		return
	}
	p.send(ctx, traceBatchPath, kindTraces, body, len(batch))
}

// send delivers one signed batch. Failures are logged and the batch is
// dropped; telemetry loss is preferred over destabilizing the host
// application.
func (p *Pipeline) send(ctx context.Context, path, kind string, body []byte, batchSize int) {
	select {
	case <-p.keyReady:
	case <-ctx.Done():
		p.logger.Warn("telemetry batch abandoned before signing", "kind", kind, "error", ctx.Err())
		p.reportSendFailure(kind, batchSize)
		return
	}

	start := time.Now()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+path, bytes.NewReader(body))
	if err != nil {
		p.logger.Warn("failed to build ingest request", "kind", kind, "error", err)
		p.reportSendFailure(kind, batchSize)
		return
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(headerSignature, Sign(p.key, body))
	if p.projectKey != "" {
		request.Header.Set(headerProjectKey, p.projectKey)
	}
	if p.userAgent != "" {
		request.Header.Set("User-Agent", p.userAgent)
	}

	response, err := p.client.Do(request)
	if err != nil {
		p.logger.Warn("telemetry batch send failed", "kind", kind, "batch_size", batchSize, "error", err)
		p.reportSendFailure(kind, batchSize)
		return
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		p.logger.Warn("telemetry batch rejected", "kind", kind, "batch_size", batchSize, "status", response.StatusCode)
		p.reportSendFailure(kind, batchSize)
		return
	}

	if p.metrics.OnFlush != nil {
		p.metrics.OnFlush(kind, batchSize, time.Since(start))
	}
}

func (p *Pipeline) reportSendFailure(kind string, batchSize int) {
	if p.metrics.OnSendFailure != nil {
		p.metrics.OnSendFailure(kind, batchSize)
	}
}
