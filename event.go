package ongoingai

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/ongoingai/sdk-go/internal/ingest"
)

const (
	eventSource  = "go"
	maxStackSize = 8192
)

// EventOptions carries optional context attached to a captured error.
type EventOptions struct {
	Route      string
	HTTPStatus int
	RequestID  string
	UserID     string
	Metadata   map[string]any
}

// CaptureError enqueues err as an error event. The user id is never sent
// raw; only its sha256 hash leaves the process. A nil err is ignored.
func (c *Client) CaptureError(err error, opts EventOptions) {
	if err == nil {
		return
	}

	event := ingest.ErrorEvent{
		Timestamp:        time.Now().UTC(),
		Source:           eventSource,
		Environment:      c.cfg.Environment,
		Release:          nonEmpty(c.cfg.Release),
		ErrorType:        fmt.Sprintf("%T", err),
		Message:          err.Error(),
		RouteOrProcedure: nonEmpty(opts.Route),
		Stack:            capturedStack(),
		RequestID:        nonEmpty(opts.RequestID),
		Metadata:         opts.Metadata,
	}
	if opts.HTTPStatus > 0 {
		event.HTTPStatus = Int(opts.HTTPStatus)
	}
	if opts.UserID != "" {
		hash := hashSHA256(opts.UserID)
		event.UserIDHash = &hash
	}

	c.pipeline.EnqueueError(event)
}

// Middleware wraps next so panics are captured as error events and
// answered with a 500 instead of crashing the host. The request id is
// taken from known correlation headers or generated.
func (c *Client) Middleware(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := requestIDFromHeaders(req.Header)
		if requestID == "" {
			requestID = newID()
		}
		recorder := &statusRecorder{ResponseWriter: w}

		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			err, ok := recovered.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", recovered)
			}
			c.CaptureError(err, EventOptions{
				Route:      req.Method + " " + req.URL.Path,
				HTTPStatus: http.StatusInternalServerError,
				RequestID:  requestID,
			})
			if !recorder.wrote {
				http.Error(recorder, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(recorder, req)
	})
}

func requestIDFromHeaders(headers http.Header) string {
	if headers == nil {
		return ""
	}
	candidates := []string{
		"X-Request-ID",
		"X-Request-Id",
		"X-Correlation-ID",
		"X-Correlation-Id",
	}
	for _, header := range candidates {
		if id := headers.Get(header); id != "" {
			return id
		}
	}
	return ""
}

func capturedStack() *string {
	stack := string(debug.Stack())
	if len(stack) > maxStackSize {
		stack = stack[:maxStackSize]
	}
	return &stack
}

func hashSHA256(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if !r.wrote {
		r.status = http.StatusOK
		r.wrote = true
	}
	return r.ResponseWriter.Write(p)
}
