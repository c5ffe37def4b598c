package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"
)

// ContentType is the media type of an NDJSON stream.
const ContentType = "application/x-ndjson"

// Sentinel errors for streaming operations.
var (
	// ErrWriteTimeout indicates that a write exceeded the configured deadline.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone indicates that the client disconnected before the stream completed.
	ErrClientGone = errors.New("client disconnected")
)

// Config configures an EventWriter.
type Config struct {
	// WriteTimeout bounds a single event write and flush.
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{WriteTimeout: 10 * time.Second}
}

// EventWriter writes newline-delimited JSON values to a response.
type EventWriter struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	enc    *json.Encoder
	config Config

	mu      sync.Mutex
	started bool
	sent    int
}

// NewEventWriter wraps w. Headers are written on the first Send.
func NewEventWriter(w http.ResponseWriter, config Config) *EventWriter {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &EventWriter{
		w:      w,
		rc:     http.NewResponseController(w),
		enc:    json.NewEncoder(w),
		config: config,
	}
}

// Send encodes v as one line and flushes it.
func (ew *EventWriter) Send(ctx context.Context, v any) error {
	ew.mu.Lock()
	defer ew.mu.Unlock()

	if ctx.Err() != nil {
		return ErrClientGone
	}

	if !ew.started {
		h := ew.w.Header()
		h.Set("Content-Type", ContentType)
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Content-Type-Options", "nosniff")
		// Disable proxy buffering (nginx) so events arrive promptly.
		h.Set("X-Accel-Buffering", "no")
		ew.w.WriteHeader(http.StatusOK)
		ew.started = true
	}

	// Deadlines are best effort; recorders and some wrappers do not support them.
	_ = ew.rc.SetWriteDeadline(time.Now().Add(ew.config.WriteTimeout))
	defer func() { _ = ew.rc.SetWriteDeadline(time.Time{}) }()

	if err := ew.enc.Encode(v); err != nil {
		return ew.classify(ctx, err)
	}
	if err := ew.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return ew.classify(ctx, err)
	}
	ew.sent++
	return nil
}

// Sent returns the number of values written.
func (ew *EventWriter) Sent() int {
	ew.mu.Lock()
	defer ew.mu.Unlock()
	return ew.sent
}

func (ew *EventWriter) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrClientGone
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrWriteTimeout
	}
	return err
}
