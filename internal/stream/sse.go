// Package stream carries pipeline progress to clients as server-sent events.
//
// Every frame is a single "data: <json>\n\n" record. A stream carries one
// progress frame per completed period followed by exactly one terminal frame,
// either {"final": result} or {"error": message}.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

// ErrClosed is returned for writes after the terminal frame.
var ErrClosed = errors.New("stream: closed")

// ErrUnsupported is returned when the response writer cannot flush.
var ErrUnsupported = errors.New("stream: streaming unsupported")

// ProgressEvent is the payload of a period frame.
type ProgressEvent struct {
	Month string                `json:"month"`
	Data  pipeline.PeriodRecord `json:"data"`
}

// FinalEvent is the payload of a successful terminal frame.
type FinalEvent struct {
	Final *pipeline.ProcessingResult `json:"final"`
}

// ErrorEvent is the payload of a failed terminal frame.
type ErrorEvent struct {
	Error string `json:"error"`
}

// SSEWriter writes pipeline events to an HTTP response.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	closed  bool
}

// NewSSEWriter wraps w. Headers are sent with the first frame.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrUnsupported
	}
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Open sends the stream headers and a 200 status.
func (s *SSEWriter) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open()
}

func (s *SSEWriter) open() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
	s.started = true
}

// PeriodCompleted implements pipeline.ProgressEmitter.
func (s *SSEWriter) PeriodCompleted(period string, record pipeline.PeriodRecord) error {
	return s.write(ProgressEvent{Month: period, Data: record}, false)
}

// Final writes the terminal result frame.
func (s *SSEWriter) Final(result *pipeline.ProcessingResult) error {
	return s.write(FinalEvent{Final: result}, true)
}

// Error writes the terminal error frame.
func (s *SSEWriter) Error(message string) error {
	return s.write(ErrorEvent{Error: message}, true)
}

// Closed reports whether a terminal frame has been written.
func (s *SSEWriter) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *SSEWriter) write(v interface{}, terminal bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("SSEWriter.write: marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.open()
	if terminal {
		s.closed = true
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("SSEWriter.write: %w", err)
	}
	s.flusher.Flush()
	return nil
}

var _ pipeline.ProgressEmitter = (*SSEWriter)(nil)
