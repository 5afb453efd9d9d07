package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/nebulus/gantry/internal/platform/logger"
)

// StreamWriter renders one generation as a server-sent event stream. Events
// go out in call order: any number of delta events, then exactly one done or
// error event.
type StreamWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	log     *logger.Logger
	closed  bool
}

func NewStreamWriter(w http.ResponseWriter, log *logger.Logger) (*StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &StreamWriter{w: w, flusher: flusher, log: log.With("service", "SSEWriter")}, nil
}

func (s *StreamWriter) Delta(text string) {
	s.emit("delta", map[string]any{"text": text})
}

func (s *StreamWriter) Done(assistantMessageID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked("done", map[string]any{"message_id": assistantMessageID.String()})
	s.closed = true
}

func (s *StreamWriter) Error(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked("error", map[string]any{"message": message})
	s.closed = true
}

func (s *StreamWriter) emit(event string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(event, payload)
}

func (s *StreamWriter) emitLocked(event string, payload map[string]any) {
	if s.closed {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal sse payload", "event", event, "error", err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, raw); err != nil {
		// Client went away; the request context will cancel the stream.
		s.closed = true
		return
	}
	s.flusher.Flush()
}
