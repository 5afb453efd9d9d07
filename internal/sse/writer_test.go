package sse

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nebulus/gantry/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestStreamWriterEventOrder(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewStreamWriter(rec, testLogger(t))
	if err != nil {
		t.Fatalf("new stream writer: %v", err)
	}

	msgID := uuid.New()
	sw.Delta("hel")
	sw.Delta("lo")
	sw.Done(msgID)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Fatal("proxy buffering header missing")
	}

	body := rec.Body.String()
	events := strings.Split(strings.TrimSpace(body), "\n\n")
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d:\n%s", len(events), body)
	}
	if !strings.HasPrefix(events[0], "event: delta\n") || !strings.Contains(events[0], `"text":"hel"`) {
		t.Fatalf("bad first event: %q", events[0])
	}
	if !strings.HasPrefix(events[2], "event: done\n") || !strings.Contains(events[2], msgID.String()) {
		t.Fatalf("bad terminal event: %q", events[2])
	}
}

func TestStreamWriterSingleTerminalEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewStreamWriter(rec, testLogger(t))
	if err != nil {
		t.Fatalf("new stream writer: %v", err)
	}

	sw.Done(uuid.New())
	sw.Error("too late")
	sw.Delta("also too late")
	sw.Done(uuid.New())

	body := rec.Body.String()
	if got := strings.Count(body, "event: done"); got != 1 {
		t.Fatalf("expected exactly one done event, got %d:\n%s", got, body)
	}
	if strings.Contains(body, "event: error") {
		t.Fatalf("error event after done:\n%s", body)
	}
	if strings.Contains(body, "also too late") {
		t.Fatalf("delta after done:\n%s", body)
	}
}

func TestStreamWriterErrorTerminates(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewStreamWriter(rec, testLogger(t))
	if err != nil {
		t.Fatalf("new stream writer: %v", err)
	}

	sw.Delta("partial")
	sw.Error("upstream unavailable")
	sw.Delta("dropped")

	body := rec.Body.String()
	if !strings.Contains(body, "event: error") || !strings.Contains(body, "upstream unavailable") {
		t.Fatalf("error event missing:\n%s", body)
	}
	if strings.Contains(body, "dropped") {
		t.Fatalf("delta after error:\n%s", body)
	}
}

type nonFlusher struct{}

func (nonFlusher) Header() http.Header         { return http.Header{} }
func (nonFlusher) Write(b []byte) (int, error) { return len(b), nil }
func (nonFlusher) WriteHeader(statusCode int)  {}

func TestStreamWriterRequiresFlusher(t *testing.T) {
	if _, err := NewStreamWriter(nonFlusher{}, testLogger(t)); err == nil {
		t.Fatal("expected error for non-flushing writer")
	}
}
