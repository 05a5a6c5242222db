package stream

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

// frames splits an SSE body into its JSON payloads.
func frames(t *testing.T, body string) []map[string]json.RawMessage {
	t.Helper()
	if !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("body should end with a blank line: %q", body)
	}
	var out []map[string]json.RawMessage
	for _, rec := range strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n") {
		if !strings.HasPrefix(rec, "data: ") {
			t.Fatalf("record without data prefix: %q", rec)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal([]byte(strings.TrimPrefix(rec, "data: ")), &m); err != nil {
			t.Fatalf("record is not JSON: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestSSEWriter_ProgressThenFinal(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSEWriter(rec)
	if err != nil {
		t.Fatalf("NewSSEWriter failed: %v", err)
	}

	if err := sse.PeriodCompleted("Jan 2024", pipeline.EmptyRecord()); err != nil {
		t.Fatalf("PeriodCompleted failed: %v", err)
	}
	if err := sse.PeriodCompleted("Feb 2024", pipeline.DegradedRecord("bad json")); err != nil {
		t.Fatalf("PeriodCompleted failed: %v", err)
	}
	all := pipeline.NewAllTransactions()
	all.Set("Jan 2024", pipeline.EmptyRecord())
	if err := sse.Final(&pipeline.ProcessingResult{Analysis: "# Report", Transactions: all}); err != nil {
		t.Fatalf("Final failed: %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}

	got := frames(t, rec.Body.String())
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	if string(got[0]["month"]) != `"Jan 2024"` || string(got[1]["month"]) != `"Feb 2024"` {
		t.Errorf("progress frames out of order: %s, %s", got[0]["month"], got[1]["month"])
	}
	if _, ok := got[0]["data"]; !ok {
		t.Error("progress frame should carry data")
	}
	if _, ok := got[2]["final"]; !ok {
		t.Error("last frame should be final")
	}
	if !sse.Closed() {
		t.Error("stream should be closed after the final frame")
	}
}

func TestSSEWriter_SingleTerminalFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, _ := NewSSEWriter(rec)

	if err := sse.Error("llm: authentication failed"); err != nil {
		t.Fatalf("Error failed: %v", err)
	}
	if err := sse.Final(&pipeline.ProcessingResult{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := sse.PeriodCompleted("Jan", pipeline.EmptyRecord()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	got := frames(t, rec.Body.String())
	if len(got) != 1 || string(got[0]["error"]) != `"llm: authentication failed"` {
		t.Errorf("frames = %v", got)
	}
}

type noFlush struct{ http.ResponseWriter }

func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	if _, err := NewSSEWriter(noFlush{httptest.NewRecorder()}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestCollector(t *testing.T) {
	var seen []string
	c := &Collector{OnEvent: func(ev ProgressEvent) { seen = append(seen, ev.Month) }}

	_ = c.PeriodCompleted("Jan", pipeline.EmptyRecord())
	_ = c.PeriodCompleted("Feb", pipeline.EmptyRecord())
	if err := c.Final(&pipeline.ProcessingResult{Analysis: "done"}); err != nil {
		t.Fatalf("Final failed: %v", err)
	}
	if err := c.Error("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	if len(c.Events()) != 2 || len(seen) != 2 || seen[1] != "Feb" {
		t.Errorf("events = %v, seen = %v", c.Events(), seen)
	}
	res, msg := c.Result()
	if res == nil || res.Analysis != "done" || msg != "" {
		t.Errorf("Result() = %+v, %q", res, msg)
	}
}
