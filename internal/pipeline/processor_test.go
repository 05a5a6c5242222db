package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/statement-analyzer/internal/llm"
	"github.com/dvloznov/statement-analyzer/internal/logger"
)

func newTestProcessor(t *testing.T, model llm.Client, gate llm.Gate, chunkTokens int) *Processor {
	t.Helper()
	p, err := NewProcessor(model, Options{
		Tokenizer:   byteTokenizer{},
		ChunkTokens: chunkTokens,
		Pause:       gate,
		Logger:      logger.Nop(),
	})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	return p
}

func TestNewProcessor_RequiresTokenizer(t *testing.T) {
	if _, err := NewProcessor(&MockModel{}, Options{}); err == nil {
		t.Error("expected error without tokenizer")
	}
	if _, err := NewProcessor(nil, Options{Tokenizer: byteTokenizer{}}); err == nil {
		t.Error("expected error without client")
	}
}

func TestProcess_SinglePeriodSingleChunk(t *testing.T) {
	model := stageModel(nil)
	gate := &countingGate{}
	events := &eventLog{}

	p := newTestProcessor(t, model, gate, 4000)
	res, err := p.Process(context.Background(), Input{
		Periods: []PeriodText{{Period: "Jan 2024", Text: "05/01 SALARY 2500.00\n09/01 RENT -1200.00"}},
	}, events)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if n := len(model.Requests(StageExtract)); n != 1 {
		t.Errorf("expected exactly one extract call, got %d", n)
	}
	if gate.Waits() != 0 {
		t.Errorf("a single chunk must not pause, got %d waits", gate.Waits())
	}
	if got := events.Periods(); !reflect.DeepEqual(got, []string{"Jan 2024"}) {
		t.Errorf("events = %v", got)
	}

	rec, ok := res.Transactions.Get("Jan 2024")
	if !ok || len(rec.Transactions) != 2 || rec.Status != PeriodStatusOK {
		t.Errorf("Jan 2024 record = %+v, %v", rec, ok)
	}
	if !strings.HasPrefix(res.ExtractedData, "Statement for Jan 2024:\nextracted:") {
		t.Errorf("extractedData = %q", res.ExtractedData)
	}
	if res.Analysis == "" {
		t.Error("analysis should be populated")
	}
	if res.VisualizationData == nil || len(res.VisualizationData.Charts) != 2 {
		t.Errorf("visualization = %+v", res.VisualizationData)
	}
	if res.RunID == "" {
		t.Error("run id should be set")
	}
}

func TestProcess_EventsInInputOrder(t *testing.T) {
	model := stageModel(nil)
	events := &eventLog{}
	periods := []PeriodText{
		{Period: "March 2024", Text: "march text"},
		{Period: "January 2024", Text: "january text"},
		{Period: "February 2024", Text: "february text"},
	}

	res, err := newTestProcessor(t, model, llm.NoGate, 4000).Process(context.Background(), Input{Periods: periods}, events)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := []string{"March 2024", "January 2024", "February 2024"}
	if got := events.Periods(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if got := res.Transactions.Periods(); !reflect.DeepEqual(got, want) {
		t.Errorf("transactions order = %v, want %v", got, want)
	}
}

func TestProcess_MultiChunkPausesBetweenCalls(t *testing.T) {
	model := stageModel(nil)
	gate := &countingGate{}

	text := strings.Repeat("x", 25)
	res, err := newTestProcessor(t, model, gate, 10).Process(context.Background(), Input{
		Periods: []PeriodText{{Period: "Jan", Text: text}},
	}, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	extracts := model.Requests(StageExtract)
	if len(extracts) != 3 {
		t.Fatalf("expected 3 extract calls, got %d", len(extracts))
	}
	if gate.Waits() != 2 {
		t.Errorf("expected 2 pauses between 3 chunks, got %d", gate.Waits())
	}
	var rebuilt strings.Builder
	for _, r := range extracts {
		rebuilt.WriteString(lastLine(r.User))
	}
	if rebuilt.String() != text {
		t.Errorf("chunks were not sent in order: %q", rebuilt.String())
	}
	if strings.Count(res.ExtractedData, "extracted:") != 3 {
		t.Errorf("extracted data should join all chunk outputs: %q", res.ExtractedData)
	}
}

func TestProcess_EmptyPeriod(t *testing.T) {
	model := stageModel(nil)
	events := &eventLog{}

	res, err := newTestProcessor(t, model, llm.NoGate, 4000).Process(context.Background(), Input{
		Periods: []PeriodText{{Period: "Jan", Text: ""}, {Period: "Feb", Text: "feb"}},
	}, events)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	rec, _ := res.Transactions.Get("Jan")
	if rec.Status != PeriodStatusEmpty || len(rec.Transactions) != 0 {
		t.Errorf("Jan record = %+v", rec)
	}
	for _, r := range model.Requests("") {
		if r.Subject == "Jan" {
			t.Errorf("empty period must not reach the model, got stage %s", r.Stage)
		}
	}
	if len(events.events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events.events))
	}
}

func TestProcess_DegradedPeriodContinues(t *testing.T) {
	model := stageModel(map[string]func(req llm.Request) (string, error){
		StageAggregate: func(req llm.Request) (string, error) {
			if req.Subject == "Jan" {
				return "Sorry, here is a table instead.", nil
			}
			return validRecordJSON, nil
		},
	})

	res, err := newTestProcessor(t, model, llm.NoGate, 4000).Process(context.Background(), Input{
		Periods: []PeriodText{{Period: "Jan", Text: "a"}, {Period: "Feb", Text: "b"}},
	}, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	jan, _ := res.Transactions.Get("Jan")
	feb, _ := res.Transactions.Get("Feb")
	if jan.Status != PeriodStatusDegraded {
		t.Errorf("Jan status = %q", jan.Status)
	}
	if feb.Status != PeriodStatusOK || len(feb.Transactions) != 2 {
		t.Errorf("Feb record = %+v", feb)
	}
}

func TestProcess_VisualizationFailureIsIsolated(t *testing.T) {
	responses := map[string]string{
		"invalid type":   `{"charts":[{"type":"radar","data":{"datasets":[{"data":[1]}]},"options":{}}]}`,
		"missing charts": `{"data":[]}`,
		"bad value":      `{"charts":[{"type":"bar","data":{"datasets":[{"data":["x"]}]},"options":{}}]}`,
	}

	for name, raw := range responses {
		t.Run(name, func(t *testing.T) {
			model := stageModel(map[string]func(req llm.Request) (string, error){
				StageVisualize: func(req llm.Request) (string, error) { return raw, nil },
			})
			res, err := newTestProcessor(t, model, llm.NoGate, 4000).Process(context.Background(), Input{
				Periods: []PeriodText{{Period: "Jan", Text: "a"}},
			}, nil)
			if err != nil {
				t.Fatalf("visualization failure must not fail the run: %v", err)
			}
			if res.VisualizationData != nil {
				t.Error("visualization data should be absent")
			}
			if res.Analysis == "" || res.Transactions.Len() != 1 {
				t.Error("analysis and transactions should still be returned")
			}
		})
	}
}

func TestProcess_FatalErrors(t *testing.T) {
	tests := []struct {
		name       string
		stage      string
		err        error
		wantEvents int
	}{
		{"extract auth", StageExtract, llm.ErrAuth, 0},
		{"aggregate timeout", StageAggregate, llm.ErrUpstreamTimeout, 0},
		{"analyze upstream", StageAnalyze, llm.ErrUpstream, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := stageModel(map[string]func(req llm.Request) (string, error){
				tt.stage: func(req llm.Request) (string, error) { return "", tt.err },
			})
			events := &eventLog{}
			res, err := newTestProcessor(t, model, llm.NoGate, 4000).Process(context.Background(), Input{
				Periods: []PeriodText{{Period: "Jan", Text: "a"}},
			}, events)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if res != nil {
				t.Error("no result should be returned on a fatal error")
			}
			if len(events.events) != tt.wantEvents {
				t.Errorf("events = %d, want %d", len(events.events), tt.wantEvents)
			}
			if n := len(model.Requests(StageVisualize)); n != 0 {
				t.Errorf("visualization should not run after a fatal error, got %d calls", n)
			}
		})
	}
}

func TestProcess_InvalidInputMakesNoCalls(t *testing.T) {
	model := stageModel(nil)
	_, err := newTestProcessor(t, model, llm.NoGate, 4000).Process(context.Background(), Input{
		Periods: []PeriodText{{Period: "Jan", Text: "a"}},
		Window:  Window{Start: "2024-02-01", End: "2024-01-01"},
	}, nil)
	if !errors.Is(err, ErrInput) {
		t.Fatalf("expected ErrInput, got %v", err)
	}
	if n := len(model.Requests("")); n != 0 {
		t.Errorf("expected no model calls, got %d", n)
	}
}

func TestProcess_CancelledBetweenPeriods(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := stageModel(nil)
	emitter := EmitterFunc(func(period string, record PeriodRecord) error {
		cancel()
		return nil
	})

	_, err := newTestProcessor(t, model, llm.NoGate, 4000).Process(ctx, Input{
		Periods: []PeriodText{{Period: "Jan", Text: "a"}, {Period: "Feb", Text: "b"}},
	}, emitter)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	for _, r := range model.Requests("") {
		if r.Subject == "Feb" {
			t.Error("no calls should be made for periods after cancellation")
		}
	}
}

func TestProcess_EmitterErrorAborts(t *testing.T) {
	model := stageModel(nil)
	gone := errors.New("client disconnected")
	emitter := EmitterFunc(func(string, PeriodRecord) error { return gone })

	_, err := newTestProcessor(t, model, llm.NoGate, 4000).Process(context.Background(), Input{
		Periods: []PeriodText{{Period: "Jan", Text: "a"}},
	}, emitter)
	if !errors.Is(err, gone) {
		t.Errorf("expected emitter error, got %v", err)
	}
}

func TestProcess_BudgetExceeded(t *testing.T) {
	model := stageModel(map[string]func(req llm.Request) (string, error){
		StageAnalyze: func(req llm.Request) (string, error) {
			time.Sleep(100 * time.Millisecond)
			return "late", nil
		},
	})
	p, err := NewProcessor(model, Options{
		Tokenizer: byteTokenizer{},
		Pause:     llm.NoGate,
		Budget:    20 * time.Millisecond,
		Logger:    logger.Nop(),
	})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	_, err = p.Process(context.Background(), Input{
		Periods: []PeriodText{{Period: "Jan", Text: "a"}},
	}, nil)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded, got %v", err)
	}
}

// MockRecorder captures audit calls.
type MockRecorder struct {
	mu       sync.Mutex
	started  []RunInfo
	outputs  []ModelOutput
	finished []RunOutcome

	RecordModelOutputErr error
}

func (m *MockRecorder) StartRun(ctx context.Context, info RunInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, info)
	return nil
}

func (m *MockRecorder) RecordModelOutput(ctx context.Context, out ModelOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, out)
	return m.RecordModelOutputErr
}

func (m *MockRecorder) FinishRun(ctx context.Context, outcome RunOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, outcome)
	return nil
}

func TestProcess_RecordsRun(t *testing.T) {
	model := stageModel(nil)
	rec := &MockRecorder{RecordModelOutputErr: errors.New("bigquery unavailable")}

	p, err := NewProcessor(model, Options{
		Tokenizer: byteTokenizer{},
		Pause:     llm.NoGate,
		Recorder:  rec,
		Logger:    logger.Nop(),
	})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	res, err := p.Process(context.Background(), Input{Periods: []PeriodText{{Period: "Jan", Text: "a"}}}, nil)
	if err != nil {
		t.Fatalf("recorder failures must not fail the run: %v", err)
	}

	if len(rec.started) != 1 || rec.started[0].RunID != res.RunID {
		t.Errorf("started = %+v", rec.started)
	}
	// extract, aggregate, analyze, visualize
	if len(rec.outputs) != 4 {
		t.Errorf("expected 4 recorded outputs, got %d", len(rec.outputs))
	}
	if rec.outputs[0].Stage != StageExtract || rec.outputs[0].Subject != "Jan" {
		t.Errorf("first output = %+v", rec.outputs[0])
	}
	if len(rec.finished) != 1 || rec.finished[0].Status != "success" || !rec.finished[0].HasCharts {
		t.Errorf("finished = %+v", rec.finished)
	}
}

func TestProcessDocument(t *testing.T) {
	model := stageModel(nil)
	res, err := ProcessDocument(context.Background(), newTestProcessor(t, model, llm.NoGate, 4000), "statement", Window{})
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}
	if _, ok := res.Transactions.Get(DefaultSingleDocumentPeriod); !ok {
		t.Error("single document should be keyed by the default period label")
	}
}
