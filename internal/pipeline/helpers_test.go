package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/statement-analyzer/internal/llm"
)

// byteTokenizer treats every byte as one token.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	tokens := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		tokens[i] = int(text[i])
	}
	return tokens
}

func (byteTokenizer) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b)
}

// MockModel is a fake llm.Client that records every request.
type MockModel struct {
	CompleteFunc func(ctx context.Context, req llm.Request) (string, error)

	mu       sync.Mutex
	requests []llm.Request
}

func (m *MockModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "", nil
}

func (m *MockModel) Requests(stage string) []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []llm.Request
	for _, r := range m.requests {
		if stage == "" || r.Stage == stage {
			out = append(out, r)
		}
	}
	return out
}

const validRecordJSON = `{"transactions":[{"date":"2024-01-05","description":"Salary","amount":2500},{"date":"2024-01-09","description":"Rent","amount":-1200}],"summary":{"totalIncome":2500,"totalExpenses":1200,"largestTransaction":2500,"averageTransactionSize":1850}}`

const validChartsJSON = `{"charts":[{"type":"bar","title":"Income vs Expenses","data":{"labels":["Jan 2024"],"datasets":[{"label":"Income","data":[2500],"backgroundColor":"#4caf50"}]},"options":{"responsive":true}},{"type":"line","data":{"labels":["Jan 2024"],"datasets":[{"label":"Net","data":["1300"]}]},"options":{"plugins":{"title":{"text":"Net flow"}}}}]}`

// stageModel answers every stage with a well-formed response unless the
// override for that stage is set.
func stageModel(overrides map[string]func(req llm.Request) (string, error)) *MockModel {
	return &MockModel{
		CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
			if f, ok := overrides[req.Stage]; ok {
				return f(req)
			}
			switch req.Stage {
			case StageExtract:
				return "extracted: " + lastLine(req.User), nil
			case StageAggregate:
				return validRecordJSON, nil
			case StageAnalyze:
				return "# Executive Summary\n\nHealthy.", nil
			case StageVisualize:
				return validChartsJSON, nil
			}
			return "", nil
		},
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

// countingGate records how many times it was waited on.
type countingGate struct {
	mu    sync.Mutex
	waits int
}

func (g *countingGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	g.waits++
	g.mu.Unlock()
	return ctx.Err()
}

func (g *countingGate) Waits() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waits
}

// recordedEvent is one progress event captured by a test emitter.
type recordedEvent struct {
	Period string
	Record PeriodRecord
	At     time.Time
}

type eventLog struct {
	events []recordedEvent
}

func (l *eventLog) PeriodCompleted(period string, record PeriodRecord) error {
	l.events = append(l.events, recordedEvent{Period: period, Record: record, At: time.Now()})
	return nil
}

func (l *eventLog) Periods() []string {
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Period
	}
	return out
}
