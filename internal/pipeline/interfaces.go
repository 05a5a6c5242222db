package pipeline

import (
	"context"
	"time"

	"github.com/dvloznov/statement-analyzer/internal/llm"
	"github.com/rs/zerolog"
)

// ProgressEmitter receives one event per completed period, in processing
// order. An emitter error aborts the run (the consumer went away).
type ProgressEmitter interface {
	PeriodCompleted(period string, record PeriodRecord) error
}

// EmitterFunc adapts a function to ProgressEmitter.
type EmitterFunc func(period string, record PeriodRecord) error

// PeriodCompleted implements ProgressEmitter.
func (f EmitterFunc) PeriodCompleted(period string, record PeriodRecord) error {
	return f(period, record)
}

type nopEmitter struct{}

func (nopEmitter) PeriodCompleted(string, PeriodRecord) error { return nil }

// NopEmitter discards progress events.
var NopEmitter ProgressEmitter = nopEmitter{}

// RunInfo describes a pipeline run when it starts.
type RunInfo struct {
	RunID     string
	Periods   []string
	Window    Window
	StartedAt time.Time
}

// ModelOutput is one raw model response captured for audit.
type ModelOutput struct {
	RunID     string
	Stage     string
	Subject   string
	Prompt    string
	Response  string
	Err       string
	Duration  time.Duration
	CreatedAt time.Time
}

// RunOutcome describes how a run ended.
type RunOutcome struct {
	RunID       string
	Status      string
	Error       string
	Periods     int
	Degraded    int
	HasCharts   bool
	CompletedAt time.Time
}

// RunRecorder audits pipeline runs. Failures are logged by the caller and
// never fail a run.
type RunRecorder interface {
	StartRun(ctx context.Context, info RunInfo) error
	RecordModelOutput(ctx context.Context, out ModelOutput) error
	FinishRun(ctx context.Context, outcome RunOutcome) error
}

type nopRecorder struct{}

func (nopRecorder) StartRun(context.Context, RunInfo) error { return nil }
func (nopRecorder) RecordModelOutput(context.Context, ModelOutput) error { return nil }
func (nopRecorder) FinishRun(context.Context, RunOutcome) error { return nil }

// NopRecorder records nothing.
var NopRecorder RunRecorder = nopRecorder{}

// recordingClient captures every model exchange of one run.
type recordingClient struct {
	next     llm.Client
	recorder RunRecorder
	runID    string
	logger   zerolog.Logger
}

func (c *recordingClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	start := time.Now()
	text, err := c.next.Complete(ctx, req)

	out := ModelOutput{
		RunID:     c.runID,
		Stage:     req.Stage,
		Subject:   req.Subject,
		Prompt:    req.User,
		Response:  text,
		Duration:  time.Since(start),
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		out.Err = err.Error()
	}
	if recErr := c.recorder.RecordModelOutput(context.WithoutCancel(ctx), out); recErr != nil {
		c.logger.Warn().Err(recErr).Str("run_id", c.runID).Str("stage", req.Stage).Msg("Failed to record model output")
	}
	return text, err
}

var _ llm.Client = (*recordingClient)(nil)
