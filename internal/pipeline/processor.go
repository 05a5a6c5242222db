package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/statement-analyzer/internal/chunker"
	"github.com/dvloznov/statement-analyzer/internal/llm"
	"github.com/dvloznov/statement-analyzer/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options configures a Processor.
type Options struct {
	// Tokenizer bounds chunks by encoded length. Required.
	Tokenizer chunker.Tokenizer
	// ChunkTokens is the per-chunk token budget; zero means DefaultChunkTokens.
	ChunkTokens int
	// Pause is waited on between consecutive chunk calls of one period.
	// Nil means a fixed DefaultChunkPause.
	Pause llm.Gate
	// Budget bounds a whole run; zero means no overall deadline.
	Budget time.Duration
	// Recorder audits runs; nil means NopRecorder.
	Recorder RunRecorder
	Logger   zerolog.Logger
}

// Processor runs the statement pipeline for one model client.
type Processor struct {
	client llm.Client
	opts   Options
}

// NewProcessor validates opts and fills in defaults.
func NewProcessor(client llm.Client, opts Options) (*Processor, error) {
	if client == nil {
		return nil, errors.New("NewProcessor: model client is required")
	}
	if opts.Tokenizer == nil {
		return nil, errors.New("NewProcessor: tokenizer is required")
	}
	if opts.ChunkTokens <= 0 {
		opts.ChunkTokens = DefaultChunkTokens
	}
	if opts.Pause == nil {
		opts.Pause = llm.NewPause(DefaultChunkPause)
	}
	if opts.Recorder == nil {
		opts.Recorder = NopRecorder
	}
	return &Processor{client: client, opts: opts}, nil
}

// Process validates in, then runs extraction, aggregation, analysis and
// visualization. emitter receives exactly one event per period, in input
// order, before Process returns. Invalid input fails with ErrInput before any
// model call; a run that outlives the budget fails with ErrBudgetExceeded.
func (p *Processor) Process(ctx context.Context, in Input, emitter ProgressEmitter) (*ProcessingResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if emitter == nil {
		emitter = NopEmitter
	}

	start := time.Now()
	runID := uuid.NewString()
	log := p.opts.Logger.With().Str("run_id", runID).Logger()

	runCtx := ctx
	if p.opts.Budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, p.opts.Budget, ErrBudgetExceeded)
		defer cancel()
	}

	periods := make([]string, len(in.Periods))
	for i, pt := range in.Periods {
		periods[i] = pt.Period
	}
	if err := p.opts.Recorder.StartRun(context.WithoutCancel(ctx), RunInfo{
		RunID:     runID,
		Periods:   periods,
		Window:    in.Window,
		StartedAt: start.UTC(),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to record run start")
	}

	client := p.client
	if p.opts.Recorder != NopRecorder {
		client = &recordingClient{next: client, recorder: p.opts.Recorder, runID: runID, logger: log}
	}

	state := &PipelineState{
		RunID:        runID,
		Input:        in,
		Emitter:      emitter,
		Transactions: NewAllTransactions(),
	}
	pipe := NewPipeline(
		&ProcessPeriodsStep{
			Tokenizer:   p.opts.Tokenizer,
			ChunkTokens: p.opts.ChunkTokens,
			Extractor:   NewExtractor(client, p.opts.Pause, log),
			Aggregator:  NewAggregator(client, log),
			Logger:      log,
		},
		&AnalyzeStep{Analyzer: NewAnalyzer(client)},
		&VisualizeStep{Visualizer: NewVisualizer(client, log), Logger: log},
	)

	log.Info().Int("periods", len(in.Periods)).Msg("Pipeline started")

	err := pipe.Execute(runCtx, state)
	if err != nil && errors.Is(context.Cause(runCtx), ErrBudgetExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w after %s: %w", ErrBudgetExceeded, p.opts.Budget, err)
	}

	result := runResult(err)
	outcome := RunOutcome{
		RunID:       runID,
		Status:      result,
		Periods:     state.Transactions.Len(),
		Degraded:    ComputeTotals(state.Transactions).Degraded,
		HasCharts:   state.Visualization != nil,
		CompletedAt: time.Now().UTC(),
	}
	if err != nil {
		outcome.Error = err.Error()
	}
	if recErr := p.opts.Recorder.FinishRun(context.WithoutCancel(ctx), outcome); recErr != nil {
		log.Warn().Err(recErr).Msg("Failed to record run outcome")
	}
	metrics.ObservePipeline(result, time.Since(start))

	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Pipeline failed")
		return nil, err
	}

	log.Info().
		Dur("elapsed", time.Since(start)).
		Int("degraded", outcome.Degraded).
		Bool("charts", outcome.HasCharts).
		Msg("Pipeline completed")
	return state.Result(), nil
}

func runResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrBudgetExceeded):
		return "budget_exceeded"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
