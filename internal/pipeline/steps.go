package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-analyzer/internal/chunker"
	"github.com/dvloznov/statement-analyzer/internal/metrics"
	"github.com/rs/zerolog"
)

// PipelineStep represents a single step of statement processing.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps. It is
// owned by one sequential run and needs no locking.
type PipelineState struct {
	RunID   string
	Input   Input
	Emitter ProgressEmitter

	ExtractedData string
	Transactions  *AllTransactions
	Analysis      string
	Visualization *VisualizationData
}

// Result returns the terminal aggregate of the state.
func (s *PipelineState) Result() *ProcessingResult {
	return &ProcessingResult{
		RunID:             s.RunID,
		ExtractedData:     s.ExtractedData,
		Analysis:          s.Analysis,
		Transactions:      s.Transactions,
		VisualizationData: s.Visualization,
	}
}

// Step 1: ProcessPeriodsStep chunks, extracts and aggregates every period in
// input order, emitting one progress event per period.
type ProcessPeriodsStep struct {
	Tokenizer   chunker.Tokenizer
	ChunkTokens int
	Extractor   *Extractor
	Aggregator  *Aggregator
	Logger      zerolog.Logger
}

func (s *ProcessPeriodsStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Transactions == nil {
		state.Transactions = NewAllTransactions()
	}
	emitter := state.Emitter
	if emitter == nil {
		emitter = NopEmitter
	}

	var extracted strings.Builder
	for _, p := range state.Input.Periods {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunks, err := chunker.Split(s.Tokenizer, p.Period, p.Text, s.ChunkTokens)
		if err != nil {
			return fmt.Errorf("ProcessPeriodsStep: %w", err)
		}
		s.Logger.Info().Str("period", p.Period).Int("chunks", len(chunks)).Msg("Processing period")

		text, err := s.Extractor.ExtractPeriod(ctx, p.Period, chunks)
		if err != nil {
			return err
		}
		fmt.Fprintf(&extracted, "Statement for %s:\n%s\n\n", p.Period, text)

		record, err := s.Aggregator.Aggregate(ctx, p.Period, text, state.Input.Window)
		if err != nil {
			return err
		}
		state.Transactions.Set(p.Period, record)
		metrics.IncPeriodOutcome(string(record.Status))

		s.Logger.Info().
			Str("period", p.Period).
			Str("status", string(record.Status)).
			Int("transactions", len(record.Transactions)).
			Msg("Period completed")

		if err := emitter.PeriodCompleted(p.Period, record); err != nil {
			return fmt.Errorf("ProcessPeriodsStep: emit progress for %q: %w", p.Period, err)
		}
	}

	state.ExtractedData = strings.TrimSpace(extracted.String())
	return nil
}

// Step 2: AnalyzeStep writes the cross-period report.
type AnalyzeStep struct {
	Analyzer *Analyzer
}

func (s *AnalyzeStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	analysis, err := s.Analyzer.Analyze(ctx, state.Transactions, state.Input.Window)
	if err != nil {
		return err
	}
	state.Analysis = analysis
	return nil
}

// Step 3: VisualizeStep generates charts. Chart failures leave the
// visualization absent; only cancellation of the run is returned.
type VisualizeStep struct {
	Visualizer *Visualizer
	Logger     zerolog.Logger
}

func (s *VisualizeStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	viz, err := s.Visualizer.Generate(ctx, state.Transactions)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !errors.Is(err, ErrVisualization) {
			return err
		}
		s.Logger.Warn().Err(err).Msg("Visualization generation failed, continuing without charts")
		state.Visualization = nil
		return nil
	}
	state.Visualization = viz
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
