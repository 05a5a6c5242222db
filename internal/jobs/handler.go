package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/llm"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/stream"
)

// ProcessFunc runs the statement pipeline with the caller's credential.
type ProcessFunc func(ctx context.Context, apiKey string, in pipeline.Input, emitter pipeline.ProgressEmitter) (*pipeline.ProcessingResult, error)

// NewProcessStatementsHandler returns the JobHandler for
// ProcessStatementsJob. Progress is saved to store after every period.
// Input and credential errors are permanent.
func NewProcessStatementsHandler(process ProcessFunc, store JobStore, log zerolog.Logger) JobHandler {
	return func(ctx context.Context, job Job) error {
		j, ok := job.(*ProcessStatementsJob)
		if !ok {
			return Permanent(fmt.Errorf("unexpected job type: %T", job))
		}

		jobLog := log.With().Str("job_id", j.JobID).Int("attempt", j.RetryCount+1).Logger()
		jobLog.Info().Int("periods", len(j.Periods)).Msg("Processing statements job")

		j.CompletedPeriods = nil
		j.Result = nil
		collector := &stream.Collector{
			OnEvent: func(ev stream.ProgressEvent) {
				j.CompletedPeriods = append(j.CompletedPeriods, ev.Month)
				if store != nil {
					if err := store.SaveJob(ctx, j); err != nil {
						jobLog.Warn().Err(err).Msg("Failed to save job progress")
					}
				}
			},
		}

		in := pipeline.Input{Periods: j.Periods, Window: j.Window}
		res, err := process(ctx, j.APIKey, in, collector)
		if err != nil {
			_ = collector.Error(err.Error())
			jobLog.Error().Err(err).Msg("Statements job failed")
			if errors.Is(err, pipeline.ErrInput) || errors.Is(err, llm.ErrAuth) {
				return Permanent(err)
			}
			return err
		}
		_ = collector.Final(res)

		j.Result = res
		jobLog.Info().Int("completed_periods", len(j.CompletedPeriods)).Msg("Statements job completed")
		return nil
	}
}
