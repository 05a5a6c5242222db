package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-analyzer/internal/llm"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/rs/zerolog"
)

// Aggregator turns the extracted text of one period into a PeriodRecord.
type Aggregator struct {
	client llm.Client
	logger zerolog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(client llm.Client, logger zerolog.Logger) *Aggregator {
	return &Aggregator{client: client, logger: logger}
}

// Aggregate asks the model for the period's transactions and summary.
//
// Blank text yields an empty record without a call. A response that cannot
// be parsed yields a degraded record and is logged; the error return is
// reserved for model failures, which end the run.
func (a *Aggregator) Aggregate(ctx context.Context, period, text string, w Window) (PeriodRecord, error) {
	if strings.TrimSpace(text) == "" {
		return EmptyRecord(), nil
	}

	raw, err := a.client.Complete(ctx, llm.Request{
		Stage:           StageAggregate,
		Subject:         period,
		System:          aggregateSystemPrompt,
		User:            aggregateUserPrompt(period, text, w),
		MaxOutputTokens: aggregateMaxTokens,
		Temperature:     llm.Temperature(structuredTemperature),
	})
	if err != nil {
		return PeriodRecord{}, fmt.Errorf("Aggregator.Aggregate: period %q: %w", period, err)
	}

	rec, warnings, err := parsePeriodRecord(raw, w)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("period", period).
			Str("raw_response", logger.Truncate(raw, rawLogLimit)).
			Msg("Failed to parse period transactions, substituting empty record")
		return DegradedRecord(err.Error()), nil
	}
	if len(warnings) > 0 {
		a.logger.Warn().
			Str("period", period).
			Strs("warnings", warnings).
			Msg("Coerced unreadable values in period transactions")
	}
	return rec, nil
}

// parsePeriodRecord strips code fences, decodes the object and applies the
// window. The summary is recomputed when the window removed transactions.
func parsePeriodRecord(raw string, w Window) (PeriodRecord, []string, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return PeriodRecord{}, nil, err
	}
	rec, warnings, err := transformPeriodRecord(obj)
	if err != nil {
		return PeriodRecord{}, nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if kept, dropped := filterWindow(rec.Transactions, w); dropped {
		rec.Transactions = kept
		rec.Summary = ComputeSummary(kept)
	}
	return rec, warnings, nil
}
