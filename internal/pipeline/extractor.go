package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-analyzer/internal/chunker"
	"github.com/dvloznov/statement-analyzer/internal/llm"
	"github.com/rs/zerolog"
)

// Extractor turns the chunks of one period into free-text financial data.
type Extractor struct {
	client llm.Client
	pause  llm.Gate
	logger zerolog.Logger
}

// NewExtractor creates an Extractor. pause is waited on between consecutive
// chunk calls; nil means no pause.
func NewExtractor(client llm.Client, pause llm.Gate, logger zerolog.Logger) *Extractor {
	if pause == nil {
		pause = llm.NoGate
	}
	return &Extractor{client: client, pause: pause, logger: logger}
}

// ExtractPeriod calls the model once per chunk, in order, and joins the
// outputs with newlines. Zero chunks yield an empty string and no call.
func (e *Extractor) ExtractPeriod(ctx context.Context, period string, chunks []chunker.Chunk) (string, error) {
	outputs, err := forEachChunk(ctx, chunks, e.pause, func(ctx context.Context, i int, c chunker.Chunk) (string, error) {
		e.logger.Debug().
			Str("period", period).
			Int("chunk", i+1).
			Int("of", len(chunks)).
			Int("tokens", c.Tokens).
			Msg("Extracting chunk")

		return e.client.Complete(ctx, llm.Request{
			Stage:           StageExtract,
			Subject:         period,
			System:          extractSystemPrompt,
			User:            extractUserPrompt(period, c.Text),
			MaxOutputTokens: extractMaxTokens,
		})
	})
	if err != nil {
		return "", fmt.Errorf("Extractor.ExtractPeriod: period %q: %w", period, err)
	}

	var b strings.Builder
	for _, out := range outputs {
		b.WriteString(out)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// forEachChunk runs call for every chunk strictly in sequence. The gate is
// waited on between consecutive calls only, so a single chunk never pauses.
// The context is checked before every call.
func forEachChunk(
	ctx context.Context,
	chunks []chunker.Chunk,
	gate llm.Gate,
	call func(ctx context.Context, i int, c chunker.Chunk) (string, error),
) ([]string, error) {
	outputs := make([]string, 0, len(chunks))
	for i, c := range chunks {
		if i > 0 {
			if err := gate.Wait(ctx); err != nil {
				return nil, fmt.Errorf("pause before chunk %d: %w", i+1, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := call(ctx, i, c)
		if err != nil {
			return nil, fmt.Errorf("chunk %d of %d: %w", i+1, len(chunks), err)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}
