package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-analyzer/internal/llm"
)

// Analyzer writes the cross-period markdown report.
type Analyzer struct {
	client llm.Client
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(client llm.Client) *Analyzer {
	return &Analyzer{client: client}
}

// Analyze returns the model's report verbatim.
func (a *Analyzer) Analyze(ctx context.Context, all *AllTransactions, w Window) (string, error) {
	prompt, err := analyzeUserPrompt(all, w)
	if err != nil {
		return "", err
	}
	text, err := a.client.Complete(ctx, llm.Request{
		Stage:           StageAnalyze,
		System:          analyzeSystemPrompt,
		User:            prompt,
		MaxOutputTokens: analyzeMaxTokens,
		Temperature:     llm.Temperature(structuredTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("Analyzer.Analyze: %w", err)
	}
	return text, nil
}
