package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dvloznov/statement-analyzer/internal/chunker"
	"github.com/dvloznov/statement-analyzer/internal/llm"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// StatementAnalysis is the short single-statement review.
type StatementAnalysis struct {
	Summary string   `json:"summary"`
	Details []string `json:"details"`
}

// ChartData is the two-bar income/expense chart of a StatementSummary.
type ChartData struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// StatementSummary is the headline figures of one statement.
type StatementSummary struct {
	Overview           string    `json:"overview"`
	TotalIncome        float64   `json:"totalIncome"`
	TotalExpenses      float64   `json:"totalExpenses"`
	NetProfit          float64   `json:"netProfit"`
	LargestTransaction float64   `json:"largestTransaction"`
	ChartData          ChartData `json:"chartData"`
}

// Documents implements the single-document operations.
type Documents struct {
	client      llm.Client
	tokenizer   chunker.Tokenizer
	chunkTokens int
	pause       llm.Gate
	logger      zerolog.Logger
}

// NewDocuments creates a Documents service. Chunked operations use
// chunkTokens per call and wait on pause between calls; a nil pause means
// a fixed DefaultChunkPause.
func NewDocuments(client llm.Client, tok chunker.Tokenizer, chunkTokens int, pause llm.Gate, logger zerolog.Logger) *Documents {
	if chunkTokens <= 0 {
		chunkTokens = DefaultChunkTokens
	}
	if pause == nil {
		pause = llm.NewPause(DefaultChunkPause)
	}
	return &Documents{client: client, tokenizer: tok, chunkTokens: chunkTokens, pause: pause, logger: logger}
}

// AnalyzeStatement asks for a short review that must contain a summary.
func (d *Documents) AnalyzeStatement(ctx context.Context, text string) (*StatementAnalysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: statement text is empty", ErrInput)
	}
	raw, err := d.client.Complete(ctx, llm.Request{
		Stage:           StageAnalyzeStatement,
		System:          analyzeStatementSystemPrompt,
		User:            analyzeStatementUserPrompt(text),
		MaxOutputTokens: analyzeStatementMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("Documents.AnalyzeStatement: %w", err)
	}
	if !strings.Contains(strings.ToLower(raw), "summary:") {
		d.logger.Warn().Str("raw_response", logger.Truncate(raw, rawLogLimit)).Msg("Statement analysis has no summary")
		return nil, fmt.Errorf("Documents.AnalyzeStatement: %w: response does not contain a summary", llm.ErrUpstream)
	}
	analysis := ParseStatementAnalysis(raw)
	if analysis.Summary == "" {
		return nil, fmt.Errorf("Documents.AnalyzeStatement: %w: failed to extract summary from analysis", llm.ErrUpstream)
	}
	return analysis, nil
}

var summaryPrefix = regexp.MustCompile(`(?i)^summary:\s*`)

// ParseStatementAnalysis splits a review into its summary, which starts at
// the first line mentioning "summary:" and runs through the following
// non-blank lines, and the "key: value" detail lines that precede it.
func ParseStatementAnalysis(raw string) *StatementAnalysis {
	result := &StatementAnalysis{Details: []string{}}
	started := false
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.Contains(strings.ToLower(line), "summary:"):
			started = true
			result.Summary = strings.TrimSpace(summaryPrefix.ReplaceAllString(line, ""))
		case started && trimmed != "":
			result.Summary = strings.TrimSpace(result.Summary + " " + trimmed)
		case !started && strings.Contains(line, ":"):
			result.Details = append(result.Details, trimmed)
		}
	}
	return result
}

// ExtractText runs OCR-style cleanup over the statement chunk by chunk.
func (d *Documents) ExtractText(ctx context.Context, text string) (string, error) {
	chunks, err := d.split(text)
	if err != nil {
		return "", err
	}
	outputs, err := forEachChunk(ctx, chunks, d.pause, func(ctx context.Context, i int, c chunker.Chunk) (string, error) {
		return d.client.Complete(ctx, llm.Request{
			Stage:           StageOCR,
			System:          ocrSystemPrompt,
			User:            ocrUserPrompt(c.Text),
			MaxOutputTokens: ocrMaxTokens,
		})
	})
	if err != nil {
		return "", fmt.Errorf("Documents.ExtractText: %w", err)
	}
	return strings.TrimSpace(strings.Join(outputs, "\n")), nil
}

// AnalyzeTransactions analyzes transaction text in parts and joins the
// partial analyses with blank lines.
func (d *Documents) AnalyzeTransactions(ctx context.Context, transactions string) (string, error) {
	chunks, err := d.split(transactions)
	if err != nil {
		return "", err
	}
	outputs, err := forEachChunk(ctx, chunks, d.pause, func(ctx context.Context, i int, c chunker.Chunk) (string, error) {
		return d.client.Complete(ctx, llm.Request{
			Stage:           StageAnalyzeTransactions,
			System:          analyzeTransactionsSystemPrompt,
			User:            analyzeTransactionsUserPrompt(i+1, len(chunks), c.Text),
			MaxOutputTokens: analyzeTransactionsMaxTokens,
		})
	})
	if err != nil {
		return "", fmt.Errorf("Documents.AnalyzeTransactions: %w", err)
	}
	return strings.TrimSpace(strings.Join(outputs, "\n\n")), nil
}

// ExtractTransactions returns a readable list of the statement's
// transactions.
func (d *Documents) ExtractTransactions(ctx context.Context, statement string) (string, error) {
	if strings.TrimSpace(statement) == "" {
		return "", fmt.Errorf("%w: statement data is required", ErrInput)
	}
	text, err := d.client.Complete(ctx, llm.Request{
		Stage:           StageExtractTransactions,
		User:            extractTransactionsPrompt(statement),
		MaxOutputTokens: extractTransactionsMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("Documents.ExtractTransactions: %w", err)
	}
	return text, nil
}

// GenerateSummary asks for the headline figures as JSON. Net profit is
// recomputed from income and expenses when the model's figure disagrees, and
// missing chart data is filled from the totals.
func (d *Documents) GenerateSummary(ctx context.Context, extracted string) (*StatementSummary, error) {
	if strings.TrimSpace(extracted) == "" {
		return nil, fmt.Errorf("%w: extracted data is required", ErrInput)
	}
	raw, err := d.client.Complete(ctx, llm.Request{
		Stage:           StageSummary,
		User:            summaryPrompt(extracted),
		MaxOutputTokens: summaryMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("Documents.GenerateSummary: %w", err)
	}

	var summary StatementSummary
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &summary); err != nil {
		d.logger.Warn().Err(err).Str("raw_response", logger.Truncate(raw, rawLogLimit)).Msg("Failed to parse summary")
		return nil, fmt.Errorf("Documents.GenerateSummary: %w: %w: %v", llm.ErrUpstream, ErrMalformedResponse, err)
	}

	income := decimal.NewFromFloat(summary.TotalIncome)
	expenses := decimal.NewFromFloat(summary.TotalExpenses)
	net := income.Sub(expenses)
	if !net.Equal(decimal.NewFromFloat(summary.NetProfit)) {
		d.logger.Debug().
			Float64("reported", summary.NetProfit).
			Str("computed", net.String()).
			Msg("Correcting net profit")
		summary.NetProfit = net.InexactFloat64()
	}
	if len(summary.ChartData.Labels) == 0 || len(summary.ChartData.Values) != len(summary.ChartData.Labels) {
		summary.ChartData = ChartData{
			Labels: []string{"Income", "Expenses"},
			Values: []float64{summary.TotalIncome, summary.TotalExpenses},
		}
	}
	return &summary, nil
}

// CompareAnalyses compares two or more saved analyses.
func (d *Documents) CompareAnalyses(ctx context.Context, analyses []json.RawMessage) (string, error) {
	if len(analyses) < 2 {
		return "", fmt.Errorf("%w: at least two analyses are required for comparison", ErrInput)
	}
	prompt, err := compareUserPrompt(analyses)
	if err != nil {
		return "", err
	}
	text, err := d.client.Complete(ctx, llm.Request{
		Stage:           StageCompare,
		System:          compareSystemPrompt,
		User:            prompt,
		MaxOutputTokens: compareMaxTokens,
		Temperature:     llm.Temperature(structuredTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("Documents.CompareAnalyses: %w", err)
	}
	return text, nil
}

// ProcessDocument runs the full pipeline over a single statement and returns
// the result without streaming.
func ProcessDocument(ctx context.Context, p *Processor, text string, w Window) (*ProcessingResult, error) {
	in := Input{
		Periods: []PeriodText{{Period: DefaultSingleDocumentPeriod, Text: text}},
		Window:  w,
	}
	return p.Process(ctx, in, NopEmitter)
}

func (d *Documents) split(text string) ([]chunker.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrInput)
	}
	chunks, err := chunker.Split(d.tokenizer, "", text, d.chunkTokens)
	if err != nil {
		return nil, fmt.Errorf("Documents: %w", err)
	}
	return chunks, nil
}
