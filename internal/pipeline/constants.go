package pipeline

import "time"

// Default values for statement processing.
// Budgets and temperatures are per stage; Options can override the chunk
// budget and pacing.
const (
	// DefaultChunkTokens bounds the encoded size of one extraction chunk.
	DefaultChunkTokens = 4000

	// DefaultChunkPause is the pause between consecutive chunk calls of one period.
	DefaultChunkPause = time.Second

	// DefaultSingleDocumentPeriod labels the only period of a single-document run.
	DefaultSingleDocumentPeriod = "Statement"
)

// Stage names, used in model requests, logs and metrics.
const (
	StageExtract             = "extract"
	StageAggregate           = "aggregate"
	StageAnalyze             = "analyze"
	StageVisualize           = "visualize"
	StageAnalyzeStatement    = "analyze_statement"
	StageOCR                 = "ocr"
	StageAnalyzeTransactions = "analyze_transactions"
	StageExtractTransactions = "extract_transactions"
	StageSummary             = "summary"
	StageCompare             = "compare"
)

// Output-token budgets per stage.
const (
	extractMaxTokens             = 2000
	aggregateMaxTokens           = 2000
	analyzeMaxTokens             = 4000
	visualizeMaxTokens           = 1500
	analyzeStatementMaxTokens    = 500
	ocrMaxTokens                 = 1500
	analyzeTransactionsMaxTokens = 1500
	extractTransactionsMaxTokens = 1000
	summaryMaxTokens             = 500
	compareMaxTokens             = 4000
)

// structuredTemperature is used wherever the output is parsed or compared.
const structuredTemperature float32 = 0.2

// rawLogLimit caps raw model output copied into log fields.
const rawLogLimit = 4000
