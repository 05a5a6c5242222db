package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/statement-analyzer/internal/api/middleware"
)

// Routes collects the handlers served by the API. Runs may be nil when run
// auditing is disabled.
type Routes struct {
	Statements *StatementsHandler
	Documents  *DocumentsHandler
	Analyses   *AnalysesHandler
	Jobs       *JobsHandler
	Runs       *RunsHandler
	Metrics    http.Handler
}

// NewRouter registers every endpoint on a new ServeMux.
func NewRouter(rt Routes) *http.ServeMux {
	mux := http.NewServeMux()

	// Statement uploads
	mux.HandleFunc("POST /api/process-statements", rt.Statements.ProcessStatements)
	mux.HandleFunc("POST /api/process-statement", rt.Statements.ProcessStatement)
	mux.HandleFunc("POST /api/analyze-statement", rt.Statements.AnalyzeStatement)
	mux.HandleFunc("POST /api/ocr-statement", rt.Statements.OCRStatement)
	mux.HandleFunc("POST /api/upload-statement", rt.Statements.UploadStatement)
	mux.HandleFunc("GET /api/statements/{id}", rt.Statements.GetStatement)

	// Document operations
	mux.HandleFunc("POST /api/analyze-transactions", rt.Documents.AnalyzeTransactions)
	mux.HandleFunc("POST /api/extract-transactions", rt.Documents.ExtractTransactions)
	mux.HandleFunc("POST /api/generate-summary/{id}", rt.Documents.GenerateSummary)
	mux.HandleFunc("POST /api/generate-visualizations", rt.Documents.GenerateVisualizations)

	// Saved analyses
	mux.HandleFunc("POST /api/analyses", rt.Analyses.SaveAnalysis)
	mux.HandleFunc("GET /api/analyses", rt.Analyses.ListAnalyses)
	mux.HandleFunc("GET /api/analyses/{file}", rt.Analyses.GetAnalysis)
	mux.HandleFunc("GET /api/analyses/{file}/export", rt.Analyses.ExportAnalysis)
	mux.HandleFunc("POST /api/analyses/{file}/notion", rt.Analyses.PublishAnalysis)
	mux.HandleFunc("POST /api/compare-analyses", rt.Analyses.CompareAnalyses)

	// Jobs
	mux.HandleFunc("POST /api/jobs", rt.Jobs.CreateJob)
	mux.HandleFunc("GET /api/jobs", rt.Jobs.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", rt.Jobs.GetJob)

	if rt.Runs != nil {
		mux.HandleFunc("GET /api/runs", rt.Runs.ListRuns)
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}

	return mux
}
