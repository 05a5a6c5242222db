package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/api/middleware"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

// DocumentsHandler handles the JSON document operations.
type DocumentsHandler struct {
	engine *pipeline.Engine
	log    zerolog.Logger
}

// NewDocumentsHandler creates a new documents handler.
func NewDocumentsHandler(engine *pipeline.Engine, log zerolog.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		engine: engine,
		log:    log,
	}
}

// AnalyzeTransactions handles POST /api/analyze-transactions.
func (h *DocumentsHandler) AnalyzeTransactions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transactions json.RawMessage `json:"transactions"`
		APIKey       string          `json:"apiKey"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err, "Invalid request")
		return
	}
	text := rawText(req.Transactions)
	if text == "" {
		writeError(w, h.log, fmt.Errorf("%w: no transactions provided", pipeline.ErrInput), "Invalid request")
		return
	}

	docs, err := h.engine.Documents(r.Context(), apiKeyFrom(r, req.APIKey))
	if err != nil {
		writeError(w, h.log, err, "Failed to analyze transactions")
		return
	}
	analysis, err := docs.AnalyzeTransactions(r.Context(), text)
	if err != nil {
		writeError(w, h.log, err, "Failed to analyze transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"analysis": analysis})
}

// ExtractTransactions handles POST /api/extract-transactions.
func (h *DocumentsHandler) ExtractTransactions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID            string `json:"id"`
		StatementData string `json:"statementData"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err, "Invalid request")
		return
	}
	if req.ID == "" || strings.TrimSpace(req.StatementData) == "" {
		writeError(w, h.log, fmt.Errorf("%w: id and statementData are required", pipeline.ErrInput), "Invalid request")
		return
	}

	docs, err := h.engine.Documents(r.Context(), r.Header.Get(headerAPIKey))
	if err != nil {
		writeError(w, h.log, err, "Failed to extract transactions")
		return
	}
	extracted, err := docs.ExtractTransactions(r.Context(), req.StatementData)
	if err != nil {
		writeError(w, h.log, err, "Failed to extract transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"extractedData": extracted})
}

// GenerateSummary handles POST /api/generate-summary/{id}.
func (h *DocumentsHandler) GenerateSummary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExtractedData string `json:"extractedData"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err, "Invalid request")
		return
	}

	log := h.log.With().Str("statement_id", r.PathValue("id")).Logger()
	docs, err := h.engine.Documents(r.Context(), r.Header.Get(headerAPIKey))
	if err != nil {
		writeError(w, log, err, "Error generating summary")
		return
	}
	summary, err := docs.GenerateSummary(r.Context(), req.ExtractedData)
	if err != nil {
		writeError(w, log, err, "Error generating summary")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summary)
}

// GenerateVisualizations handles POST /api/generate-visualizations.
func (h *DocumentsHandler) GenerateVisualizations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transactions json.RawMessage `json:"transactions"`
		APIKey       string          `json:"apiKey"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err, "Invalid request")
		return
	}
	trimmed := bytes.TrimSpace(req.Transactions)
	if len(trimmed) == 0 || (trimmed[0] != '[' && trimmed[0] != '{') {
		writeError(w, h.log, fmt.Errorf("%w: invalid or missing transactions data", pipeline.ErrInput), "Invalid request")
		return
	}

	viz, err := h.engine.Visualizer(r.Context(), apiKeyFrom(r, req.APIKey))
	if err != nil {
		writeError(w, h.log, err, "Error generating visualizations")
		return
	}
	data, err := viz.GenerateFromJSON(r.Context(), trimmed)
	if err != nil {
		writeError(w, h.log, err, "Error generating visualizations")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"visualizationData": data})
}

// rawText returns a JSON string value unquoted, and any other JSON value as
// its compact text.
func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}
