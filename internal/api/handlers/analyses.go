package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/api/middleware"
	"github.com/dvloznov/statement-analyzer/internal/export"
	"github.com/dvloznov/statement-analyzer/internal/metrics"
	"github.com/dvloznov/statement-analyzer/internal/notionsync"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/store"
)

// AnalysisPublisher publishes a saved analysis to an external workspace.
type AnalysisPublisher interface {
	Publish(ctx context.Context, saved *store.Saved) (*notionsync.Published, error)
}

// AnalysesHandler handles saved analyses.
type AnalysesHandler struct {
	store     store.Store
	engine    *pipeline.Engine
	publisher AnalysisPublisher
	log       zerolog.Logger
}

// NewAnalysesHandler creates a new analyses handler. publisher may be nil
// when publishing is not configured.
func NewAnalysesHandler(s store.Store, engine *pipeline.Engine, publisher AnalysisPublisher, log zerolog.Logger) *AnalysesHandler {
	return &AnalysesHandler{
		store:     s,
		engine:    engine,
		publisher: publisher,
		log:       log,
	}
}

// SaveAnalysis handles POST /api/analyses.
func (h *AnalysesHandler) SaveAnalysis(w http.ResponseWriter, r *http.Request) {
	var req store.SaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err, "Invalid request")
		return
	}

	fileName, err := h.store.Save(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err, "Failed to save analysis")
		return
	}

	h.log.Info().Str("file_name", fileName).Msg("Analysis saved")
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"message":  "Analysis saved successfully",
		"fileName": fileName,
	})
}

// ListAnalyses handles GET /api/analyses.
func (h *AnalysesHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	analyses, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, h.log, err, "Failed to list analyses")
		return
	}
	if analyses == nil {
		analyses = []store.Summary{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": analyses,
	})
}

// GetAnalysis handles GET /api/analyses/{file}.
func (h *AnalysesHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	saved, err := h.store.Get(r.Context(), r.PathValue("file"))
	if err != nil {
		writeError(w, h.log, err, "Failed to fetch analysis")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, saved)
}

// ExportAnalysis handles GET /api/analyses/{file}/export?format=pdf|xlsx.
func (h *AnalysesHandler) ExportAnalysis(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, h.log, err, "Invalid export format")
		return
	}

	saved, err := h.store.Get(r.Context(), r.PathValue("file"))
	if err != nil {
		writeError(w, h.log, err, "Failed to fetch analysis")
		return
	}

	data, err := export.Build(saved, format)
	if err != nil {
		metrics.IncExport(string(format), "error")
		writeError(w, h.log, err, "Failed to export analysis")
		return
	}
	metrics.IncExport(string(format), "success")

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.FileName(saved.FileName)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Warn().Err(err).Str("file_name", saved.FileName).Msg("Failed to write export")
	}
}

// PublishAnalysis handles POST /api/analyses/{file}/notion.
func (h *AnalysesHandler) PublishAnalysis(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		writeError(w, h.log, notionsync.ErrNotConfigured, "Publishing unavailable")
		return
	}

	saved, err := h.store.Get(r.Context(), r.PathValue("file"))
	if err != nil {
		writeError(w, h.log, err, "Failed to fetch analysis")
		return
	}
	published, err := h.publisher.Publish(r.Context(), saved)
	if err != nil {
		writeError(w, h.log, err, "Failed to publish analysis")
		return
	}

	status := http.StatusOK
	if published.Created {
		status = http.StatusCreated
	}
	middleware.WriteJSON(w, status, published)
}

// CompareAnalyses handles POST /api/compare-analyses.
func (h *AnalysesHandler) CompareAnalyses(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileNames []string `json:"fileNames"`
		APIKey    string   `json:"apiKey"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err, "Invalid request")
		return
	}
	if len(req.FileNames) < 2 {
		writeError(w, h.log, fmt.Errorf("%w: at least two file names are required for comparison", pipeline.ErrInput), "Invalid request")
		return
	}

	ctx := r.Context()
	analyses := make([]json.RawMessage, 0, len(req.FileNames))
	for _, name := range req.FileNames {
		saved, err := h.store.Get(ctx, name)
		if err != nil {
			writeError(w, h.log, err, "Failed to compare analyses")
			return
		}
		analyses = append(analyses, saved.Analysis)
	}

	docs, err := h.engine.Documents(ctx, apiKeyFrom(r, req.APIKey))
	if err != nil {
		writeError(w, h.log, err, "Failed to compare analyses")
		return
	}
	comparison, err := docs.CompareAnalyses(ctx, analyses)
	if err != nil {
		writeError(w, h.log, err, "Failed to compare analyses")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"comparison": comparison})
}
