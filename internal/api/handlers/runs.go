package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/api/middleware"
	infraBQ "github.com/dvloznov/statement-analyzer/internal/infra/bigquery"
)

// RunLister lists audited pipeline runs.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]*infraBQ.PipelineRunRow, error)
}

// RunsHandler exposes the run audit trail.
type RunsHandler struct {
	runs RunLister
	log  zerolog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(runs RunLister, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{runs: runs, log: log}
}

// ListRuns handles GET /api/runs?limit=N.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := h.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, h.log, err, "Failed to list runs")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}
