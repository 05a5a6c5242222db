package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/api/middleware"
	"github.com/dvloznov/statement-analyzer/internal/jobs"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	engine    *pipeline.Engine
	publisher jobs.Publisher
	store     jobs.JobStore
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(engine *pipeline.Engine, publisher jobs.Publisher, store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		engine:    engine,
		publisher: publisher,
		store:     store,
		log:       log,
	}
}

// CreateJob handles POST /api/jobs.
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Periods []pipeline.PeriodText `json:"periods"`
		Window  pipeline.Window       `json:"window"`
		APIKey  string                `json:"apiKey"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err, "Invalid request")
		return
	}

	in := pipeline.Input{Periods: req.Periods, Window: req.Window}
	if err := in.Validate(); err != nil {
		writeError(w, h.log, err, "Invalid request")
		return
	}
	apiKey, err := h.engine.APIKey(apiKeyFrom(r, req.APIKey))
	if err != nil {
		writeError(w, h.log, err, "Invalid request")
		return
	}

	job := &jobs.ProcessStatementsJob{
		Periods: req.Periods,
		Window:  req.Window,
		APIKey:  apiKey,
	}
	if err := h.publisher.PublishProcessStatements(r.Context(), job); err != nil {
		writeError(w, h.log, err, "Failed to enqueue job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Int("periods", len(job.Periods)).Msg("Statements job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(jobs.JobStatusPending),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, h.log.With().Str("job_id", jobID).Logger(), err, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, h.log, err, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
