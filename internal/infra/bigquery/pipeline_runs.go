// Package bigquery records pipeline runs and raw model outputs in BigQuery.
package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

const (
	pipelineRunsTable = "pipeline_runs"
	modelOutputsTable = "model_outputs"

	// maxErrorLen bounds stored error messages.
	maxErrorLen = 2000
)

// Run statuses as stored in pipeline_runs.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// PipelineRunRow is one row of pipeline_runs. Nullable columns encode as
// JSON null when unset.
type PipelineRunRow struct {
	RunID      string                 `bigquery:"run_id" json:"runId"`           // REQUIRED
	StartedTS  time.Time              `bigquery:"started_ts" json:"startedAt"`   // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts" json:"finishedAt"` // NULLABLE

	Periods     []string            `bigquery:"periods" json:"periods"`          // REPEATED
	WindowStart bigquery.NullString `bigquery:"window_start" json:"windowStart"` // NULLABLE
	WindowEnd   bigquery.NullString `bigquery:"window_end" json:"windowEnd"`     // NULLABLE

	Status          string              `bigquery:"status" json:"status"`                    // REQUIRED
	ErrorMessage    bigquery.NullString `bigquery:"error_message" json:"error"`              // NULLABLE
	PeriodCount     bigquery.NullInt64  `bigquery:"period_count" json:"periodCount"`         // NULLABLE
	DegradedPeriods bigquery.NullInt64  `bigquery:"degraded_periods" json:"degradedPeriods"` // NULLABLE
	HasCharts       bigquery.NullBool   `bigquery:"has_charts" json:"hasCharts"`             // NULLABLE
}

// ModelOutputRow is one row of model_outputs.
type ModelOutputRow struct {
	OutputID string `bigquery:"output_id"` // REQUIRED
	RunID    string `bigquery:"run_id"`    // REQUIRED

	Stage   string              `bigquery:"stage"`   // REQUIRED
	Subject bigquery.NullString `bigquery:"subject"` // NULLABLE

	Prompt       string              `bigquery:"prompt"`        // REQUIRED
	Response     bigquery.NullString `bigquery:"response"`      // NULLABLE
	ErrorMessage bigquery.NullString `bigquery:"error_message"` // NULLABLE
	DurationMS   int64               `bigquery:"duration_ms"`   // REQUIRED

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
