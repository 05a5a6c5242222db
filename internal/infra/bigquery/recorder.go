package bigquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

// RowIterator is satisfied by *bigquery.RowIterator.
type RowIterator interface {
	Next(dst interface{}) error
}

// Querier runs parameterized statements against a dataset.
type Querier interface {
	Exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error
	Read(ctx context.Context, sql string, params []bigquery.QueryParameter) (RowIterator, error)
}

// clientQuerier runs DML through query jobs, avoiding the streaming buffer
// so rows can be updated right after insert.
type clientQuerier struct {
	client *bigquery.Client
}

func (c *clientQuerier) Exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := c.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func (c *clientQuerier) Read(ctx context.Context, sql string, params []bigquery.QueryParameter) (RowIterator, error) {
	q := c.client.Query(sql)
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading query: %w", err)
	}
	return it, nil
}

// RunRecorder implements pipeline.RunRecorder on BigQuery.
type RunRecorder struct {
	q       Querier
	project string
	dataset string
	closeFn func() error
	newID   func() string
}

// NewRunRecorder opens a BigQuery client for projectID and records into
// datasetID.
func NewRunRecorder(ctx context.Context, projectID, datasetID string) (*RunRecorder, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRunRecorder: creating client: %w", err)
	}
	r := NewRunRecorderWithQuerier(&clientQuerier{client: client}, projectID, datasetID)
	r.closeFn = client.Close
	return r, nil
}

// NewRunRecorderWithQuerier creates a RunRecorder over an existing Querier.
func NewRunRecorderWithQuerier(q Querier, projectID, datasetID string) *RunRecorder {
	return &RunRecorder{
		q:       q,
		project: projectID,
		dataset: datasetID,
		newID:   uuid.NewString,
	}
}

// Close closes the BigQuery client connection.
func (r *RunRecorder) Close() error {
	if r.closeFn != nil {
		return r.closeFn()
	}
	return nil
}

func (r *RunRecorder) table(name string) string {
	return "`" + r.project + "." + r.dataset + "." + name + "`"
}

// StartRun inserts a pipeline_runs row with status RUNNING.
func (r *RunRecorder) StartRun(ctx context.Context, info pipeline.RunInfo) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s (
			run_id, started_ts, periods,
			window_start, window_end, status
		)
		VALUES (
			@run_id, @started_ts, @periods,
			@window_start, @window_end, @status
		)
	`, r.table(pipelineRunsTable))

	periods := info.Periods
	if periods == nil {
		periods = []string{}
	}
	params := []bigquery.QueryParameter{
		{Name: "run_id", Value: info.RunID},
		{Name: "started_ts", Value: info.StartedAt},
		{Name: "periods", Value: periods},
		{Name: "window_start", Value: nullString(info.Window.Start)},
		{Name: "window_end", Value: nullString(info.Window.End)},
		{Name: "status", Value: RunStatusRunning},
	}
	if err := r.q.Exec(ctx, sql, params); err != nil {
		return fmt.Errorf("StartRun: %w", err)
	}
	return nil
}

// RecordModelOutput inserts one model_outputs row.
func (r *RunRecorder) RecordModelOutput(ctx context.Context, out pipeline.ModelOutput) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s (
			output_id, run_id, stage, subject,
			prompt, response, error_message,
			duration_ms, created_ts
		)
		VALUES (
			@output_id, @run_id, @stage, @subject,
			@prompt, @response, @error_message,
			@duration_ms, @created_ts
		)
	`, r.table(modelOutputsTable))

	created := out.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	params := []bigquery.QueryParameter{
		{Name: "output_id", Value: r.newID()},
		{Name: "run_id", Value: out.RunID},
		{Name: "stage", Value: out.Stage},
		{Name: "subject", Value: nullString(out.Subject)},
		{Name: "prompt", Value: out.Prompt},
		{Name: "response", Value: nullString(out.Response)},
		{Name: "error_message", Value: nullString(truncate(out.Err, maxErrorLen))},
		{Name: "duration_ms", Value: out.Duration.Milliseconds()},
		{Name: "created_ts", Value: created},
	}
	if err := r.q.Exec(ctx, sql, params); err != nil {
		return fmt.Errorf("RecordModelOutput: %w", err)
	}
	return nil
}

// FinishRun sets the final status, finish time and counters of a run.
func (r *RunRecorder) FinishRun(ctx context.Context, outcome pipeline.RunOutcome) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message,
		    period_count = @period_count,
		    degraded_periods = @degraded_periods,
		    has_charts = @has_charts
		WHERE run_id = @run_id
	`, r.table(pipelineRunsTable))

	status := RunStatusFailed
	errMsg := truncate(outcome.Error, maxErrorLen)
	if outcome.Status == "success" {
		status = RunStatusSuccess
	} else if errMsg == "" {
		errMsg = outcome.Status
	}
	finished := outcome.CompletedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}

	params := []bigquery.QueryParameter{
		{Name: "status", Value: status},
		{Name: "finished_ts", Value: finished},
		{Name: "error_message", Value: nullString(errMsg)},
		{Name: "period_count", Value: int64(outcome.Periods)},
		{Name: "degraded_periods", Value: int64(outcome.Degraded)},
		{Name: "has_charts", Value: outcome.HasCharts},
		{Name: "run_id", Value: outcome.RunID},
	}
	if err := r.q.Exec(ctx, sql, params); err != nil {
		return fmt.Errorf("FinishRun: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (r *RunRecorder) RecentRuns(ctx context.Context, limit int) ([]*PipelineRunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	sql := fmt.Sprintf(`
		SELECT run_id, started_ts, finished_ts, periods, window_start, window_end,
		       status, error_message, period_count, degraded_periods, has_charts
		FROM %s
		ORDER BY started_ts DESC
		LIMIT @limit
	`, r.table(pipelineRunsTable))

	it, err := r.q.Read(ctx, sql, []bigquery.QueryParameter{{Name: "limit", Value: int64(limit)}})
	if err != nil {
		return nil, fmt.Errorf("RecentRuns: %w", err)
	}

	runs := []*PipelineRunRow{}
	for {
		var row PipelineRunRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("RecentRuns: iterating rows: %w", err)
		}
		runs = append(runs, &row)
	}
	return runs, nil
}

var _ pipeline.RunRecorder = (*RunRecorder)(nil)
