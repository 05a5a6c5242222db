package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/statement-analyzer/internal/jobs"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.ProcessStatementsJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s did not reach %s, last state %+v", jobID, want, job)
	return nil
}

func newTestQueue(store *Store) *Queue {
	return NewQueue(10, store, WithWorkers(1), WithBackoff(func(int) time.Duration { return time.Millisecond }))
}

func TestQueue_ProcessesJob(t *testing.T) {
	store := NewStore()
	q := newTestQueue(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.ProcessStatementsJob)
		j.Result = &pipeline.ProcessingResult{Analysis: "done", Transactions: pipeline.NewAllTransactions()}
		return nil
	}
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop(context.Background())

	job := &jobs.ProcessStatementsJob{Periods: []pipeline.PeriodText{{Period: "Jan", Text: "x"}}, APIKey: "secret"}
	if err := q.PublishProcessStatements(ctx, job); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if job.JobID == "" || job.MaxRetries != defaultMaxRetries {
		t.Errorf("defaults not applied: %+v", job)
	}

	got := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if got.Result == nil || got.Result.Analysis != "done" {
		t.Errorf("Result = %+v", got.Result)
	}
	if got.CompletedAt == nil || got.StartedAt == nil {
		t.Errorf("timestamps not set: %+v", got)
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	store := NewStore()
	q := newTestQueue(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	handler := func(ctx context.Context, job jobs.Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("upstream hiccup")
		}
		return nil
	}
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop(context.Background())

	job := &jobs.ProcessStatementsJob{}
	if err := q.PublishProcessStatements(ctx, job); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	got := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if got.RetryCount != 2 || got.Error != "" {
		t.Errorf("RetryCount = %d, Error = %q", got.RetryCount, got.Error)
	}
}

func TestQueue_RetryRunsOnFreshCopy(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithWorkers(1), WithBackoff(func(int) time.Duration { return 200 * time.Millisecond }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := make(chan *jobs.ProcessStatementsJob, 2)
	handler := func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.ProcessStatementsJob)
		if j.Status != jobs.JobStatusRunning || j.CompletedAt != nil {
			t.Errorf("attempt %d started in state %s", j.RetryCount+1, j.Status)
		}
		attempts <- j
		if j.RetryCount == 0 {
			return errors.New("upstream hiccup")
		}
		return nil
	}
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop(context.Background())

	job := &jobs.ProcessStatementsJob{}
	if err := q.PublishProcessStatements(ctx, job); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	retrying := waitForStatus(t, store, job.JobID, jobs.JobStatusRetrying)
	if retrying.RetryCount != 1 || retrying.Error != "upstream hiccup" || retrying.CompletedAt == nil {
		t.Errorf("retrying state = %+v", retrying)
	}

	got := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if got.RetryCount != 1 || got.Error != "" {
		t.Errorf("RetryCount = %d, Error = %q", got.RetryCount, got.Error)
	}
	first, second := <-attempts, <-attempts
	if first == second {
		t.Error("retry reused the job the first attempt was given")
	}
	if first.Status != jobs.JobStatusRetrying {
		t.Errorf("first attempt ended as %s, want %s", first.Status, jobs.JobStatusRetrying)
	}
}

func TestQueue_PermanentFailureIsNotRetried(t *testing.T) {
	store := NewStore()
	q := newTestQueue(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	handler := func(ctx context.Context, job jobs.Job) error {
		atomic.AddInt32(&calls, 1)
		return jobs.Permanent(errors.New("bad input"))
	}
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop(context.Background())

	job := &jobs.ProcessStatementsJob{}
	if err := q.PublishProcessStatements(ctx, job); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	got := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if got.RetryCount != 0 || got.Error != "bad input" {
		t.Errorf("RetryCount = %d, Error = %q", got.RetryCount, got.Error)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("handler called %d times", n)
	}
}

func TestQueue_MaxRetries(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithWorkers(1), WithMaxRetries(1), WithBackoff(func(int) time.Duration { return time.Millisecond }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	handler := func(ctx context.Context, job jobs.Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("upstream down")
	}
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop(context.Background())

	job := &jobs.ProcessStatementsJob{}
	if err := q.PublishProcessStatements(ctx, job); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	got := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if got.MaxRetries != 1 || got.RetryCount != 1 || got.Error != "upstream down" {
		t.Errorf("MaxRetries = %d, RetryCount = %d, Error = %q", got.MaxRetries, got.RetryCount, got.Error)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("handler called %d times, want 2", n)
	}
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(1, nil)
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := q.PublishProcessStatements(context.Background(), &jobs.ProcessStatementsJob{}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
	if err := q.Start(context.Background(), nil); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestStore_ListAndGet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		status := jobs.JobStatusCompleted
		if id == "b" {
			status = jobs.JobStatusFailed
		}
		if err := s.SaveJob(ctx, &jobs.ProcessStatementsJob{JobID: id, Status: status, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}
	}

	all, _ := s.ListJobs(ctx, jobs.JobFilter{})
	if len(all) != 3 || all[0].JobID != "c" || all[2].JobID != "a" {
		t.Errorf("ListJobs order = %v", ids(all))
	}
	completed, _ := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted, Limit: 1})
	if len(completed) != 1 || completed[0].JobID != "c" {
		t.Errorf("filtered = %v", ids(completed))
	}
	paged, _ := s.ListJobs(ctx, jobs.JobFilter{Offset: 5})
	if len(paged) != 0 {
		t.Errorf("offset past end = %v", ids(paged))
	}

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if err := s.UpdateJobStatus(ctx, "b", jobs.JobStatusRetrying, "again"); err != nil {
		t.Fatalf("UpdateJobStatus failed: %v", err)
	}
	b, _ := s.GetJob(ctx, "b")
	if b.Status != jobs.JobStatusRetrying || b.Error != "again" {
		t.Errorf("b = %+v", b)
	}
	if err := s.SaveJob(ctx, &jobs.ProcessStatementsJob{}); err == nil {
		t.Error("expected error for a job without id")
	}
}

func ids(list []*jobs.ProcessStatementsJob) []string {
	out := make([]string, len(list))
	for i, j := range list {
		out[i] = j.JobID
	}
	return out
}
