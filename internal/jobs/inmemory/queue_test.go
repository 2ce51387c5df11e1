package inmemory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/spendwise/internal/jobs"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus, timeout time.Duration) *jobs.PipelineJob {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s never reached status %s, last seen: %+v", jobID, want, job)
	return nil
}

func TestQueueProcessesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	queue := NewQueue(10, 2, store)
	defer queue.Close()

	var handled int32
	handler := func(ctx context.Context, job *jobs.PipelineJob) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}
	if err := queue.Start(ctx, handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.PipelineJob{Type: jobs.JobTypeCategorize, UserID: "u1"}
	if err := queue.Publish(ctx, job); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if job.JobID == "" {
		t.Fatal("Publish did not assign a job ID")
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted, 2*time.Second)
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Errorf("timestamps not set: %+v", done)
	}
	if got := atomic.LoadInt32(&handled); got != 1 {
		t.Errorf("handler ran %d times", got)
	}
}

func TestQueuePublishValidation(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue(1, 1, NewStore())
	defer queue.Close()

	if err := queue.Publish(ctx, &jobs.PipelineJob{UserID: "u1"}); err == nil {
		t.Error("expected error for missing job type")
	}
	if err := queue.Publish(ctx, &jobs.PipelineJob{Type: jobs.JobTypeReconcile}); err == nil {
		t.Error("expected error for missing user ID")
	}
}

func TestQueueRetriesThenFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	queue := NewQueue(10, 1, store)
	defer queue.Close()

	var attempts int32
	handler := func(ctx context.Context, job *jobs.PipelineJob) error {
		atomic.AddInt32(&attempts, 1)
		return fmt.Errorf("stage blew up")
	}
	if err := queue.Start(ctx, handler); err != nil {
		t.Fatal(err)
	}

	job := &jobs.PipelineJob{Type: jobs.JobTypeReconcile, UserID: "u1", MaxRetries: 1}
	if err := queue.Publish(ctx, job); err != nil {
		t.Fatal(err)
	}

	// One initial attempt plus one retry after ~1s backoff.
	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed, 5*time.Second)
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if failed.Error == "" {
		t.Error("failed job carries no error message")
	}
	if failed.RetryCount != 1 {
		t.Errorf("RetryCount = %d", failed.RetryCount)
	}
}

func TestQueuePublishAfterCloseFails(t *testing.T) {
	queue := NewQueue(1, 1, NewStore())
	if err := queue.Close(); err != nil {
		t.Fatal(err)
	}
	err := queue.Publish(context.Background(), &jobs.PipelineJob{Type: jobs.JobTypeCategorize, UserID: "u1"})
	if err == nil {
		t.Error("expected error publishing to a closed queue")
	}
}

func TestQueueStopWaitsForInflightJobs(t *testing.T) {
	ctx := context.Background()

	store := NewStore()
	queue := NewQueue(10, 1, store)

	started := make(chan struct{})
	var finished int32
	var once sync.Once
	handler := func(ctx context.Context, job *jobs.PipelineJob) error {
		once.Do(func() { close(started) })
		time.Sleep(100 * time.Millisecond)
		atomic.AddInt32(&finished, 1)
		return nil
	}
	if err := queue.Start(ctx, handler); err != nil {
		t.Fatal(err)
	}
	if err := queue.Publish(ctx, &jobs.PipelineJob{Type: jobs.JobTypeCategorize, UserID: "u1"}); err != nil {
		t.Fatal(err)
	}

	<-started
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := queue.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if atomic.LoadInt32(&finished) != 1 {
		t.Error("Stop returned before the in-flight job finished")
	}
}

func TestStoreListJobsFilters(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	seed := []*jobs.PipelineJob{
		{JobID: "j1", Type: jobs.JobTypeCategorize, UserID: "u1", Status: jobs.JobStatusCompleted},
		{JobID: "j2", Type: jobs.JobTypeReconcile, UserID: "u1", Status: jobs.JobStatusPending},
		{JobID: "j3", Type: jobs.JobTypeCategorize, UserID: "u2", Status: jobs.JobStatusFailed},
	}
	for _, j := range seed {
		if err := store.SaveJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	byUser, err := store.ListJobs(ctx, jobs.JobFilter{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byUser) != 2 {
		t.Errorf("UserID filter returned %d jobs", len(byUser))
	}

	byType, _ := store.ListJobs(ctx, jobs.JobFilter{Type: jobs.JobTypeCategorize})
	if len(byType) != 2 {
		t.Errorf("Type filter returned %d jobs", len(byType))
	}

	byStatus, _ := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	if len(byStatus) != 1 || byStatus[0].JobID != "j3" {
		t.Errorf("Status filter returned %+v", byStatus)
	}

	limited, _ := store.ListJobs(ctx, jobs.JobFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("Limit filter returned %d jobs", len(limited))
	}
}
