package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-ledger/internal/jobs"
)

func newTestQueue(store jobs.JobStore) *Queue {
	return NewQueue(10, store, QueueOptions{
		Workers:      2,
		MaxRetries:   2,
		RetryBackoff: 5 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
}

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.IngestAccountJob {
	t.Helper()
	var job *jobs.IngestAccountJob
	require.Eventually(t, func() bool {
		var err error
		job, err = store.GetJob(context.Background(), jobID)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestQueue_ProcessesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := newTestQueue(store)
	defer q.Close()

	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.IngestAccountJob)
		j.Transactions = 2
		j.Balance = "37.01"
		return nil
	}))

	job := &jobs.IngestAccountJob{AccountID: "A1", Trigger: jobs.TriggerAPI}
	require.NoError(t, q.PublishIngestAccount(ctx, job))
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, 2, job.MaxRetries)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 2, done.Transactions)
	assert.Equal(t, "37.01", done.Balance)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	// the published struct belongs to the caller and is not updated by workers
	assert.Equal(t, jobs.JobStatusPending, job.Status)
	assert.Nil(t, job.StartedAt)
	assert.Zero(t, job.Transactions)
}

func TestQueue_RetriesTransientFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := newTestQueue(store)
	defer q.Close()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("provider down")
		}
		return nil
	}))

	job := &jobs.IngestAccountJob{AccountID: "A1"}
	require.NoError(t, q.PublishIngestAccount(ctx, job))

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 2, done.RetryCount)
	assert.Empty(t, done.Error)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := newTestQueue(store)
	defer q.Close()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return errors.New("still down")
	}))

	job := &jobs.IngestAccountJob{AccountID: "A1"}
	require.NoError(t, q.PublishIngestAccount(ctx, job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, "still down", failed.Error)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_PermanentErrorsAreNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := newTestQueue(store)
	defer q.Close()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return jobs.Permanent(errors.New("account not found"))
	}))

	job := &jobs.IngestAccountJob{AccountID: "gone"}
	require.NoError(t, q.PublishIngestAccount(ctx, job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 0, failed.RetryCount)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_RejectsAfterClose(t *testing.T) {
	q := newTestQueue(NewStore())
	require.NoError(t, q.Close())

	err := q.PublishIngestAccount(context.Background(), &jobs.IngestAccountJob{AccountID: "A1"})
	assert.Error(t, err)
	assert.Error(t, q.Start(context.Background(), func(context.Context, jobs.Job) error { return nil }))
}

func TestQueue_RequiresAccount(t *testing.T) {
	q := newTestQueue(NewStore())
	defer q.Close()

	assert.Error(t, q.PublishIngestAccount(context.Background(), &jobs.IngestAccountJob{}))
}

func TestStore_ListJobsFilters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2025, 6, 26, 0, 0, 0, 0, time.UTC)

	for i, j := range []jobs.IngestAccountJob{
		{JobID: "1", AccountID: "A1", Status: jobs.JobStatusCompleted},
		{JobID: "2", AccountID: "A2", Status: jobs.JobStatusFailed},
		{JobID: "3", AccountID: "A1", Status: jobs.JobStatusPending},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveJob(ctx, &j))
	}

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].JobID)

	a1, err := s.ListJobs(ctx, jobs.JobFilter{AccountID: "A1"})
	require.NoError(t, err)
	assert.Len(t, a1, 2)

	failed, err := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "2", failed[0].JobID)

	page, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "2", page[0].JobID)

	_, err = s.GetJob(ctx, "missing")
	assert.True(t, errors.Is(err, jobs.ErrJobNotFound))
}

func TestStore_UpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveJob(ctx, &jobs.IngestAccountJob{JobID: "1", AccountID: "A1", Status: jobs.JobStatusRunning}))

	require.NoError(t, s.UpdateJobStatus(ctx, "1", jobs.JobStatusRetrying, "provider unavailable"))
	job, err := s.GetJob(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusRetrying, job.Status)
	assert.Equal(t, "provider unavailable", job.Error)
	assert.Nil(t, job.CompletedAt)

	require.NoError(t, s.UpdateJobStatus(ctx, "1", jobs.JobStatusFailed, ""))
	job, err = s.GetJob(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "provider unavailable", job.Error)
	assert.NotNil(t, job.CompletedAt)

	err = s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, "")
	assert.True(t, errors.Is(err, jobs.ErrJobNotFound))
}

func TestPermanent(t *testing.T) {
	base := errors.New("boom")
	assert.Nil(t, jobs.Permanent(nil))
	assert.False(t, jobs.IsPermanent(base))

	p := jobs.Permanent(base)
	assert.True(t, jobs.IsPermanent(p))
	assert.True(t, errors.Is(p, base))
	assert.Equal(t, "boom", p.Error())
}
