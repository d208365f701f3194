package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-ledger/internal/jobs"
)

// QueueOptions configures a Queue. Zero values select the defaults.
type QueueOptions struct {
	// Workers is the number of jobs processed concurrently (default 5).
	Workers int

	// MaxRetries is applied to jobs published without one (default 3).
	MaxRetries int

	// RetryBackoff is the delay before the first retry; it doubles on each
	// further retry (default 1s).
	RetryBackoff time.Duration

	Logger zerolog.Logger
}

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	jobChan   chan *jobs.IngestAccountJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	workers      int
	maxRetries   int
	retryBackoff time.Duration
	log          zerolog.Logger
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishIngestAccount blocks.
func NewQueue(bufferSize int, store jobs.JobStore, opts QueueOptions) *Queue {
	q := &Queue{
		jobChan:      make(chan *jobs.IngestAccountJob, bufferSize),
		closeChan:    make(chan struct{}),
		store:        store,
		workers:      opts.Workers,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		log:          opts.Logger,
	}
	if q.workers <= 0 {
		q.workers = 5
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 3
	}
	if q.retryBackoff <= 0 {
		q.retryBackoff = time.Second
	}
	return q
}

// PublishIngestAccount implements the Publisher interface.
// It fills in the job's id and defaults, stores it and enqueues a copy for
// the workers. The caller's job is never touched after this returns.
func (q *Queue) PublishIngestAccount(ctx context.Context, job *jobs.IngestAccountJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	if job.AccountID == "" {
		return fmt.Errorf("account ID is required")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.maxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	// Workers get their own copy; the caller may still read job.
	queued := *job
	select {
	case q.jobChan <- &queued:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// It starts the configured number of workers, each calling handler for the
// jobs it receives.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}

			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.IngestAccountJob, handler jobs.JobHandler) {
	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	var retry *jobs.IngestAccountJob
	var backoff time.Duration

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case !jobs.IsPermanent(err) && job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		backoff = q.retryBackoff << (job.RetryCount - 1)

		next := *job
		next.Status = jobs.JobStatusPending
		next.StartedAt = nil
		next.CompletedAt = nil
		retry = &next

		q.log.Warn().
			Err(err).
			Str("job_id", job.JobID).
			Str("account_id", job.AccountID).
			Int("retry", job.RetryCount).
			Dur("backoff", backoff).
			Msg("Job failed, scheduling retry")
	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		q.log.Error().
			Err(err).
			Str("job_id", job.JobID).
			Str("account_id", job.AccountID).
			Msg("Job failed")
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	// Re-enqueue only after the retrying state is stored.
	if retry != nil {
		time.AfterFunc(backoff, func() {
			_ = q.PublishIngestAccount(ctx, retry)
		})
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
// It closes the queue and releases resources.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
