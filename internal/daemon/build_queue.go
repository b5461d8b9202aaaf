package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/docpages/internal/logfields"
	"git.home.luguber.info/inful/docpages/internal/metrics"
	"git.home.luguber.info/inful/docpages/internal/sphinx/models"
)

// Runner executes one publish job. Implemented by sphinx.Publisher.
type Runner interface {
	Run(ctx context.Context, job models.Job) (*models.BuildReport, error)
}

// JobStatus is the queue-level state of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// QueuedJob wraps a publish job with queue bookkeeping.
type QueuedJob struct {
	Job         models.Job    `json:"job"`
	Status      JobStatus     `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Outcome     string        `json:"outcome,omitempty"`
	Error       string        `json:"error,omitempty"`

	cancel context.CancelFunc
}

// BuildQueue serializes publish runs through a bounded job channel and a
// fixed worker pool.
type BuildQueue struct {
	jobs        chan *QueuedJob
	workers     int
	maxSize     int
	mu          sync.RWMutex
	active      map[string]*QueuedJob
	history     []*QueuedJob
	historySize int
	stopChan    chan struct{}
	wg          sync.WaitGroup
	runner      Runner
	maxRetries  int
	recorder    metrics.Recorder

	// Lifecycle hooks, wired by the daemon for event persistence and
	// notifications. Both may be nil.
	onStarted  func(job models.Job)
	onFinished func(job models.Job, report *models.BuildReport, runErr error)
}

// NewBuildQueue creates a build queue.
func NewBuildQueue(maxSize, workers int, runner Runner) *BuildQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 1
	}

	return &BuildQueue{
		jobs:        make(chan *QueuedJob, maxSize),
		workers:     workers,
		maxSize:     maxSize,
		active:      make(map[string]*QueuedJob),
		history:     make([]*QueuedJob, 0),
		historySize: 50,
		stopChan:    make(chan struct{}),
		runner:      runner,
		recorder:    metrics.NoopRecorder{},
	}
}

// SetRecorder installs a metrics recorder (default noop).
func (bq *BuildQueue) SetRecorder(r metrics.Recorder) {
	if r != nil {
		bq.recorder = r
	}
}

// SetMaxRetries configures how many times a transiently failed run is
// re-attempted.
func (bq *BuildQueue) SetMaxRetries(n int) {
	if n >= 0 {
		bq.maxRetries = n
	}
}

// SetLifecycleHooks installs callbacks invoked around each run.
func (bq *BuildQueue) SetLifecycleHooks(onStarted func(models.Job), onFinished func(models.Job, *models.BuildReport, error)) {
	bq.onStarted = onStarted
	bq.onFinished = onFinished
}

// Start launches the worker pool.
func (bq *BuildQueue) Start(ctx context.Context) {
	slog.Info("Starting build queue", slog.Int("workers", bq.workers), slog.Int("max_size", bq.maxSize))

	for i := 0; i < bq.workers; i++ {
		bq.wg.Add(1)
		go bq.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop cancels active jobs and waits for the workers to exit.
func (bq *BuildQueue) Stop(ctx context.Context) {
	slog.Info("Stopping build queue")

	close(bq.stopChan)

	bq.mu.Lock()
	for _, job := range bq.active {
		if job.cancel != nil {
			job.cancel()
		}
	}
	bq.mu.Unlock()

	bq.wg.Wait()
	slog.Info("Build queue stopped")
}

// Enqueue adds a job without blocking. Returns an error when the queue is
// full.
func (bq *BuildQueue) Enqueue(job models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	queued := &QueuedJob{
		Job:       job,
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
	}

	select {
	case bq.jobs <- queued:
		bq.recorder.SetQueueDepth(len(bq.jobs))
		slog.Info("Publish job enqueued",
			logfields.JobID(job.ID), logfields.Trigger(string(job.Trigger)))
		return nil
	default:
		return fmt.Errorf("build queue is full")
	}
}

// Length returns the current queue length.
func (bq *BuildQueue) Length() int {
	return len(bq.jobs)
}

// Running reports whether any job is currently being processed.
func (bq *BuildQueue) Running() bool {
	bq.mu.RLock()
	defer bq.mu.RUnlock()
	return len(bq.active) > 0
}

// GetActiveJobs returns a copy of currently running jobs.
func (bq *BuildQueue) GetActiveJobs() []*QueuedJob {
	bq.mu.RLock()
	defer bq.mu.RUnlock()

	active := make([]*QueuedJob, 0, len(bq.active))
	for _, job := range bq.active {
		active = append(active, job)
	}
	return active
}

// GetHistory returns recently finished jobs, oldest first.
func (bq *BuildQueue) GetHistory() []*QueuedJob {
	bq.mu.RLock()
	defer bq.mu.RUnlock()

	history := make([]*QueuedJob, len(bq.history))
	copy(history, bq.history)
	return history
}

func (bq *BuildQueue) worker(ctx context.Context, workerID string) {
	defer bq.wg.Done()

	slog.Debug("Build worker started", slog.String("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Build worker stopped by context", slog.String("worker_id", workerID))
			return
		case <-bq.stopChan:
			slog.Debug("Build worker stopped by stop signal", slog.String("worker_id", workerID))
			return
		case job := <-bq.jobs:
			if job != nil {
				bq.processJob(ctx, job, workerID)
			}
		}
	}
}

// processJob runs one job, retrying transient failures.
func (bq *BuildQueue) processJob(ctx context.Context, queued *QueuedJob, workerID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	queued.cancel = cancel
	defer cancel()

	startTime := time.Now()
	queued.StartedAt = &startTime
	queued.Status = JobStatusRunning

	bq.mu.Lock()
	bq.active[queued.Job.ID] = queued
	bq.mu.Unlock()

	bq.recorder.SetQueueDepth(len(bq.jobs))

	slog.Info("Publish job started",
		logfields.JobID(queued.Job.ID),
		logfields.Trigger(string(queued.Job.Trigger)),
		slog.String("worker", workerID))

	if bq.onStarted != nil {
		bq.onStarted(queued.Job)
	}

	report, err := bq.executeRun(jobCtx, queued.Job)

	endTime := time.Now()
	queued.CompletedAt = &endTime
	queued.Duration = endTime.Sub(startTime)
	if report != nil {
		queued.Outcome = string(report.Outcome)
	}

	bq.mu.Lock()
	delete(bq.active, queued.Job.ID)
	bq.addToHistory(queued)
	bq.mu.Unlock()

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		queued.Status = JobStatusCanceled
		queued.Error = err.Error()
		slog.Warn("Publish job canceled", logfields.JobID(queued.Job.ID))
	case err != nil:
		queued.Status = JobStatusFailed
		queued.Error = err.Error()
		slog.Error("Publish job failed",
			logfields.JobID(queued.Job.ID),
			slog.Duration("duration", queued.Duration),
			logfields.Error(err))
	default:
		queued.Status = JobStatusCompleted
		slog.Info("Publish job completed",
			logfields.JobID(queued.Job.ID),
			slog.String("outcome", queued.Outcome),
			slog.Duration("duration", queued.Duration))
	}

	if bq.onFinished != nil {
		bq.onFinished(queued.Job, report, err)
	}
}

// executeRun performs the run, retrying when the failure is transient.
func (bq *BuildQueue) executeRun(ctx context.Context, job models.Job) (*models.BuildReport, error) {
	attempts := 0
	for {
		attempts++
		report, err := bq.runner.Run(ctx, job)
		if err == nil {
			return report, nil
		}

		var se *models.StageError
		transient := errors.As(err, &se) && se.Transient()
		if !transient || attempts > bq.maxRetries {
			if transient {
				slog.Warn("Transient error but retries exhausted",
					logfields.JobID(job.ID), slog.Int("attempts", attempts))
			}
			return report, err
		}

		slog.Warn("Transient publish error, retrying",
			logfields.JobID(job.ID),
			slog.Int("attempt", attempts),
			slog.Int("max_retries", bq.maxRetries),
			logfields.Error(err))

		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-time.After(time.Duration(attempts) * time.Second):
		}
	}
}

// addToHistory appends a finished job, bounded. Caller holds bq.mu.
func (bq *BuildQueue) addToHistory(job *QueuedJob) {
	bq.history = append(bq.history, job)

	if len(bq.history) > bq.historySize {
		copy(bq.history, bq.history[len(bq.history)-bq.historySize:])
		bq.history = bq.history[:bq.historySize]
	}
}
