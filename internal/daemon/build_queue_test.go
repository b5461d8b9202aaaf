package daemon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docpages/internal/git"
	"git.home.luguber.info/inful/docpages/internal/sphinx/models"
)

// fakeRunner lets tests script publish run results.
type fakeRunner struct {
	mu    sync.Mutex
	calls int
	run   func(ctx context.Context, job models.Job, attempt int) (*models.BuildReport, error)
}

func (f *fakeRunner) Run(ctx context.Context, job models.Job) (*models.BuildReport, error) {
	f.mu.Lock()
	f.calls++
	attempt := f.calls
	f.mu.Unlock()
	return f.run(ctx, job, attempt)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestBuildQueueRunsJob(t *testing.T) {
	runner := &fakeRunner{
		run: func(_ context.Context, job models.Job, _ int) (*models.BuildReport, error) {
			report := models.NewBuildReport(job)
			report.Outcome = models.OutcomeSuccess
			report.Finish()
			return report, nil
		},
	}

	bq := NewBuildQueue(10, 1, runner)

	var finished atomic.Int32
	bq.SetLifecycleHooks(nil, func(models.Job, *models.BuildReport, error) {
		finished.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bq.Start(ctx)
	defer bq.Stop(ctx)

	job := models.Job{ID: "job-1", Trigger: models.TriggerManual, RequestedAt: time.Now()}
	require.NoError(t, bq.Enqueue(job))

	waitFor(t, 2*time.Second, func() bool { return finished.Load() == 1 })

	history := bq.GetHistory()
	require.Len(t, history, 1)
	assert.Equal(t, JobStatusCompleted, history[0].Status)
	assert.Equal(t, string(models.OutcomeSuccess), history[0].Outcome)
	assert.False(t, bq.Running())
}

func TestBuildQueueRejectsWhenFull(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, job models.Job, _ int) (*models.BuildReport, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	bq := NewBuildQueue(1, 1, runner)
	// Not started, so jobs stay queued.

	require.NoError(t, bq.Enqueue(models.Job{ID: "a"}))
	err := bq.Enqueue(models.Job{ID: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue is full")
}

func TestBuildQueueRequiresJobID(t *testing.T) {
	bq := NewBuildQueue(1, 1, &fakeRunner{})
	require.Error(t, bq.Enqueue(models.Job{}))
}

func TestBuildQueueRetriesTransientFailure(t *testing.T) {
	runner := &fakeRunner{
		run: func(_ context.Context, job models.Job, attempt int) (*models.BuildReport, error) {
			if attempt < 3 {
				return nil, models.NewFatalStageError(models.StagePushPublishing,
					&git.NetworkTimeoutError{Op: "push", Err: fmt.Errorf("i/o timeout")})
			}
			report := models.NewBuildReport(job)
			report.Outcome = models.OutcomeSuccess
			report.Finish()
			return report, nil
		},
	}

	bq := NewBuildQueue(10, 1, runner)
	bq.SetMaxRetries(3)

	var finished atomic.Int32
	bq.SetLifecycleHooks(nil, func(models.Job, *models.BuildReport, error) {
		finished.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bq.Start(ctx)
	defer bq.Stop(ctx)

	require.NoError(t, bq.Enqueue(models.Job{ID: "retry-job", Trigger: models.TriggerWebhook}))

	waitFor(t, 10*time.Second, func() bool { return finished.Load() == 1 })

	assert.Equal(t, 3, runner.callCount())
	history := bq.GetHistory()
	require.Len(t, history, 1)
	assert.Equal(t, JobStatusCompleted, history[0].Status)
}

func TestBuildQueueDoesNotRetryPermanentFailure(t *testing.T) {
	runner := &fakeRunner{
		run: func(_ context.Context, job models.Job, _ int) (*models.BuildReport, error) {
			report := models.NewBuildReport(job)
			report.Outcome = models.OutcomeFailed
			report.Finish()
			return report, models.NewFatalStageError(models.StageBuildDocs, fmt.Errorf("sphinx exited 2"))
		},
	}

	bq := NewBuildQueue(10, 1, runner)
	bq.SetMaxRetries(3)

	var finished atomic.Int32
	bq.SetLifecycleHooks(nil, func(models.Job, *models.BuildReport, error) {
		finished.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bq.Start(ctx)
	defer bq.Stop(ctx)

	require.NoError(t, bq.Enqueue(models.Job{ID: "fail-job"}))

	waitFor(t, 2*time.Second, func() bool { return finished.Load() == 1 })

	assert.Equal(t, 1, runner.callCount())
	history := bq.GetHistory()
	require.Len(t, history, 1)
	assert.Equal(t, JobStatusFailed, history[0].Status)
	assert.Contains(t, history[0].Error, "sphinx exited 2")
}

func TestBuildQueueStopCancelsActiveJob(t *testing.T) {
	started := make(chan struct{})
	runner := &fakeRunner{
		run: func(ctx context.Context, _ models.Job, _ int) (*models.BuildReport, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	bq := NewBuildQueue(10, 1, runner)

	ctx := context.Background()
	bq.Start(ctx)

	require.NoError(t, bq.Enqueue(models.Job{ID: "long-job"}))
	<-started

	done := make(chan struct{})
	go func() {
		bq.Stop(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not stop")
	}
}
