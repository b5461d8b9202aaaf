package daemon

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docpages/internal/eventstore"
	"git.home.luguber.info/inful/docpages/internal/sphinx/models"
)

func newEmitterFixture(t *testing.T) (*EventEmitter, eventstore.Store, *eventstore.PublishHistoryProjection) {
	t.Helper()

	store, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	projection := eventstore.NewPublishHistoryProjection(store, 0)
	emitter := NewEventEmitter(store, projection, nil, "gh-pages")
	return emitter, store, projection
}

func successReport(job models.Job) *models.BuildReport {
	report := models.NewBuildReport(job)
	report.StableCommit = "abc123def456"
	report.PublishCommit = "feedface0001"
	report.SourceFiles = 12
	report.PagesBuilt = 30
	report.BrokenLinks = 0
	report.Pushed = true
	report.StageDurations[string(models.StageSyncSource)] = 800 * time.Millisecond
	report.StageDurations[string(models.StageBuildDocs)] = 4 * time.Second
	report.StageDurations[string(models.StageVerifyLinks)] = time.Second
	report.Finish()
	report.DeriveOutcome()
	return report
}

func TestEmitterRecordsSuccessfulRun(t *testing.T) {
	emitter, store, projection := newEmitterFixture(t)
	ctx := context.Background()

	job := models.Job{ID: "run-1", Trigger: models.TriggerWebhook, Reason: "push to stable"}
	emitter.JobStarted(ctx, job)
	emitter.JobFinished(ctx, job, successReport(job), nil)

	stored, err := store.GetByBuildID(ctx, "run-1")
	require.NoError(t, err)

	types := make([]string, 0, len(stored))
	for _, evt := range stored {
		types = append(types, evt.Type())
	}
	assert.Equal(t, []string{
		"BuildStarted", "SourceSynced", "SourcesScanned",
		"DocsBuilt", "LinksVerified", "OutputCommitted",
		"PublishPushed", "BuildCompleted",
	}, types)

	summary, ok := projection.GetBuild("run-1")
	require.True(t, ok)
	assert.Equal(t, "success", summary.Status)
	assert.Equal(t, "abc123def456", summary.StableCommit)
	assert.Equal(t, "feedface0001", summary.PublishCommit)
	assert.Equal(t, 30, summary.PagesBuilt)
	assert.True(t, summary.Pushed)
}

func TestEmitterRecordsSkippedRun(t *testing.T) {
	emitter, store, projection := newEmitterFixture(t)
	ctx := context.Background()

	job := models.Job{ID: "run-skip", Trigger: models.TriggerSchedule}
	report := models.NewBuildReport(job)
	report.StableCommit = "abc123"
	report.SourceFiles = 12
	report.SkipReason = "sources_unchanged"
	report.Finish()
	report.DeriveOutcome()

	emitter.JobStarted(ctx, job)
	emitter.JobFinished(ctx, job, report, nil)

	stored, err := store.GetByBuildID(ctx, "run-skip")
	require.NoError(t, err)

	last := stored[len(stored)-1]
	assert.Equal(t, "BuildSkipped", last.Type())

	summary, ok := projection.GetBuild("run-skip")
	require.True(t, ok)
	assert.Equal(t, "skipped", summary.Status)
	assert.Equal(t, "sources_unchanged", summary.SkipReason)
}

func TestEmitterRecordsFailedRun(t *testing.T) {
	emitter, store, projection := newEmitterFixture(t)
	ctx := context.Background()

	job := models.Job{ID: "run-fail", Trigger: models.TriggerManual}
	report := models.NewBuildReport(job)
	report.StableCommit = "abc123"
	runErr := models.NewFatalStageError(models.StageBuildDocs, fmt.Errorf("sphinx exited 2"))
	report.AddIssue(models.IssueBuildFailure, models.StageBuildDocs, models.SeverityError,
		"sphinx exited 2", false, runErr)
	report.Finish()
	report.DeriveOutcome()

	emitter.JobStarted(ctx, job)
	emitter.JobFinished(ctx, job, report, runErr)

	stored, err := store.GetByBuildID(ctx, "run-fail")
	require.NoError(t, err)

	last := stored[len(stored)-1]
	assert.Equal(t, "BuildFailed", last.Type())

	summary, ok := projection.GetBuild("run-fail")
	require.True(t, ok)
	assert.Equal(t, "failed", summary.Status)
	assert.Equal(t, string(models.StageBuildDocs), summary.ErrorStage)
	assert.Contains(t, summary.ErrorMessage, "sphinx exited 2")
}

func TestEmitterHandlesNilReport(t *testing.T) {
	emitter, store, _ := newEmitterFixture(t)
	ctx := context.Background()

	job := models.Job{ID: "run-crash", Trigger: models.TriggerManual}
	emitter.JobFinished(ctx, job, nil, fmt.Errorf("worker panicked"))

	stored, err := store.GetByBuildID(ctx, "run-crash")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "BuildFailed", stored[0].Type())
}

func TestEmitterSurvivesNilBackends(t *testing.T) {
	emitter := NewEventEmitter(nil, nil, nil, "gh-pages")
	ctx := context.Background()

	job := models.Job{ID: "run-nil", Trigger: models.TriggerManual}
	assert.NotPanics(t, func() {
		emitter.JobStarted(ctx, job)
		emitter.JobFinished(ctx, job, successReport(job), nil)
		emitter.JobFinished(ctx, job, nil, fmt.Errorf("boom"))
	})
}

func TestTruncateError(t *testing.T) {
	long := strings.Repeat("x", maxStoredErrorLen+100)
	got := truncateError(long)
	assert.Len(t, got, maxStoredErrorLen+len("...(truncated)"))
	assert.Equal(t, "short", truncateError("short"))
}
