package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendEvent(t *testing.T, store Store, ev Event) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), ev.BuildID(), ev.Type(), ev.Payload(), ev.Metadata()))
}

func TestProjectionRebuildFromStore(t *testing.T) {
	store := newTestStore(t)

	started, err := NewBuildStarted("job-1", "webhook", "")
	require.NoError(t, err)
	appendEvent(t, store, started)

	synced, err := NewSourceSynced("job-1", "abc123", time.Second)
	require.NoError(t, err)
	appendEvent(t, store, synced)

	scanned, err := NewSourcesScanned("job-1", 42, 2, 1, 0)
	require.NoError(t, err)
	appendEvent(t, store, scanned)

	built, err := NewDocsBuilt("job-1", 40, 10*time.Second)
	require.NoError(t, err)
	appendEvent(t, store, built)

	committed, err := NewOutputCommitted("job-1", "def456", false)
	require.NoError(t, err)
	appendEvent(t, store, committed)

	pushed, err := NewPublishPushed("job-1", "gh-pages", "def456", 0)
	require.NoError(t, err)
	appendEvent(t, store, pushed)

	completed, err := NewBuildCompleted("job-1", "success", 12*time.Second, BuildReportData{Outcome: "success"})
	require.NoError(t, err)
	appendEvent(t, store, completed)

	proj := NewPublishHistoryProjection(store, 10)
	require.NoError(t, proj.Rebuild(context.Background()))

	summary, ok := proj.GetBuild("job-1")
	require.True(t, ok)
	assert.Equal(t, "success", summary.Status)
	assert.Equal(t, "webhook", summary.Trigger)
	assert.Equal(t, "abc123", summary.StableCommit)
	assert.Equal(t, "def456", summary.PublishCommit)
	assert.Equal(t, 42, summary.SourceFiles)
	assert.Equal(t, 40, summary.PagesBuilt)
	assert.True(t, summary.Pushed)
	require.NotNil(t, summary.CompletedAt)

	history := proj.GetHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "job-1", history[0].BuildID)
}

func TestProjectionApplyFailedBuild(t *testing.T) {
	proj := NewPublishHistoryProjection(newTestStore(t), 10)

	started, err := NewBuildStarted("job-2", "schedule", "")
	require.NoError(t, err)
	proj.Apply(started)

	active := proj.GetActiveBuild()
	require.NotNil(t, active)
	assert.Equal(t, "job-2", active.BuildID)

	failed, err := NewBuildFailed("job-2", "build_docs", "sphinx exited with status 2")
	require.NoError(t, err)
	proj.Apply(failed)

	summary, ok := proj.GetBuild("job-2")
	require.True(t, ok)
	assert.Equal(t, "failed", summary.Status)
	assert.Equal(t, "build_docs", summary.ErrorStage)
	assert.Equal(t, "sphinx exited with status 2", summary.ErrorMessage)
	assert.Nil(t, proj.GetActiveBuild())
}

func TestProjectionSkippedBuild(t *testing.T) {
	proj := NewPublishHistoryProjection(newTestStore(t), 10)

	started, err := NewBuildStarted("job-3", "schedule", "")
	require.NoError(t, err)
	proj.Apply(started)

	skipped, err := NewBuildSkipped("job-3", "sources_unchanged")
	require.NoError(t, err)
	proj.Apply(skipped)

	summary, ok := proj.GetBuild("job-3")
	require.True(t, ok)
	assert.Equal(t, "skipped", summary.Status)
	assert.Equal(t, "sources_unchanged", summary.SkipReason)

	last := proj.GetLastCompletedBuild()
	require.NotNil(t, last)
	assert.Equal(t, "job-3", last.BuildID)
}

func TestProjectionHistoryBounded(t *testing.T) {
	proj := NewPublishHistoryProjection(newTestStore(t), 2)

	for _, id := range []string{"a", "b", "c"} {
		started, err := NewBuildStarted(id, "manual", "")
		require.NoError(t, err)
		proj.Apply(started)
		completed, err := NewBuildCompleted(id, "success", time.Second, BuildReportData{})
		require.NoError(t, err)
		proj.Apply(completed)
	}

	assert.Len(t, proj.GetHistory(), 2)

	// The oldest build fell out of both history and the build map.
	_, ok := proj.GetBuild("a")
	assert.False(t, ok)
}

func TestProjectionIgnoresEmptyBuildID(t *testing.T) {
	proj := NewPublishHistoryProjection(newTestStore(t), 10)
	proj.Apply(&BaseEvent{EventType: "BuildStarted"})
	assert.Empty(t, proj.GetHistory())
	assert.Nil(t, proj.GetActiveBuild())
}
