package sphinx

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docpages/internal/config"
	"git.home.luguber.info/inful/docpages/internal/sphinx/models"
	"git.home.luguber.info/inful/docpages/internal/workspace"
)

func newOrigin(t *testing.T) (*gogit.Repository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	require.NoError(t, err)
	originCommit(t, repo, dir, "docs/index.rst", "Welcome\n=======\n\nFirst edition.\n")
	return repo, dir
}

func originCommit(t *testing.T, repo *gogit.Repository, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit("update "+name, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Author", Email: "author@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

func publisherConfig(originDir string) *config.Config {
	cfg := &config.Config{
		Source: config.SourceConfig{URL: originDir, Branch: "main"},
		Build: config.BuildConfig{
			// Deterministic stand-in for the Sphinx build: renders the rst
			// source into the output tree.
			Command:              "mkdir -p docs/html && cp docs/index.rst docs/html/index.html",
			Timeout:              "1m",
			SkipEnvironmentSetup: true,
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestPublisher(t *testing.T, cfg *config.Config, dataDir string) *Publisher {
	t.Helper()
	return NewPublisher(cfg, workspace.NewManager(t.TempDir()), dataDir)
}

func TestPublisherFirstRunPublishes(t *testing.T) {
	origin, originDir := newOrigin(t)
	cfg := publisherConfig(originDir)
	dataDir := t.TempDir()

	pub := newTestPublisher(t, cfg, dataDir)
	report, err := pub.Run(context.Background(), models.Job{
		ID: "job-1", Trigger: models.TriggerManual, RequestedAt: time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeSuccess, report.Outcome)
	assert.True(t, report.Pushed)
	assert.NotEmpty(t, report.PublishCommit)
	assert.NotEmpty(t, report.StableCommit)
	assert.Equal(t, 1, report.PagesBuilt)
	assert.Equal(t, 1, report.SourceFiles)

	// Publishing branch exists on the remote with the publish commit.
	ref, err := origin.Reference(plumbing.NewBranchReferenceName("gh-pages"), true)
	require.NoError(t, err)
	assert.Equal(t, report.PublishCommit, ref.Hash().String())

	commit, err := origin.CommitObject(ref.Hash())
	require.NoError(t, err)
	assert.Contains(t, commit.Message, report.StableCommit, "commit message records the triggering commit")

	assert.FileExists(t, filepath.Join(dataDir, "publish-report.json"))
	assert.FileExists(t, filepath.Join(dataDir, "source-snapshot.json"))
}

func TestPublisherSkipsWhenSourcesUnchanged(t *testing.T) {
	_, originDir := newOrigin(t)
	cfg := publisherConfig(originDir)
	dataDir := t.TempDir()

	first, err := newTestPublisher(t, cfg, dataDir).Run(context.Background(), models.Job{
		ID: "job-1", Trigger: models.TriggerSchedule, RequestedAt: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeSuccess, first.Outcome)

	second, err := newTestPublisher(t, cfg, dataDir).Run(context.Background(), models.Job{
		ID: "job-2", Trigger: models.TriggerSchedule, RequestedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSkipped, second.Outcome)
	assert.Equal(t, "sources_unchanged", second.SkipReason)
	assert.False(t, second.Pushed)
}

func TestPublisherManualRunAlwaysBuilds(t *testing.T) {
	_, originDir := newOrigin(t)
	cfg := publisherConfig(originDir)
	dataDir := t.TempDir()

	_, err := newTestPublisher(t, cfg, dataDir).Run(context.Background(), models.Job{
		ID: "job-1", Trigger: models.TriggerSchedule, RequestedAt: time.Now(),
	})
	require.NoError(t, err)

	// Manual dispatch skips the unchanged-sources check; output is identical
	// so the run completes without a new publish commit.
	report, err := newTestPublisher(t, cfg, dataDir).Run(context.Background(), models.Job{
		ID: "job-2", Trigger: models.TriggerManual, RequestedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, report.Outcome)
	assert.Empty(t, report.SkipReason)
	assert.True(t, report.NothingToCommit)
	assert.False(t, report.Pushed)
}

func TestPublisherPicksUpSourceChanges(t *testing.T) {
	origin, originDir := newOrigin(t)
	cfg := publisherConfig(originDir)
	dataDir := t.TempDir()

	first, err := newTestPublisher(t, cfg, dataDir).Run(context.Background(), models.Job{
		ID: "job-1", Trigger: models.TriggerSchedule, RequestedAt: time.Now(),
	})
	require.NoError(t, err)

	originCommit(t, origin, originDir, "docs/index.rst", "Welcome\n=======\n\nSecond edition.\n")

	second, err := newTestPublisher(t, cfg, dataDir).Run(context.Background(), models.Job{
		ID: "job-2", Trigger: models.TriggerWebhook, RequestedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, second.Outcome)
	assert.True(t, second.Pushed)
	assert.NotEqual(t, first.PublishCommit, second.PublishCommit)

	// The new publish commit is a descendant carrying the merged source.
	ref, err := origin.Reference(plumbing.NewBranchReferenceName("gh-pages"), true)
	require.NoError(t, err)
	assert.Equal(t, second.PublishCommit, ref.Hash().String())
}

func TestPublisherBuildFailureReported(t *testing.T) {
	_, originDir := newOrigin(t)
	cfg := publisherConfig(originDir)
	cfg.Build.Command = "exit 2"
	dataDir := t.TempDir()

	report, err := newTestPublisher(t, cfg, dataDir).Run(context.Background(), models.Job{
		ID: "job-1", Trigger: models.TriggerManual, RequestedAt: time.Now(),
	})
	require.Error(t, err)
	assert.Equal(t, models.OutcomeFailed, report.Outcome)
	assert.False(t, report.Pushed)

	var codes []models.ReportIssueCode
	for _, issue := range report.Issues {
		codes = append(codes, issue.Code)
	}
	assert.Contains(t, codes, models.IssueBuildFailure)

	// No snapshot persisted for a failed run: the next run must rebuild.
	assert.NoFileExists(t, filepath.Join(dataDir, "source-snapshot.json"))
}

type countingVerifier struct{ broken int }

func (v countingVerifier) VerifyTree(context.Context, string) (int, error) { return v.broken, nil }

func TestPublisherBrokenLinksAreNonFatal(t *testing.T) {
	origin, originDir := newOrigin(t)
	cfg := publisherConfig(originDir)
	cfg.Verify.Links.Enabled = true
	dataDir := t.TempDir()

	pub := newTestPublisher(t, cfg, dataDir)
	pub.SetLinkVerifier(countingVerifier{broken: 2})

	report, err := pub.Run(context.Background(), models.Job{
		ID: "job-1", Trigger: models.TriggerManual, RequestedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeWarning, report.Outcome)
	assert.Equal(t, 2, report.BrokenLinks)
	assert.True(t, report.Pushed, "broken links must not block publishing")

	_, err = origin.Reference(plumbing.NewBranchReferenceName("gh-pages"), true)
	require.NoError(t, err)
}

func TestStageSetupEnvironmentRecordsMissingFiles(t *testing.T) {
	t.Setenv("DOCPAGES_SKIP_SPHINX", "")
	cfg := publisherConfig(t.TempDir())
	cfg.Build.SkipEnvironmentSetup = false

	pub := newTestPublisher(t, cfg, "")
	bs := models.NewBuildState(models.Job{ID: "env-1", Trigger: models.TriggerManual}, cfg, nil, nil)
	bs.Workspace = t.TempDir()

	require.NoError(t, pub.stageSetupEnvironment(context.Background(), bs))

	require.Len(t, bs.Report.Issues, 1)
	issue := bs.Report.Issues[0]
	assert.Equal(t, models.IssueEnvSetupSkipped, issue.Code)
	assert.Equal(t, models.StageSetupEnvironment, issue.Stage)
	assert.Equal(t, models.SeverityWarning, issue.Severity)

	// A missing optional toolchain file flags the report but keeps the run
	// successful.
	bs.Report.DeriveOutcome()
	assert.Equal(t, models.OutcomeSuccess, bs.Report.Outcome)
}

func TestPublisherConfigSnapshotSwap(t *testing.T) {
	cfg := publisherConfig(t.TempDir())
	pub := newTestPublisher(t, cfg, "")

	next := publisherConfig(t.TempDir())
	next.Source.Branch = "release"
	pub.UpdateConfig(next)

	assert.Same(t, next, pub.cfg.Load())
	assert.Equal(t, "main", cfg.Source.Branch, "previous snapshot is never mutated")

	pub.UpdateConfig(nil)
	assert.Same(t, next, pub.cfg.Load())
}

func TestDocsOutputDirLayout(t *testing.T) {
	assert.Equal(t, filepath.Join("ws", "repo", "docs", "html"), DocsOutputDir("ws", "docs/html"))
}

func TestCommitMessagePlaceholders(t *testing.T) {
	sha := "0123456789abcdef0123456789abcdef01234567"
	assert.Equal(t, "docs build for "+sha, commitMessage("docs build for {sha}", sha, "stable"))
	assert.Equal(t, "publish 01234567", commitMessage("publish {short_sha}", sha, "stable"))
	assert.Equal(t, "stable at 01234567", commitMessage("{branch} at {short_sha}", sha, "stable"))
	assert.Equal(t, "docs build for "+sha, commitMessage("", sha, "stable"))
}
