package sphinx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/docpages/internal/config"
	"git.home.luguber.info/inful/docpages/internal/docscan"
	"git.home.luguber.info/inful/docpages/internal/git"
	"git.home.luguber.info/inful/docpages/internal/logfields"
	"git.home.luguber.info/inful/docpages/internal/sphinx/models"
)

// stagePrepareWorkspace creates the workspace and clones or reopens the source
// repository.
func (p *Publisher) stagePrepareWorkspace(ctx context.Context, bs *models.BuildState) error {
	if err := p.ws.Create(); err != nil {
		return err
	}
	repoDir := filepath.Join(p.ws.GetPath(), RepoDirName)

	client, err := git.NewClient(bs.Config, repoDir)
	if err != nil {
		return err
	}
	client.OnPushRetry = func() {
		bs.Report.Retries++
		bs.Recorder.IncPushRetry()
	}
	bs.Client = client
	bs.Workspace = repoDir

	return client.CloneOrOpen(ctx)
}

// stageSyncSource fetches origin and pins the stable head for this run.
func (p *Publisher) stageSyncSource(ctx context.Context, bs *models.BuildState) error {
	if err := bs.Client.FetchSource(ctx); err != nil {
		return err
	}
	if err := bs.Client.CheckoutStable(ctx); err != nil {
		return err
	}

	stable, err := bs.Client.ResolveStableHead()
	if err != nil {
		return err
	}
	bs.Git.StableHead = stable
	bs.Report.StableCommit = stable.String()

	pub, err := bs.Client.ResolvePublishingHead()
	if err != nil {
		return err
	}
	bs.Git.PublishingHead = pub

	slog.Info("Source synced",
		logfields.Branch(bs.Config.Source.Branch), logfields.Commit(stable.String()[:8]))
	return nil
}

// stageScanSources fingerprints the source tree and decides whether the run
// can be skipped. Manual runs always build.
func (p *Publisher) stageScanSources(_ context.Context, bs *models.BuildState) error {
	scanner := docscan.NewScanner(bs.Config.Publish.OutputDir)
	snap, err := scanner.Scan(bs.Workspace)
	if err != nil {
		return err
	}
	snap.StableCommit = bs.Git.StableHead.String()
	bs.Docs.Snapshot = snap
	bs.Report.SourceFiles = snap.SourceFileCount()

	prev, err := docscan.LoadSnapshot(p.snapshotPath())
	if err != nil {
		slog.Warn("Previous source snapshot unreadable, rebuilding", logfields.Error(err))
		prev = nil
	}
	bs.Docs.Delta = snap.Diff(prev)

	if bs.Job.Trigger != models.TriggerManual && prev != nil && bs.Docs.Delta.Empty() {
		bs.Docs.SourcesUnchanged = true
		slog.Info("Sources unchanged since last publish", logfields.Commit(snap.StableCommit))
		return nil
	}
	slog.Debug("Source delta", slog.String("delta", bs.Docs.Delta.Summary()))
	return nil
}

func (p *Publisher) stageCheckoutPublishing(ctx context.Context, bs *models.BuildState) error {
	return bs.Client.CheckoutPublishing(ctx)
}

func (p *Publisher) stageMergeStable(ctx context.Context, bs *models.BuildState) error {
	merged, err := bs.Client.MergeStable(ctx, bs.Git.StableHead, bs.Config.Publish.OutputDir)
	if err != nil {
		return err
	}
	bs.Git.MergedHead = merged
	return nil
}

// stageSetupEnvironment prepares the toolchain. A checkout carrying neither
// the environment file nor the requirements file is flagged on the report but
// does not fail the run.
func (p *Publisher) stageSetupEnvironment(ctx context.Context, bs *models.BuildState) error {
	status, err := NewToolchain(bs.Config.Build, bs.Workspace).SetupEnvironment(ctx)
	if err != nil {
		return err
	}
	if status == EnvSetupNoFiles {
		msg := fmt.Sprintf("neither %s nor %s found, environment setup skipped",
			bs.Config.Build.EnvironmentFile, bs.Config.Build.RequirementsFile)
		bs.Report.AddIssue(models.IssueEnvSetupSkipped, models.StageSetupEnvironment,
			models.SeverityWarning, msg, false, nil)
		slog.Warn("Environment files missing, setup skipped",
			logfields.Path(bs.Config.Build.EnvironmentFile))
	}
	return nil
}

// stageBuildDocs runs the external build and validates the rendered tree.
func (p *Publisher) stageBuildDocs(ctx context.Context, bs *models.BuildState) error {
	tc := NewToolchain(bs.Config.Build, bs.Workspace)
	if err := tc.RunBuild(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return models.NewCanceledStageError(models.StageBuildDocs, ctx.Err())
		}
		return err
	}
	pages, err := tc.VerifyOutput(bs.Config.Publish.OutputDir)
	if err != nil {
		return err
	}
	bs.Report.PagesBuilt = pages
	slog.Info("Documentation built", slog.Int("pages", pages))
	return nil
}

// stageVerifyLinks is non-fatal: link problems downgrade the run to a warning
// but never block publishing.
func (p *Publisher) stageVerifyLinks(ctx context.Context, bs *models.BuildState) error {
	root := filepath.Join(bs.Workspace, filepath.FromSlash(bs.Config.Publish.OutputDir))
	broken, err := p.verifier.VerifyTree(ctx, root)
	if err != nil {
		return models.NewWarnStageError(models.StageVerifyLinks, err)
	}
	if broken > 0 {
		bs.Report.BrokenLinks = broken
		bs.Recorder.AddBrokenLinks(broken)
		return models.NewWarnStageError(models.StageVerifyLinks,
			fmt.Errorf("%d broken links in rendered output", broken))
	}
	return nil
}

// stageCommitOutput commits the rendered tree. An unchanged output is not an
// error; the run completes without a publish commit.
func (p *Publisher) stageCommitOutput(ctx context.Context, bs *models.BuildState) error {
	msg := commitMessage(bs.Config.Publish.CommitMessage, bs.Git.StableHead.String(), bs.Config.Source.Branch)
	hash, err := bs.Client.CommitOutput(ctx, msg, bs.Config.Publish.OutputDir)
	if err != nil {
		if errors.Is(err, git.ErrNothingToCommit) {
			bs.Git.NothingToCommit = true
			bs.Report.NothingToCommit = true
			slog.Info("Build output unchanged, nothing to commit")
			return nil
		}
		return err
	}
	bs.Git.PublishCommit = hash
	bs.Report.PublishCommit = hash.String()
	return nil
}

// stagePushPublishing pushes the publishing branch unless the run produced no
// commit.
func (p *Publisher) stagePushPublishing(ctx context.Context, bs *models.BuildState) error {
	if bs.Git.NothingToCommit {
		slog.Info("Skipping push, no new publish commit")
		return nil
	}
	if err := bs.Client.Push(ctx); err != nil {
		return err
	}
	bs.Git.Pushed = true
	bs.Report.Pushed = true
	slog.Info("Publishing branch pushed",
		logfields.Branch(bs.Config.Publish.Branch), logfields.Commit(bs.Report.PublishCommit))
	return nil
}

// commitMessage expands the {sha}, {short_sha} and {branch} placeholders with
// the triggering stable commit and branch.
func commitMessage(template, sha, branch string) string {
	if template == "" {
		template = config.DefaultCommitMessage
	}
	short := sha
	if len(short) > 8 {
		short = short[:8]
	}
	msg := strings.ReplaceAll(template, "{sha}", sha)
	msg = strings.ReplaceAll(msg, "{short_sha}", short)
	return strings.ReplaceAll(msg, "{branch}", branch)
}
