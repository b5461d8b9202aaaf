package sphinx

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"git.home.luguber.info/inful/docpages/internal/config"
	"git.home.luguber.info/inful/docpages/internal/logfields"
	"git.home.luguber.info/inful/docpages/internal/metrics"
	"git.home.luguber.info/inful/docpages/internal/sphinx/models"
	"git.home.luguber.info/inful/docpages/internal/sphinx/stages"
	"git.home.luguber.info/inful/docpages/internal/workspace"
)

// RepoDirName is the source checkout directory inside a workspace.
const RepoDirName = "repo"

// DocsOutputDir returns the rendered output tree for a workspace root, as
// laid out by the publish pipeline.
func DocsOutputDir(workspaceRoot, outputDir string) string {
	return filepath.Join(workspaceRoot, RepoDirName, filepath.FromSlash(outputDir))
}

// LinkVerifier checks rendered output for broken links. Implemented by the
// linkverify service; nil disables the verify_links stage at run time.
type LinkVerifier interface {
	VerifyTree(ctx context.Context, root string) (broken int, err error)
}

// Publisher runs the full publish pipeline: sync the stable branch, build the
// documentation and push the rendered output to the publishing branch.
type Publisher struct {
	cfg      atomic.Pointer[config.Config]
	ws       *workspace.Manager
	dataDir  string
	recorder metrics.Recorder
	observer models.BuildObserver
	verifier LinkVerifier
}

// NewPublisher builds a publisher. dataDir holds the source snapshot and the
// persisted publish reports.
func NewPublisher(cfg *config.Config, ws *workspace.Manager, dataDir string) *Publisher {
	p := &Publisher{
		ws:       ws,
		dataDir:  dataDir,
		recorder: metrics.NoopRecorder{},
		observer: models.NoopObserver{},
	}
	p.cfg.Store(cfg)
	return p
}

// UpdateConfig installs a new configuration for subsequent runs. A run that
// is already in flight keeps the snapshot it started with.
func (p *Publisher) UpdateConfig(cfg *config.Config) {
	if cfg != nil {
		p.cfg.Store(cfg)
	}
}

// SetRecorder installs a metrics recorder (default noop).
func (p *Publisher) SetRecorder(r metrics.Recorder) {
	if r != nil {
		p.recorder = r
	}
}

// SetObserver installs a build observer (default noop).
func (p *Publisher) SetObserver(o models.BuildObserver) {
	if o != nil {
		p.observer = o
	}
}

// SetLinkVerifier installs the link verification backend.
func (p *Publisher) SetLinkVerifier(v LinkVerifier) { p.verifier = v }

// Run executes the pipeline for one job and returns the report. The report is
// always non-nil; the error is the first fatal stage error, if any.
func (p *Publisher) Run(ctx context.Context, job models.Job) (*models.BuildReport, error) {
	cfg := p.cfg.Load()
	bs := models.NewBuildState(job, cfg, p.recorder, p.observer)

	slog.Info("Publish run starting",
		logfields.JobID(job.ID), logfields.Trigger(string(job.Trigger)),
		logfields.Repository(cfg.Source.URL), logfields.Branch(cfg.Source.Branch))

	runErr := stages.RunStages(ctx, bs, p.pipeline(cfg).Build())

	if bs.Report.End.IsZero() {
		bs.Report.DeriveOutcome()
		bs.Report.Finish()
	}

	outcome := string(bs.Report.Outcome)
	p.recorder.ObserveBuildDuration(outcome, bs.Report.Duration())
	p.recorder.IncBuildOutcome(string(job.Trigger), outcome)

	p.persistState(bs)

	if err := p.ws.Cleanup(); err != nil {
		slog.Warn("Workspace cleanup failed", logfields.Error(err))
	}

	slog.Info("Publish run finished", logfields.JobID(job.ID),
		slog.String("outcome", outcome), logfields.DurationMS(float64(bs.Report.Duration().Milliseconds())))

	return bs.Report, runErr
}

// pipeline assembles the stage list in publish order.
func (p *Publisher) pipeline(cfg *config.Config) *models.Pipeline {
	return models.NewPipeline().
		Add(models.StagePrepareWorkspace, p.stagePrepareWorkspace).
		Add(models.StageSyncSource, p.stageSyncSource).
		Add(models.StageScanSources, p.stageScanSources).
		Add(models.StageCheckoutPublishing, p.stageCheckoutPublishing).
		Add(models.StageMergeStable, p.stageMergeStable).
		Add(models.StageSetupEnvironment, p.stageSetupEnvironment).
		Add(models.StageBuildDocs, p.stageBuildDocs).
		AddIf(cfg.Verify.Links.Enabled && p.verifier != nil, models.StageVerifyLinks, p.stageVerifyLinks).
		Add(models.StageCommitOutput, p.stageCommitOutput).
		Add(models.StagePushPublishing, p.stagePushPublishing)
}

func (p *Publisher) snapshotPath() string {
	return filepath.Join(p.dataDir, "source-snapshot.json")
}

// persistState writes the report and, for completed builds, the source
// snapshot used by the next run's unchanged-sources check. Best effort.
func (p *Publisher) persistState(bs *models.BuildState) {
	if p.dataDir == "" {
		return
	}
	if err := bs.Report.Persist(p.dataDir); err != nil {
		slog.Warn("Failed to persist publish report", logfields.Error(err))
	}
	completed := bs.Report.Outcome == models.OutcomeSuccess || bs.Report.Outcome == models.OutcomeWarning
	if completed && bs.Docs.Snapshot != nil {
		if err := bs.Docs.Snapshot.Save(p.snapshotPath()); err != nil {
			slog.Warn("Failed to persist source snapshot", logfields.Error(err))
		}
	}
}
