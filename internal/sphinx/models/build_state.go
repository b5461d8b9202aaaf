package models

import (
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"git.home.luguber.info/inful/docpages/internal/config"
	"git.home.luguber.info/inful/docpages/internal/docscan"
	"git.home.luguber.info/inful/docpages/internal/git"
	"git.home.luguber.info/inful/docpages/internal/metrics"
)

// Trigger identifies what started a publish run.
type Trigger string

const (
	TriggerManual       Trigger = "manual"
	TriggerWebhook      Trigger = "webhook"
	TriggerSchedule     Trigger = "schedule"
	TriggerConfigReload Trigger = "config_reload"
)

// Job identifies a single queued publish run.
type Job struct {
	ID          string
	Trigger     Trigger
	Reason      string // free-form, e.g. webhook commit subject
	RequestedAt time.Time
}

// GitState tracks repository positions across stages.
type GitState struct {
	StableHead      plumbing.Hash // origin/<stable> at sync time; the triggering commit
	PublishingHead  plumbing.Hash // origin/<publishing> before the run (zero on first publish)
	MergedHead      plumbing.Hash // head after merge_stable
	PublishCommit   plumbing.Hash // commit created by commit_output (zero when nothing to commit)
	NothingToCommit bool
	Pushed          bool
}

// DocsState tracks source scanning results.
type DocsState struct {
	Snapshot         *docscan.Snapshot
	Delta            docscan.Delta
	SourcesUnchanged bool
}

// BuildState carries mutable state across publish stages.
type BuildState struct {
	Job       Job
	Config    *config.Config
	Workspace string // repository checkout directory
	Client    *git.Client
	Recorder  metrics.Recorder
	Observer  BuildObserver
	Report    *BuildReport

	Git  GitState
	Docs DocsState
}

// NewBuildState constructs a BuildState for one publish run.
func NewBuildState(job Job, cfg *config.Config, recorder metrics.Recorder, observer BuildObserver) *BuildState {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if observer == nil {
		observer = NoopObserver{}
	}
	return &BuildState{
		Job:      job,
		Config:   cfg,
		Recorder: recorder,
		Observer: observer,
		Report:   NewBuildReport(job),
	}
}
