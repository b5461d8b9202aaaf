package daemon

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/docpages/internal/eventstore"
	"git.home.luguber.info/inful/docpages/internal/logfields"
	"git.home.luguber.info/inful/docpages/internal/notify"
	"git.home.luguber.info/inful/docpages/internal/sphinx/models"
)

// maxStoredErrorLen bounds error messages persisted into the event log.
const maxStoredErrorLen = 500

// EventEmitter bridges queue lifecycle callbacks to the event store, the
// history projection and the NATS notifier. Store and projection may be nil;
// emission is best effort and never fails a build.
type EventEmitter struct {
	store         eventstore.Store
	projection    *eventstore.PublishHistoryProjection
	notifier      *notify.Notifier
	publishBranch string
}

// NewEventEmitter creates an emitter. Store, projection and notifier may be
// nil.
func NewEventEmitter(store eventstore.Store, projection *eventstore.PublishHistoryProjection, notifier *notify.Notifier, publishBranch string) *EventEmitter {
	return &EventEmitter{
		store:         store,
		projection:    projection,
		notifier:      notifier,
		publishBranch: publishBranch,
	}
}

// JobStarted records the start of a publish job.
func (e *EventEmitter) JobStarted(ctx context.Context, job models.Job) {
	evt, err := eventstore.NewBuildStarted(job.ID, string(job.Trigger), job.Reason)
	if err != nil {
		slog.Warn("Failed to create BuildStarted event", logfields.Error(err))
		return
	}
	e.emit(ctx, evt)

	e.notifier.BuildStarted(notify.BuildNotification{
		JobID:   job.ID,
		Trigger: string(job.Trigger),
	})
}

// JobFinished records the result of a publish job, expanding the report
// into granular events followed by a terminal BuildCompleted, BuildSkipped
// or BuildFailed.
func (e *EventEmitter) JobFinished(ctx context.Context, job models.Job, report *models.BuildReport, runErr error) {
	if report == nil {
		msg := "publish run produced no report"
		if runErr != nil {
			msg = truncateError(runErr.Error())
		}
		if evt, err := eventstore.NewBuildFailed(job.ID, "unknown", msg); err == nil {
			e.emit(ctx, evt)
		}
		e.notifier.BuildFailed(notify.BuildNotification{
			JobID:   job.ID,
			Trigger: string(job.Trigger),
			Error:   msg,
		})
		return
	}

	e.emitStageEvents(ctx, job, report)
	e.emitTerminal(ctx, job, report, runErr)
}

func (e *EventEmitter) emitStageEvents(ctx context.Context, job models.Job, report *models.BuildReport) {
	if report.StableCommit != "" {
		d := report.StageDurations[string(models.StageSyncSource)]
		if evt, err := eventstore.NewSourceSynced(job.ID, report.StableCommit, d); err == nil {
			e.emit(ctx, evt)
		}
	}

	if report.SourceFiles > 0 {
		if evt, err := eventstore.NewSourcesScanned(job.ID, report.SourceFiles, 0, 0, 0); err == nil {
			e.emit(ctx, evt)
		}
	}

	if report.SkipReason != "" {
		return
	}

	if report.PagesBuilt > 0 {
		d := report.StageDurations[string(models.StageBuildDocs)]
		if evt, err := eventstore.NewDocsBuilt(job.ID, report.PagesBuilt, d); err == nil {
			e.emit(ctx, evt)
		}
	}

	if _, verified := report.StageDurations[string(models.StageVerifyLinks)]; verified {
		if evt, err := eventstore.NewLinksVerified(job.ID, report.BrokenLinks); err == nil {
			e.emit(ctx, evt)
		}
	}

	if report.PublishCommit != "" || report.NothingToCommit {
		if evt, err := eventstore.NewOutputCommitted(job.ID, report.PublishCommit, report.NothingToCommit); err == nil {
			e.emit(ctx, evt)
		}
	}

	if report.Pushed {
		if evt, err := eventstore.NewPublishPushed(job.ID, e.publishBranch, report.PublishCommit, report.Retries); err == nil {
			e.emit(ctx, evt)
		}
	}
}

func (e *EventEmitter) emitTerminal(ctx context.Context, job models.Job, report *models.BuildReport, runErr error) {
	switch {
	case report.SkipReason != "" && runErr == nil:
		if evt, err := eventstore.NewBuildSkipped(job.ID, report.SkipReason); err == nil {
			e.emit(ctx, evt)
		}

	case runErr != nil || report.Outcome == models.OutcomeFailed || report.Outcome == models.OutcomeCanceled:
		stage, msg := failureDetails(report, runErr)
		if evt, err := eventstore.NewBuildFailed(job.ID, stage, msg); err == nil {
			e.emit(ctx, evt)
		}
		e.notifier.BuildFailed(notify.BuildNotification{
			JobID:        job.ID,
			Trigger:      string(job.Trigger),
			Outcome:      string(report.Outcome),
			StableCommit: report.StableCommit,
			Error:        msg,
		})
		return

	default:
		data := reportData(report)
		if evt, err := eventstore.NewBuildCompleted(job.ID, string(report.Outcome), report.Duration(), data); err == nil {
			e.emit(ctx, evt)
		}
	}

	e.notifier.BuildCompleted(notify.BuildNotification{
		JobID:         job.ID,
		Trigger:       string(job.Trigger),
		Outcome:       string(report.Outcome),
		StableCommit:  report.StableCommit,
		PublishCommit: report.PublishCommit,
		PagesBuilt:    report.PagesBuilt,
		BrokenLinks:   report.BrokenLinks,
		Pushed:        report.Pushed,
	})
}

// emit appends one event to the store and applies it to the projection.
func (e *EventEmitter) emit(ctx context.Context, evt eventstore.Event) {
	if e.store != nil {
		if err := e.store.Append(ctx, evt.BuildID(), evt.Type(), evt.Payload(), evt.Metadata()); err != nil {
			slog.Warn("Failed to persist publish event",
				slog.String("event_type", evt.Type()),
				logfields.JobID(evt.BuildID()),
				logfields.Error(err))
		}
	}
	if e.projection != nil {
		e.projection.Apply(evt)
	}
}

// reportData extracts the projection-friendly subset of a report.
func reportData(report *models.BuildReport) eventstore.BuildReportData {
	durations := make(map[string]int64, len(report.StageDurations))
	for stage, d := range report.StageDurations {
		durations[stage] = d.Milliseconds()
	}

	errs := make([]string, 0, len(report.Errors))
	for _, err := range report.Errors {
		errs = append(errs, truncateError(err.Error()))
	}
	warnings := make([]string, 0, len(report.Warnings))
	for _, w := range report.Warnings {
		warnings = append(warnings, truncateError(w.Error()))
	}

	return eventstore.BuildReportData{
		Outcome:        string(report.Outcome),
		Summary:        report.Summary(),
		StableCommit:   report.StableCommit,
		PublishCommit:  report.PublishCommit,
		SourceFiles:    report.SourceFiles,
		PagesBuilt:     report.PagesBuilt,
		BrokenLinks:    report.BrokenLinks,
		Pushed:         report.Pushed,
		StageDurations: durations,
		Errors:         errs,
		Warnings:       warnings,
	}
}

// failureDetails derives the failing stage and message from a report.
func failureDetails(report *models.BuildReport, runErr error) (stage, msg string) {
	stage = "unknown"
	for _, issue := range report.Issues {
		if issue.Severity == models.SeverityError {
			stage = string(issue.Stage)
			msg = issue.Message
			break
		}
	}
	if msg == "" && runErr != nil {
		msg = runErr.Error()
	}
	if msg == "" && len(report.Errors) > 0 {
		msg = report.Errors[0].Error()
	}
	return stage, truncateError(msg)
}

func truncateError(msg string) string {
	if len(msg) > maxStoredErrorLen {
		return msg[:maxStoredErrorLen] + "...(truncated)"
	}
	return msg
}
