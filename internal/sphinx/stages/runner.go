// Package stages executes ordered publish stages with classification.
package stages

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/docpages/internal/sphinx/models"
)

// RunStages executes stages in order, recording timing and stopping on the
// first fatal error. After scan_sources the pipeline short-circuits when the
// sources are unchanged since the last publish.
func RunStages(ctx context.Context, bs *models.BuildState, stages []models.StageDef) error {
	for _, st := range stages {
		select {
		case <-ctx.Done():
			se := models.NewCanceledStageError(st.Name, ctx.Err())
			bs.Report.StageErrorKinds[st.Name] = se.Kind
			bs.Report.AddIssue(models.IssueCanceled, st.Name, models.SeverityError, se.Error(), false, se)
			bs.Report.RecordStageResult(st.Name, models.StageResultCanceled, bs.Recorder)
			bs.Observer.OnStageComplete(st.Name, 0, models.StageResultCanceled)
			return se
		default:
		}

		bs.Observer.OnStageStart(st.Name)

		t0 := time.Now()
		err := st.Fn(ctx, bs)
		dur := time.Since(t0)

		bs.Report.StageDurations[string(st.Name)] = dur
		bs.Recorder.ObserveStageDuration(string(st.Name), dur)

		out := ClassifyStageResult(st.Name, err)

		if out.Error != nil {
			bs.Report.StageErrorKinds[st.Name] = out.Error.Kind
			bs.Report.AddIssue(out.IssueCode, out.Stage, out.Severity, out.Error.Error(), out.Transient, out.Error)
		}

		bs.Report.RecordStageResult(st.Name, out.Result, bs.Recorder)
		bs.Observer.OnStageComplete(st.Name, dur, out.Result)

		if out.Abort {
			if out.Error != nil {
				return out.Error
			}
			return fmt.Errorf("stage %s aborted", st.Name)
		}

		if st.Name == models.StageScanSources && bs.Docs.SourcesUnchanged {
			slog.Info("Early exit: sources unchanged since last publish; skipping remaining stages")
			bs.Report.SkipReason = "sources_unchanged"
			bs.Report.DeriveOutcome()
			bs.Report.Finish()
			bs.Observer.OnBuildComplete(bs.Report)
			return nil
		}
	}

	bs.Observer.OnBuildComplete(bs.Report)
	return nil
}
