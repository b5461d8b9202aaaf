package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/docpages/internal/metrics"
	"git.home.luguber.info/inful/docpages/internal/version"
)

// BuildOutcome is the typed enumeration of final publish result states.
type BuildOutcome string

const (
	OutcomeSuccess  BuildOutcome = "success"
	OutcomeWarning  BuildOutcome = "warning"
	OutcomeFailed   BuildOutcome = "failed"
	OutcomeCanceled BuildOutcome = "canceled"
	OutcomeSkipped  BuildOutcome = "skipped"
)

// NewBuildReport constructs a new BuildReport for the given job.
func NewBuildReport(job Job) *BuildReport {
	return &BuildReport{
		SchemaVersion:   1,
		JobID:           job.ID,
		Trigger:         string(job.Trigger),
		Start:           time.Now(),
		StageDurations:  make(map[string]time.Duration),
		StageErrorKinds: make(map[StageName]StageErrorKind),
		StageCounts:     make(map[StageName]StageCount),
		DocpagesVersion: version.Version,
	}
}

// BuildReport captures high-level metrics about one publish run.
type BuildReport struct {
	SchemaVersion   int
	JobID           string
	Trigger         string
	Start           time.Time
	End             time.Time
	Errors          []error // fatal errors causing run abortion (at most one today)
	Warnings        []error // non-fatal issues (broken links, push retries)
	StageDurations  map[string]time.Duration
	StageErrorKinds map[StageName]StageErrorKind
	StageCounts     map[StageName]StageCount
	Outcome         BuildOutcome
	Issues          []ReportIssue
	// SkipReason indicates why the pipeline was short-circuited
	// (e.g. "sources_unchanged"). Empty if the full pipeline ran.
	SkipReason string

	StableCommit    string // triggering commit on the stable branch
	PublishCommit   string // commit created on the publishing branch, empty when nothing changed
	SourceFiles     int    // documentation source files scanned
	PagesBuilt      int    // HTML pages found in the output tree
	BrokenLinks     int    // broken links found during verification
	NothingToCommit bool
	Pushed          bool

	Retries          int
	RetriesExhausted bool

	DocpagesVersion string
}

// AddIssue appends a structured issue and mirrors severity into Errors/Warnings.
func (r *BuildReport) AddIssue(code ReportIssueCode, stage StageName, severity IssueSeverity, msg string, transient bool, err error) {
	issue := ReportIssue{Code: code, Stage: stage, Severity: severity, Message: msg, Transient: transient}
	r.Issues = append(r.Issues, issue)
	if err != nil {
		switch severity {
		case SeverityError:
			r.Errors = append(r.Errors, err)
		case SeverityWarning:
			r.Warnings = append(r.Warnings, err)
		}
	}
}

// ReportIssueCode enumerates machine-parseable issue identifiers.
// These codes are stable contract and should only be appended (no reuse on removal).
type ReportIssueCode string

const (
	IssueCloneFailure      ReportIssueCode = "CLONE_FAILURE"
	IssueSyncFailure       ReportIssueCode = "SYNC_FAILURE"
	IssueMergeFailure      ReportIssueCode = "MERGE_FAILURE"
	IssueEnvSetupFailure   ReportIssueCode = "ENV_SETUP_FAILURE"
	IssueBuildFailure      ReportIssueCode = "BUILD_FAILURE"
	IssueOutputInvalid     ReportIssueCode = "OUTPUT_INVALID"
	IssueBrokenLinks       ReportIssueCode = "BROKEN_LINKS"
	IssueCommitFailure     ReportIssueCode = "COMMIT_FAILURE"
	IssuePushFailure       ReportIssueCode = "PUSH_FAILURE"
	IssueCanceled          ReportIssueCode = "BUILD_CANCELED"
	IssueGenericStageError ReportIssueCode = "GENERIC_STAGE_ERROR"
	IssueAuthFailure       ReportIssueCode = "AUTH_FAILURE"
	IssueRepoNotFound      ReportIssueCode = "REPO_NOT_FOUND"
	IssueUnsupportedProto  ReportIssueCode = "UNSUPPORTED_PROTOCOL"
	IssueRemoteDiverged    ReportIssueCode = "REMOTE_DIVERGED"
	IssueRateLimit         ReportIssueCode = "RATE_LIMIT"
	IssueNetworkTimeout    ReportIssueCode = "NETWORK_TIMEOUT"
	IssueEnvSetupSkipped   ReportIssueCode = "ENV_SETUP_SKIPPED"
)

// IssueSeverity represents normalized severity levels.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// ReportIssue is a structured taxonomy entry describing a discrete problem encountered.
type ReportIssue struct {
	Code      ReportIssueCode `json:"code"`
	Stage     StageName       `json:"stage"`
	Severity  IssueSeverity   `json:"severity"`
	Message   string          `json:"message"`
	Transient bool            `json:"transient"`
}

// StageCount aggregates counts of outcomes for a stage.
type StageCount struct {
	Success  int
	Warning  int
	Fatal    int
	Canceled int
}

// Finish sets the end time of the report.
func (r *BuildReport) Finish() { r.End = time.Now() }

// Duration returns the wall-clock duration of the run.
func (r *BuildReport) Duration() time.Duration {
	if r.End.IsZero() {
		return time.Since(r.Start)
	}
	return r.End.Sub(r.Start)
}

// RecordStageResult updates report counters and emits metrics (if recorder non-nil).
func (r *BuildReport) RecordStageResult(stage StageName, res StageResult, recorder metrics.Recorder) {
	if r.StageCounts == nil {
		r.StageCounts = make(map[StageName]StageCount)
	}
	sc := r.StageCounts[stage]
	switch res {
	case StageResultSuccess:
		sc.Success++
		if recorder != nil {
			recorder.IncStageResult(string(stage), metrics.ResultSuccess)
		}
	case StageResultWarning:
		sc.Warning++
		if recorder != nil {
			recorder.IncStageResult(string(stage), metrics.ResultWarning)
		}
	case StageResultFatal:
		sc.Fatal++
		if recorder != nil {
			recorder.IncStageResult(string(stage), metrics.ResultFatal)
		}
	case StageResultCanceled:
		sc.Canceled++
		if recorder != nil {
			recorder.IncStageResult(string(stage), metrics.ResultCanceled)
		}
	case StageResultSkipped:
		// No counters for skipped yet
	}
	r.StageCounts[stage] = sc
}

// Summary returns a human-readable single-line summary.
func (r *BuildReport) Summary() string {
	return fmt.Sprintf("job=%s trigger=%s commit=%s duration=%s files=%d pages=%d broken_links=%d errors=%d warnings=%d outcome=%s",
		r.JobID, r.Trigger, shortHash(r.StableCommit), r.Duration().Truncate(time.Millisecond),
		r.SourceFiles, r.PagesBuilt, r.BrokenLinks, len(r.Errors), len(r.Warnings), string(r.Outcome))
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

// DeriveOutcome sets the Outcome field based on recorded errors/warnings.
func (r *BuildReport) DeriveOutcome() {
	if r.SkipReason != "" && len(r.Errors) == 0 {
		r.Outcome = OutcomeSkipped
		return
	}
	if len(r.Errors) > 0 {
		for _, e := range r.Errors {
			var se *StageError
			if errors.As(e, &se) && se.Kind == StageErrorCanceled {
				r.Outcome = OutcomeCanceled
				return
			}
		}
		r.Outcome = OutcomeFailed
		return
	}
	if len(r.Warnings) > 0 {
		r.Outcome = OutcomeWarning
		return
	}
	r.Outcome = OutcomeSuccess
}

// Persist writes the report atomically into the provided directory as
// publish-report.json plus a one-line publish-report.txt summary.
func (r *BuildReport) Persist(root string) error {
	if r.End.IsZero() {
		r.Finish()
		r.DeriveOutcome()
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return fmt.Errorf("ensure root for report: %w", err)
	}
	jb, err := json.MarshalIndent(r.SanitizedCopy(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report json: %w", err)
	}
	jsonPath := filepath.Join(root, "publish-report.json")
	tmpJSON := jsonPath + ".tmp"
	if err := os.WriteFile(tmpJSON, jb, 0o600); err != nil {
		return fmt.Errorf("write temp report json: %w", err)
	}
	if err := os.Rename(tmpJSON, jsonPath); err != nil {
		return fmt.Errorf("atomic rename json: %w", err)
	}
	summaryPath := filepath.Join(root, "publish-report.txt")
	tmpTxt := summaryPath + ".tmp"
	if err := os.WriteFile(tmpTxt, []byte(r.Summary()+"\n"), 0o600); err != nil {
		return fmt.Errorf("write temp report summary: %w", err)
	}
	if err := os.Rename(tmpTxt, summaryPath); err != nil {
		return fmt.Errorf("atomic rename summary: %w", err)
	}
	return nil
}

// SanitizedCopy returns a shallow copy with error fields converted to strings
// for JSON friendliness.
func (r *BuildReport) SanitizedCopy() *BuildReportSerializable {
	stageCounts := make(map[string]StageCount, len(r.StageCounts))
	for k, v := range r.StageCounts {
		stageCounts[string(k)] = v
	}
	sek := make(map[string]string, len(r.StageErrorKinds))
	for k, v := range r.StageErrorKinds {
		sek[string(k)] = string(v)
	}

	if r.StageDurations == nil {
		r.StageDurations = map[string]time.Duration{}
	}
	if r.Issues == nil {
		r.Issues = []ReportIssue{}
	}

	s := &BuildReportSerializable{
		SchemaVersion:    r.SchemaVersion,
		JobID:            r.JobID,
		Trigger:          r.Trigger,
		Start:            r.Start,
		End:              r.End,
		Errors:           make([]string, len(r.Errors)),
		Warnings:         make([]string, len(r.Warnings)),
		StageDurations:   r.StageDurations,
		StageErrorKinds:  sek,
		StageCounts:      stageCounts,
		Outcome:          string(r.Outcome),
		Issues:           r.Issues,
		SkipReason:       r.SkipReason,
		StableCommit:     r.StableCommit,
		PublishCommit:    r.PublishCommit,
		SourceFiles:      r.SourceFiles,
		PagesBuilt:       r.PagesBuilt,
		BrokenLinks:      r.BrokenLinks,
		NothingToCommit:  r.NothingToCommit,
		Pushed:           r.Pushed,
		Retries:          r.Retries,
		RetriesExhausted: r.RetriesExhausted,
		DocpagesVersion:  r.DocpagesVersion,
	}
	for i, e := range r.Errors {
		s.Errors[i] = e.Error()
	}
	for i, w := range r.Warnings {
		s.Warnings[i] = w.Error()
	}
	return s
}

// BuildReportSerializable mirrors BuildReport but with string errors for JSON output.
type BuildReportSerializable struct {
	SchemaVersion    int                      `json:"schema_version"`
	JobID            string                   `json:"job_id"`
	Trigger          string                   `json:"trigger"`
	Start            time.Time                `json:"start"`
	End              time.Time                `json:"end"`
	Errors           []string                 `json:"errors"`
	Warnings         []string                 `json:"warnings"`
	StageDurations   map[string]time.Duration `json:"stage_durations"`
	StageErrorKinds  map[string]string        `json:"stage_error_kinds"`
	StageCounts      map[string]StageCount    `json:"stage_counts"`
	Outcome          string                   `json:"outcome"`
	Issues           []ReportIssue            `json:"issues"`
	SkipReason       string                   `json:"skip_reason,omitempty"`
	StableCommit     string                   `json:"stable_commit,omitempty"`
	PublishCommit    string                   `json:"publish_commit,omitempty"`
	SourceFiles      int                      `json:"source_files"`
	PagesBuilt       int                      `json:"pages_built"`
	BrokenLinks      int                      `json:"broken_links"`
	NothingToCommit  bool                     `json:"nothing_to_commit"`
	Pushed           bool                     `json:"pushed"`
	Retries          int                      `json:"retries"`
	RetriesExhausted bool                     `json:"retries_exhausted"`
	DocpagesVersion  string                   `json:"docpages_version,omitempty"`
}
