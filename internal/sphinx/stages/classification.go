package stages

import (
	"errors"

	"git.home.luguber.info/inful/docpages/internal/git"
	"git.home.luguber.info/inful/docpages/internal/sphinx/models"
)

// StageOutcome normalized result of stage execution.
type StageOutcome struct {
	Stage     models.StageName
	Error     *models.StageError
	Result    models.StageResult
	IssueCode models.ReportIssueCode
	Severity  models.IssueSeverity
	Transient bool
	Abort     bool
}

// resultFromStageErrorKind maps a StageErrorKind to a StageResult.
func resultFromStageErrorKind(k models.StageErrorKind) models.StageResult {
	switch k {
	case models.StageErrorWarning:
		return models.StageResultWarning
	case models.StageErrorCanceled:
		return models.StageResultCanceled
	default:
		return models.StageResultFatal
	}
}

// severityFromStageErrorKind maps StageErrorKind to IssueSeverity.
func severityFromStageErrorKind(k models.StageErrorKind) models.IssueSeverity {
	if k == models.StageErrorWarning {
		return models.SeverityWarning
	}
	return models.SeverityError
}

// ClassifyStageResult converts a raw error from a stage into a StageOutcome.
func ClassifyStageResult(stage models.StageName, err error) StageOutcome {
	if err == nil {
		return StageOutcome{Stage: stage, Result: models.StageResultSuccess}
	}

	var se *models.StageError
	if !errors.As(err, &se) {
		se = models.NewFatalStageError(stage, err)
	}

	if se.Kind == models.StageErrorCanceled {
		return StageOutcome{
			Stage:     stage,
			Error:     se,
			Result:    models.StageResultCanceled,
			IssueCode: models.IssueCanceled,
			Severity:  models.SeverityError,
			Abort:     true,
		}
	}

	return StageOutcome{
		Stage:     stage,
		Error:     se,
		Result:    resultFromStageErrorKind(se.Kind),
		IssueCode: classifyIssueCode(se),
		Severity:  severityFromStageErrorKind(se.Kind),
		Transient: se.Transient(),
		Abort:     se.Kind == models.StageErrorFatal,
	}
}

// classifyIssueCode determines the issue code based on stage type and error.
func classifyIssueCode(se *models.StageError) models.ReportIssueCode {
	if code, ok := classifyGitIssue(se.Err); ok {
		return code
	}
	switch se.Stage {
	case models.StagePrepareWorkspace:
		return models.IssueCloneFailure
	case models.StageSyncSource, models.StageScanSources:
		return models.IssueSyncFailure
	case models.StageCheckoutPublishing, models.StageMergeStable:
		return models.IssueMergeFailure
	case models.StageSetupEnvironment:
		return models.IssueEnvSetupFailure
	case models.StageBuildDocs:
		if errors.Is(se.Err, models.ErrOutput) {
			return models.IssueOutputInvalid
		}
		return models.IssueBuildFailure
	case models.StageVerifyLinks:
		return models.IssueBrokenLinks
	case models.StageCommitOutput:
		return models.IssueCommitFailure
	case models.StagePushPublishing:
		return models.IssuePushFailure
	default:
		return models.IssueGenericStageError
	}
}

// classifyGitIssue maps typed git errors onto granular issue codes.
func classifyGitIssue(err error) (models.ReportIssueCode, bool) {
	switch {
	case errors.As(err, new(*git.AuthError)):
		return models.IssueAuthFailure, true
	case errors.As(err, new(*git.NotFoundError)):
		return models.IssueRepoNotFound, true
	case errors.As(err, new(*git.UnsupportedProtocolError)):
		return models.IssueUnsupportedProto, true
	case errors.As(err, new(*git.RemoteDivergedError)):
		return models.IssueRemoteDiverged, true
	case errors.As(err, new(*git.RateLimitError)):
		return models.IssueRateLimit, true
	case errors.As(err, new(*git.NetworkTimeoutError)):
		return models.IssueNetworkTimeout, true
	default:
		return "", false
	}
}
