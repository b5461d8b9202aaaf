package stages

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"git.home.luguber.info/inful/docpages/internal/git"
	"git.home.luguber.info/inful/docpages/internal/sphinx/models"
)

func TestClassifySuccess(t *testing.T) {
	out := ClassifyStageResult(models.StageBuildDocs, nil)
	assert.Equal(t, models.StageResultSuccess, out.Result)
	assert.False(t, out.Abort)
}

func TestClassifyPlainErrorBecomesFatal(t *testing.T) {
	out := ClassifyStageResult(models.StageBuildDocs, errors.New("make failed"))
	assert.Equal(t, models.StageResultFatal, out.Result)
	assert.Equal(t, models.IssueBuildFailure, out.IssueCode)
	assert.True(t, out.Abort)
}

func TestClassifyGitTypedErrors(t *testing.T) {
	tests := []struct {
		name  string
		stage models.StageName
		err   error
		code  models.ReportIssueCode
	}{
		{"auth", models.StageSyncSource, &git.AuthError{Op: "fetch", Err: errors.New("denied")}, models.IssueAuthFailure},
		{"not found", models.StagePrepareWorkspace, &git.NotFoundError{Op: "clone", Err: errors.New("missing")}, models.IssueRepoNotFound},
		{"diverged", models.StagePushPublishing, &git.RemoteDivergedError{Op: "push", Err: errors.New("nff")}, models.IssueRemoteDiverged},
		{"rate limit", models.StageSyncSource, &git.RateLimitError{Op: "fetch", Err: errors.New("429")}, models.IssueRateLimit},
		{"timeout", models.StagePushPublishing, &git.NetworkTimeoutError{Op: "push", Err: errors.New("timeout")}, models.IssueNetworkTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ClassifyStageResult(tt.stage, tt.err)
			assert.Equal(t, tt.code, out.IssueCode)
		})
	}
}

func TestClassifyStageSpecificCodes(t *testing.T) {
	assert.Equal(t, models.IssueMergeFailure,
		ClassifyStageResult(models.StageMergeStable, errors.New("merge blew up")).IssueCode)
	assert.Equal(t, models.IssueEnvSetupFailure,
		ClassifyStageResult(models.StageSetupEnvironment, models.ErrEnvironment).IssueCode)
	assert.Equal(t, models.IssueOutputInvalid,
		ClassifyStageResult(models.StageBuildDocs, models.ErrOutput).IssueCode)
	assert.Equal(t, models.IssueCommitFailure,
		ClassifyStageResult(models.StageCommitOutput, errors.New("index locked")).IssueCode)
	assert.Equal(t, models.IssuePushFailure,
		ClassifyStageResult(models.StagePushPublishing, errors.New("connection reset")).IssueCode)
}

func TestClassifyWarningDoesNotAbort(t *testing.T) {
	se := models.NewWarnStageError(models.StageVerifyLinks, errors.New("3 broken links"))
	out := ClassifyStageResult(models.StageVerifyLinks, se)
	assert.Equal(t, models.StageResultWarning, out.Result)
	assert.Equal(t, models.IssueBrokenLinks, out.IssueCode)
	assert.Equal(t, models.SeverityWarning, out.Severity)
	assert.False(t, out.Abort)
}

func TestClassifyTransientFlag(t *testing.T) {
	se := models.NewFatalStageError(models.StagePushPublishing,
		&git.NetworkTimeoutError{Op: "push", Err: errors.New("timeout")})
	out := ClassifyStageResult(models.StagePushPublishing, se)
	assert.True(t, out.Transient)
}
