package git

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRemoteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want any
	}{
		{"auth", errors.New("authentication required"), new(*AuthError)},
		{"bad credentials", errors.New("invalid username or password"), new(*AuthError)},
		{"not found", errors.New("repository does not exist"), new(*NotFoundError)},
		{"protocol", errors.New("unsupported protocol scheme"), new(*UnsupportedProtocolError)},
		{"rate limit", errors.New("429 too many requests"), new(*RateLimitError)},
		{"timeout", errors.New("dial tcp: i/o timeout"), new(*NetworkTimeoutError)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyRemoteError("fetch", "https://example.com/repo.git", tt.err)
			assert.True(t, errors.As(got, tt.want), "expected %T, got %T", tt.want, got)
			assert.True(t, errors.Is(got, tt.err), "wrapped error must survive")
		})
	}
}

func TestClassifyRemoteErrorPassthrough(t *testing.T) {
	base := errors.New("something odd happened")
	got := classifyRemoteError("push", "https://example.com/repo.git", base)
	require.Error(t, got)
	assert.True(t, errors.Is(got, base))
	assert.False(t, errors.As(got, new(*AuthError)))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(&AuthError{Op: "push", Err: errors.New("denied")}))
	assert.True(t, IsPermanent(&NotFoundError{Op: "clone", Err: errors.New("missing")}))
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", &AuthError{Err: errors.New("x")})))
	assert.True(t, IsPermanent(errors.New("permission denied")))
	assert.False(t, IsPermanent(&NetworkTimeoutError{Err: errors.New("i/o timeout")}))
	assert.False(t, IsPermanent(&RateLimitError{Err: errors.New("slow down")}))
	assert.False(t, IsPermanent(nil))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&RateLimitError{Err: errors.New("x")}))
	assert.True(t, IsTransient(&NetworkTimeoutError{Err: errors.New("x")}))
	assert.True(t, IsTransient(errors.New("connection reset by peer")))
	assert.False(t, IsTransient(&AuthError{Err: errors.New("x")}))
	assert.False(t, IsTransient(nil))
}

func TestErrNothingToCommitIdentity(t *testing.T) {
	wrapped := fmt.Errorf("commit stage: %w", ErrNothingToCommit)
	assert.True(t, errors.Is(wrapped, ErrNothingToCommit))
}
