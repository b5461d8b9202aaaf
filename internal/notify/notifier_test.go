package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docpages/internal/config"
)

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier

	assert.NotPanics(t, func() {
		n.BuildStarted(BuildNotification{JobID: "job-1"})
		n.BuildCompleted(BuildNotification{JobID: "job-1", Outcome: "success"})
		n.BuildFailed(BuildNotification{JobID: "job-1", Error: "boom"})
	})
	assert.NoError(t, n.Close())
}

func TestNewNotifierRequiresEnabled(t *testing.T) {
	_, err := NewNotifier(config.NATSConfig{Enabled: false})
	require.Error(t, err)
}
