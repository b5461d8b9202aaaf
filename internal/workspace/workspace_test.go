package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEphemeralCreateAndCleanup(t *testing.T) {
	base := t.TempDir()
	m := NewManager(base)
	require.NoError(t, m.Create())

	path := m.GetPath()
	assert.True(t, strings.HasPrefix(filepath.Base(path), "docpages-"))
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, m.Cleanup())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, m.GetPath())
}

func TestPersistentSurvivesCleanup(t *testing.T) {
	base := t.TempDir()
	m := NewPersistentManager(base, "working")
	require.NoError(t, m.Create())
	assert.True(t, m.Persistent())

	path := m.GetPath()
	assert.Equal(t, filepath.Join(base, "working"), path)

	require.NoError(t, m.Cleanup())
	_, err := os.Stat(path)
	assert.NoError(t, err, "persistent workspace must survive cleanup")
}

func TestCreateSubdir(t *testing.T) {
	m := NewManager(t.TempDir())
	require.NoError(t, m.Create())
	t.Cleanup(func() { _ = m.Cleanup() })

	sub, err := m.CreateSubdir("checkout")
	require.NoError(t, err)
	info, err := os.Stat(sub)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreateSubdirRequiresWorkspace(t *testing.T) {
	m := NewManager(t.TempDir())
	_, err := m.CreateSubdir("checkout")
	assert.Error(t, err)
}
