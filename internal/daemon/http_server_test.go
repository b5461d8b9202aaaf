package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docpages/internal/config"
	"git.home.luguber.info/inful/docpages/internal/daemon/events"
	"git.home.luguber.info/inful/docpages/internal/eventstore"
	"git.home.luguber.info/inful/docpages/internal/workspace"
)

func TestDocsHandlerBeforeFirstPublish(t *testing.T) {
	h := docsHandler(func() string { return "" })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDocsHandlerServesPublishedTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"),
		[]byte("<html><body>docs</body></html>"), 0o600))

	h := docsHandler(func() string { return root })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docs")
}

func TestDocsRootMatchesPublisherLayout(t *testing.T) {
	cfg := daemonTestConfig(t)
	cfg.Daemon.Storage.PersistentWorkspace = true

	d, err := New(cfg, "")
	require.NoError(t, err)
	d.ws = workspace.NewPersistentManager(cfg.Daemon.Storage.WorkspaceDir, "working")
	require.NoError(t, d.ws.Create())

	// The pipeline clones into <workspace>/repo and renders into the
	// configured output dir below that checkout.
	published := filepath.Join(d.ws.GetPath(), "repo", "docs", "html")
	require.NoError(t, os.MkdirAll(published, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(published, "index.html"),
		[]byte("<html><body>published</body></html>"), 0o600))

	require.Equal(t, published, d.docsRoot())

	h := docsHandler(d.docsRoot)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "published")
}

func TestStatusHandler(t *testing.T) {
	h := statusHandler(func() DaemonStatusResponse {
		return DaemonStatusResponse{
			Status:      StatusRunning,
			Uptime:      "1m0s",
			QueueLength: 2,
			Timestamp:   time.Now().UTC(),
		}
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/daemon/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp DaemonStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusRunning, resp.Status)
	assert.Equal(t, 2, resp.QueueLength)
}

func TestTriggerHandlerAcceptsPost(t *testing.T) {
	var gotReason string
	h := triggerHandler(func(reason string) (string, error) {
		gotReason = reason
		return "job-42", nil
	})

	body := `{"reason":"rebuild after theme change"}`
	req := httptest.NewRequest(http.MethodPost, "/api/build/trigger",
		strings.NewReader(body))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "rebuild after theme change", gotReason)
	assert.Contains(t, rec.Body.String(), "job-42")
}

func TestTriggerHandlerRejectsGet(t *testing.T) {
	h := triggerHandler(func(string) (string, error) { return "", nil })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/build/trigger", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTriggerHandlerQueueFull(t *testing.T) {
	h := triggerHandler(func(string) (string, error) {
		return "", assert.AnError
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/build/trigger", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHistoryHandler(t *testing.T) {
	h := historyHandler(func(limit int) []*eventstore.BuildSummary {
		builds := []*eventstore.BuildSummary{
			{BuildID: "b3", Status: "success"},
			{BuildID: "b2", Status: "failed"},
			{BuildID: "b1", Status: "success"},
		}
		if limit < len(builds) {
			builds = builds[:limit]
		}
		return builds
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/build/history?limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Builds []*eventstore.BuildSummary `json:"builds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Builds, 2)
	assert.Equal(t, "b3", resp.Builds[0].BuildID)
}

func TestHistoryHandlerRejectsBadLimit(t *testing.T) {
	h := historyHandler(func(int) []*eventstore.BuildSummary { return nil })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/build/history?limit=-1", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewServerSetBindsAndShutsDown(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Source.URL = "https://example.com/docs.git"
	cfg.Daemon = &config.DaemonConfig{
		HTTP: config.HTTPConfig{DocsPort: 0, WebhookPort: 0, AdminPort: 0},
	}

	set, err := NewServerSet(cfg, ServerDeps{
		Webhook: NewWebhookHandler("", "main", func(events.BuildRequested) error { return nil }),
		Health: NewHealthChecker(func() Status { return StatusRunning },
			func() int { return 0 }, 10, t.TempDir(), nil),
		DocsRoot:     func() string { return "" },
		Status:       func() DaemonStatusResponse { return DaemonStatusResponse{} },
		TriggerBuild: func(string) (string, error) { return "", nil },
		History:      func(int) []*eventstore.BuildSummary { return nil },
	})
	require.NoError(t, err)

	errCh := make(chan error, 4)
	set.Start(errCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, set.Shutdown(ctx))

	select {
	case err := <-errCh:
		t.Fatalf("unexpected server error: %v", err)
	default:
	}
}
