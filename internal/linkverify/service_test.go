package linkverify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docpages/internal/config"
)

func writePage(t *testing.T, root, name, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestVerifyTreeInternalLinks(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "index.html",
		`<html><body><a href="guide.html">guide</a><a href="api/">api</a><img src="img/logo.png"></body></html>`)
	writePage(t, root, "guide.html", `<html><body><a href="index.html">home</a></body></html>`)
	writePage(t, root, "api/index.html", `<html><body>api</body></html>`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "img"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "img", "logo.png"), []byte("png"), 0o644))

	svc := NewService(config.LinksConfig{Enabled: true}, nil)
	broken, err := svc.VerifyTree(context.Background(), root)
	require.NoError(t, err)
	assert.Zero(t, broken)
}

func TestVerifyTreeDetectsMissingTargets(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "index.html",
		`<html><body><a href="missing.html">gone</a><a href="guide.html">ok</a><a href="../escape.html">out</a></body></html>`)
	writePage(t, root, "guide.html", `<html><body>fine</body></html>`)

	svc := NewService(config.LinksConfig{Enabled: true}, nil)
	broken, err := svc.VerifyTree(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 2, broken)
}

func TestVerifyTreeAnchors(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "index.html",
		`<html><body><a href="guide.html#setup">setup</a><a href="guide.html#nope">nope</a></body></html>`)
	writePage(t, root, "guide.html",
		`<html><body><h2 id="setup">Setup</h2></body></html>`)

	svc := NewService(config.LinksConfig{Enabled: true}, nil)
	broken, err := svc.VerifyTree(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, broken)
}

func TestVerifyTreeUnicodeAnchorsNormalized(t *testing.T) {
	root := t.TempDir()
	// Link fragment uses a combining sequence, the id the precomposed form.
	writePage(t, root, "index.html",
		"<html><body><a href=\"guide.html#café\">cafe</a></body></html>")
	writePage(t, root, "guide.html",
		"<html><body><h2 id=\"café\">Café</h2></body></html>")

	svc := NewService(config.LinksConfig{Enabled: true}, nil)
	broken, err := svc.VerifyTree(context.Background(), root)
	require.NoError(t, err)
	assert.Zero(t, broken)
}

func TestVerifyTreeExternalLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	root := t.TempDir()
	writePage(t, root, "index.html",
		`<html><body><a href="`+srv.URL+`/ok">ok</a><a href="`+srv.URL+`/gone">gone</a></body></html>`)

	svc := NewService(config.LinksConfig{Enabled: true, ExternalEnabled: true}, nil)
	broken, err := svc.VerifyTree(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, broken)
}

func TestVerifyTreeExternalDisabled(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "index.html",
		`<html><body><a href="http://definitely-not-resolvable.invalid/x">ext</a></body></html>`)

	svc := NewService(config.LinksConfig{Enabled: true}, nil)
	broken, err := svc.VerifyTree(context.Background(), root)
	require.NoError(t, err)
	assert.Zero(t, broken)
}

func TestVerifyTreeSkipPrefixes(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "index.html",
		`<html><body><a href="_static/theme.css">css</a></body></html>`)

	svc := NewService(config.LinksConfig{Enabled: true, SkipPrefixes: []string{"_static/"}}, nil)
	broken, err := svc.VerifyTree(context.Background(), root)
	require.NoError(t, err)
	assert.Zero(t, broken)
}

func TestShouldVerifyLink(t *testing.T) {
	assert.False(t, ShouldVerifyLink(&Link{URL: "#fragment"}))
	assert.False(t, ShouldVerifyLink(&Link{URL: "mailto:doc@example.com"}))
	assert.False(t, ShouldVerifyLink(&Link{URL: "javascript:void(0)"}))
	assert.False(t, ShouldVerifyLink(&Link{URL: ""}))
	assert.True(t, ShouldVerifyLink(&Link{URL: "guide.html"}))
	assert.True(t, ShouldVerifyLink(&Link{URL: "https://example.com"}))
}
