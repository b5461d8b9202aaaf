package docscan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanClassifiesAndTitles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/index.rst", "Welcome Guide\n=============\n\nIntro text.\n")
	writeFile(t, root, "docs/usage.md", "---\ntitle: Usage\n---\n# Using the tool\n\nBody.\n")
	writeFile(t, root, "docs/demo.ipynb", `{"cells":[]}`)
	writeFile(t, root, "docs/conf.py", "project = 'x'\n")
	writeFile(t, root, ".git/config", "[core]\n")

	snap, err := NewScanner().Scan(root)
	require.NoError(t, err)

	require.Contains(t, snap.Files, "docs/index.rst")
	assert.Equal(t, KindRestructuredText, snap.Files["docs/index.rst"].Kind)
	assert.Equal(t, "Welcome Guide", snap.Files["docs/index.rst"].Title)

	require.Contains(t, snap.Files, "docs/usage.md")
	assert.Equal(t, KindMarkdown, snap.Files["docs/usage.md"].Kind)
	assert.Equal(t, "Using the tool", snap.Files["docs/usage.md"].Title)

	assert.Equal(t, KindNotebook, snap.Files["docs/demo.ipynb"].Kind)
	assert.Equal(t, KindOther, snap.Files["docs/conf.py"].Kind)
	assert.NotContains(t, snap.Files, ".git/config")

	assert.Equal(t, 3, snap.SourceFileCount())
}

func TestScanSkipsConfiguredDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/index.rst", "Title\n=====\n")
	writeFile(t, root, "docs/html/index.html", "<html></html>")

	snap, err := NewScanner("docs/html").Scan(root)
	require.NoError(t, err)

	assert.Contains(t, snap.Files, "docs/index.rst")
	assert.NotContains(t, snap.Files, "docs/html/index.html")
}

func TestMarkdownFingerprintIgnoresVolatileFrontmatter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "---\ntitle: Page\nfingerprint: abc\nlastmod: 2026-01-01\nuid: x1\n---\n# Page\n")
	writeFile(t, root, "b.md", "---\ntitle: Page\nfingerprint: def\nlastmod: 2026-02-02\nuid: x2\n---\n# Page\n")
	writeFile(t, root, "c.md", "---\ntitle: Other\n---\n# Page\n")

	snap, err := NewScanner().Scan(root)
	require.NoError(t, err)

	assert.Equal(t, snap.Files["a.md"].Fingerprint, snap.Files["b.md"].Fingerprint,
		"volatile fields must not affect the fingerprint")
	assert.NotEqual(t, snap.Files["a.md"].Fingerprint, snap.Files["c.md"].Fingerprint,
		"real frontmatter changes must affect the fingerprint")
}

func TestRstTitle(t *testing.T) {
	assert.Equal(t, "My Title", rstTitle([]byte("My Title\n========\n\nBody.\n")))
	assert.Equal(t, "Deep", rstTitle([]byte("..\n   comment\n\nDeep\n~~~~\n")))
	assert.Empty(t, rstTitle([]byte("no headings here\njust text\n")))
	assert.Empty(t, rstTitle([]byte("Short\n==\n")), "underline shorter than title is not a heading")
}

func TestSnapshotDiff(t *testing.T) {
	prev := &Snapshot{Files: map[string]FileInfo{
		"a.rst": {Path: "a.rst", Fingerprint: "1"},
		"b.md":  {Path: "b.md", Fingerprint: "2"},
		"c.md":  {Path: "c.md", Fingerprint: "3"},
	}}
	cur := &Snapshot{Files: map[string]FileInfo{
		"a.rst": {Path: "a.rst", Fingerprint: "1"},
		"b.md":  {Path: "b.md", Fingerprint: "2-changed"},
		"d.md":  {Path: "d.md", Fingerprint: "4"},
	}}

	delta := cur.Diff(prev)
	assert.Equal(t, []string{"d.md"}, delta.Added)
	assert.Equal(t, []string{"b.md"}, delta.Modified)
	assert.Equal(t, []string{"c.md"}, delta.Removed)
	assert.False(t, delta.Empty())

	same := cur.Diff(cur)
	assert.True(t, same.Empty())
}

func TestSnapshotDiffNilPrevious(t *testing.T) {
	cur := &Snapshot{Files: map[string]FileInfo{"a.rst": {Path: "a.rst", Fingerprint: "1"}}}
	delta := cur.Diff(nil)
	assert.Equal(t, []string{"a.rst"}, delta.Added)
}

func TestSnapshotSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/index.rst", "T\n=\n")
	snap, err := NewScanner().Scan(root)
	require.NoError(t, err)
	snap.StableCommit = "abc123"

	path := filepath.Join(t.TempDir(), "state", "snapshot.json")
	require.NoError(t, snap.Save(path))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "abc123", loaded.StableCommit)
	assert.Equal(t, snap.Files, loaded.Files)
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	loaded, err := LoadSnapshot(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
