// Package docscan walks a documentation source tree and produces content
// snapshots used to decide whether a rebuild is needed.
package docscan

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/inful/mdfp"
	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// FileKind classifies a scanned source file.
type FileKind string

const (
	KindRestructuredText FileKind = "rst"
	KindMarkdown         FileKind = "markdown"
	KindNotebook         FileKind = "notebook"
	KindOther            FileKind = "other"
)

// FileInfo describes one scanned source file.
type FileInfo struct {
	Path        string   `json:"path"` // slash-separated, relative to the scan root
	Kind        FileKind `json:"kind"`
	Fingerprint string   `json:"fingerprint"`
	Title       string   `json:"title,omitempty"`
}

// Snapshot is the content state of a source tree at one commit.
type Snapshot struct {
	ScannedAt    time.Time           `json:"scanned_at"`
	StableCommit string              `json:"stable_commit,omitempty"`
	Files        map[string]FileInfo `json:"files"`
}

// Frontmatter fields excluded from fingerprints because tooling rewrites them
// without changing the rendered content.
var volatileFrontmatterKeys = map[string]struct{}{
	mdfp.FingerprintField: {},
	"lastmod":             {},
	"uid":                 {},
	"aliases":             {},
}

// Scanner walks documentation trees. skipDirs entries are directory names
// (not paths) excluded at any depth; the output directory and VCS metadata
// are always excluded.
type Scanner struct {
	skipDirs map[string]struct{}
}

// NewScanner builds a scanner that ignores the given directories plus .git.
func NewScanner(skipDirs ...string) *Scanner {
	skip := map[string]struct{}{".git": {}}
	for _, d := range skipDirs {
		if d != "" {
			skip[filepath.ToSlash(filepath.Clean(d))] = struct{}{}
		}
	}
	return &Scanner{skipDirs: skip}
}

// Scan walks root and fingerprints every documentation source file.
func (s *Scanner) Scan(root string) (*Snapshot, error) {
	snap := &Snapshot{ScannedAt: time.Now(), Files: make(map[string]FileInfo)}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if _, skip := s.skipDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			if _, skip := s.skipDirs[rel]; skip {
				return filepath.SkipDir
			}
			return nil
		}

		info, ferr := fingerprintFile(path, rel)
		if ferr != nil {
			return fmt.Errorf("fingerprint %s: %w", rel, ferr)
		}
		snap.Files[rel] = info
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return snap, nil
}

// SourceFileCount returns the number of documentation source files (not
// counting auxiliary files like conf.py or images).
func (s *Snapshot) SourceFileCount() int {
	n := 0
	for _, f := range s.Files {
		if f.Kind != KindOther {
			n++
		}
	}
	return n
}

func fingerprintFile(path, rel string) (FileInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileInfo{}, err
	}

	switch strings.ToLower(filepath.Ext(rel)) {
	case ".md", ".markdown":
		return markdownInfo(rel, data)
	case ".rst":
		return FileInfo{
			Path:        rel,
			Kind:        KindRestructuredText,
			Fingerprint: rawHash(data),
			Title:       rstTitle(data),
		}, nil
	case ".ipynb":
		return FileInfo{Path: rel, Kind: KindNotebook, Fingerprint: rawHash(data)}, nil
	default:
		return FileInfo{Path: rel, Kind: KindOther, Fingerprint: rawHash(data)}, nil
	}
}

// markdownInfo fingerprints a Markdown file, canonicalizing the frontmatter so
// volatile fields never force a rebuild.
func markdownInfo(rel string, data []byte) (FileInfo, error) {
	fmRaw, body, had := splitFrontmatter(data)

	fmForHash := ""
	if had && len(fmRaw) > 0 {
		fields := map[string]any{}
		if err := yaml.Unmarshal(fmRaw, &fields); err != nil {
			// Malformed frontmatter still participates via the raw bytes.
			return FileInfo{Path: rel, Kind: KindMarkdown, Fingerprint: rawHash(data)}, nil
		}
		for k := range volatileFrontmatterKeys {
			delete(fields, k)
		}
		if len(fields) > 0 {
			serialized, err := yaml.Marshal(fields)
			if err != nil {
				return FileInfo{}, err
			}
			fmForHash = strings.TrimSuffix(string(serialized), "\n")
		}
	}

	return FileInfo{
		Path:        rel,
		Kind:        KindMarkdown,
		Fingerprint: mdfp.CalculateFingerprintFromParts(fmForHash, string(body)),
		Title:       markdownTitle(body),
	}, nil
}

// splitFrontmatter separates `---` delimited YAML frontmatter from the body.
func splitFrontmatter(content []byte) (frontmatter, body []byte, had bool) {
	open := []byte("---\n")
	if !bytes.HasPrefix(content, open) {
		return nil, content, false
	}
	rest := content[len(open):]
	idx := bytes.Index(rest, []byte("\n---\n"))
	if idx < 0 {
		if bytes.HasPrefix(rest, []byte("---\n")) {
			return []byte{}, rest[len("---\n"):], true
		}
		return nil, content, false
	}
	return rest[:idx+1], rest[idx+len("\n---\n"):], true
}

// markdownTitle returns the text of the first heading in the body.
func markdownTitle(body []byte) string {
	md := goldmark.New()
	root := md.Parser().Parse(gmtext.NewReader(body))

	var title string
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering || title != "" {
			return gmast.WalkContinue, nil
		}
		if h, ok := n.(*gmast.Heading); ok {
			var sb strings.Builder
			for c := h.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*gmast.Text); ok {
					sb.Write(t.Segment.Value(body))
				}
			}
			title = strings.TrimSpace(sb.String())
			return gmast.WalkStop, nil
		}
		return gmast.WalkContinue, nil
	})
	return title
}

// rstTitle returns the first section title: a text line followed by a full
// punctuation underline of at least the same length.
func rstTitle(data []byte) string {
	lines := strings.Split(string(data), "\n")
	for i := 0; i+1 < len(lines); i++ {
		text := strings.TrimRight(lines[i], " \t")
		under := strings.TrimRight(lines[i+1], " \t")
		if text == "" || len(under) < len(text) {
			continue
		}
		if isUnderline(under) {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

func isUnderline(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	if !strings.ContainsRune(`=-~^"'#*+.:_`, rune(c)) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] != c {
			return false
		}
	}
	return true
}

func rawHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
