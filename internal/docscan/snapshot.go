package docscan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Delta describes the difference between two snapshots.
type Delta struct {
	Added    []string `json:"added,omitempty"`
	Modified []string `json:"modified,omitempty"`
	Removed  []string `json:"removed,omitempty"`
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// Summary returns a compact human-readable form.
func (d Delta) Summary() string {
	return fmt.Sprintf("added=%d modified=%d removed=%d", len(d.Added), len(d.Modified), len(d.Removed))
}

// Diff compares this snapshot against a previous one. A nil previous snapshot
// yields everything as added.
func (s *Snapshot) Diff(prev *Snapshot) Delta {
	var d Delta
	if prev == nil {
		for path := range s.Files {
			d.Added = append(d.Added, path)
		}
		sort.Strings(d.Added)
		return d
	}
	for path, cur := range s.Files {
		old, ok := prev.Files[path]
		switch {
		case !ok:
			d.Added = append(d.Added, path)
		case old.Fingerprint != cur.Fingerprint:
			d.Modified = append(d.Modified, path)
		}
	}
	for path := range prev.Files {
		if _, ok := s.Files[path]; !ok {
			d.Removed = append(d.Removed, path)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Modified)
	sort.Strings(d.Removed)
	return d
}

// Save writes the snapshot atomically to path.
func (s *Snapshot) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("ensure snapshot dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomic rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a previously saved snapshot. A missing file returns
// (nil, nil) so first runs fall through to a full build.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if s.Files == nil {
		s.Files = map[string]FileInfo{}
	}
	return &s, nil
}
