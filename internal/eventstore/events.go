package eventstore

import (
	"encoding/json"
	"fmt"
	"time"
)

func newBase(buildID, eventType string, payload []byte) BaseEvent {
	return BaseEvent{
		EventBuildID:   buildID,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}
}

// BuildStarted is emitted when a publish job begins.
type BuildStarted struct {
	BaseEvent
	Trigger string `json:"trigger"`
	Reason  string `json:"reason,omitempty"`
}

// NewBuildStarted creates a BuildStarted event.
func NewBuildStarted(buildID, trigger, reason string) (*BuildStarted, error) {
	payload, err := json.Marshal(map[string]any{
		"trigger": trigger,
		"reason":  reason,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal BuildStarted payload: %w", err)
	}

	return &BuildStarted{
		BaseEvent: newBase(buildID, "BuildStarted", payload),
		Trigger:   trigger,
		Reason:    reason,
	}, nil
}

// SourceSynced is emitted after the stable branch has been fetched and
// checked out.
type SourceSynced struct {
	BaseEvent
	StableCommit string        `json:"stable_commit"`
	Duration     time.Duration `json:"duration_ms"`
}

// NewSourceSynced creates a SourceSynced event.
func NewSourceSynced(buildID, stableCommit string, duration time.Duration) (*SourceSynced, error) {
	payload, err := json.Marshal(map[string]any{
		"stable_commit": stableCommit,
		"duration_ms":   duration.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal SourceSynced payload: %w", err)
	}

	return &SourceSynced{
		BaseEvent:    newBase(buildID, "SourceSynced", payload),
		StableCommit: stableCommit,
		Duration:     duration,
	}, nil
}

// SourcesScanned is emitted after documentation sources have been
// fingerprinted.
type SourcesScanned struct {
	BaseEvent
	FileCount int `json:"file_count"`
	Added     int `json:"added"`
	Modified  int `json:"modified"`
	Removed   int `json:"removed"`
}

// NewSourcesScanned creates a SourcesScanned event.
func NewSourcesScanned(buildID string, fileCount, added, modified, removed int) (*SourcesScanned, error) {
	payload, err := json.Marshal(map[string]any{
		"file_count": fileCount,
		"added":      added,
		"modified":   modified,
		"removed":    removed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal SourcesScanned payload: %w", err)
	}

	return &SourcesScanned{
		BaseEvent: newBase(buildID, "SourcesScanned", payload),
		FileCount: fileCount,
		Added:     added,
		Modified:  modified,
		Removed:   removed,
	}, nil
}

// BuildSkipped is emitted when a job ends early without building.
type BuildSkipped struct {
	BaseEvent
	Reason string `json:"reason"`
}

// NewBuildSkipped creates a BuildSkipped event.
func NewBuildSkipped(buildID, reason string) (*BuildSkipped, error) {
	payload, err := json.Marshal(map[string]any{"reason": reason})
	if err != nil {
		return nil, fmt.Errorf("marshal BuildSkipped payload: %w", err)
	}

	return &BuildSkipped{
		BaseEvent: newBase(buildID, "BuildSkipped", payload),
		Reason:    reason,
	}, nil
}

// DocsBuilt is emitted when the documentation toolchain produced output.
type DocsBuilt struct {
	BaseEvent
	PagesBuilt int           `json:"pages_built"`
	Duration   time.Duration `json:"duration_ms"`
}

// NewDocsBuilt creates a DocsBuilt event.
func NewDocsBuilt(buildID string, pagesBuilt int, duration time.Duration) (*DocsBuilt, error) {
	payload, err := json.Marshal(map[string]any{
		"pages_built": pagesBuilt,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal DocsBuilt payload: %w", err)
	}

	return &DocsBuilt{
		BaseEvent:  newBase(buildID, "DocsBuilt", payload),
		PagesBuilt: pagesBuilt,
		Duration:   duration,
	}, nil
}

// LinksVerified is emitted after link verification of the built output.
type LinksVerified struct {
	BaseEvent
	BrokenLinks int `json:"broken_links"`
}

// NewLinksVerified creates a LinksVerified event.
func NewLinksVerified(buildID string, brokenLinks int) (*LinksVerified, error) {
	payload, err := json.Marshal(map[string]any{"broken_links": brokenLinks})
	if err != nil {
		return nil, fmt.Errorf("marshal LinksVerified payload: %w", err)
	}

	return &LinksVerified{
		BaseEvent:   newBase(buildID, "LinksVerified", payload),
		BrokenLinks: brokenLinks,
	}, nil
}

// OutputCommitted is emitted when built output was committed to the
// publishing branch. An empty commit hash means there was nothing to commit.
type OutputCommitted struct {
	BaseEvent
	Commit          string `json:"commit,omitempty"`
	NothingToCommit bool   `json:"nothing_to_commit"`
}

// NewOutputCommitted creates an OutputCommitted event.
func NewOutputCommitted(buildID, commit string, nothingToCommit bool) (*OutputCommitted, error) {
	payload, err := json.Marshal(map[string]any{
		"commit":            commit,
		"nothing_to_commit": nothingToCommit,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal OutputCommitted payload: %w", err)
	}

	return &OutputCommitted{
		BaseEvent:       newBase(buildID, "OutputCommitted", payload),
		Commit:          commit,
		NothingToCommit: nothingToCommit,
	}, nil
}

// PublishPushed is emitted when the publishing branch was pushed to the
// remote.
type PublishPushed struct {
	BaseEvent
	Branch  string `json:"branch"`
	Commit  string `json:"commit"`
	Retries int    `json:"retries"`
}

// NewPublishPushed creates a PublishPushed event.
func NewPublishPushed(buildID, branch, commit string, retries int) (*PublishPushed, error) {
	payload, err := json.Marshal(map[string]any{
		"branch":  branch,
		"commit":  commit,
		"retries": retries,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal PublishPushed payload: %w", err)
	}

	return &PublishPushed{
		BaseEvent: newBase(buildID, "PublishPushed", payload),
		Branch:    branch,
		Commit:    commit,
		Retries:   retries,
	}, nil
}

// BuildReportData contains the key metrics from a publish report, a subset
// of the full report kept small enough for event storage.
type BuildReportData struct {
	Outcome        string           `json:"outcome"`
	Summary        string           `json:"summary"`
	StableCommit   string           `json:"stable_commit,omitempty"`
	PublishCommit  string           `json:"publish_commit,omitempty"`
	SourceFiles    int              `json:"source_files"`
	PagesBuilt     int              `json:"pages_built"`
	BrokenLinks    int              `json:"broken_links"`
	Pushed         bool             `json:"pushed"`
	StageDurations map[string]int64 `json:"stage_durations_ms"` // stage -> milliseconds
	Errors         []string         `json:"errors,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
}

// BuildCompleted is emitted when a publish job finishes without a fatal
// error.
type BuildCompleted struct {
	BaseEvent
	Outcome  string          `json:"outcome"`
	Duration time.Duration   `json:"duration_ms"`
	Report   BuildReportData `json:"report"`
}

// NewBuildCompleted creates a BuildCompleted event.
func NewBuildCompleted(buildID, outcome string, duration time.Duration, report BuildReportData) (*BuildCompleted, error) {
	payload, err := json.Marshal(map[string]any{
		"outcome":     outcome,
		"duration_ms": duration.Milliseconds(),
		"report":      report,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal BuildCompleted payload: %w", err)
	}

	return &BuildCompleted{
		BaseEvent: newBase(buildID, "BuildCompleted", payload),
		Outcome:   outcome,
		Duration:  duration,
		Report:    report,
	}, nil
}

// BuildFailed is emitted when a publish job fails.
type BuildFailed struct {
	BaseEvent
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// NewBuildFailed creates a BuildFailed event.
func NewBuildFailed(buildID, stage, errorMsg string) (*BuildFailed, error) {
	payload, err := json.Marshal(map[string]any{
		"stage": stage,
		"error": errorMsg,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal BuildFailed payload: %w", err)
	}

	return &BuildFailed{
		BaseEvent: newBase(buildID, "BuildFailed", payload),
		Stage:     stage,
		Error:     errorMsg,
	}, nil
}
