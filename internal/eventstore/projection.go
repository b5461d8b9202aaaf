package eventstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const (
	buildStatusRunning   = "running"
	buildStatusCompleted = "completed"
)

// BuildSummary is a read model summarizing a publish job.
type BuildSummary struct {
	BuildID       string           `json:"build_id"`
	Trigger       string           `json:"trigger,omitempty"`
	Status        string           `json:"status"` // "running", "completed", "failed", "skipped"
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	Duration      time.Duration    `json:"duration,omitempty"`
	StableCommit  string           `json:"stable_commit,omitempty"`
	PublishCommit string           `json:"publish_commit,omitempty"`
	SourceFiles   int              `json:"source_files"`
	PagesBuilt    int              `json:"pages_built"`
	BrokenLinks   int              `json:"broken_links"`
	Pushed        bool             `json:"pushed"`
	SkipReason    string           `json:"skip_reason,omitempty"`
	ErrorStage    string           `json:"error_stage,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	ReportData    *BuildReportData `json:"report_data,omitempty"`
}

// PublishHistoryProjection maintains an in-memory view of publish history,
// reconstructed from events in the store.
type PublishHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	builds   map[string]*BuildSummary // buildID -> summary
	history  []*BuildSummary          // ordered by start time, newest first
	maxSize  int
	lastSync time.Time
}

// NewPublishHistoryProjection creates a projection backed by the given store.
func NewPublishHistoryProjection(store Store, maxHistorySize int) *PublishHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &PublishHistoryProjection{
		store:   store,
		builds:  make(map[string]*BuildSummary),
		history: make([]*BuildSummary, 0, maxHistorySize),
		maxSize: maxHistorySize,
	}
}

// Rebuild reconstructs the projection from all events in the store.
// Typically called at startup.
func (p *PublishHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.builds = make(map[string]*BuildSummary)
	p.history = make([]*BuildSummary, 0, p.maxSize)

	for _, event := range events {
		p.applyEventLocked(event)
	}

	p.sortHistoryLocked()
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneBuildsLocked()

	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event and updates the projection. Used for
// real-time updates as events are emitted.
func (p *PublishHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *PublishHistoryProjection) applyEventLocked(event Event) {
	buildID := event.BuildID()
	if buildID == "" {
		return
	}

	summary, exists := p.builds[buildID]
	if !exists {
		summary = &BuildSummary{
			BuildID:   buildID,
			Status:    buildStatusRunning,
			StartedAt: event.Timestamp(),
		}
		p.builds[buildID] = summary
	}

	switch event.Type() {
	case "BuildStarted":
		summary.StartedAt = event.Timestamp()
		summary.Status = buildStatusRunning
		var payload struct {
			Trigger string `json:"trigger"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.Trigger = payload.Trigger
		}

	case "SourceSynced":
		var payload struct {
			StableCommit string `json:"stable_commit"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.StableCommit = payload.StableCommit
		}

	case "SourcesScanned":
		var payload struct {
			FileCount int `json:"file_count"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.SourceFiles = payload.FileCount
		}

	case "BuildSkipped":
		now := event.Timestamp()
		summary.CompletedAt = &now
		summary.Duration = now.Sub(summary.StartedAt)
		summary.Status = "skipped"
		var payload struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.SkipReason = payload.Reason
		}
		p.addToHistoryLocked(summary)

	case "DocsBuilt":
		var payload struct {
			PagesBuilt int `json:"pages_built"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.PagesBuilt = payload.PagesBuilt
		}

	case "LinksVerified":
		var payload struct {
			BrokenLinks int `json:"broken_links"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.BrokenLinks = payload.BrokenLinks
		}

	case "OutputCommitted":
		var payload struct {
			Commit string `json:"commit"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.PublishCommit = payload.Commit
		}

	case "PublishPushed":
		summary.Pushed = true

	case "BuildCompleted":
		now := event.Timestamp()
		summary.CompletedAt = &now
		summary.Duration = now.Sub(summary.StartedAt)
		summary.Status = buildStatusCompleted
		var payload struct {
			Outcome string          `json:"outcome"`
			Report  BuildReportData `json:"report"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			if payload.Outcome != "" {
				summary.Status = payload.Outcome
			}
			summary.ReportData = &payload.Report
		}
		p.addToHistoryLocked(summary)

	case "BuildFailed":
		now := event.Timestamp()
		summary.CompletedAt = &now
		summary.Duration = now.Sub(summary.StartedAt)
		summary.Status = "failed"
		var payload struct {
			Stage string `json:"stage"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.ErrorStage = payload.Stage
			summary.ErrorMessage = payload.Error
		}
		p.addToHistoryLocked(summary)
	}
}

// addToHistoryLocked adds a finished job to history if not already present.
func (p *PublishHistoryProjection) addToHistoryLocked(summary *BuildSummary) {
	for _, h := range p.history {
		if h.BuildID == summary.BuildID {
			return
		}
	}

	p.history = append([]*BuildSummary{summary}, p.history...)
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneBuildsLocked()
}

// pruneBuildsLocked drops finished jobs that fell out of the bounded history.
// Running jobs are always kept. Caller must hold the write lock.
func (p *PublishHistoryProjection) pruneBuildsLocked() {
	keep := make(map[string]struct{}, len(p.history))
	for _, h := range p.history {
		if h != nil {
			keep[h.BuildID] = struct{}{}
		}
	}

	for id, summary := range p.builds {
		if summary != nil && summary.Status == buildStatusRunning {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(p.builds, id)
		}
	}
}

// sortHistoryLocked sorts history by start time, newest first.
func (p *PublishHistoryProjection) sortHistoryLocked() {
	// Insertion sort, history is small.
	for i := 1; i < len(p.history); i++ {
		for j := i; j > 0 && p.history[j].StartedAt.After(p.history[j-1].StartedAt); j-- {
			p.history[j], p.history[j-1] = p.history[j-1], p.history[j]
		}
	}
}

// GetHistory returns the publish history, newest first.
func (p *PublishHistoryProjection) GetHistory() []*BuildSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*BuildSummary, len(p.history))
	copy(result, p.history)
	return result
}

// GetBuild returns the summary for a specific job.
func (p *PublishHistoryProjection) GetBuild(buildID string) (*BuildSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary, exists := p.builds[buildID]
	if !exists {
		return nil, false
	}

	cp := *summary
	return &cp, true
}

// GetActiveBuild returns a currently running job, if any.
func (p *PublishHistoryProjection) GetActiveBuild() *BuildSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, summary := range p.builds {
		if summary.Status == buildStatusRunning {
			cp := *summary
			return &cp
		}
	}
	return nil
}

// GetLastCompletedBuild returns the most recently finished job.
func (p *PublishHistoryProjection) GetLastCompletedBuild() *BuildSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.history) == 0 {
		return nil
	}

	cp := *p.history[0]
	return &cp
}

// LastSyncTime returns when the projection was last rebuilt from the store.
func (p *PublishHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
