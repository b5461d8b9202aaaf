package events

import "time"

// BuildRequested indicates a publish run should happen soon. Emitted by the
// webhook server, the scheduler and config reloads; consumed by the
// BuildDebouncer.
type BuildRequested struct {
	Trigger     string
	Reason      string
	Commit      string // triggering commit SHA, when known
	RequestedAt time.Time
}

// BuildNow is emitted by the BuildDebouncer once it decides to start a
// publish run. Consumers enqueue exactly one job per BuildNow.
type BuildNow struct {
	TriggeredAt   time.Time
	RequestCount  int
	LastTrigger   string
	LastReason    string
	LastCommit    string
	FirstRequest  time.Time
	LastRequest   time.Time
	DebounceCause string // "quiet", "max_delay" or "after_running"
}
