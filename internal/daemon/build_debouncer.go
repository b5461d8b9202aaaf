package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"git.home.luguber.info/inful/docpages/internal/daemon/events"
)

type BuildDebouncerConfig struct {
	QuietWindow time.Duration
	MaxDelay    time.Duration

	// CheckBuildRunning reports whether a publish run is in progress. When
	// true the debouncer holds back and schedules exactly one follow-up
	// after the running build finishes.
	CheckBuildRunning func() bool

	// PollInterval controls how often the debouncer polls for build
	// completion once it has detected a running build.
	PollInterval time.Duration
}

// BuildDebouncer coalesces bursts of BuildRequested events into a single
// BuildNow:
//   - quiet window debounce
//   - max delay so a steady stream of pushes cannot postpone forever
//   - if a build is running, exactly one follow-up is queued
//
// Run as a single goroutine.
type BuildDebouncer struct {
	bus *events.Bus
	cfg BuildDebouncerConfig

	mu        sync.Mutex
	readyOnce sync.Once
	ready     chan struct{}

	pending         bool
	pendingAfterRun bool
	firstRequestAt  time.Time
	lastRequestAt   time.Time
	lastTrigger     string
	lastReason      string
	lastCommit      string
	requestCount    int
	pollingAfterRun bool
}

func NewBuildDebouncer(bus *events.Bus, cfg BuildDebouncerConfig) (*BuildDebouncer, error) {
	if bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if cfg.QuietWindow <= 0 {
		return nil, fmt.Errorf("quiet window must be > 0")
	}
	if cfg.MaxDelay <= 0 {
		return nil, fmt.Errorf("max delay must be > 0")
	}
	if cfg.CheckBuildRunning == nil {
		cfg.CheckBuildRunning = func() bool { return false }
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}

	return &BuildDebouncer{bus: bus, cfg: cfg, ready: make(chan struct{})}, nil
}

// Ready is closed once Run has subscribed to events. Intended for tests and
// deterministic startup sequencing.
func (d *BuildDebouncer) Ready() <-chan struct{} {
	return d.ready
}

func (d *BuildDebouncer) Run(ctx context.Context) error {
	reqCh, unsubscribe := events.Subscribe[events.BuildRequested](d.bus, 64)
	defer unsubscribe()

	d.readyOnce.Do(func() { close(d.ready) })

	quietTimer := newStoppedTimer()
	maxTimer := newStoppedTimer()
	pollTimer := newStoppedTimer()

	var (
		quietC <-chan time.Time
		maxC   <-chan time.Time
		pollC  <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-reqCh:
			if !ok {
				return nil
			}
			d.onRequest(req)

			resetTimer(quietTimer, d.cfg.QuietWindow)
			quietC = quietTimer.C

			if d.shouldStartMaxTimer() {
				resetTimer(maxTimer, d.cfg.MaxDelay)
				maxC = maxTimer.C
			}

		case <-quietC:
			if d.tryEmit(ctx, "quiet") {
				quietC = nil
				maxC = nil
			}
			// else: build running; pendingAfterRun stays set.

		case <-maxC:
			if d.tryEmit(ctx, "max_delay") {
				quietC = nil
				maxC = nil
			}

		case <-pollC:
			if d.tryEmitAfterRunning(ctx) {
				pollC = nil
				quietC = nil
				maxC = nil
				continue
			}
			resetTimer(pollTimer, d.cfg.PollInterval)
			pollC = pollTimer.C
		}

		if d.shouldPollAfterRun() && pollC == nil {
			resetTimer(pollTimer, d.cfg.PollInterval)
			pollC = pollTimer.C
		}
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	return t
}

func resetTimer(t *time.Timer, after time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(after)
}

func (d *BuildDebouncer) onRequest(req events.BuildRequested) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := req.RequestedAt
	if now.IsZero() {
		now = time.Now()
	}

	if !d.pending {
		d.pending = true
		d.firstRequestAt = now
		d.requestCount = 0
	}

	d.lastRequestAt = now
	d.lastTrigger = req.Trigger
	d.lastReason = req.Reason
	d.lastCommit = req.Commit
	d.requestCount++
}

func (d *BuildDebouncer) shouldStartMaxTimer() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending && d.requestCount == 1
}

func (d *BuildDebouncer) shouldPollAfterRun() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingAfterRun && !d.pollingAfterRun
}

func (d *BuildDebouncer) tryEmit(ctx context.Context, cause string) bool {
	d.mu.Lock()
	pending := d.pending
	first := d.firstRequestAt
	last := d.lastRequestAt
	count := d.requestCount
	trigger := d.lastTrigger
	reason := d.lastReason
	commit := d.lastCommit
	if !pending {
		d.mu.Unlock()
		return true
	}

	if d.cfg.CheckBuildRunning() {
		d.pendingAfterRun = true
		d.mu.Unlock()
		return false
	}

	d.pending = false
	d.pendingAfterRun = false
	d.pollingAfterRun = false
	d.mu.Unlock()

	evt := events.BuildNow{
		TriggeredAt:   time.Now(),
		RequestCount:  count,
		LastTrigger:   trigger,
		LastReason:    reason,
		LastCommit:    commit,
		FirstRequest:  first,
		LastRequest:   last,
		DebounceCause: cause,
	}

	_ = d.bus.Publish(ctx, evt)
	return true
}

func (d *BuildDebouncer) tryEmitAfterRunning(ctx context.Context) bool {
	d.mu.Lock()
	if !d.pendingAfterRun {
		d.mu.Unlock()
		return true
	}
	d.pollingAfterRun = true
	d.mu.Unlock()

	if d.cfg.CheckBuildRunning() {
		return false
	}

	// Build finished; emit exactly one follow-up.
	return d.tryEmit(ctx, "after_running")
}
