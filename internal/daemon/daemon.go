// Package daemon runs docpages as a long-lived service: it receives webhook
// pushes, schedules periodic publishes, debounces bursts, and serves the
// published documentation plus an admin API.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/docpages/internal/config"
	"git.home.luguber.info/inful/docpages/internal/daemon/events"
	"git.home.luguber.info/inful/docpages/internal/eventstore"
	"git.home.luguber.info/inful/docpages/internal/linkverify"
	"git.home.luguber.info/inful/docpages/internal/logfields"
	"git.home.luguber.info/inful/docpages/internal/metrics"
	"git.home.luguber.info/inful/docpages/internal/notify"
	"git.home.luguber.info/inful/docpages/internal/sphinx"
	"git.home.luguber.info/inful/docpages/internal/sphinx/models"
	"git.home.luguber.info/inful/docpages/internal/version"
	"git.home.luguber.info/inful/docpages/internal/workspace"
)

// Status is the daemon lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

const defaultMaxRetries = 2

// Daemon wires the publish pipeline into a long-running service.
type Daemon struct {
	cfg        atomic.Pointer[config.Config]
	configPath string

	status    atomic.Value
	startedAt time.Time

	ws         *workspace.Manager
	recorder   *metrics.PrometheusRecorder
	store      eventstore.Store
	projection *eventstore.PublishHistoryProjection
	notifier   *notify.Notifier
	linkCache  *linkverify.NATSClient
	emitter    *EventEmitter
	bus        *events.Bus
	debouncer  *BuildDebouncer
	queue      *BuildQueue
	publisher  *sphinx.Publisher
	scheduler  *Scheduler
	watcher    *ConfigWatcher
	servers    *ServerSet
	health     *HealthChecker

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// errCh receives fatal runtime errors from the HTTP servers.
	errCh chan error
}

// New creates a daemon from a validated configuration. configPath enables
// hot reload; empty disables the config watcher.
func New(cfg *config.Config, configPath string) (*Daemon, error) {
	if cfg.Daemon == nil {
		return nil, fmt.Errorf("daemon configuration is required")
	}

	d := &Daemon{
		configPath: configPath,
		errCh:      make(chan error, 4),
	}
	d.cfg.Store(cfg)
	d.status.Store(StatusStopped)
	return d, nil
}

// config returns the current configuration snapshot. Hot reload swaps the
// pointer; holders of an older snapshot keep a consistent view.
func (d *Daemon) config() *config.Config {
	return d.cfg.Load()
}

// Status returns the current lifecycle state.
func (d *Daemon) Status() Status {
	return d.status.Load().(Status)
}

// Errors exposes fatal runtime errors, e.g. a crashed HTTP server.
func (d *Daemon) Errors() <-chan error {
	return d.errCh
}

// Start brings up all daemon components. On error, components that already
// started are torn down.
func (d *Daemon) Start(ctx context.Context) error {
	d.status.Store(StatusStarting)
	d.startedAt = time.Now()

	if err := d.start(ctx); err != nil {
		d.status.Store(StatusError)
		d.teardown(context.Background())
		return err
	}

	d.status.Store(StatusRunning)
	cfg := d.config()
	slog.Info("Daemon running",
		slog.String("version", version.Version),
		slog.Int("docs_port", cfg.Daemon.HTTP.DocsPort),
		slog.Int("webhook_port", cfg.Daemon.HTTP.WebhookPort),
		slog.Int("admin_port", cfg.Daemon.HTTP.AdminPort))
	return nil
}

func (d *Daemon) start(ctx context.Context) error {
	cfg := d.config()
	storage := cfg.Daemon.Storage

	dataDir := storage.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	if storage.PersistentWorkspace {
		d.ws = workspace.NewPersistentManager(storage.WorkspaceDir, "working")
	} else {
		d.ws = workspace.NewManager(storage.WorkspaceDir)
	}

	d.recorder = metrics.NewPrometheusRecorder(nil)

	// Event log is best effort; the daemon runs without history when the
	// database cannot be opened.
	store, err := eventstore.NewSQLiteStore(filepath.Join(dataDir, "events.db"))
	if err != nil {
		slog.Warn("Event store unavailable, continuing without history", logfields.Error(err))
	} else {
		d.store = store
		d.projection = eventstore.NewPublishHistoryProjection(store, 0)
		if err := d.projection.Rebuild(ctx); err != nil {
			slog.Warn("Failed to rebuild publish history", logfields.Error(err))
		}
	}

	if cfg.Notify.NATS.Enabled {
		notifier, err := notify.NewNotifier(cfg.Notify.NATS)
		if err != nil {
			slog.Warn("NATS notifier unavailable", logfields.Error(err))
		} else {
			d.notifier = notifier
		}
	}

	d.emitter = NewEventEmitter(d.store, d.projection, d.notifier, cfg.Publish.Branch)

	d.publisher = sphinx.NewPublisher(cfg, d.ws, dataDir)
	d.publisher.SetRecorder(d.recorder)

	if cfg.Verify.Links.Enabled {
		var cache *linkverify.NATSClient
		if cfg.Notify.NATS.Enabled {
			cache, err = linkverify.NewNATSClient(cfg.Notify.NATS)
			if err != nil {
				slog.Warn("Link verification cache unavailable", logfields.Error(err))
				cache = nil
			}
		}
		d.linkCache = cache
		d.publisher.SetLinkVerifier(linkverify.NewService(cfg.Verify.Links, cache))
	}

	d.bus = events.NewBus()

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.queue = NewBuildQueue(cfg.Daemon.Sync.QueueSize, cfg.Daemon.Sync.ConcurrentBuilds, d.publisher)
	d.queue.SetRecorder(d.recorder)
	d.queue.SetMaxRetries(defaultMaxRetries)
	d.queue.SetLifecycleHooks(
		func(job models.Job) { d.emitter.JobStarted(runCtx, job) },
		func(job models.Job, report *models.BuildReport, runErr error) {
			d.emitter.JobFinished(runCtx, job, report, runErr)
		},
	)
	d.queue.Start(runCtx)

	quiet := config.ParseDurationDefault(cfg.Daemon.Sync.DebounceQuietWindow,
		config.ParseDurationDefault(config.DefaultDebounceQuietWindow, 10*time.Second))
	maxDelay := config.ParseDurationDefault(cfg.Daemon.Sync.DebounceMaxDelay,
		config.ParseDurationDefault(config.DefaultDebounceMaxDelay, 2*time.Minute))

	debouncer, err := NewBuildDebouncer(d.bus, BuildDebouncerConfig{
		QuietWindow:       quiet,
		MaxDelay:          maxDelay,
		CheckBuildRunning: d.queue.Running,
	})
	if err != nil {
		return fmt.Errorf("create debouncer: %w", err)
	}
	d.debouncer = debouncer

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.debouncer.Run(runCtx); err != nil {
			slog.Error("Debouncer stopped", logfields.Error(err))
		}
	}()
	<-d.debouncer.Ready()

	d.wg.Add(1)
	go d.consumeBuildNow(runCtx)

	if expr := cfg.Daemon.Sync.Schedule; expr != "" {
		scheduler, err := NewScheduler(d.bus)
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		if _, err := scheduler.SchedulePeriodicBuild(expr); err != nil {
			return fmt.Errorf("schedule periodic build: %w", err)
		}
		scheduler.Start()
		d.scheduler = scheduler

		// A freshly started daemon should publish soon instead of waiting
		// for the first scheduled tick.
		d.wg.Add(1)
		go d.requestInitialBuild(runCtx)
	}

	d.wg.Add(1)
	go d.statusLoop(runCtx)

	if d.configPath != "" {
		watcher, err := NewConfigWatcher(d.configPath, d.applyConfig)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		if err := watcher.Start(runCtx); err != nil {
			return fmt.Errorf("start config watcher: %w", err)
		}
		d.watcher = watcher
	}

	d.health = NewHealthChecker(d.Status, d.queue.Length, cfg.Daemon.Sync.QueueSize, dataDir, d.store)

	webhook := NewWebhookHandler(cfg.Daemon.HTTP.WebhookSecret, cfg.Source.Branch, func(evt events.BuildRequested) error {
		publishCtx, cancel := context.WithTimeout(runCtx, 5*time.Second)
		defer cancel()
		return d.bus.Publish(publishCtx, evt)
	})

	servers, err := NewServerSet(cfg, ServerDeps{
		Webhook:      webhook,
		Health:       d.health,
		Metrics:      d.recorder.Handler(),
		DocsRoot:     d.docsRoot,
		Status:       d.statusResponse,
		TriggerBuild: d.TriggerBuild,
		History:      d.buildHistory,
	})
	if err != nil {
		return err
	}
	d.servers = servers
	d.servers.Start(d.errCh)

	return nil
}

// Stop shuts the daemon down in reverse start order.
func (d *Daemon) Stop(ctx context.Context) error {
	d.status.Store(StatusStopping)
	slog.Info("Stopping daemon")

	err := d.teardown(ctx)

	d.status.Store(StatusStopped)
	slog.Info("Daemon stopped")
	return err
}

func (d *Daemon) teardown(ctx context.Context) error {
	var firstErr error

	if d.servers != nil {
		if err := d.servers.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		d.servers = nil
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.watcher = nil
	}

	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.scheduler = nil
	}

	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	if d.queue != nil {
		d.queue.Stop(ctx)
		d.queue = nil
	}

	if d.bus != nil {
		d.bus.Close()
		d.bus = nil
	}

	if d.linkCache != nil {
		_ = d.linkCache.Close()
		d.linkCache = nil
	}

	if d.notifier != nil {
		_ = d.notifier.Close()
		d.notifier = nil
	}

	if d.store != nil {
		if err := d.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.store = nil
	}

	return firstErr
}

const (
	initialBuildDelay = 5 * time.Second
	statusLogInterval = 5 * time.Minute
)

// requestInitialBuild asks for one publish shortly after startup.
func (d *Daemon) requestInitialBuild(ctx context.Context) {
	defer d.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(initialBuildDelay):
	}

	evt := events.BuildRequested{
		Trigger:     string(models.TriggerSchedule),
		Reason:      "initial build after daemon start",
		RequestedAt: time.Now(),
	}
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.bus.Publish(publishCtx, evt); err != nil {
		slog.Warn("Failed to request initial build", logfields.Error(err))
	}
}

// statusLoop periodically logs daemon state.
func (d *Daemon) statusLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slog.Info("Daemon status",
				slog.String("status", string(d.Status())),
				slog.Int("queue_length", d.queue.Length()),
				slog.Bool("build_running", d.queue.Running()),
				slog.String("uptime", time.Since(d.startedAt).Truncate(time.Second).String()))
		}
	}
}

// consumeBuildNow turns debounced build decisions into queued jobs.
func (d *Daemon) consumeBuildNow(ctx context.Context) {
	defer d.wg.Done()

	ch, unsubscribe := events.Subscribe[events.BuildNow](d.bus, 16)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}

			job := models.Job{
				ID:          newJobID(),
				Trigger:     models.Trigger(evt.LastTrigger),
				Reason:      evt.LastReason,
				RequestedAt: evt.TriggeredAt,
			}

			slog.Info("Debounced build ready",
				logfields.JobID(job.ID),
				logfields.Trigger(string(job.Trigger)),
				slog.Int("coalesced_requests", evt.RequestCount),
				slog.String("cause", evt.DebounceCause))

			if err := d.queue.Enqueue(job); err != nil {
				slog.Warn("Failed to enqueue debounced build", logfields.Error(err))
			}
		}
	}
}

// TriggerBuild enqueues a manual publish immediately, bypassing the
// debouncer. Manual runs always build, even with unchanged sources.
func (d *Daemon) TriggerBuild(reason string) (string, error) {
	if d.Status() != StatusRunning {
		return "", fmt.Errorf("daemon is not running")
	}

	job := models.Job{
		ID:          newJobID(),
		Trigger:     models.TriggerManual,
		Reason:      reason,
		RequestedAt: time.Now(),
	}

	if err := d.queue.Enqueue(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// applyConfig is the config watcher callback. The configuration pointer is
// swapped, never mutated in place: a run already in flight keeps the snapshot
// it started with, the next run picks up the new one. Port or storage changes
// need a restart.
func (d *Daemon) applyConfig(ctx context.Context, newCfg *config.Config) error {
	if newCfg.Daemon == nil {
		return fmt.Errorf("reloaded configuration has no daemon section")
	}

	oldHTTP := d.config().Daemon.HTTP
	d.cfg.Store(newCfg)
	if d.publisher != nil {
		d.publisher.UpdateConfig(newCfg)
	}

	if oldHTTP != newCfg.Daemon.HTTP {
		slog.Warn("HTTP settings changed, restart required for ports to take effect")
	}

	evt := events.BuildRequested{
		Trigger:     string(models.TriggerConfigReload),
		Reason:      "configuration reloaded",
		RequestedAt: time.Now(),
	}
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.bus.Publish(publishCtx, evt); err != nil {
		slog.Warn("Failed to request build after config reload", logfields.Error(err))
	}
	return nil
}

// docsRoot returns the directory with published HTML, empty until a
// persistent workspace has produced output.
func (d *Daemon) docsRoot() string {
	if d.ws == nil {
		return ""
	}
	root := d.ws.GetPath()
	if root == "" {
		return ""
	}
	return sphinx.DocsOutputDir(root, d.config().Publish.OutputDir)
}

func (d *Daemon) statusResponse() DaemonStatusResponse {
	return DaemonStatusResponse{
		Status:      d.Status(),
		Uptime:      time.Since(d.startedAt).Truncate(time.Second).String(),
		QueueLength: d.queue.Length(),
		ActiveJobs:  d.queue.GetActiveJobs(),
		Version:     version.Version,
		Timestamp:   time.Now().UTC(),
	}
}

func (d *Daemon) buildHistory(limit int) []*eventstore.BuildSummary {
	if d.projection == nil {
		return nil
	}
	history := d.projection.GetHistory()
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history
}

func newJobID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("build-%d", time.Now().UnixNano())
	}
	return id.String()
}
