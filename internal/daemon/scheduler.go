package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/docpages/internal/daemon/events"
	"git.home.luguber.info/inful/docpages/internal/logfields"
)

// Scheduler wraps gocron for periodic publish runs. Each tick publishes a
// BuildRequested event; the debouncer decides when to actually run.
type Scheduler struct {
	scheduler gocron.Scheduler
	bus       *events.Bus
}

// NewScheduler creates a scheduler publishing to the given bus.
func NewScheduler(bus *events.Bus) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}

	return &Scheduler{scheduler: s, bus: bus}, nil
}

// SchedulePeriodicBuild registers a periodic build from a schedule
// expression. Supported form: "@every <duration>".
func (s *Scheduler) SchedulePeriodicBuild(expr string) (string, error) {
	interval, err := ParseSchedule(expr)
	if err != nil {
		return "", err
	}

	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.requestBuild, expr),
		gocron.WithName("scheduled-publish"),
	)
	if err != nil {
		return "", fmt.Errorf("create periodic build job: %w", err)
	}

	slog.Info("Scheduled periodic publish",
		slog.String("expression", expr), slog.Duration("interval", interval))
	return job.ID().String(), nil
}

// requestBuild is invoked by gocron on every tick.
func (s *Scheduler) requestBuild(expr string) {
	evt := events.BuildRequested{
		Trigger:     "schedule",
		Reason:      fmt.Sprintf("schedule %s", expr),
		RequestedAt: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.bus.Publish(ctx, evt); err != nil {
		slog.Error("Failed to publish scheduled build request", logfields.Error(err))
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// ParseSchedule parses a schedule expression into an interval. Only the
// "@every <duration>" form is supported.
func ParseSchedule(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule expression %q, expected \"@every <duration>\"", expr)
	}
	rem := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(rem)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid schedule interval %q", rem)
	}
	return d, nil
}
