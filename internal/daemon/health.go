package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/docpages/internal/eventstore"
	"git.home.luguber.info/inful/docpages/internal/version"
)

// HealthStatus is the aggregate health of the daemon.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is the result of one component check.
type HealthCheck struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthReport aggregates component checks into one response.
type HealthReport struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version"`
	Checks    []HealthCheck `json:"checks"`
}

// HealthChecker runs component checks against live daemon state.
type HealthChecker struct {
	daemonStatus func() Status
	queueLength  func() int
	queueSize    int
	dataDir      string
	store        eventstore.Store
}

// NewHealthChecker creates a checker. store may be nil.
func NewHealthChecker(daemonStatus func() Status, queueLength func() int, queueSize int, dataDir string, store eventstore.Store) *HealthChecker {
	return &HealthChecker{
		daemonStatus: daemonStatus,
		queueLength:  queueLength,
		queueSize:    queueSize,
		dataDir:      dataDir,
		store:        store,
	}
}

// Check runs all component checks. The aggregate is unhealthy when any check
// is, otherwise degraded when any check is.
func (hc *HealthChecker) Check(ctx context.Context) HealthReport {
	checks := []HealthCheck{
		hc.checkDaemon(),
		hc.checkQueue(),
		hc.checkStorage(),
		hc.checkEventStore(ctx),
	}

	status := HealthHealthy
	for _, c := range checks {
		switch c.Status {
		case HealthUnhealthy:
			status = HealthUnhealthy
		case HealthDegraded:
			if status == HealthHealthy {
				status = HealthDegraded
			}
		}
	}

	return HealthReport{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
		Checks:    checks,
	}
}

func (hc *HealthChecker) checkDaemon() HealthCheck {
	status := hc.daemonStatus()
	if status != StatusRunning {
		return HealthCheck{
			Name:    "daemon",
			Status:  HealthUnhealthy,
			Message: fmt.Sprintf("daemon status is %s", status),
		}
	}
	return HealthCheck{Name: "daemon", Status: HealthHealthy}
}

func (hc *HealthChecker) checkQueue() HealthCheck {
	length := hc.queueLength()
	if hc.queueSize > 0 && length >= hc.queueSize {
		return HealthCheck{
			Name:    "build_queue",
			Status:  HealthDegraded,
			Message: fmt.Sprintf("queue full (%d/%d)", length, hc.queueSize),
		}
	}
	return HealthCheck{
		Name:    "build_queue",
		Status:  HealthHealthy,
		Message: fmt.Sprintf("%d queued", length),
	}
}

// checkStorage verifies the data directory is writable.
func (hc *HealthChecker) checkStorage() HealthCheck {
	probe := filepath.Join(hc.dataDir, ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return HealthCheck{
			Name:    "storage",
			Status:  HealthUnhealthy,
			Message: fmt.Sprintf("data directory not writable: %v", err),
		}
	}
	_ = os.Remove(probe)
	return HealthCheck{Name: "storage", Status: HealthHealthy}
}

// checkEventStore verifies the event log answers queries. The store is
// optional; a failing store degrades but never fails the daemon.
func (hc *HealthChecker) checkEventStore(ctx context.Context) HealthCheck {
	if hc.store == nil {
		return HealthCheck{Name: "event_store", Status: HealthHealthy, Message: "disabled"}
	}

	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	now := time.Now()
	if _, err := hc.store.GetRange(queryCtx, now.Add(-time.Minute), now); err != nil {
		return HealthCheck{
			Name:    "event_store",
			Status:  HealthDegraded,
			Message: fmt.Sprintf("query failed: %v", err),
		}
	}
	return HealthCheck{Name: "event_store", Status: HealthHealthy}
}
