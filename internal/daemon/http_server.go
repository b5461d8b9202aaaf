package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"git.home.luguber.info/inful/docpages/internal/config"
	"git.home.luguber.info/inful/docpages/internal/eventstore"
	"git.home.luguber.info/inful/docpages/internal/logfields"
)

const defaultHistoryLimit = 20

// DaemonStatusResponse is the /api/daemon/status payload.
type DaemonStatusResponse struct {
	Status      Status       `json:"status"`
	Uptime      string       `json:"uptime"`
	QueueLength int          `json:"queue_length"`
	ActiveJobs  []*QueuedJob `json:"active_jobs"`
	Version     string       `json:"version"`
	Timestamp   time.Time    `json:"timestamp"`
}

// ServerDeps carries the daemon state the HTTP handlers need.
type ServerDeps struct {
	Webhook *WebhookHandler
	Health  *HealthChecker

	// Metrics is the Prometheus handler, nil when metrics are disabled.
	Metrics http.Handler

	// DocsRoot returns the directory holding published HTML, empty until
	// the first successful publish.
	DocsRoot func() string

	Status       func() DaemonStatusResponse
	TriggerBuild func(reason string) (string, error)
	History      func(limit int) []*eventstore.BuildSummary
}

// ServerSet runs the three daemon HTTP servers: published documentation,
// webhook receiver and admin API. Listeners are bound before any server
// starts so port conflicts surface as one startup error.
type ServerSet struct {
	servers   []*http.Server
	listeners []net.Listener
}

// NewServerSet binds listeners for all three servers. Failure to bind any
// port closes the already bound listeners and returns the joined errors.
func NewServerSet(cfg *config.Config, deps ServerDeps) (*ServerSet, error) {
	httpCfg := cfg.Daemon.HTTP

	set := &ServerSet{}

	type binding struct {
		name    string
		port    int
		handler http.Handler
	}

	bindings := []binding{
		{"docs", httpCfg.DocsPort, docsHandler(deps.DocsRoot)},
		{"webhook", httpCfg.WebhookPort, webhookMux(deps.Webhook)},
		{"admin", httpCfg.AdminPort, adminMux(cfg, deps)},
	}

	var bindErrs []error
	for _, b := range bindings {
		addr := fmt.Sprintf(":%d", b.port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			bindErrs = append(bindErrs, fmt.Errorf("bind %s server on %s: %w", b.name, addr, err))
			continue
		}
		set.listeners = append(set.listeners, ln)
		set.servers = append(set.servers, &http.Server{
			Addr:              addr,
			Handler:           b.handler,
			ReadHeaderTimeout: 10 * time.Second,
		})
		slog.Info("HTTP server bound", slog.String("server", b.name), slog.String("addr", addr))
	}

	if len(bindErrs) > 0 {
		for _, ln := range set.listeners {
			_ = ln.Close()
		}
		return nil, errors.Join(bindErrs...)
	}

	return set, nil
}

// Start serves on the pre-bound listeners. Serve errors other than
// ErrServerClosed are reported on errCh.
func (s *ServerSet) Start(errCh chan<- error) {
	for i, srv := range s.servers {
		go func(srv *http.Server, ln net.Listener) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				select {
				case errCh <- fmt.Errorf("http server %s: %w", srv.Addr, err):
				default:
				}
			}
		}(srv, s.listeners[i])
	}
}

// Shutdown stops the servers in reverse order so admin goes down last.
func (s *ServerSet) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(s.servers) - 1; i >= 0; i-- {
		if err := s.servers[i].Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", s.servers[i].Addr, err))
		}
	}
	return errors.Join(errs...)
}

// docsHandler serves the published HTML tree. Until the first publish
// completes there is nothing to serve.
func docsHandler(docsRoot func() string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		root := docsRoot()
		if root == "" {
			http.Error(w, "no published documentation yet", http.StatusServiceUnavailable)
			return
		}
		if _, err := os.Stat(root); err != nil {
			http.Error(w, "no published documentation yet", http.StatusServiceUnavailable)
			return
		}
		http.FileServer(http.Dir(root)).ServeHTTP(w, r)
	})
}

func webhookMux(handler *WebhookHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", handler.HandlePush)
	mux.HandleFunc("/webhooks/push", handler.HandlePush)
	return mux
}

func adminMux(cfg *config.Config, deps ServerDeps) http.Handler {
	mux := http.NewServeMux()

	if cfg.Monitoring.Health.Enabled {
		path := cfg.Monitoring.Health.Path
		if path == "" {
			path = "/health"
		}
		mux.HandleFunc(path, healthHandler(deps.Health))
	}

	if deps.Metrics != nil && cfg.Monitoring.Metrics.Enabled {
		path := cfg.Monitoring.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, deps.Metrics)
	}

	mux.HandleFunc("/api/daemon/status", statusHandler(deps.Status))
	mux.HandleFunc("/api/build/trigger", triggerHandler(deps.TriggerBuild))
	mux.HandleFunc("/api/build/history", historyHandler(deps.History))

	return mux
}

func healthHandler(checker *HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := checker.Check(r.Context())

		status := http.StatusOK
		if report.Status == HealthUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func statusHandler(status func() DaemonStatusResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, status())
	}
}

func triggerHandler(trigger func(reason string) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body struct {
			Reason string `json:"reason"`
		}
		// Body is optional.
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Reason == "" {
			body.Reason = "manual trigger via admin API"
		}

		jobID, err := trigger(body.Reason)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"job_id": jobID,
		})
	}
}

func historyHandler(history func(limit int) []*eventstore.BuildSummary) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		limit := defaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"builds": history(limit),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write JSON response", logfields.Error(err))
	}
}
