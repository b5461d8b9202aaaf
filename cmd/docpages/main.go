package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/docpages/internal/config"
	"git.home.luguber.info/inful/docpages/internal/daemon"
	"git.home.luguber.info/inful/docpages/internal/linkverify"
	"git.home.luguber.info/inful/docpages/internal/metrics"
	"git.home.luguber.info/inful/docpages/internal/sphinx"
	"git.home.luguber.info/inful/docpages/internal/sphinx/models"
	"git.home.luguber.info/inful/docpages/internal/version"
	"git.home.luguber.info/inful/docpages/internal/workspace"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"docpages.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Build struct {
		Reason string `help:"Free-form reason recorded in the publish report" default:"manual build"`
	} `cmd:"" help:"Run one publish: sync the stable branch, build the docs and push the publishing branch"`

	Daemon struct {
	} `cmd:"" help:"Run as a service: webhooks, scheduled publishes and the docs server"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Write a commented example configuration file"`

	Validate struct {
	} `cmd:"" help:"Load and validate the configuration file"`

	Version struct {
	} `cmd:"" help:"Print version information"`
}

func main() {
	kctx := kong.Parse(&CLI)

	switch kctx.Command() {
	case "version":
		fmt.Printf("docpages %s\n", version.Version)
		return
	case "init":
		setupLogging(nil)
		if err := config.WriteExample(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Wrote example configuration", "path", CLI.Config)
		return
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		setupLogging(nil)
		slog.Error("Failed to load configuration", "path", CLI.Config, "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	switch kctx.Command() {
	case "build":
		if err := runBuild(cfg, CLI.Build.Reason); err != nil {
			slog.Error("Publish failed", "error", err)
			os.Exit(1)
		}
	case "daemon":
		if err := runDaemon(cfg); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	case "validate":
		slog.Info("Configuration is valid",
			"path", CLI.Config,
			"source", cfg.Source.URL,
			"stable_branch", cfg.Source.Branch,
			"publish_branch", cfg.Publish.Branch)
	}
}

// setupLogging configures the default slog logger from the monitoring
// section. A nil config means defaults, before the config is loaded.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	format := "text"

	if cfg != nil {
		switch cfg.Monitoring.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
		format = cfg.Monitoring.Logging.Format
	}
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// runBuild executes a single publish run and exits non-zero on failure.
func runBuild(cfg *config.Config, reason string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dataDir := ""
	if cfg.Daemon != nil && cfg.Daemon.Storage.DataDir != "" {
		dataDir = cfg.Daemon.Storage.DataDir
	}
	if dataDir == "" {
		dataDir = config.DefaultDataDir
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	ws := workspace.NewManager("")
	publisher := sphinx.NewPublisher(cfg, ws, dataDir)
	publisher.SetRecorder(metrics.NoopRecorder{})

	if cfg.Verify.Links.Enabled {
		publisher.SetLinkVerifier(linkverify.NewService(cfg.Verify.Links, nil))
	}

	job := models.Job{
		ID:          newJobID(),
		Trigger:     models.TriggerManual,
		Reason:      reason,
		RequestedAt: time.Now(),
	}

	report, err := publisher.Run(ctx, job)
	if report != nil {
		fmt.Println(report.Summary())
	}
	return err
}

// runDaemon starts the service and blocks until a shutdown signal or a
// fatal server error.
func runDaemon(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg, CLI.Config)
	if err != nil {
		return err
	}

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	select {
	case err := <-d.Errors():
		slog.Error("Fatal daemon error", "error", err)
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	return nil
}

func newJobID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("build-%d", time.Now().UnixNano())
	}
	return id.String()
}
