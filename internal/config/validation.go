package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks the configuration and reports all problems at once.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Source.URL) == "" {
		problems = append(problems, "source.url is required")
	}
	if c.Source.Branch == c.Publish.Branch {
		problems = append(problems, fmt.Sprintf("source.branch and publish.branch must differ (both %q)", c.Source.Branch))
	}
	if strings.Contains(c.Publish.OutputDir, "..") {
		problems = append(problems, "publish.output_dir must not contain '..'")
	}
	if c.Publish.PushRetries < 0 {
		problems = append(problems, "publish.push_retries cannot be negative")
	}

	if _, err := time.ParseDuration(c.Build.Timeout); err != nil {
		problems = append(problems, fmt.Sprintf("build.timeout %q is not a duration", c.Build.Timeout))
	}
	if c.Build.Retry.Backoff != "" && !c.Build.Retry.Backoff.Valid() {
		problems = append(problems, fmt.Sprintf("build.retry.backoff %q must be fixed, linear or exponential", c.Build.Retry.Backoff))
	}
	if c.Build.Retry.MaxRetries < 0 {
		problems = append(problems, "build.retry.max_retries cannot be negative")
	}
	for _, fld := range []struct{ name, val string }{
		{"build.retry.initial_delay", c.Build.Retry.InitialDelay},
		{"build.retry.max_delay", c.Build.Retry.MaxDelay},
	} {
		if fld.val == "" {
			continue
		}
		if _, err := time.ParseDuration(fld.val); err != nil {
			problems = append(problems, fmt.Sprintf("%s %q is not a duration", fld.name, fld.val))
		}
	}

	if c.Daemon != nil {
		ports := map[string]int{
			"daemon.http.docs_port":    c.Daemon.HTTP.DocsPort,
			"daemon.http.webhook_port": c.Daemon.HTTP.WebhookPort,
			"daemon.http.admin_port":   c.Daemon.HTTP.AdminPort,
		}
		seen := map[int]string{}
		for name, p := range ports {
			if p < 1 || p > 65535 {
				problems = append(problems, fmt.Sprintf("%s %d out of range", name, p))
				continue
			}
			if other, dup := seen[p]; dup {
				problems = append(problems, fmt.Sprintf("%s and %s share port %d", name, other, p))
			}
			seen[p] = name
		}
		if cb := c.Daemon.Sync.ConcurrentBuilds; cb < 0 || cb > 1 {
			problems = append(problems, fmt.Sprintf("daemon.sync.concurrent_builds must be 1 (got %d), publish runs share one checkout", cb))
		}
		if c.Daemon.Sync.Schedule != "" && !strings.HasPrefix(c.Daemon.Sync.Schedule, "@every ") {
			problems = append(problems, fmt.Sprintf("daemon.sync.schedule %q must use the form '@every <duration>'", c.Daemon.Sync.Schedule))
		}
		if c.Daemon.Sync.Schedule != "" {
			rem := strings.TrimPrefix(c.Daemon.Sync.Schedule, "@every ")
			if d, err := time.ParseDuration(strings.TrimSpace(rem)); err != nil || d <= 0 {
				problems = append(problems, fmt.Sprintf("daemon.sync.schedule interval %q is not a duration", rem))
			}
		}
		for _, fld := range []struct{ name, val string }{
			{"daemon.sync.debounce_quiet_window", c.Daemon.Sync.DebounceQuietWindow},
			{"daemon.sync.debounce_max_delay", c.Daemon.Sync.DebounceMaxDelay},
		} {
			if fld.val == "" {
				continue
			}
			if d, err := time.ParseDuration(fld.val); err != nil || d <= 0 {
				problems = append(problems, fmt.Sprintf("%s %q is not a positive duration", fld.name, fld.val))
			}
		}
	}

	if c.Notify.NATS.Enabled && strings.TrimSpace(c.Notify.NATS.URL) == "" {
		problems = append(problems, "notify.nats.url is required when notify.nats.enabled is true")
	}

	switch strings.ToLower(c.Monitoring.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("monitoring.logging.level %q unknown", c.Monitoring.Logging.Level))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
	}
	return nil
}
