package config

// Defaults mirror the original publishing workflow: stable branch "main",
// publishing branch "gh-pages", Sphinx output under docs/html.
const (
	DefaultStableBranch     = "main"
	DefaultPublishBranch    = "gh-pages"
	DefaultOutputDir        = "docs/html"
	DefaultCommitMessage    = "docs build for {sha}"
	DefaultPythonVersion    = "3.9"
	DefaultEnvironmentFile  = "environment.yml"
	DefaultRequirementsFile = "docs/requirements.txt"
	DefaultBuildCommand     = "make -C docs html"
	DefaultBuildTimeout     = "20m"

	DefaultDocsPort    = 8080
	DefaultWebhookPort = 8081
	DefaultAdminPort   = 8082

	DefaultQueueSize           = 100
	DefaultConcurrentBuilds    = 1
	DefaultDebounceQuietWindow = "10s"
	DefaultDebounceMaxDelay    = "2m"
	DefaultDataDir             = "./docpages-data"

	DefaultNATSSubjectPrefix = "docpages"
	DefaultNATSCacheBucket   = "docpages-links"
	DefaultCacheTTLOK        = "24h"
	DefaultCacheTTLBroken    = "1h"

	DefaultMetricsPath = "/metrics"
	DefaultHealthPath  = "/health"
)

// ApplyDefaults fills zero values after unmarshal. Idempotent.
func (c *Config) ApplyDefaults() {
	if c.Source.Branch == "" {
		c.Source.Branch = DefaultStableBranch
	}

	if c.Publish.Branch == "" {
		c.Publish.Branch = DefaultPublishBranch
	}
	if c.Publish.OutputDir == "" {
		c.Publish.OutputDir = DefaultOutputDir
	}
	if c.Publish.CommitMessage == "" {
		c.Publish.CommitMessage = DefaultCommitMessage
	}
	if c.Publish.Author.Name == "" {
		c.Publish.Author.Name = "docpages"
	}
	if c.Publish.Author.Email == "" {
		c.Publish.Author.Email = "docpages@localhost"
	}
	if c.Publish.PushRetries < 0 {
		c.Publish.PushRetries = 0
	}

	if c.Build.PythonVersion == "" {
		c.Build.PythonVersion = DefaultPythonVersion
	}
	if c.Build.EnvironmentFile == "" {
		c.Build.EnvironmentFile = DefaultEnvironmentFile
	}
	if c.Build.RequirementsFile == "" {
		c.Build.RequirementsFile = DefaultRequirementsFile
	}
	if c.Build.Command == "" {
		c.Build.Command = DefaultBuildCommand
	}
	if c.Build.Timeout == "" {
		c.Build.Timeout = DefaultBuildTimeout
	}
	if c.Build.Retry.Backoff == "" {
		c.Build.Retry.Backoff = RetryBackoffLinear
	}

	if c.Daemon != nil {
		if c.Daemon.HTTP.DocsPort == 0 {
			c.Daemon.HTTP.DocsPort = DefaultDocsPort
		}
		if c.Daemon.HTTP.WebhookPort == 0 {
			c.Daemon.HTTP.WebhookPort = DefaultWebhookPort
		}
		if c.Daemon.HTTP.AdminPort == 0 {
			c.Daemon.HTTP.AdminPort = DefaultAdminPort
		}
		if c.Daemon.Sync.QueueSize == 0 {
			c.Daemon.Sync.QueueSize = DefaultQueueSize
		}
		if c.Daemon.Sync.ConcurrentBuilds == 0 {
			c.Daemon.Sync.ConcurrentBuilds = DefaultConcurrentBuilds
		}
		if c.Daemon.Sync.DebounceQuietWindow == "" {
			c.Daemon.Sync.DebounceQuietWindow = DefaultDebounceQuietWindow
		}
		if c.Daemon.Sync.DebounceMaxDelay == "" {
			c.Daemon.Sync.DebounceMaxDelay = DefaultDebounceMaxDelay
		}
		if c.Daemon.Storage.DataDir == "" {
			c.Daemon.Storage.DataDir = DefaultDataDir
		}
	}

	if c.Notify.NATS.Enabled {
		if c.Notify.NATS.SubjectPrefix == "" {
			c.Notify.NATS.SubjectPrefix = DefaultNATSSubjectPrefix
		}
		if c.Notify.NATS.CacheBucket == "" {
			c.Notify.NATS.CacheBucket = DefaultNATSCacheBucket
		}
		if c.Notify.NATS.CacheTTLOK == "" {
			c.Notify.NATS.CacheTTLOK = DefaultCacheTTLOK
		}
		if c.Notify.NATS.CacheTTLBroken == "" {
			c.Notify.NATS.CacheTTLBroken = DefaultCacheTTLBroken
		}
	}

	if c.Monitoring.Metrics.Path == "" {
		c.Monitoring.Metrics.Path = DefaultMetricsPath
	}
	if c.Monitoring.Health.Path == "" {
		c.Monitoring.Health.Path = DefaultHealthPath
	}
	if c.Monitoring.Logging.Level == "" {
		c.Monitoring.Logging.Level = "info"
	}
	if c.Monitoring.Logging.Format == "" {
		c.Monitoring.Logging.Format = "text"
	}
}
