// Package config defines the docpages configuration model and loading rules.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Version    int              `yaml:"version,omitempty"`
	Source     SourceConfig     `yaml:"source"`
	Publish    PublishConfig    `yaml:"publish"`
	Build      BuildConfig      `yaml:"build"`
	Verify     VerifyConfig     `yaml:"verify"`
	Notify     NotifyConfig     `yaml:"notify"`
	Daemon     *DaemonConfig    `yaml:"daemon,omitempty"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// SourceConfig identifies the documentation repository and its stable branch.
type SourceConfig struct {
	URL    string      `yaml:"url"`
	Branch string      `yaml:"branch,omitempty"` // stable branch, default "main"
	Auth   *AuthConfig `yaml:"auth,omitempty"`
}

// AuthConfig holds git transport credentials. Precedence: SSH key, token, basic.
type AuthConfig struct {
	SSHKeyPath string `yaml:"ssh_key_path,omitempty"`
	Token      string `yaml:"token,omitempty"`
	Username   string `yaml:"username,omitempty"`
	Password   string `yaml:"password,omitempty"`
}

// PublishConfig describes the publishing branch and commit conventions.
type PublishConfig struct {
	Branch        string       `yaml:"branch,omitempty"`     // default "gh-pages"
	OutputDir     string       `yaml:"output_dir,omitempty"` // default "docs/html"
	CommitMessage string       `yaml:"commit_message,omitempty"`
	Author        AuthorConfig `yaml:"author,omitempty"`
	PushRetries   int          `yaml:"push_retries,omitempty"`
}

// AuthorConfig is the commit identity used for publish commits.
type AuthorConfig struct {
	Name  string `yaml:"name,omitempty"`
	Email string `yaml:"email,omitempty"`
}

// BuildConfig controls the external documentation build toolchain.
type BuildConfig struct {
	PythonVersion        string      `yaml:"python_version,omitempty"`
	EnvironmentFile      string      `yaml:"environment_file,omitempty"`
	RequirementsFile     string      `yaml:"requirements_file,omitempty"`
	Command              string      `yaml:"command,omitempty"`
	WorkingDir           string      `yaml:"working_dir,omitempty"`
	Timeout              string      `yaml:"timeout,omitempty"` // duration string, default "20m"
	SkipEnvironmentSetup bool        `yaml:"skip_environment_setup,omitempty"`
	Retry                RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig holds backoff settings for transient failures.
type RetryConfig struct {
	Backoff      RetryBackoffMode `yaml:"backoff,omitempty"`
	InitialDelay string           `yaml:"initial_delay,omitempty"`
	MaxDelay     string           `yaml:"max_delay,omitempty"`
	MaxRetries   int              `yaml:"max_retries,omitempty"`
}

// VerifyConfig controls post-build verification of the rendered output.
type VerifyConfig struct {
	Links LinksConfig `yaml:"links,omitempty"`
}

// LinksConfig controls link verification of built HTML pages.
type LinksConfig struct {
	Enabled         bool     `yaml:"enabled,omitempty"`
	ExternalEnabled bool     `yaml:"external_enabled,omitempty"`
	SkipPrefixes    []string `yaml:"skip_prefixes,omitempty"`
	Timeout         string   `yaml:"timeout,omitempty"` // per external request
}

// NotifyConfig holds outbound notification settings.
type NotifyConfig struct {
	NATS NATSConfig `yaml:"nats,omitempty"`
}

// NATSConfig configures JetStream publishing and the link verification cache.
type NATSConfig struct {
	Enabled        bool   `yaml:"enabled,omitempty"`
	URL            string `yaml:"url,omitempty"`
	SubjectPrefix  string `yaml:"subject_prefix,omitempty"`
	CacheBucket    string `yaml:"cache_bucket,omitempty"`
	CacheTTLOK     string `yaml:"cache_ttl_ok,omitempty"`
	CacheTTLBroken string `yaml:"cache_ttl_broken,omitempty"`
}

// DaemonConfig configures the long-running service mode.
type DaemonConfig struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Sync    SyncConfig    `yaml:"sync"`
	Storage StorageConfig `yaml:"storage"`
}

// HTTPConfig holds ports for the three daemon servers.
type HTTPConfig struct {
	DocsPort      int    `yaml:"docs_port,omitempty"`
	WebhookPort   int    `yaml:"webhook_port,omitempty"`
	AdminPort     int    `yaml:"admin_port,omitempty"`
	WebhookSecret string `yaml:"webhook_secret,omitempty"`
}

// SyncConfig controls scheduling, queueing and debounce behavior.
type SyncConfig struct {
	Schedule            string `yaml:"schedule,omitempty"` // "@every <duration>"
	QueueSize           int    `yaml:"queue_size,omitempty"`
	ConcurrentBuilds    int    `yaml:"concurrent_builds,omitempty"`
	DebounceQuietWindow string `yaml:"debounce_quiet_window,omitempty"`
	DebounceMaxDelay    string `yaml:"debounce_max_delay,omitempty"`
}

// StorageConfig holds daemon data locations.
type StorageConfig struct {
	DataDir             string `yaml:"data_dir,omitempty"`
	WorkspaceDir        string `yaml:"workspace_dir,omitempty"`
	PersistentWorkspace bool   `yaml:"persistent_workspace,omitempty"`
}

// MonitoringConfig configures metrics, health and logging.
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	Health  HealthConfig  `yaml:"health,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug|info|warn|error
	Format string `yaml:"format,omitempty"` // text|json
}

// Load reads, env-expands, unmarshals, defaults and validates the config file.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} references before unmarshal so secrets stay out of the file.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseDurationDefault parses s as a duration, returning fallback for empty or invalid values.
func ParseDurationDefault(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
