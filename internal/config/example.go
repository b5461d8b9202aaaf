package config

import (
	"fmt"
	"os"
)

const exampleConfig = `# docpages configuration
version: 1

source:
  url: https://github.com/example/project.git
  branch: stable
  # auth:
  #   token: ${GIT_TOKEN}
  #   ssh_key_path: /home/docpages/.ssh/id_ed25519

publish:
  branch: gh-pages
  output_dir: docs/html
  # Placeholders: {sha}, {short_sha}, {branch}
  commit_message: "docs build for {sha}"
  author:
    name: docpages
    email: docpages@example.com
  push_retries: 2

build:
  python_version: "3.9"
  environment_file: environment.yml
  requirements_file: docs/requirements.txt
  command: make -C docs html
  timeout: 20m
  retry:
    backoff: linear
    initial_delay: 1s
    max_delay: 30s
    max_retries: 2

verify:
  links:
    enabled: true
    external_enabled: false
    skip_prefixes:
      - https://example.com/private/

notify:
  nats:
    enabled: false
    url: nats://localhost:4222
    subject_prefix: docpages

daemon:
  http:
    docs_port: 8080
    webhook_port: 8081
    admin_port: 8082
    # webhook_secret: ${WEBHOOK_SECRET}
  sync:
    schedule: "@every 6h"
    queue_size: 100
    concurrent_builds: 1
    debounce_quiet_window: 10s
    debounce_max_delay: 2m
  storage:
    data_dir: ./docpages-data
    persistent_workspace: true

monitoring:
  metrics:
    enabled: true
    path: /metrics
  health:
    enabled: true
    path: /health
  logging:
    level: info
    format: text
`

// WriteExample writes a commented example configuration file.
func WriteExample(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0o600); err != nil {
		return fmt.Errorf("write example config: %w", err)
	}
	return nil
}
