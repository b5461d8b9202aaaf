// Package notify publishes publish lifecycle events to NATS JetStream so
// other systems can react to documentation updates.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/docpages/internal/config"
	"git.home.luguber.info/inful/docpages/internal/logfields"
)

// BuildNotification is the payload published for lifecycle events.
type BuildNotification struct {
	JobID         string    `json:"job_id"`
	Trigger       string    `json:"trigger"`
	Outcome       string    `json:"outcome,omitempty"`
	StableCommit  string    `json:"stable_commit,omitempty"`
	PublishCommit string    `json:"publish_commit,omitempty"`
	PagesBuilt    int       `json:"pages_built,omitempty"`
	BrokenLinks   int       `json:"broken_links,omitempty"`
	Pushed        bool      `json:"pushed,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Notifier publishes build lifecycle notifications. A nil Notifier is valid
// and drops everything, so callers never need to branch on whether NATS is
// configured.
type Notifier struct {
	conn          *nats.Conn
	js            jetstream.JetStream
	subjectPrefix string
}

// NewNotifier connects to NATS. Returns an error when cfg.Enabled is false.
func NewNotifier(cfg config.NATSConfig) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("nats is disabled")
	}

	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	slog.Info("NATS notifier initialized",
		slog.String("url", cfg.URL),
		slog.String("subject_prefix", cfg.SubjectPrefix))

	return &Notifier{
		conn:          conn,
		js:            js,
		subjectPrefix: cfg.SubjectPrefix,
	}, nil
}

// BuildStarted publishes to <prefix>.builds.started.
func (n *Notifier) BuildStarted(notification BuildNotification) {
	n.publish("builds.started", notification)
}

// BuildCompleted publishes to <prefix>.builds.completed.
func (n *Notifier) BuildCompleted(notification BuildNotification) {
	n.publish("builds.completed", notification)
}

// BuildFailed publishes to <prefix>.builds.failed.
func (n *Notifier) BuildFailed(notification BuildNotification) {
	n.publish("builds.failed", notification)
}

// publish marshals and publishes one notification. Failures are logged, not
// returned; notifications are best effort and never fail a build.
func (n *Notifier) publish(suffix string, notification BuildNotification) {
	if n == nil {
		return
	}

	notification.Timestamp = time.Now()
	subject := n.subjectPrefix + "." + suffix

	data, err := json.Marshal(notification)
	if err != nil {
		slog.Warn("Failed to marshal build notification", logfields.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := n.js.Publish(ctx, subject, data); err != nil {
		slog.Warn("Failed to publish build notification",
			slog.String("subject", subject), logfields.Error(err))
	}
}

// Close closes the NATS connection. Safe on nil.
func (n *Notifier) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	n.conn.Close()
	return nil
}
