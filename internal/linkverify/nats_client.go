package linkverify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/docpages/internal/config"
)

// NATSClient manages the JetStream connection used for the external link
// cache and broken link events.
type NATSClient struct {
	conn      *nats.Conn
	js        jetstream.JetStream
	kv        jetstream.KeyValue
	subject   string
	ttlOK     time.Duration
	ttlBroken time.Duration
}

// NewNATSClient connects to NATS and prepares the link cache bucket.
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
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

	client := &NATSClient{
		conn:      conn,
		js:        js,
		subject:   cfg.SubjectPrefix + ".links.broken",
		ttlOK:     config.ParseDurationDefault(cfg.CacheTTLOK, 24*time.Hour),
		ttlBroken: config.ParseDurationDefault(cfg.CacheTTLBroken, time.Hour),
	}

	if err := client.initKVBucket(cfg.CacheBucket); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize kv bucket: %w", err)
	}

	slog.Info("NATS client initialized for link verification",
		slog.String("url", cfg.URL),
		slog.String("subject", client.subject),
		slog.String("kv_bucket", cfg.CacheBucket))

	return client, nil
}

// initKVBucket creates or gets the KV bucket for the link cache.
func (c *NATSClient) initKVBucket(bucket string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := c.js.KeyValue(ctx, bucket)
	if err == nil {
		c.kv = kv
		return nil
	}

	kv, err = c.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Link verification cache for docpages",
		MaxBytes:    100 * 1024 * 1024,
		History:     1,
	})
	if err != nil {
		return fmt.Errorf("create kv bucket: %w", err)
	}
	c.kv = kv
	return nil
}

// PublishBrokenLink publishes a broken link event.
func (c *NATSClient) PublishBrokenLink(event *BrokenLinkEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := c.js.Publish(ctx, c.subject, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// CacheEntry represents a cached link verification result.
type CacheEntry struct {
	URL           string    `json:"url"`
	Status        int       `json:"status"`
	IsValid       bool      `json:"is_valid"`
	Error         string    `json:"error,omitempty"`
	LastChecked   time.Time `json:"last_checked"`
	FailureCount  int       `json:"failure_count"`
	FirstFailedAt time.Time `json:"first_failed_at,omitzero"`
}

// GetCachedResult retrieves a cached result, or nil when absent.
func (c *NATSClient) GetCachedResult(url string) (*CacheEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	entry, err := c.kv.Get(ctx, url)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}

	var cached CacheEntry
	if err := json.Unmarshal(entry.Value(), &cached); err != nil {
		return nil, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return &cached, nil
}

// SetCachedResult stores a verification result in the cache.
func (c *NATSClient) SetCachedResult(entry *CacheEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	entry.LastChecked = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	// NATS KV has no per-key TTL; freshness is checked on read.
	if _, err := c.kv.Put(ctx, entry.URL, data); err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// IsCacheValid checks if a cache entry is still fresh. Broken results expire
// faster so recovered links get re-checked sooner.
func (c *NATSClient) IsCacheValid(entry *CacheEntry) bool {
	if entry == nil {
		return false
	}
	ttl := c.ttlOK
	if !entry.IsValid {
		ttl = c.ttlBroken
	}
	return time.Since(entry.LastChecked) < ttl
}

// Close closes the NATS connection.
func (c *NATSClient) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}
