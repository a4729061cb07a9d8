// Package config defines all configuration structures for syncbridge.
// No I/O or parsing logic lives here — only plain data types and validation.
package config

import (
	"fmt"
	"time"
)

// ServerConfig holds tunables for the operational HTTP surface.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// QueueConfig holds the event-pipeline tunables: idempotency-cache lifetime,
// pacing of the sequential consumer, and the retry envelope.
type QueueConfig struct {
	// CacheTTL is the age after which an idempotency entry is treated as
	// absent, allowing the same identity to be processed again.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// SweepInterval is the period of the background eviction sweep.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// MinInterRequestDelay is the fixed pause between consecutive events,
	// applied even when no throttling signal was observed.
	MinInterRequestDelay time.Duration `mapstructure:"min_inter_request_delay"`

	// MaxRetries bounds recoverable re-attempts per event.
	MaxRetries int `mapstructure:"max_retries"`

	// BaseBackoff and MaxBackoff parameterize the exponential retry delay.
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// SyncConfig holds the adaptive batch-synchronizer tunables.
type SyncConfig struct {
	InitialConcurrency int `mapstructure:"initial_concurrency"`
	FloorConcurrency   int `mapstructure:"floor_concurrency"`
	CeilingConcurrency int `mapstructure:"ceiling_concurrency"`

	// MaxRetries bounds the additional passes re-driving recoverable failures.
	MaxRetries int `mapstructure:"max_retries"`

	// RetryDelay is the base wait between retry passes.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// KafkaConfig holds the inbound event-ingest parameters.
type KafkaConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	Topics         []string      `mapstructure:"topics"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
}

// DeliveryConfig points at the downstream service events are forwarded to
// and keys are reconciled against.
type DeliveryConfig struct {
	// EventEndpoint receives forwarded event payloads (POST).
	EventEndpoint string `mapstructure:"event_endpoint"`

	// SyncEndpoint resolves batch-sync keys (POST per key).
	SyncEndpoint string `mapstructure:"sync_endpoint"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level       string   `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format      string   `mapstructure:"format"` // "json" | "console"
	OutputPaths []string `mapstructure:"output_paths"`
}

// MetricsConfig holds Prometheus exposition parameters.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Config is the root configuration structure for the whole service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered; callers should treat any error as
// fatal and refuse to start the service.
func (c *Config) Validate() error {
	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	// Queue
	if c.Queue.CacheTTL <= 0 {
		return fmt.Errorf("config: queue.cache_ttl must be positive, got %s", c.Queue.CacheTTL)
	}
	if c.Queue.SweepInterval <= 0 {
		return fmt.Errorf("config: queue.sweep_interval must be positive, got %s", c.Queue.SweepInterval)
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("config: queue.max_retries must be ≥ 0, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.BaseBackoff <= 0 {
		return fmt.Errorf("config: queue.base_backoff must be positive, got %s", c.Queue.BaseBackoff)
	}
	if c.Queue.MaxBackoff < c.Queue.BaseBackoff {
		return fmt.Errorf("config: queue.max_backoff %s must be ≥ queue.base_backoff %s",
			c.Queue.MaxBackoff, c.Queue.BaseBackoff)
	}

	// Sync — the concurrency window invariant floor ≤ initial ≤ ceiling.
	if c.Sync.FloorConcurrency < 1 {
		return fmt.Errorf("config: sync.floor_concurrency must be ≥ 1, got %d", c.Sync.FloorConcurrency)
	}
	if c.Sync.InitialConcurrency < c.Sync.FloorConcurrency {
		return fmt.Errorf("config: sync.initial_concurrency %d must be ≥ sync.floor_concurrency %d",
			c.Sync.InitialConcurrency, c.Sync.FloorConcurrency)
	}
	if c.Sync.CeilingConcurrency < c.Sync.InitialConcurrency {
		return fmt.Errorf("config: sync.ceiling_concurrency %d must be ≥ sync.initial_concurrency %d",
			c.Sync.CeilingConcurrency, c.Sync.InitialConcurrency)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("config: sync.max_retries must be ≥ 0, got %d", c.Sync.MaxRetries)
	}

	// Kafka — only validated when the ingest adapter is enabled.
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required")
		}
		if len(c.Kafka.Topics) == 0 {
			return fmt.Errorf("config: kafka.topics must contain at least one topic")
		}
	}

	// Delivery
	if c.Delivery.Timeout <= 0 {
		return fmt.Errorf("config: delivery.timeout must be positive, got %s", c.Delivery.Timeout)
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}
