// Package config provides configuration loading, defaults, and validation for
// syncbridge.
package config

import "time"

// Default value constants.
const (
	DefaultServerPort = 8080
	DefaultServerMode = "release"

	DefaultCacheTTL             = 24 * time.Hour
	DefaultSweepInterval        = 10 * time.Minute
	DefaultMinInterRequestDelay = 500 * time.Millisecond
	DefaultQueueMaxRetries      = 5
	DefaultBaseBackoff          = time.Second
	DefaultMaxBackoff           = time.Minute

	DefaultInitialConcurrency = 5
	DefaultFloorConcurrency   = 1
	DefaultCeilingConcurrency = 10
	DefaultSyncMaxRetries     = 3
	DefaultSyncRetryDelay     = 5 * time.Second

	DefaultKafkaBroker  = "localhost:9092"
	DefaultKafkaGroupID = "syncbridge"
	DefaultKafkaTopic   = "sync.events"

	DefaultDeliveryTimeout = 30 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsNamespace = "syncbridge"
)

// ApplyDefaults fills every zero-value field in cfg with the service default.
// Fields already set by the caller are left unchanged so that explicit
// configuration always wins.  It must be called after unmarshalling and before
// Validate() so that optional-but-defaulted fields are never seen as missing.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	// ── Queue ─────────────────────────────────────────────────────────────────
	if cfg.Queue.CacheTTL == 0 {
		cfg.Queue.CacheTTL = DefaultCacheTTL
	}
	if cfg.Queue.SweepInterval == 0 {
		cfg.Queue.SweepInterval = DefaultSweepInterval
	}
	if cfg.Queue.MinInterRequestDelay == 0 {
		cfg.Queue.MinInterRequestDelay = DefaultMinInterRequestDelay
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = DefaultQueueMaxRetries
	}
	if cfg.Queue.BaseBackoff == 0 {
		cfg.Queue.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.Queue.MaxBackoff == 0 {
		cfg.Queue.MaxBackoff = DefaultMaxBackoff
	}

	// ── Sync ──────────────────────────────────────────────────────────────────
	if cfg.Sync.InitialConcurrency == 0 {
		cfg.Sync.InitialConcurrency = DefaultInitialConcurrency
	}
	if cfg.Sync.FloorConcurrency == 0 {
		cfg.Sync.FloorConcurrency = DefaultFloorConcurrency
	}
	if cfg.Sync.CeilingConcurrency == 0 {
		cfg.Sync.CeilingConcurrency = DefaultCeilingConcurrency
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = DefaultSyncMaxRetries
	}
	if cfg.Sync.RetryDelay == 0 {
		cfg.Sync.RetryDelay = DefaultSyncRetryDelay
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if len(cfg.Kafka.Topics) == 0 {
		cfg.Kafka.Topics = []string{DefaultKafkaTopic}
	}
	if cfg.Kafka.MinBytes == 0 {
		cfg.Kafka.MinBytes = 1
	}
	if cfg.Kafka.MaxBytes == 0 {
		cfg.Kafka.MaxBytes = 10 * 1024 * 1024
	}
	if cfg.Kafka.CommitInterval == 0 {
		cfg.Kafka.CommitInterval = time.Second
	}

	// ── Delivery ──────────────────────────────────────────────────────────────
	if cfg.Delivery.Timeout == 0 {
		cfg.Delivery.Timeout = DefaultDeliveryTimeout
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
}
