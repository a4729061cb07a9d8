package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultServerMode, cfg.Server.Mode)

	assert.Equal(t, DefaultCacheTTL, cfg.Queue.CacheTTL)
	assert.Equal(t, DefaultSweepInterval, cfg.Queue.SweepInterval)
	assert.Equal(t, DefaultMinInterRequestDelay, cfg.Queue.MinInterRequestDelay)
	assert.Equal(t, DefaultQueueMaxRetries, cfg.Queue.MaxRetries)
	assert.Equal(t, DefaultBaseBackoff, cfg.Queue.BaseBackoff)
	assert.Equal(t, DefaultMaxBackoff, cfg.Queue.MaxBackoff)

	assert.Equal(t, DefaultInitialConcurrency, cfg.Sync.InitialConcurrency)
	assert.Equal(t, DefaultFloorConcurrency, cfg.Sync.FloorConcurrency)
	assert.Equal(t, DefaultCeilingConcurrency, cfg.Sync.CeilingConcurrency)
	assert.Equal(t, DefaultSyncMaxRetries, cfg.Sync.MaxRetries)
	assert.Equal(t, DefaultSyncRetryDelay, cfg.Sync.RetryDelay)

	assert.Equal(t, []string{DefaultKafkaBroker}, cfg.Kafka.Brokers)
	assert.Equal(t, DefaultKafkaGroupID, cfg.Kafka.GroupID)
	assert.Equal(t, []string{DefaultKafkaTopic}, cfg.Kafka.Topics)

	assert.Equal(t, DefaultDeliveryTimeout, cfg.Delivery.Timeout)

	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
	assert.Equal(t, DefaultMetricsNamespace, cfg.Metrics.Namespace)
}

func TestApplyDefaults_ExplicitValuesWin(t *testing.T) {
	cfg := &Config{}
	cfg.Queue.CacheTTL = 2 * time.Hour
	cfg.Sync.InitialConcurrency = 3
	cfg.Log.Level = "debug"

	ApplyDefaults(cfg)

	assert.Equal(t, 2*time.Hour, cfg.Queue.CacheTTL)
	assert.Equal(t, 3, cfg.Sync.InitialConcurrency)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyDefaults_NilIsSafe(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}
