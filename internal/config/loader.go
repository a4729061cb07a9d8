package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all service settings.
const envPrefix = "SYNCBRIDGE"

// newViper builds a pre-configured Viper instance with the service's standard
// settings: YAML file type, SYNCBRIDGE_ env prefix, automatic env binding, and
// a key replacer that maps "." → "_" so that nested keys like "queue.cache_ttl"
// resolve to "SYNCBRIDGE_QUEUE_CACHE_TTL".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	registerKeys(v)
	return v
}

// registerKeys declares every configuration key to viper.  Without this,
// AutomaticEnv only resolves keys that already exist in the config file, so a
// pure-environment deployment (LoadFromEnv) would silently drop overrides.
// The zero defaults registered here are replaced by ApplyDefaults afterwards.
func registerKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.port", "server.mode", "server.read_timeout", "server.write_timeout",
		"server.shutdown_timeout",
		"queue.cache_ttl", "queue.sweep_interval", "queue.min_inter_request_delay",
		"queue.max_retries", "queue.base_backoff", "queue.max_backoff",
		"sync.initial_concurrency", "sync.floor_concurrency", "sync.ceiling_concurrency",
		"sync.max_retries", "sync.retry_delay",
		"kafka.enabled", "kafka.brokers", "kafka.group_id", "kafka.topics",
		"kafka.min_bytes", "kafka.max_bytes", "kafka.commit_interval",
		"delivery.event_endpoint", "delivery.sync_endpoint", "delivery.timeout",
		"log.level", "log.format", "log.output_paths",
		"metrics.enabled", "metrics.namespace",
	} {
		v.SetDefault(key, nil)
	}
}

// Load reads the YAML file at configPath, merges any SYNCBRIDGE_* environment
// variable overrides, applies defaults for unset fields, and validates the
// result.  It returns a fully-populated *Config or a descriptive error.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from SYNCBRIDGE_* environment
// variables, with no config file required.  This is the preferred loading
// strategy for containerised deployments.
func LoadFromEnv() (*Config, error) {
	v := newViper()
	return unmarshalAndFinalize(v)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch monitors configPath for changes and invokes onChange with the newly
// parsed Config whenever the file is modified on disk.  It is intended for
// hot-reloading non-critical settings such as the log level; callers are
// responsible for applying only the safe subset of changes at runtime.
// If the changed file fails to parse or validate, onChange is not called.
func Watch(configPath string, onChange func(*Config)) {
	v := newViper()
	v.SetConfigFile(configPath)
	_ = v.ReadInConfig()

	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
}

// MustLoad is a convenience wrapper around Load that panics on any error.
// It is intended for use in main() where a config-load failure is always fatal.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
