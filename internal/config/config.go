// Package config loads monitor configuration from a YAML file layered
// with environment-variable overrides, the same precedence order the
// rest of this codebase's configuration follows: defaults, then file,
// then environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete monitor configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Broker   BrokerConfig   `yaml:"broker"`
	Cache    CacheConfig    `yaml:"cache"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Recovery RecoveryConfig `yaml:"recovery"`
	API      APIConfig      `yaml:"api"`
}

// StoreConfig points at the persistent store.
type StoreConfig struct {
	URL string `yaml:"url"`
}

// BrokerConfig points at the Redis-backed broker. Empty URL disables the
// broker fan-out leg; only the direct work-peer probe still runs.
type BrokerConfig struct {
	URL string `yaml:"url,omitempty"`
}

// CacheConfig points at the optional Redis-backed read-API response
// cache. Empty URL serves every request uncached.
type CacheConfig struct {
	URL string        `yaml:"url,omitempty"`
	TTL time.Duration `yaml:"ttl,omitempty"`
}

// MonitorConfig carries the scheduler/detector thresholds named in the
// environment variable list.
type MonitorConfig struct {
	PingIntervalSeconds       int               `yaml:"ping_interval_seconds"`
	PingTimeoutSeconds        int               `yaml:"ping_timeout_seconds"`
	ConsecutiveFailuresThresh int               `yaml:"consecutive_failures_threshold"`
	RecoveryCheckThreshold    int               `yaml:"recovery_check_threshold"`
	WorkPeer                  string            `yaml:"work_peer"`
	MonitoredServices         map[string]string `yaml:"monitored_services"`
	BrokerHealthTag           string            `yaml:"broker_health_tag,omitempty"`
	FanoutWorkers             int               `yaml:"fanout_workers,omitempty"`
}

// RecoveryConfig carries the protection set and the recovery policy flag.
type RecoveryConfig struct {
	AutoRecoveryEnabled bool              `yaml:"auto_recovery_enabled"`
	ProtectionSet       []string          `yaml:"protection_set"`
	ServiceContainers   map[string]string `yaml:"service_containers"`
	RestartTimeout      time.Duration     `yaml:"restart_timeout,omitempty"`
}

// APIConfig carries the read-API's bind address.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a config matching the reference deployment's
// defaults: a five-second ping interval, a three-strike detector, and
// Redis infrastructure exempt from automatic restart.
func DefaultConfig() *Config {
	return &Config{
		Monitor: MonitorConfig{
			PingIntervalSeconds:       DefaultPingIntervalSeconds,
			PingTimeoutSeconds:        DefaultPingTimeoutSeconds,
			ConsecutiveFailuresThresh: DefaultConsecutiveFailuresThreshold,
			RecoveryCheckThreshold:    DefaultRecoveryCheckThreshold,
			WorkPeer:                  "worker",
			BrokerHealthTag:           "broker",
			FanoutWorkers:             DefaultFanoutWorkers,
			MonitoredServices: map[string]string{
				"api-gateway": "http://api-gateway:5000/health",
				"reserves":    "http://reserves-service:5001/health",
				"payments":    "http://payments-service:5002/health",
				"search":      "http://search-service:5003/health",
				"worker":      "http://celery-worker:5005/health",
			},
		},
		Recovery: RecoveryConfig{
			AutoRecoveryEnabled: true,
			ProtectionSet:       []string{"redis", "broker"},
			ServiceContainers: map[string]string{
				"api-gateway": "api-gateway",
				"reserves":    "reserves-service",
				"payments":    "payments-service",
				"search":      "search-service",
				"worker":      "celery-worker",
				"redis":       "redis",
			},
			RestartTimeout: DefaultRestartTimeout,
		},
		Cache: CacheConfig{
			TTL: DefaultCacheTTL,
		},
		API: APIConfig{
			Addr: ":8090",
		},
	}
}

// LoadFromFile loads configuration from a YAML file layered over the
// defaults. An empty path skips the file and returns the defaults; a
// non-empty path that cannot be read is an error.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies the environment variables named in the
// external-interfaces contract, each overriding the YAML value if set.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MONITOR_PING_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitor.PingIntervalSeconds = n
		}
	}
	if v := os.Getenv("PING_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitor.PingTimeoutSeconds = n
		}
	}
	if v := os.Getenv("CONSECUTIVE_FAILURES_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitor.ConsecutiveFailuresThresh = n
		}
	}
	if v := os.Getenv("RECOVERY_CHECK_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitor.RecoveryCheckThreshold = n
		}
	}
	if v := os.Getenv("BROKER_URL"); v != "" {
		c.Broker.URL = v
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		c.Store.URL = v
	}
	if v := os.Getenv("AUTO_RECOVERY_ENABLED"); v != "" {
		c.Recovery.AutoRecoveryEnabled = v == "true" || v == "1"
	}
}

// Validate fails fast on configuration that would otherwise surface as a
// confusing runtime error deep inside the scheduler or detector.
func (c *Config) Validate() error {
	if c.Store.URL == "" {
		return fmt.Errorf("store.url (STORE_PATH) is required")
	}
	if c.Monitor.PingIntervalSeconds <= 0 {
		return fmt.Errorf("monitor.ping_interval_seconds must be positive")
	}
	if c.Monitor.PingTimeoutSeconds <= 0 {
		return fmt.Errorf("monitor.ping_timeout_seconds must be positive")
	}
	if c.Monitor.ConsecutiveFailuresThresh <= 0 {
		return fmt.Errorf("monitor.consecutive_failures_threshold must be positive")
	}
	if c.Monitor.RecoveryCheckThreshold <= 0 {
		return fmt.Errorf("monitor.recovery_check_threshold must be positive")
	}
	if c.Monitor.WorkPeer == "" {
		return fmt.Errorf("monitor.work_peer is required")
	}
	if _, ok := c.Monitor.MonitoredServices[c.Monitor.WorkPeer]; !ok {
		return fmt.Errorf("monitor.work_peer %q has no entry in monitored_services", c.Monitor.WorkPeer)
	}
	if c.Monitor.FanoutWorkers <= 0 {
		c.Monitor.FanoutWorkers = DefaultFanoutWorkers
	}
	return nil
}

// PingInterval is the scheduler tick period.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Monitor.PingIntervalSeconds) * time.Second
}

// PingTimeout is the hard per-probe deadline.
func (c *Config) PingTimeout() time.Duration {
	return time.Duration(c.Monitor.PingTimeoutSeconds) * time.Second
}
