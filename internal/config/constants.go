// Package config also centralizes the monitor's magic numbers, mirroring
// the reference deployment's constants module so thresholds live in one
// place instead of scattered through the workers that use them.
package config

import "time"

// Scheduler and probe defaults.
const (
	DefaultPingIntervalSeconds = 5
	DefaultPingTimeoutSeconds  = 5
)

// Fan-out broker-consumer defaults.
const (
	// DefaultFanoutWorkers is the number of concurrent goroutines draining
	// monitoring.ping.
	DefaultFanoutWorkers = 3

	// FanoutPollInterval is how often an idle fan-out worker re-checks the
	// ping queue when the last pop came back empty.
	FanoutPollInterval = 500 * time.Millisecond

	// FanoutPopBatch bounds how many ping requests a single worker drains
	// from the queue per poll.
	FanoutPopBatch = 4
)

// Detector defaults.
const (
	DefaultConsecutiveFailuresThreshold = 3
	DefaultRecoveryCheckThreshold       = 3
)

// Recovery defaults.
const (
	DefaultRestartTimeout = 30 * time.Second
)

// Metrics defaults.
const (
	// DefaultWindowHours is used by read-API endpoints that accept an
	// optional window_hours query parameter.
	DefaultWindowHours = 24.0

	// ExperimentWindowHours is the default window for the ASR-03
	// compliance projection endpoint.
	ExperimentWindowHours = 1.0

	// ASR03MaxMonthlyDowntimeMinutes is the ASR-03 monthly downtime
	// budget: at most 21.6 minutes of downtime per 30-day month (0.05% of
	// its 43,200 minutes).
	ASR03MaxMonthlyDowntimeMinutes = 21.6

	// RecentHealthCheckSampleSize bounds how many of the most recent
	// checks the metrics engine reads per service for success-rate and
	// latency averages.
	RecentHealthCheckSampleSize = 500

	// RecentIncidentSampleSize is not referenced by the metrics engine,
	// which reads every incident in the window via IncidentsInWindow
	// without a bound.
	RecentIncidentSampleSize = 100
)

// Read-API defaults.
const (
	DefaultCacheTTL      = 5 * time.Second
	DefaultListLimit     = 50
	MaxListLimit         = 500
	HTTPReadTimeout      = 15 * time.Second
	HTTPWriteTimeout     = 15 * time.Second
	HTTPIdleTimeout      = 120 * time.Second
	ShutdownGracePeriod  = 10 * time.Second
)

// Store defaults.
const (
	StoreWriteRetries  = 3
	StoreRetryBackoff  = 50 * time.Millisecond
)
