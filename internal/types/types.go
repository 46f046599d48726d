// Package types defines the domain model shared across the monitor's
// components: the probe engine, the incident detector, the recovery
// orchestrator, the metrics engine, and the store.
//
// Design principles:
//  1. Types mirror the persisted rows directly, no ORM layer in between.
//  2. Everything is JSON-serializable for the read API.
//  3. HealthCheck rows are immutable after insertion; Incident rows are
//     mutated only by the detector, only on close.
package types

import "time"

// Status classifies the outcome of a single probe attempt.
type Status string

const (
	StatusUp        Status = "UP"
	StatusDown      Status = "DOWN"
	StatusTimeout   Status = "TIMEOUT"
	StatusDegraded  Status = "DEGRADED"
	StatusUnhealthy Status = "UNHEALTHY"
)

// IsFailure reports whether this status counts toward a failure streak.
// DEGRADED is deliberately excluded: a non-2xx response still proves the
// service is alive and routing requests.
func (s Status) IsFailure() bool {
	switch s {
	case StatusDown, StatusTimeout, StatusUnhealthy:
		return true
	default:
		return false
	}
}

// HealthCheck is one probe attempt against one service.
//
// Rows are append-only: the Store never updates or deletes a HealthCheck.
// Within a single service, ID order reflects probe send order and is the
// only ordering the detector may rely on — Timestamp is informational.
type HealthCheck struct {
	ID           int64     `json:"id"`
	Service      string    `json:"service"`
	RequestID    string    `json:"request_id"`
	Status       Status    `json:"status"`
	LatencyMs    *float64  `json:"latency_ms,omitempty"`
	HTTPCode     *int      `json:"http_code,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	IsTimeout    bool      `json:"is_timeout"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// IsFailure reports whether this check counts as a streak failure.
func (c HealthCheck) IsFailure() bool {
	return c.Status.IsFailure()
}

// Severity classifies how serious an open incident is.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Incident is one outage episode for one service.
//
// At most one incident per service may have a nil ResolvedAt at a time.
// DetectedAt and ResolvedAt are set exactly once each, by the detector.
type Incident struct {
	ID                  int64      `json:"id"`
	Service             string     `json:"service"`
	StartedAt           time.Time  `json:"started_at"`
	DetectedAt          time.Time  `json:"detected_at"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
	Severity            Severity   `json:"severity"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	ResolutionAction    string     `json:"resolution_action,omitempty"`
	MTTDSeconds         float64    `json:"mttd_seconds"`
	MTTRSeconds         *float64   `json:"mttr_seconds,omitempty"`

	// DetectedCheckID is the id of the newest health check folded into the
	// streak that triggered detection. The closing check in §4.C only
	// counts health checks observed strictly after this one — a pre-
	// incident UP must never count toward the N_ok confirmation window.
	DetectedCheckID int64 `json:"-"`
}

// IsActive reports whether the incident is still open.
func (i Incident) IsActive() bool {
	return i.ResolvedAt == nil
}

// OperationStatus tracks the lifecycle of a business operation record.
// Operations are an external concern: the monitor only needs the table to
// exist so the Store's schema matches a full deployment; no component in
// this repository reads or writes operation rows beyond the migration and
// the Store's CRUD surface.
type OperationStatus string

const (
	OperationPending    OperationStatus = "PENDING"
	OperationProcessing OperationStatus = "PROCESSING"
	OperationProcessed  OperationStatus = "PROCESSED"
	OperationFailed     OperationStatus = "FAILED"
)

// Operation is a business-operation record bounding the Store schema.
type Operation struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   []byte          `json:"payload"`
	Status    OperationStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PingResult is one service's outcome within a broker Echo batch, as
// carried over the wire in the monitoring.echo payload.
type PingResult struct {
	Service   string   `json:"service"`
	Status    Status   `json:"status"`
	LatencyMs *float64 `json:"latency_ms,omitempty"`
	HTTPCode  *int     `json:"http_code,omitempty"`
	IsFailure bool     `json:"is_failure"`
}

// PingRequest is the monitoring.ping queue payload.
type PingRequest struct {
	RequestID string `json:"request_id"`
}

// EchoPayload is the monitoring.echo queue payload.
type EchoPayload struct {
	RequestID string       `json:"request_id"`
	Timestamp time.Time    `json:"ts"`
	Results   []PingResult `json:"results"`
}
