// Package store provides database access for the monitor.
//
// The store uses raw SQL with pgx; there is no ORM layer. Every write is
// a single statement or a short transaction — the monitor's write volume
// does not warrant a staging-table/COPY pipeline the way a fleet-scale
// probe-result ingester would.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetops/healthwatch/internal/config"
	"github.com/fleetops/healthwatch/internal/types"
)

// Store provides durable, indexed access to health checks and incidents.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromURL connects to the given database URL.
func NewStoreFromURL(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping tests database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool returns the underlying connection pool, for the migration runner.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// HEALTH CHECKS
// =============================================================================

// AppendCheck atomically assigns a monotonic id, persists the check, and
// returns the assigned id. Transient failures retry a small fixed number
// of times before the write is dropped and logged by the caller — this
// method itself only reports the final error.
func (s *Store) AppendCheck(ctx context.Context, c types.HealthCheck) (int64, error) {
	var id int64
	var err error
	for attempt := 0; attempt < config.StoreWriteRetries; attempt++ {
		id, err = s.appendCheckOnce(ctx, c)
		if err == nil {
			return id, nil
		}
		if attempt < config.StoreWriteRetries-1 {
			time.Sleep(config.StoreRetryBackoff)
		}
	}
	return 0, fmt.Errorf("append_check: %w", err)
}

func (s *Store) appendCheckOnce(ctx context.Context, c types.HealthCheck) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO health_checks (service, request_id, status, latency_ms, http_code, timestamp, is_timeout, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, c.Service, c.RequestID, c.Status, c.LatencyMs, c.HTTPCode, c.Timestamp, c.IsTimeout, nullableString(c.ErrorMessage)).Scan(&id)
	return id, err
}

// RecentChecks returns the last n checks for a service, newest (highest
// id) first.
func (s *Store) RecentChecks(ctx context.Context, service string, n int) ([]types.HealthCheck, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, service, request_id, status, latency_ms, http_code, timestamp, is_timeout, COALESCE(error_message, '')
		FROM health_checks
		WHERE service = $1
		ORDER BY id DESC
		LIMIT $2
	`, service, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHealthChecks(rows)
}

// ConsecutiveFailures walks recent checks for a service newest-first,
// counting while IsFailure holds. It stops at the first non-failure or at
// cap, and returns the count, the timestamp of the oldest check in that
// streak (zero time if count is 0), and the id of the newest check
// examined (0 if there is no check at all) — the anchor a newly opened
// incident uses to require the N_ok confirmation checks to postdate
// detection.
func (s *Store) ConsecutiveFailures(ctx context.Context, service string, cap int) (int, time.Time, int64, error) {
	checks, err := s.RecentChecks(ctx, service, cap)
	if err != nil {
		return 0, time.Time{}, 0, err
	}
	count := 0
	var oldest time.Time
	var latestID int64
	if len(checks) > 0 {
		latestID = checks[0].ID
	}
	for _, c := range checks {
		if !c.IsFailure() {
			break
		}
		count++
		oldest = c.Timestamp
	}
	return count, oldest, latestID, nil
}

// =============================================================================
// INCIDENTS
// =============================================================================

// OpenIncident persists a newly opened incident and returns its id.
func (s *Store) OpenIncident(ctx context.Context, i types.Incident) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO incidents (service, started_at, detected_at, severity, consecutive_failures, mttd_seconds, detected_check_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, i.Service, i.StartedAt, i.DetectedAt, i.Severity, i.ConsecutiveFailures, i.MTTDSeconds, i.DetectedCheckID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("open_incident: %w", err)
	}
	return id, nil
}

// UpdateIncident persists the resolution fields of an incident (the only
// mutation the detector ever performs after open).
func (s *Store) UpdateIncident(ctx context.Context, i types.Incident) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE incidents
		SET resolved_at = $2, resolution_action = $3, mttr_seconds = $4
		WHERE id = $1
	`, i.ID, i.ResolvedAt, nullableString(i.ResolutionAction), i.MTTRSeconds)
	if err != nil {
		return fmt.Errorf("update_incident: %w", err)
	}
	return nil
}

// ActiveIncident returns the open incident for a service (resolved_at is
// null), or nil if there is none.
func (s *Store) ActiveIncident(ctx context.Context, service string) (*types.Incident, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, service, started_at, detected_at, resolved_at, severity, consecutive_failures,
			COALESCE(resolution_action, ''), mttd_seconds, mttr_seconds, detected_check_id
		FROM incidents
		WHERE service = $1 AND resolved_at IS NULL
		ORDER BY id DESC
		LIMIT 1
	`, service)
	i, err := scanIncident(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return i, nil
}

// Incidents lists incidents for a service (or all services if service is
// empty), newest first, bounded by limit.
func (s *Store) Incidents(ctx context.Context, service string, limit int) ([]types.Incident, error) {
	var rows pgx.Rows
	var err error
	if service == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT id, service, started_at, detected_at, resolved_at, severity, consecutive_failures,
				COALESCE(resolution_action, ''), mttd_seconds, mttr_seconds, detected_check_id
			FROM incidents ORDER BY id DESC LIMIT $1
		`, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, service, started_at, detected_at, resolved_at, severity, consecutive_failures,
				COALESCE(resolution_action, ''), mttd_seconds, mttr_seconds, detected_check_id
			FROM incidents WHERE service = $1 ORDER BY id DESC LIMIT $2
		`, service, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Incident
	for rows.Next() {
		i, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

// ActiveIncidents lists every service's currently open incident.
func (s *Store) ActiveIncidents(ctx context.Context) ([]types.Incident, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, service, started_at, detected_at, resolved_at, severity, consecutive_failures,
			COALESCE(resolution_action, ''), mttd_seconds, mttr_seconds, detected_check_id
		FROM incidents WHERE resolved_at IS NULL ORDER BY service
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Incident
	for rows.Next() {
		i, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

// IncidentsInWindow returns every incident for a service that overlaps
// [since, now] — used by the metrics engine for availability and MTBF.
func (s *Store) IncidentsInWindow(ctx context.Context, service string, since time.Time) ([]types.Incident, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, service, started_at, detected_at, resolved_at, severity, consecutive_failures,
			COALESCE(resolution_action, ''), mttd_seconds, mttr_seconds, detected_check_id
		FROM incidents
		WHERE service = $1 AND (resolved_at IS NULL OR resolved_at >= $2)
		ORDER BY started_at ASC
	`, service, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Incident
	for rows.Next() {
		i, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

// =============================================================================
// OPERATIONS
// =============================================================================

// CreateOperation persists a new operation row. No component or test in
// this repository calls this; the table exists to bound the schema to a
// full deployment.
func (s *Store) CreateOperation(ctx context.Context, o types.Operation) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO operations (type, payload, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id
	`, o.Type, o.Payload, o.Status, nullableString(o.Error), o.CreatedAt).Scan(&id)
	return id, err
}

// =============================================================================
// HELPERS
// =============================================================================

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*types.Incident, error) {
	return scanIncidentRow(row)
}

func scanIncidentRow(row rowScanner) (*types.Incident, error) {
	var i types.Incident
	if err := row.Scan(
		&i.ID, &i.Service, &i.StartedAt, &i.DetectedAt, &i.ResolvedAt, &i.Severity,
		&i.ConsecutiveFailures, &i.ResolutionAction, &i.MTTDSeconds, &i.MTTRSeconds, &i.DetectedCheckID,
	); err != nil {
		return nil, err
	}
	return &i, nil
}

func scanHealthChecks(rows pgx.Rows) ([]types.HealthCheck, error) {
	var out []types.HealthCheck
	for rows.Next() {
		var c types.HealthCheck
		if err := rows.Scan(
			&c.ID, &c.Service, &c.RequestID, &c.Status, &c.LatencyMs, &c.HTTPCode,
			&c.Timestamp, &c.IsTimeout, &c.ErrorMessage,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
