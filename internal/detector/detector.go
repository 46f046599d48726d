// Package detector implements the incident state machine: it turns a
// service's consecutive-failure streak into an open/held/closed incident.
//
// The detector holds a RecoveryFunc callback rather than importing the
// recovery package directly. Recovery needs nothing from the detector
// beyond a service name and incident id, and a recovery attempt returns
// nothing the detector could fail on. The callback runs synchronously
// inside Evaluate, so Evaluate returns only after it does. A function value
// keeps the two packages decoupled and makes the detector trivially
// testable with a stub.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetops/healthwatch/internal/types"
)

// Store is the subset of store.Store the detector needs.
type Store interface {
	ConsecutiveFailures(ctx context.Context, service string, cap int) (int, time.Time, int64, error)
	ActiveIncident(ctx context.Context, service string) (*types.Incident, error)
	OpenIncident(ctx context.Context, i types.Incident) (int64, error)
	UpdateIncident(ctx context.Context, i types.Incident) error
	RecentChecks(ctx context.Context, service string, n int) ([]types.HealthCheck, error)
}

// RecoveryFunc is invoked exactly once per incident open.
type RecoveryFunc func(ctx context.Context, service string, incidentID int64)

// Outcome reports what the detector did for one service on one tick.
type Outcome string

const (
	OutcomeHealthy        Outcome = "healthy"
	OutcomeIncidentOpened Outcome = "incident_opened"
	OutcomeIncidentHeld   Outcome = "incident_ongoing"
	OutcomeIncidentClosed Outcome = "incident_resolved"
)

// Detector evaluates one service's health on each tick.
//
// Evaluate is invoked concurrently for the same service by design: the
// scheduler's ticker, POST /ping, and POST /evaluate all run it against
// the goroutine that owns the HTTP server rather than a single serialized
// caller. Its read-modify-write (ConsecutiveFailures -> ActiveIncident ->
// OpenIncident/UpdateIncident) is not safe to run twice at once for one
// service, so locksMu/locks below gives each service its own mutex,
// lazily created, the same registry-style keyed-lock shape the teacher
// uses for its tier/assignment registries.
type Detector struct {
	store          Store
	nFail          int
	nOk            int
	recover        RecoveryFunc
	logger         *slog.Logger
	onIncidentEdge func(service string) // invalidates the active-incidents cache entry

	locksMu sync.RWMutex
	locks   map[string]*sync.Mutex
}

// Config carries the detector's thresholds.
type Config struct {
	ConsecutiveFailuresThreshold int
	RecoveryCheckThreshold       int
}

// New creates a Detector. recover may be nil, in which case opening an
// incident never triggers recovery — used by tests that only want to
// exercise the state machine.
func New(store Store, cfg Config, recover RecoveryFunc, logger *slog.Logger) *Detector {
	return &Detector{
		store:   store,
		nFail:   cfg.ConsecutiveFailuresThreshold,
		nOk:     cfg.RecoveryCheckThreshold,
		recover: recover,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// serviceLock returns the mutex guarding service's read-modify-write,
// creating it on first use. A read lock covers the common case where the
// per-service mutex already exists; only the first caller for a given
// service pays the write-lock cost.
func (d *Detector) serviceLock(service string) *sync.Mutex {
	d.locksMu.RLock()
	m, ok := d.locks[service]
	d.locksMu.RUnlock()
	if ok {
		return m
	}

	d.locksMu.Lock()
	defer d.locksMu.Unlock()
	if m, ok := d.locks[service]; ok {
		return m
	}
	m = &sync.Mutex{}
	d.locks[service] = m
	return m
}

// OnIncidentEdge registers a callback fired whenever an incident opens or
// closes for a service, so a response cache can invalidate its
// active-incidents entry without the detector importing the cache package.
func (d *Detector) OnIncidentEdge(fn func(service string)) {
	d.onIncidentEdge = fn
}

// Evaluate runs the state machine for a single service and returns what
// happened plus the incident involved, if any. Concurrent calls for the
// same service (ticker, POST /ping, POST /evaluate) serialize on that
// service's lock; concurrent calls for different services proceed in
// parallel.
func (d *Detector) Evaluate(ctx context.Context, service string) (Outcome, *types.Incident, error) {
	lock := d.serviceLock(service)
	lock.Lock()
	defer lock.Unlock()

	k, firstTS, latestCheckID, err := d.store.ConsecutiveFailures(ctx, service, d.nFail)
	if err != nil {
		return "", nil, fmt.Errorf("consecutive_failures: %w", err)
	}

	active, err := d.store.ActiveIncident(ctx, service)
	if err != nil {
		return "", nil, fmt.Errorf("active_incident: %w", err)
	}

	switch {
	case k >= d.nFail && active == nil:
		return d.open(ctx, service, k, firstTS, latestCheckID)
	case k >= d.nFail && active != nil:
		return OutcomeIncidentHeld, active, nil
	case active != nil:
		return d.tryClose(ctx, service, active)
	default:
		return OutcomeHealthy, nil, nil
	}
}

func (d *Detector) open(ctx context.Context, service string, k int, firstTS time.Time, latestCheckID int64) (Outcome, *types.Incident, error) {
	now := time.Now()
	severity := types.SeverityWarning
	if k >= 2*d.nFail {
		severity = types.SeverityCritical
	}

	// MTTD is clamped to zero: fabricated or skewed check timestamps must
	// never produce a negative detection time.
	mttd := now.Sub(firstTS).Seconds()
	if mttd < 0 {
		mttd = 0
	}

	incident := types.Incident{
		Service:             service,
		StartedAt:           firstTS,
		DetectedAt:          now,
		Severity:            severity,
		ConsecutiveFailures: k,
		MTTDSeconds:         mttd,
		DetectedCheckID:     latestCheckID,
	}

	id, err := d.store.OpenIncident(ctx, incident)
	if err != nil {
		return "", nil, fmt.Errorf("open_incident: %w", err)
	}
	incident.ID = id

	d.logger.Warn("incident opened", "service", service, "incident_id", id, "severity", severity, "consecutive_failures", k)

	if d.recover != nil {
		d.recover(ctx, service, id)
	}
	if d.onIncidentEdge != nil {
		d.onIncidentEdge(service)
	}

	return OutcomeIncidentOpened, &incident, nil
}

func (d *Detector) tryClose(ctx context.Context, service string, active *types.Incident) (Outcome, *types.Incident, error) {
	recent, err := d.store.RecentChecks(ctx, service, d.nOk)
	if err != nil {
		return "", nil, fmt.Errorf("recent_checks: %w", err)
	}
	if len(recent) < d.nOk {
		return OutcomeIncidentHeld, active, nil
	}
	for _, c := range recent {
		// A check pre-dating detection must never count toward the N_ok
		// confirmation window, even if it happens to be an UP.
		if c.ID <= active.DetectedCheckID || c.IsFailure() {
			return OutcomeIncidentHeld, active, nil
		}
	}

	now := time.Now()
	resolved := *active
	resolved.ResolvedAt = &now
	resolved.ResolutionAction = "auto-recovery"
	mttr := now.Sub(active.DetectedAt).Seconds()
	resolved.MTTRSeconds = &mttr

	if err := d.store.UpdateIncident(ctx, resolved); err != nil {
		return "", nil, fmt.Errorf("update_incident: %w", err)
	}

	d.logger.Info("incident resolved", "service", service, "incident_id", resolved.ID, "mttr_seconds", mttr)

	if d.onIncidentEdge != nil {
		d.onIncidentEdge(service)
	}

	return OutcomeIncidentClosed, &resolved, nil
}
