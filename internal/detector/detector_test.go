package detector

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fleetops/healthwatch/internal/types"
)

// mockStore is a hand-rolled in-memory stand-in for store.Store, keyed by
// service name, sufficient to drive the detector's decisions without a
// database.
type mockStore struct {
	failures map[string]int
	firstTS  map[string]time.Time
	latestID map[string]int64
	active   map[string]*types.Incident
	recent   map[string][]types.HealthCheck
	nextID   int64
	opened   []types.Incident
	updated  []types.Incident
}

func newMockStore() *mockStore {
	return &mockStore{
		failures: map[string]int{},
		firstTS:  map[string]time.Time{},
		latestID: map[string]int64{},
		active:   map[string]*types.Incident{},
		recent:   map[string][]types.HealthCheck{},
	}
}

func (m *mockStore) ConsecutiveFailures(ctx context.Context, service string, cap int) (int, time.Time, int64, error) {
	return m.failures[service], m.firstTS[service], m.latestID[service], nil
}

func (m *mockStore) ActiveIncident(ctx context.Context, service string) (*types.Incident, error) {
	return m.active[service], nil
}

func (m *mockStore) OpenIncident(ctx context.Context, i types.Incident) (int64, error) {
	m.nextID++
	i.ID = m.nextID
	cp := i
	m.active[i.Service] = &cp
	m.opened = append(m.opened, i)
	return i.ID, nil
}

func (m *mockStore) UpdateIncident(ctx context.Context, i types.Incident) error {
	m.updated = append(m.updated, i)
	if i.ResolvedAt != nil {
		delete(m.active, i.Service)
	} else {
		cp := i
		m.active[i.Service] = &cp
	}
	return nil
}

func (m *mockStore) RecentChecks(ctx context.Context, service string, n int) ([]types.HealthCheck, error) {
	checks := m.recent[service]
	if len(checks) > n {
		checks = checks[:n]
	}
	return checks, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func upCheck(id int64) types.HealthCheck   { return types.HealthCheck{ID: id, Status: types.StatusUp} }
func downCheck(id int64) types.HealthCheck { return types.HealthCheck{ID: id, Status: types.StatusDown} }

func TestEvaluateHealthyWhenNoFailuresAndNoIncident(t *testing.T) {
	store := newMockStore()
	d := New(store, Config{ConsecutiveFailuresThreshold: 3, RecoveryCheckThreshold: 3}, nil, testLogger())

	outcome, incident, err := d.Evaluate(context.Background(), "svc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeHealthy {
		t.Fatalf("expected healthy, got %s", outcome)
	}
	if incident != nil {
		t.Fatalf("expected no incident, got %+v", incident)
	}
}

func TestEvaluateOpensIncidentAtThresholdAndTriggersRecoveryOnce(t *testing.T) {
	store := newMockStore()
	store.failures["svc"] = 3
	store.firstTS["svc"] = time.Now().Add(-15 * time.Second)

	recoverCalls := 0
	recover := func(ctx context.Context, service string, incidentID int64) { recoverCalls++ }

	d := New(store, Config{ConsecutiveFailuresThreshold: 3, RecoveryCheckThreshold: 3}, recover, testLogger())

	outcome, incident, err := d.Evaluate(context.Background(), "svc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeIncidentOpened {
		t.Fatalf("expected incident_opened, got %s", outcome)
	}
	if incident.Severity != types.SeverityWarning {
		t.Fatalf("expected WARNING at exactly N_fail, got %s", incident.Severity)
	}
	if recoverCalls != 1 {
		t.Fatalf("expected recovery triggered exactly once, got %d", recoverCalls)
	}

	// Second tick with the same incident still open and still failing
	// must hold, not re-open or re-trigger recovery.
	outcome, _, err = d.Evaluate(context.Background(), "svc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeIncidentHeld {
		t.Fatalf("expected incident_ongoing on second tick, got %s", outcome)
	}
	if recoverCalls != 1 {
		t.Fatalf("recovery must not re-trigger while incident is held, got %d calls", recoverCalls)
	}
}

func TestEvaluateEscalatesToCriticalAtDoubleThreshold(t *testing.T) {
	store := newMockStore()
	store.failures["svc"] = 6
	store.firstTS["svc"] = time.Now().Add(-30 * time.Second)

	d := New(store, Config{ConsecutiveFailuresThreshold: 3, RecoveryCheckThreshold: 3}, nil, testLogger())

	_, incident, err := d.Evaluate(context.Background(), "svc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if incident.Severity != types.SeverityCritical {
		t.Fatalf("expected CRITICAL at 2x threshold, got %s", incident.Severity)
	}
}

func TestEvaluateClosesIncidentOnNConsecutiveOks(t *testing.T) {
	store := newMockStore()
	opened := types.Incident{Service: "svc", DetectedAt: time.Now().Add(-time.Minute), DetectedCheckID: 10}
	id, _ := store.OpenIncident(context.Background(), opened)
	store.failures["svc"] = 0
	store.recent["svc"] = []types.HealthCheck{upCheck(13), upCheck(12), upCheck(11)}

	d := New(store, Config{ConsecutiveFailuresThreshold: 3, RecoveryCheckThreshold: 3}, nil, testLogger())

	outcome, incident, err := d.Evaluate(context.Background(), "svc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeIncidentClosed {
		t.Fatalf("expected incident_resolved, got %s", outcome)
	}
	if incident.ID != id {
		t.Fatalf("expected incident id %d, got %d", id, incident.ID)
	}
	if incident.ResolutionAction != "auto-recovery" {
		t.Fatalf("expected auto-recovery resolution action, got %q", incident.ResolutionAction)
	}
	if incident.MTTRSeconds == nil {
		t.Fatal("expected mttr_seconds to be set")
	}
}

func TestEvaluateHoldsOpenIncidentWhenOksAreInterrupted(t *testing.T) {
	store := newMockStore()
	store.OpenIncident(context.Background(), types.Incident{Service: "svc", DetectedAt: time.Now(), DetectedCheckID: 10})
	store.failures["svc"] = 0
	store.recent["svc"] = []types.HealthCheck{upCheck(13), downCheck(12), upCheck(11)}

	d := New(store, Config{ConsecutiveFailuresThreshold: 3, RecoveryCheckThreshold: 3}, nil, testLogger())

	outcome, incident, err := d.Evaluate(context.Background(), "svc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeIncidentHeld {
		t.Fatalf("expected incident_ongoing because one of the N_ok checks failed, got %s", outcome)
	}
	if incident == nil {
		t.Fatal("expected the still-open incident to be returned")
	}
}

func TestOnIncidentEdgeFiresOnOpenAndClose(t *testing.T) {
	store := newMockStore()
	store.failures["svc"] = 3
	store.firstTS["svc"] = time.Now()

	d := New(store, Config{ConsecutiveFailuresThreshold: 3, RecoveryCheckThreshold: 3}, nil, testLogger())

	edges := 0
	d.OnIncidentEdge(func(service string) { edges++ })

	d.Evaluate(context.Background(), "svc")
	if edges != 1 {
		t.Fatalf("expected 1 edge after open, got %d", edges)
	}

	store.failures["svc"] = 0
	store.recent["svc"] = []types.HealthCheck{upCheck(3), upCheck(2), upCheck(1)}
	d.Evaluate(context.Background(), "svc")
	if edges != 2 {
		t.Fatalf("expected 2 edges after close, got %d", edges)
	}
}
