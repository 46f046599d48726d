package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fleetops/healthwatch/internal/types"
)

// newTestStore connects to DATABASE_URL if set, otherwise skips. These
// tests exercise query logic (the consecutive-failure walk, the active
// incident lookup) that needs proving against real index behavior, not
// against a hand-rolled mock.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping store integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := NewStoreFromURL(ctx, url)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("pinging test database: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func latency(ms float64) *float64 { return &ms }

func TestAppendAndRecentChecks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	service := "test-append-recent"

	for i := 0; i < 3; i++ {
		_, err := s.AppendCheck(ctx, types.HealthCheck{
			Service:   service,
			RequestID: "req-1",
			Status:    types.StatusUp,
			LatencyMs: latency(10),
			Timestamp: time.Now(),
		})
		if err != nil {
			t.Fatalf("append_check: %v", err)
		}
	}

	checks, err := s.RecentChecks(ctx, service, 2)
	if err != nil {
		t.Fatalf("recent_checks: %v", err)
	}
	if len(checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(checks))
	}
	if checks[0].ID <= checks[1].ID {
		t.Fatalf("expected newest-first ordering, got ids %d, %d", checks[0].ID, checks[1].ID)
	}
}

func TestConsecutiveFailuresStopsAtNonFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	service := "test-consecutive-failures"

	statuses := []types.Status{types.StatusUp, types.StatusDown, types.StatusDown, types.StatusDown}
	for _, st := range statuses {
		if _, err := s.AppendCheck(ctx, types.HealthCheck{
			Service:   service,
			RequestID: "req-1",
			Status:    st,
			Timestamp: time.Now(),
		}); err != nil {
			t.Fatalf("append_check: %v", err)
		}
	}

	count, _, _, err := s.ConsecutiveFailures(ctx, service, 10)
	if err != nil {
		t.Fatalf("consecutive_failures: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 consecutive failures (the oldest UP breaks the streak), got %d", count)
	}
}

func TestActiveIncidentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	service := "test-active-incident"
	now := time.Now()

	id, err := s.OpenIncident(ctx, types.Incident{
		Service:             service,
		StartedAt:           now.Add(-30 * time.Second),
		DetectedAt:          now,
		Severity:            types.SeverityWarning,
		ConsecutiveFailures: 3,
		MTTDSeconds:         30,
	})
	if err != nil {
		t.Fatalf("open_incident: %v", err)
	}

	active, err := s.ActiveIncident(ctx, service)
	if err != nil {
		t.Fatalf("active_incident: %v", err)
	}
	if active == nil || active.ID != id {
		t.Fatalf("expected active incident with id %d, got %+v", id, active)
	}

	resolvedAt := now.Add(time.Minute)
	mttr := 60.0
	active.ResolvedAt = &resolvedAt
	active.ResolutionAction = "auto-recovery"
	active.MTTRSeconds = &mttr
	if err := s.UpdateIncident(ctx, *active); err != nil {
		t.Fatalf("update_incident: %v", err)
	}

	stillActive, err := s.ActiveIncident(ctx, service)
	if err != nil {
		t.Fatalf("active_incident after resolve: %v", err)
	}
	if stillActive != nil {
		t.Fatalf("expected no active incident after resolution, got %+v", stillActive)
	}
}
