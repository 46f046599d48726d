package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/fleetops/healthwatch/internal/types"
)

type mockStore struct {
	incidents map[string][]types.Incident
	checks    map[string][]types.HealthCheck
}

func (m *mockStore) IncidentsInWindow(ctx context.Context, service string, since time.Time) ([]types.Incident, error) {
	return m.incidents[service], nil
}

func (m *mockStore) RecentChecks(ctx context.Context, service string, n int) ([]types.HealthCheck, error) {
	checks := m.checks[service]
	if len(checks) > n {
		checks = checks[:n]
	}
	return checks, nil
}

func latency(ms float64) *float64 { return &ms }

func TestGetServiceMetricsWithNoIncidentsIsFullyAvailable(t *testing.T) {
	store := &mockStore{
		checks: map[string][]types.HealthCheck{
			"svc": {
				{Status: types.StatusUp, LatencyMs: latency(10)},
				{Status: types.StatusUp, LatencyMs: latency(20)},
			},
		},
	}
	e := New(store)

	m, err := e.GetServiceMetrics(context.Background(), "svc", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.AvailabilityPct == nil || *m.AvailabilityPct != 100 {
		t.Fatalf("expected 100%% availability, got %+v", m.AvailabilityPct)
	}
	if m.MTTDSeconds != nil {
		t.Fatalf("expected no MTTD with zero incidents, got %+v", m.MTTDSeconds)
	}
	if *m.SuccessRatePercent != 100 {
		t.Fatalf("expected 100%% success rate, got %v", *m.SuccessRatePercent)
	}
	if *m.AverageLatencyMs != 15 {
		t.Fatalf("expected average latency 15, got %v", *m.AverageLatencyMs)
	}
}

func TestGetServiceMetricsWindowHoursZeroSkipsAvailability(t *testing.T) {
	store := &mockStore{}
	e := New(store)

	m, err := e.GetServiceMetrics(context.Background(), "svc", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.AvailabilityPct != nil {
		t.Fatalf("expected nil availability at window_hours=0, got %v", *m.AvailabilityPct)
	}
}

func TestMTBFUndefinedWithFewerThanTwoResolvedIncidents(t *testing.T) {
	resolvedAt := time.Now()
	store := &mockStore{
		incidents: map[string][]types.Incident{
			"svc": {
				{Service: "svc", StartedAt: resolvedAt.Add(-time.Hour), ResolvedAt: &resolvedAt},
			},
		},
	}
	e := New(store)

	m, err := e.GetServiceMetrics(context.Background(), "svc", 24)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.MTBFSeconds != nil {
		t.Fatalf("expected nil MTBF with one resolved incident, got %v", *m.MTBFSeconds)
	}
}

func TestMTBFAveragesGapsBetweenResolvedIncidents(t *testing.T) {
	t0 := time.Now().Add(-10 * time.Hour)
	firstResolved := t0.Add(time.Minute)
	secondStart := firstResolved.Add(time.Hour)
	secondResolved := secondStart.Add(time.Minute)
	thirdStart := secondResolved.Add(3 * time.Hour)
	thirdResolved := thirdStart.Add(time.Minute)

	store := &mockStore{
		incidents: map[string][]types.Incident{
			"svc": {
				{Service: "svc", StartedAt: t0, ResolvedAt: &firstResolved},
				{Service: "svc", StartedAt: secondStart, ResolvedAt: &secondResolved},
				{Service: "svc", StartedAt: thirdStart, ResolvedAt: &thirdResolved},
			},
		},
	}
	e := New(store)

	m, err := e.GetServiceMetrics(context.Background(), "svc", 24)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.MTBFSeconds == nil {
		t.Fatal("expected MTBF to be defined")
	}
	// gaps are ~1h and ~3h -> average ~2h
	got := *m.MTBFSeconds
	if got < 7100 || got > 7300 {
		t.Fatalf("expected ~7200s average gap, got %v", got)
	}
}

func TestAvailabilityClampsDowntimeToWindow(t *testing.T) {
	now := time.Now()
	store := &mockStore{
		incidents: map[string][]types.Incident{
			"svc": {
				// started well before the window and never resolved
				{Service: "svc", StartedAt: now.Add(-100 * time.Hour)},
			},
		},
	}
	e := New(store)

	m, err := e.GetServiceMetrics(context.Background(), "svc", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *m.AvailabilityPct != 0 {
		t.Fatalf("expected 0%% availability for incident spanning the whole window, got %v", *m.AvailabilityPct)
	}
}

func TestGetExperimentSummaryProjectsMonthlyDowntime(t *testing.T) {
	now := time.Now()
	resolvedAt := now
	store := &mockStore{
		incidents: map[string][]types.Incident{
			"svc": {
				// 36 seconds of downtime in a 1-hour window projects to
				// 36 * (720 hours/1 hour) seconds = 7.2 hours -> way over budget
				{Service: "svc", StartedAt: now.Add(-36 * time.Second), ResolvedAt: &resolvedAt},
			},
		},
	}
	e := New(store)

	summary, err := e.GetExperimentSummary(context.Background(), []string{"svc"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Compliant {
		t.Fatalf("expected non-compliant projection, got %+v", summary)
	}
	if summary.AllowedMonthlyMinutes != 21.6 {
		t.Fatalf("expected 21.6 minute budget, got %v", summary.AllowedMonthlyMinutes)
	}
}

func TestGetAllServicesMetricsRollsUpGlobalAvailability(t *testing.T) {
	store := &mockStore{
		checks: map[string][]types.HealthCheck{
			"a": {{Status: types.StatusUp}},
			"b": {{Status: types.StatusUp}},
		},
	}
	e := New(store)

	global, err := e.GetAllServicesMetrics(context.Background(), []string{"a", "b"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if global.Service != "_global" {
		t.Fatalf("expected _global label, got %q", global.Service)
	}
	if global.AvailabilityPct == nil || *global.AvailabilityPct != 100 {
		t.Fatalf("expected 100%% rollup availability, got %+v", global.AvailabilityPct)
	}
}

func TestGetAllServicesMetricsPoolsIncidentCountsAndMTTD(t *testing.T) {
	resolvedA := time.Now()
	store := &mockStore{
		incidents: map[string][]types.Incident{
			"a": {
				{Service: "a", MTTDSeconds: 10, ResolvedAt: &resolvedA, MTTRSeconds: latency(20)},
			},
			"b": {
				{Service: "b", MTTDSeconds: 30}, // still active: no ResolvedAt
			},
		},
	}
	e := New(store)

	global, err := e.GetAllServicesMetrics(context.Background(), []string{"a", "b"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if global.TotalIncidents != 2 {
		t.Fatalf("expected 2 total incidents pooled, got %d", global.TotalIncidents)
	}
	if global.ActiveIncidents != 1 {
		t.Fatalf("expected 1 active incident pooled, got %d", global.ActiveIncidents)
	}
	if global.MTTDAvgSeconds == nil || *global.MTTDAvgSeconds != 20 {
		t.Fatalf("expected pooled mttd average of 20 ((10+30)/2), got %+v", global.MTTDAvgSeconds)
	}
	if global.MTTRAvgSeconds == nil || *global.MTTRAvgSeconds != 20 {
		t.Fatalf("expected pooled mttr average of 20 (only a's incident is resolved), got %+v", global.MTTRAvgSeconds)
	}

	svcA := global.Services["a"]
	if svcA.TotalIncidents != 1 || svcA.ResolvedIncidents != 1 || svcA.ActiveIncidents != 0 {
		t.Fatalf("expected service a to show 1 total/1 resolved/0 active, got %+v", svcA)
	}
	svcB := global.Services["b"]
	if svcB.TotalIncidents != 1 || svcB.ActiveIncidents != 1 {
		t.Fatalf("expected service b to show 1 total/1 active, got %+v", svcB)
	}
}
