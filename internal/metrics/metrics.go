// Package metrics computes MTTD, MTTR, MTBF, availability, success rate,
// and ASR-03 ("three nines") compliance projections from stored incidents
// and health checks.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fleetops/healthwatch/internal/config"
	"github.com/fleetops/healthwatch/internal/types"
)

// Store is the subset of store.Store the metrics engine needs.
type Store interface {
	IncidentsInWindow(ctx context.Context, service string, since time.Time) ([]types.Incident, error)
	RecentChecks(ctx context.Context, service string, n int) ([]types.HealthCheck, error)
}

// Engine computes derived metrics over stored incidents and checks.
type Engine struct {
	store Store
}

// New creates a metrics Engine.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// Stat summarizes a set of durations.
type Stat struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	N    int     `json:"n"`
}

// ServiceMetrics is the full metric report for one service over one window.
type ServiceMetrics struct {
	Service            string   `json:"service"`
	WindowHours        float64  `json:"window_hours"`
	TotalIncidents     int      `json:"total_incidents"`
	ActiveIncidents    int      `json:"active_incidents"`
	ResolvedIncidents  int      `json:"resolved_incidents"`
	MTTDSeconds        *Stat    `json:"mttd_seconds,omitempty"`
	MTTRSeconds        *Stat    `json:"mttr_seconds,omitempty"`
	MTBFSeconds        *float64 `json:"mtbf_seconds,omitempty"`
	AvailabilityPct    *float64 `json:"availability_percent,omitempty"`
	TotalDowntimeSec   float64  `json:"total_downtime_seconds"`
	HealthCheckCount   int      `json:"health_check_count"`
	SuccessRatePercent *float64 `json:"success_rate_percent,omitempty"`
	AverageLatencyMs   *float64 `json:"average_latency_ms,omitempty"`
}

// GetServiceMetrics computes every metric for one service over windowHours.
// A windowHours of 0 returns availability/MTBF as nil rather than dividing
// by zero.
func (e *Engine) GetServiceMetrics(ctx context.Context, service string, windowHours float64) (*ServiceMetrics, error) {
	since := time.Now().Add(-time.Duration(windowHours * float64(time.Hour)))
	incidents, err := e.store.IncidentsInWindow(ctx, service, since)
	if err != nil {
		return nil, fmt.Errorf("incidents_in_window: %w", err)
	}

	checks, err := e.store.RecentChecks(ctx, service, config.RecentHealthCheckSampleSize)
	if err != nil {
		return nil, fmt.Errorf("recent_checks: %w", err)
	}

	return buildServiceMetrics(service, incidents, checks, windowHours), nil
}

// buildServiceMetrics computes every per-service figure from an
// already-fetched incident/check set. Split out of GetServiceMetrics so
// GetAllServicesMetrics can reuse the same incidents it fetches per
// service for the global MTTD/MTTR pool, instead of a second fleet-wide
// query.
func buildServiceMetrics(service string, incidents []types.Incident, checks []types.HealthCheck, windowHours float64) *ServiceMetrics {
	m := &ServiceMetrics{
		Service:     service,
		WindowHours: windowHours,
	}

	for _, i := range incidents {
		m.TotalIncidents++
		if i.IsActive() {
			m.ActiveIncidents++
		} else {
			m.ResolvedIncidents++
		}
	}

	m.MTTDSeconds = mttdStat(incidents)
	m.MTTRSeconds = mttrStat(incidents)

	if windowHours > 0 {
		m.MTBFSeconds = mtbf(incidents)
		downtime, avail := availability(incidents, windowHours)
		m.TotalDowntimeSec = downtime
		m.AvailabilityPct = &avail
	}

	m.HealthCheckCount = len(checks)
	m.SuccessRatePercent = successRate(checks)
	m.AverageLatencyMs = averageLatency(checks)

	return m
}

// GlobalMetrics rolls up every service's metrics into one summary record,
// labeled "_global" the way the reference deployment's rollup endpoint does.
type GlobalMetrics struct {
	Service          string                     `json:"service"`
	Services         map[string]*ServiceMetrics `json:"services"`
	TotalIncidents   int                        `json:"total_incidents"`
	ActiveIncidents  int                        `json:"active_incidents"`
	MTTDAvgSeconds   *float64                   `json:"mttd_avg_seconds,omitempty"`
	MTTRAvgSeconds   *float64                   `json:"mttr_avg_seconds,omitempty"`
	AvailabilityPct  *float64                   `json:"availability_percent,omitempty"`
	TotalDowntimeSec float64                    `json:"total_downtime_seconds"`
}

// GetAllServicesMetrics computes per-service metrics for every named
// service plus a "_global" rollup: the unweighted mean of the per-service
// availability figures that were computable, the summed incident counts,
// and the MTTD/MTTR pooled across every service's incidents in the
// window (not an average of per-service averages — a service with twice
// the incidents of another counts twice as much toward the pool).
func (e *Engine) GetAllServicesMetrics(ctx context.Context, services []string, windowHours float64) (*GlobalMetrics, error) {
	out := &GlobalMetrics{Service: "_global", Services: make(map[string]*ServiceMetrics, len(services))}

	since := time.Now().Add(-time.Duration(windowHours * float64(time.Hour)))

	var availSum float64
	var availCount int
	var downtimeSum float64
	var allIncidents []types.Incident

	for _, svc := range services {
		incidents, err := e.store.IncidentsInWindow(ctx, svc, since)
		if err != nil {
			return nil, fmt.Errorf("incidents_in_window %s: %w", svc, err)
		}
		checks, err := e.store.RecentChecks(ctx, svc, config.RecentHealthCheckSampleSize)
		if err != nil {
			return nil, fmt.Errorf("recent_checks %s: %w", svc, err)
		}

		sm := buildServiceMetrics(svc, incidents, checks, windowHours)
		out.Services[svc] = sm
		out.TotalIncidents += sm.TotalIncidents
		out.ActiveIncidents += sm.ActiveIncidents
		downtimeSum += sm.TotalDowntimeSec
		if sm.AvailabilityPct != nil {
			availSum += *sm.AvailabilityPct
			availCount++
		}
		allIncidents = append(allIncidents, incidents...)
	}

	out.TotalDowntimeSec = downtimeSum
	if availCount > 0 {
		avg := availSum / float64(availCount)
		out.AvailabilityPct = &avg
	}
	if stat := mttdStat(allIncidents); stat != nil {
		out.MTTDAvgSeconds = &stat.Mean
	}
	if stat := mttrStat(allIncidents); stat != nil {
		out.MTTRAvgSeconds = &stat.Mean
	}

	return out, nil
}

// ExperimentSummary is the ASR-03 ("three nines") compliance projection.
type ExperimentSummary struct {
	WindowHours             float64  `json:"window_hours"`
	ObservedDowntimeSeconds float64  `json:"observed_downtime_seconds"`
	ProjectedMonthlyMinutes float64  `json:"projected_monthly_downtime_minutes"`
	AllowedMonthlyMinutes   float64  `json:"allowed_monthly_downtime_minutes"`
	MarginMinutes           float64  `json:"margin_minutes"`
	Compliant               bool     `json:"compliant"`
	AvailabilityPct         *float64 `json:"availability_percent,omitempty"`
	MTTDAvgSeconds          *float64 `json:"mttd_avg_seconds,omitempty"`
	MTTRAvgSeconds          *float64 `json:"mttr_avg_seconds,omitempty"`
}

// GetExperimentSummary projects the observed downtime over windowHours onto
// a 30-day month and checks it against the three-nines budget of 21.6
// minutes/month.
func (e *Engine) GetExperimentSummary(ctx context.Context, services []string, windowHours float64) (*ExperimentSummary, error) {
	if windowHours <= 0 {
		windowHours = config.ExperimentWindowHours
	}

	global, err := e.GetAllServicesMetrics(ctx, services, windowHours)
	if err != nil {
		return nil, err
	}

	windowSeconds := windowHours * 3600
	monthSeconds := 30.0 * 24 * 3600
	projectedSeconds := (global.TotalDowntimeSec / windowSeconds) * monthSeconds
	projectedMinutes := projectedSeconds / 60

	return &ExperimentSummary{
		WindowHours:             windowHours,
		ObservedDowntimeSeconds: global.TotalDowntimeSec,
		ProjectedMonthlyMinutes: projectedMinutes,
		AllowedMonthlyMinutes:   config.ASR03MaxMonthlyDowntimeMinutes,
		MarginMinutes:           config.ASR03MaxMonthlyDowntimeMinutes - projectedMinutes,
		Compliant:               projectedMinutes <= config.ASR03MaxMonthlyDowntimeMinutes,
		AvailabilityPct:         global.AvailabilityPct,
		MTTDAvgSeconds:          global.MTTDAvgSeconds,
		MTTRAvgSeconds:          global.MTTRAvgSeconds,
	}, nil
}

// =============================================================================
// FORMULAS
// =============================================================================

func mttdStat(incidents []types.Incident) *Stat {
	var values []float64
	for _, i := range incidents {
		values = append(values, i.MTTDSeconds)
	}
	return statOf(values)
}

func mttrStat(incidents []types.Incident) *Stat {
	var values []float64
	for _, i := range incidents {
		if i.MTTRSeconds != nil {
			values = append(values, *i.MTTRSeconds)
		}
	}
	return statOf(values)
}

func statOf(values []float64) *Stat {
	if len(values) == 0 {
		return nil
	}
	sum, min, max := 0.0, values[0], values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return &Stat{Mean: sum / float64(len(values)), Min: min, Max: max, N: len(values)}
}

// mtbf averages the gap between consecutive resolved incidents' resolution
// and the next incident's start, discarding non-positive gaps. Undefined
// (nil) with fewer than two resolved incidents.
func mtbf(incidents []types.Incident) *float64 {
	var resolved []types.Incident
	for _, i := range incidents {
		if i.ResolvedAt != nil {
			resolved = append(resolved, i)
		}
	}
	if len(resolved) < 2 {
		return nil
	}
	sort.Slice(resolved, func(a, b int) bool { return resolved[a].StartedAt.Before(resolved[b].StartedAt) })

	var gaps []float64
	for i := 1; i < len(resolved); i++ {
		gap := resolved[i].StartedAt.Sub(*resolved[i-1].ResolvedAt).Seconds()
		if gap > 0 {
			gaps = append(gaps, gap)
		}
	}
	if len(gaps) == 0 {
		return nil
	}

	sum := 0.0
	for _, g := range gaps {
		sum += g
	}
	avg := sum / float64(len(gaps))
	return &avg
}

// availability returns (downtime_seconds, availability_percent) for the
// window [now-windowHours, now]. Open incidents are treated as ongoing
// through now; total downtime is clamped to the window length.
func availability(incidents []types.Incident, windowHours float64) (float64, float64) {
	windowSeconds := windowHours * 3600
	now := time.Now()
	windowStart := now.Add(-time.Duration(windowHours * float64(time.Hour)))

	var downtime float64
	for _, inc := range incidents {
		start := inc.StartedAt
		if start.Before(windowStart) {
			start = windowStart
		}
		end := now
		if inc.ResolvedAt != nil {
			end = *inc.ResolvedAt
		}
		if end.Before(start) {
			continue
		}
		downtime += end.Sub(start).Seconds()
	}

	if downtime > windowSeconds {
		downtime = windowSeconds
	}

	availability := 100 * (windowSeconds - downtime) / windowSeconds
	return downtime, availability
}

func successRate(checks []types.HealthCheck) *float64 {
	if len(checks) == 0 {
		return nil
	}
	ok := 0
	for _, c := range checks {
		if !c.IsFailure() {
			ok++
		}
	}
	rate := 100 * float64(ok) / float64(len(checks))
	return &rate
}

func averageLatency(checks []types.HealthCheck) *float64 {
	var sum float64
	var n int
	for _, c := range checks {
		if c.LatencyMs != nil {
			sum += *c.LatencyMs
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}
