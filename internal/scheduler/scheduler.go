// Package scheduler drives the monitor's single periodic tick: probe the
// work peer directly, fan out to the rest of the services through the
// broker once the work peer is confirmed up, fold in echoes from prior
// ticks, and run the detector over every service that has new checks.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/healthwatch/internal/detector"
	"github.com/fleetops/healthwatch/internal/probe"
	"github.com/fleetops/healthwatch/internal/types"
)

// Store is the subset of store.Store the scheduler needs directly (beyond
// what it hands to the detector).
type Store interface {
	AppendCheck(ctx context.Context, c types.HealthCheck) (int64, error)
}

// Broker is the subset of broker.Broker the scheduler needs.
type Broker interface {
	PublishPing(ctx context.Context, req types.PingRequest) error
	PopEcho(ctx context.Context, maxResults int) ([]types.EchoPayload, error)
}

// Stats is a snapshot of scheduler activity, mirroring the shape of the
// reference deployment's /status endpoint.
type Stats struct {
	Running         bool      `json:"running"`
	PingIntervalSec int       `json:"ping_interval_seconds"`
	PingCount       int64     `json:"ping_count"`
	EchoCount       int64     `json:"echo_count"`
	LastPingTime    time.Time `json:"last_ping_time"`
	LastEchoTime    time.Time `json:"last_echo_time"`
}

// Scheduler ticks the probe-detect cycle on a fixed interval.
//
// doTick runs both from Run's ticker and, via Tick, from the read API's
// POST /ping handler on the HTTP server's own goroutine — concurrently
// with each other and with Stats() reads from a /status request. statsMu
// guards the stat fields below; it does not serialize doTick itself
// (overlapping ticks against the store are fine, and per-service
// ordering is the detector's own lock's job, not the scheduler's).
type Scheduler struct {
	store    Store
	prober   *probe.Prober
	broker   Broker // nil disables the fan-out leg entirely
	detector *detector.Detector
	workPeer string
	services []string
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}

	statsMu   sync.Mutex
	running   bool
	pingCount int64
	echoCount int64
	lastPing  time.Time
	lastEcho  time.Time
}

// Config carries the scheduler's wiring.
type Config struct {
	WorkPeer string
	Services []string // all monitored services including WorkPeer
	Interval time.Duration
}

// New creates a Scheduler.
func New(store Store, prober *probe.Prober, brk Broker, det *detector.Detector, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		prober:   prober,
		broker:   brk,
		detector: det,
		workPeer: cfg.WorkPeer,
		services: cfg.Services,
		interval: cfg.Interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Run ticks until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) error {
	s.setRunning(true)
	defer s.setRunning(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	echoTicker := time.NewTicker(s.interval)
	defer echoTicker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval, "services", len(s.services))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.tick(ctx)
		case <-echoTicker.C:
			s.drainEchoes(ctx)
		}
	}
}

// Stop signals Run to return at the next select.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// Stats returns a snapshot for the read API's /status endpoint.
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return Stats{
		Running:         s.running,
		PingIntervalSec: int(s.interval.Seconds()),
		PingCount:       s.pingCount,
		EchoCount:       s.echoCount,
		LastPingTime:    s.lastPing,
		LastEchoTime:    s.lastEcho,
	}
}

func (s *Scheduler) setRunning(running bool) {
	s.statsMu.Lock()
	s.running = running
	s.statsMu.Unlock()
}

func (s *Scheduler) recordPing() {
	s.statsMu.Lock()
	s.pingCount++
	s.lastPing = time.Now()
	s.statsMu.Unlock()
}

func (s *Scheduler) recordEcho(n int) {
	s.statsMu.Lock()
	s.echoCount += int64(n)
	s.lastEcho = time.Now()
	s.statsMu.Unlock()
}

func (s *Scheduler) tick(ctx context.Context) {
	s.doTick(ctx, newRequestID())
}

// Tick forces an immediate probe-detect cycle outside the regular
// interval, for the read API's POST /ping, and returns the request_id
// assigned to it.
func (s *Scheduler) Tick(ctx context.Context) string {
	requestID := newRequestID()
	s.doTick(ctx, requestID)
	return requestID
}

func (s *Scheduler) doTick(ctx context.Context, requestID string) {
	s.recordPing()

	check := s.prober.Probe(ctx, requestID, s.workPeer)
	if _, err := s.store.AppendCheck(ctx, check); err != nil {
		s.logger.Error("append_check failed", "service", s.workPeer, "error", err)
	}

	if _, _, err := s.detector.Evaluate(ctx, s.workPeer); err != nil {
		s.logger.Error("detector evaluate failed", "service", s.workPeer, "error", err)
	}

	if check.Status != types.StatusUp {
		s.logger.Warn("work peer not up, skipping broker fan-out", "service", s.workPeer, "status", check.Status)
		return
	}

	if s.broker == nil {
		return
	}
	if err := s.broker.PublishPing(ctx, types.PingRequest{RequestID: requestID}); err != nil {
		s.logger.Error("publish_ping failed", "error", err)
	}
}

// drainEchoes folds in echo payloads from prior ticks and runs the
// detector over every service that received a fresh check.
func (s *Scheduler) drainEchoes(ctx context.Context) {
	if s.broker == nil {
		return
	}

	payloads, err := s.broker.PopEcho(ctx, len(s.services))
	if err != nil {
		s.logger.Error("pop_echo failed", "error", err)
		return
	}
	if len(payloads) == 0 {
		return
	}

	s.recordEcho(len(payloads))

	for _, payload := range payloads {
		for _, r := range payload.Results {
			check := types.HealthCheck{
				Service:   r.Service,
				RequestID: payload.RequestID,
				Status:    r.Status,
				LatencyMs: r.LatencyMs,
				HTTPCode:  r.HTTPCode,
				Timestamp: payload.Timestamp,
				IsTimeout: r.Status == types.StatusTimeout,
			}
			if _, err := s.store.AppendCheck(ctx, check); err != nil {
				s.logger.Error("append_check failed", "service", r.Service, "error", err)
				continue
			}
			if _, _, err := s.detector.Evaluate(ctx, r.Service); err != nil {
				s.logger.Error("detector evaluate failed", "service", r.Service, "error", err)
			}
		}
	}
}

func newRequestID() string {
	return uuid.New().String()
}
