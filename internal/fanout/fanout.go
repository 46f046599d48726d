// Package fanout runs the broker-consumer side of the probe fan-out: a
// small pool of goroutines that drain monitoring.ping, run the indirect
// HTTP probes plus the broker-self TCP/PING, and publish the combined
// outcome back on monitoring.echo for the Scheduler to fold in on its
// next drainEchoes pass.
//
// Pool workers share one stop channel over a Start/Stop/sync.WaitGroup
// shape, generalized from a single ticker-driven flush loop to N
// concurrent poll loops.
package fanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetops/healthwatch/internal/types"
)

// Broker is the subset of broker.Broker a fan-out worker needs.
type Broker interface {
	PopPing(ctx context.Context, maxRequests int) ([]types.PingRequest, error)
	PublishEcho(ctx context.Context, payload types.EchoPayload) error
	SelfPing(ctx context.Context, serviceName string) types.PingResult
}

// Prober is the subset of probe.Prober a fan-out worker needs.
type Prober interface {
	ProbeAll(ctx context.Context, requestID string, services []string) []types.HealthCheck
}

// Pool runs a fixed number of broker-consumer goroutines.
type Pool struct {
	broker    Broker
	prober    Prober
	services  []string // every monitored service except the work peer
	brokerTag string   // service name the broker-self ping is reported under

	workers      int
	pollInterval time.Duration
	popBatch     int

	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config carries a fan-out pool's tunables.
type Config struct {
	Workers      int
	PollInterval time.Duration
	PopBatch     int
}

// New creates a fan-out pool. services must exclude the work peer — that
// leg is probed directly by the Scheduler, never through the broker.
func New(broker Broker, prober Prober, services []string, brokerTag string, cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.PopBatch <= 0 {
		cfg.PopBatch = 1
	}
	return &Pool{
		broker:       broker,
		prober:       prober,
		services:     services,
		brokerTag:    brokerTag,
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		popBatch:     cfg.PopBatch,
		logger:       logger.With("component", "fanout"),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the worker pool. Safe to call at most once.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.logger.Info("fan-out pool started", "workers", p.workers, "services", len(p.services))
}

// Stop signals every worker to exit and waits for them to drain.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("fan-out pool stopped")
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.poll(id)
		}
	}
}

func (p *Pool) poll(workerID int) {
	ctx := context.Background()

	reqs, err := p.broker.PopPing(ctx, p.popBatch)
	if err != nil {
		p.logger.Error("failed to pop ping queue", "worker", workerID, "error", err)
		return
	}

	for _, req := range reqs {
		p.handle(ctx, req)
	}
}

func (p *Pool) handle(ctx context.Context, req types.PingRequest) {
	checks := p.prober.ProbeAll(ctx, req.RequestID, p.services)

	results := make([]types.PingResult, 0, len(checks)+1)
	for _, c := range checks {
		results = append(results, toPingResult(c))
	}
	results = append(results, p.broker.SelfPing(ctx, p.brokerTag))

	payload := types.EchoPayload{
		RequestID: req.RequestID,
		Timestamp: time.Now(),
		Results:   results,
	}

	if err := p.broker.PublishEcho(ctx, payload); err != nil {
		p.logger.Error("failed to publish echo", "request_id", req.RequestID, "error", err)
	}
}

func toPingResult(c types.HealthCheck) types.PingResult {
	return types.PingResult{
		Service:   c.Service,
		Status:    c.Status,
		LatencyMs: c.LatencyMs,
		HTTPCode:  c.HTTPCode,
		IsFailure: c.IsFailure(),
	}
}
