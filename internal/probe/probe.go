// Package probe implements the hybrid probe engine: a direct HTTP check
// against the work peer, plus a concurrent fan-out of HTTP checks across
// the remaining monitored services. Only the work-peer leg is "direct" in
// the sense the original system meant it (synchronous, in this process);
// the broker fan-out leg runs through internal/broker instead, triggered
// separately once the work peer is confirmed UP.
package probe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetops/healthwatch/internal/types"
)

// Prober runs HTTP health checks against a fixed set of service URLs.
type Prober struct {
	client   *http.Client
	services map[string]string // service name -> health check URL
	logger   *slog.Logger
}

// New creates a Prober with a per-request timeout applied as a hard
// deadline on every probe, overriding any longer context deadline passed
// to Probe/ProbeAll.
func New(services map[string]string, timeout time.Duration, logger *slog.Logger) *Prober {
	return &Prober{
		client: &http.Client{
			Timeout: timeout,
		},
		services: services,
		logger:   logger,
	}
}

// Probe runs a single HTTP check against the named service and classifies
// the outcome. latencyMs is measured from just before the request is sent
// to just after it returns or fails, even on error.
func (p *Prober) Probe(ctx context.Context, requestID, service string) types.HealthCheck {
	url, ok := p.services[service]
	if !ok {
		return types.HealthCheck{
			Service:      service,
			RequestID:    requestID,
			Status:       types.StatusDown,
			Timestamp:    time.Now(),
			ErrorMessage: "service has no configured health check URL",
		}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return p.classify(requestID, service, start, 0, false, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || isTimeoutErr(err)
		return p.classify(requestID, service, start, 0, timedOut, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	return p.classify(requestID, service, start, resp.StatusCode, false, nil)
}

func (p *Prober) classify(requestID, service string, start time.Time, httpCode int, timedOut bool, probeErr error) types.HealthCheck {
	latency := time.Since(start).Seconds() * 1000
	c := types.HealthCheck{
		Service:   service,
		RequestID: requestID,
		Timestamp: time.Now(),
		LatencyMs: &latency,
	}

	switch {
	case timedOut:
		c.Status = types.StatusTimeout
		c.IsTimeout = true
		c.ErrorMessage = probeErr.Error()
	case probeErr != nil:
		c.Status = types.StatusDown
		c.ErrorMessage = probeErr.Error()
	case httpCode >= 200 && httpCode < 300:
		c.Status = types.StatusUp
		c.HTTPCode = &httpCode
	default:
		c.Status = types.StatusDegraded
		c.HTTPCode = &httpCode
	}

	return c
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// ProbeAll runs concurrent checks against every given service and returns
// one HealthCheck per service, order matching the input slice. A single
// service's failure never aborts the others — probe errors are already
// folded into the returned status, so this never itself returns an error.
func (p *Prober) ProbeAll(ctx context.Context, requestID string, services []string) []types.HealthCheck {
	results := make([]types.HealthCheck, len(services))

	g, gctx := errgroup.WithContext(ctx)
	for i, service := range services {
		i, service := i, service
		g.Go(func() error {
			results[i] = p.Probe(gctx, requestID, service)
			return nil
		})
	}
	_ = g.Wait() // no worker returns an error; Wait only waits

	return results
}
