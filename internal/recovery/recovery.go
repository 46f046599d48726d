// Package recovery implements the restart-automation orchestrator: given a
// service name and an open incident id, it restarts the service's
// container unless the service is on the protection list, and reports
// what happened. It never touches an incident row — whether the restart
// succeeded has no bearing on whether the detector considers the service
// recovered; that is decided only by observed UPs.
package recovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/sync/singleflight"
)

// Result reports the outcome of a single recovery attempt.
type Result struct {
	Service     string `json:"service"`
	IncidentID  int64  `json:"incident_id"`
	Success     bool   `json:"success"`
	Action      string `json:"action"`
	Error       string `json:"error,omitempty"`
	ContainerID string `json:"container_id,omitempty"`
}

// Config carries the container mapping and the policy gate.
type Config struct {
	Enabled           bool
	ProtectionSet     []string
	ServiceContainers map[string]string
	RestartTimeout    time.Duration
}

// Orchestrator restarts a misbehaving service's container.
type Orchestrator struct {
	enabled       bool
	protected     map[string]bool
	containers    map[string]string
	timeout       time.Duration
	logger        *slog.Logger
	group         singleflight.Group
	restartDocker func(ctx context.Context, container string, timeout time.Duration) error
}

// New creates an Orchestrator whose restart action is the real
// `docker restart` invocation; tests replace the restartDocker field with a
// stub.
func New(cfg Config, logger *slog.Logger) *Orchestrator {
	protected := make(map[string]bool, len(cfg.ProtectionSet))
	for _, s := range cfg.ProtectionSet {
		protected[s] = true
	}

	return &Orchestrator{
		enabled:       cfg.Enabled,
		protected:     protected,
		containers:    cfg.ServiceContainers,
		timeout:       cfg.RestartTimeout,
		logger:        logger,
		restartDocker: dockerRestart,
	}
}

// Recover attempts to restart the named service. At most one restart for
// a given service is ever in flight at a time — a flurry of ongoing-failure
// ticks for the same incident must not pile up restart commands, so
// concurrent calls for the same service share one singleflight call and
// each caller gets that call's result.
func (o *Orchestrator) Recover(ctx context.Context, service string, incidentID int64) Result {
	if !o.enabled {
		return Result{Service: service, IncidentID: incidentID, Success: false, Error: "auto-recovery disabled"}
	}

	container, ok := o.containers[service]
	if !ok {
		return Result{Service: service, IncidentID: incidentID, Success: false, Error: "unknown service"}
	}

	if o.protected[service] {
		o.logger.Warn("recovery skipped: protected service", "service", service, "incident_id", incidentID)
		return Result{Service: service, IncidentID: incidentID, Success: false, Error: "protected", ContainerID: container}
	}

	o.logger.Warn("triggering recovery", "service", service, "incident_id", incidentID, "container", container)

	v, err, _ := o.group.Do(service, func() (any, error) {
		return nil, o.restartDocker(ctx, container, o.timeout)
	})
	_ = v

	if err != nil {
		o.logger.Error("recovery failed", "service", service, "incident_id", incidentID, "container", container, "error", err)
		return Result{Service: service, IncidentID: incidentID, Success: false, Action: "restart", Error: err.Error(), ContainerID: container}
	}

	o.logger.Info("recovery succeeded", "service", service, "incident_id", incidentID, "container", container)
	return Result{Service: service, IncidentID: incidentID, Success: true, Action: "restart", ContainerID: container}
}

// AsRecoveryFunc adapts Recover to detector.RecoveryFunc, discarding the
// result — the detector only needs the side effect, never the outcome.
func (o *Orchestrator) AsRecoveryFunc() func(ctx context.Context, service string, incidentID int64) {
	return func(ctx context.Context, service string, incidentID int64) {
		o.Recover(ctx, service, incidentID)
	}
}

func dockerRestart(ctx context.Context, container string, timeout time.Duration) error {
	restartCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(restartCtx, "docker", "restart", "--time", fmt.Sprintf("%d", int(timeout.Seconds())), container)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(restartCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("docker restart timed out: %w", restartCtx.Err())
		}
		return fmt.Errorf("docker restart failed: %w (stderr: %s)", err, stderr.String())
	}

	return nil
}
