// Package broker provides a Redis-backed FIFO queue standing in for the
// Celery-style message broker the probe engine fans pings out through.
// The scheduler enqueues a probe request for the services other than the
// direct work peer; fan-out workers pop it, probe those services, and push
// the outcome onto another queue; this decouples the scheduler's send from
// the eventual worker's echo the way the buffer in the control plane
// decouples ingestion from storage.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetops/healthwatch/internal/types"
)

const (
	queuePing = "healthwatch:monitoring.ping"
	queueEcho = "healthwatch:monitoring.echo"
)

// Broker fans ping requests out to a queue and collects echoes back.
type Broker struct {
	client *redis.Client
	logger *slog.Logger
}

// New connects to the broker's Redis instance.
func New(redisURL string, logger *slog.Logger) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Broker{client: client, logger: logger}, nil
}

// PublishPing enqueues a ping request for the fan-out workers to pick up.
func (b *Broker) PublishPing(ctx context.Context, req types.PingRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling ping request: %w", err)
	}
	return b.client.LPush(ctx, queuePing, data).Err()
}

// PublishEcho enqueues a batch of probe outcomes. Workers call this after
// running their own checks; the scheduler reads it back with PopEcho.
func (b *Broker) PublishEcho(ctx context.Context, payload types.EchoPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling echo payload: %w", err)
	}
	return b.client.LPush(ctx, queueEcho, data).Err()
}

// PopPing retrieves and removes up to maxRequests ping requests, FIFO
// order, for a fan-out worker to probe.
func (b *Broker) PopPing(ctx context.Context, maxRequests int) ([]types.PingRequest, error) {
	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, maxRequests)
	for i := 0; i < maxRequests; i++ {
		cmds[i] = pipe.RPop(ctx, queuePing)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("popping ping queue: %w", err)
	}

	reqs := make([]types.PingRequest, 0, maxRequests)
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			continue
		}
		var req types.PingRequest
		if err := json.Unmarshal(data, &req); err != nil {
			b.logger.Warn("failed to unmarshal ping request", "error", err)
			continue
		}
		reqs = append(reqs, req)
	}

	return reqs, nil
}

// EchoBacklog reports the number of echo payloads still queued, surfaced
// by the read API's /status endpoint as part of broker_backlog.
func (b *Broker) EchoBacklog(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, queueEcho).Result()
}

// PopEcho retrieves and removes up to maxResults echo payloads, FIFO
// order, for the scheduler to store and run the detector over.
func (b *Broker) PopEcho(ctx context.Context, maxResults int) ([]types.EchoPayload, error) {
	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, maxResults)
	for i := 0; i < maxResults; i++ {
		cmds[i] = pipe.RPop(ctx, queueEcho)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("popping echo queue: %w", err)
	}

	payloads := make([]types.EchoPayload, 0, maxResults)
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			continue
		}
		var p types.EchoPayload
		if err := json.Unmarshal(data, &p); err != nil {
			b.logger.Warn("failed to unmarshal echo payload", "error", err)
			continue
		}
		payloads = append(payloads, p)
	}

	return payloads, nil
}

// SelfPing probes the broker's own Redis connection with a PING command
// and reports the outcome as a PingResult under the given service name —
// the "broker-self TCP/PING" leg every fan-out worker folds into its
// Echo alongside the HTTP probes of the other services.
func (b *Broker) SelfPing(ctx context.Context, serviceName string) types.PingResult {
	start := time.Now()
	err := b.client.Ping(ctx).Err()
	latency := time.Since(start).Seconds() * 1000

	if err != nil {
		return types.PingResult{
			Service:   serviceName,
			Status:    types.StatusDown,
			LatencyMs: &latency,
			IsFailure: true,
		}
	}
	return types.PingResult{
		Service:   serviceName,
		Status:    types.StatusUp,
		LatencyMs: &latency,
		IsFailure: false,
	}
}

// Backlog reports the number of ping requests still queued, surfaced by
// the read API's /status endpoint as broker_backlog.
func (b *Broker) Backlog(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, queuePing).Result()
}

// Close closes the Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}
