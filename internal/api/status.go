package api

import (
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type statusResponse struct {
	Running         bool       `json:"running"`
	PingIntervalSec int        `json:"ping_interval_seconds"`
	PingCount       int64      `json:"ping_count"`
	EchoCount       int64      `json:"echo_count"`
	LastPingTime    time.Time  `json:"last_ping_time"`
	LastEchoTime    time.Time  `json:"last_echo_time"`
	BrokerBacklog   *backlog   `json:"broker_backlog,omitempty"`
}

type backlog struct {
	PingQueueDepth int64 `json:"monitoring_ping"`
	EchoQueueDepth int64 `json:"monitoring_echo"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.scheduler.Stats()
	resp := statusResponse{
		Running:         stats.Running,
		PingIntervalSec: stats.PingIntervalSec,
		PingCount:       stats.PingCount,
		EchoCount:       stats.EchoCount,
		LastPingTime:    stats.LastPingTime,
		LastEchoTime:    stats.LastEchoTime,
	}

	if s.broker != nil {
		ctx := r.Context()
		pingDepth, err := s.broker.Backlog(ctx)
		if err != nil {
			s.logger.Warn("broker backlog lookup failed", "queue", "monitoring.ping", "error", err)
		}
		echoDepth, err := s.broker.EchoBacklog(ctx)
		if err != nil {
			s.logger.Warn("broker backlog lookup failed", "queue", "monitoring.echo", "error", err)
		}
		resp.BrokerBacklog = &backlog{PingQueueDepth: pingDepth, EchoQueueDepth: echoDepth}
	}

	writeJSON(w, http.StatusOK, resp)
}
