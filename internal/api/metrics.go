package api

import (
	"net/http"
	"strconv"

	"github.com/fleetops/healthwatch/internal/config"
)

func (s *Server) handleAllMetrics(w http.ResponseWriter, r *http.Request) {
	wh := windowHours(r, config.DefaultWindowHours)

	cacheKey := "metrics:all:" + formatWindow(wh)
	var cached any
	if ok, _ := s.cache.GetJSON(r.Context(), cacheKey, &cached); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	global, err := s.metrics.GetAllServicesMetrics(r.Context(), s.services, wh)
	if err != nil {
		s.logger.Error("get_all_services_metrics failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}

	_ = s.cache.SetJSON(r.Context(), cacheKey, global, config.DefaultCacheTTL)
	writeJSON(w, http.StatusOK, global)
}

func (s *Server) handleServiceMetrics(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	if service == "" {
		writeError(w, http.StatusBadRequest, "service name required")
		return
	}
	if !s.knownService(service) {
		writeError(w, http.StatusNotFound, "unknown service")
		return
	}

	wh := windowHours(r, config.DefaultWindowHours)
	m, err := s.metrics.GetServiceMetrics(r.Context(), service, wh)
	if err != nil {
		s.logger.Error("get_service_metrics failed", "service", service, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleExperimentSummary(w http.ResponseWriter, r *http.Request) {
	wh := windowHours(r, config.ExperimentWindowHours)

	summary, err := s.metrics.GetExperimentSummary(r.Context(), s.services, wh)
	if err != nil {
		s.logger.Error("get_experiment_summary failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute experiment summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) knownService(service string) bool {
	for _, svc := range s.services {
		if svc == service {
			return true
		}
	}
	return false
}

func formatWindow(wh float64) string {
	return strconv.FormatFloat(wh, 'f', -1, 64)
}
