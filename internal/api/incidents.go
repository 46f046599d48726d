package api

import (
	"net/http"

	"github.com/fleetops/healthwatch/internal/types"
)

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	limit := listLimit(r)
	incidents, err := s.store.Incidents(r.Context(), "", limit)
	if err != nil {
		s.logger.Error("incidents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleServiceIncidents(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	if service == "" {
		writeError(w, http.StatusBadRequest, "service name required")
		return
	}

	limit := listLimit(r)
	incidents, err := s.store.Incidents(r.Context(), service, limit)
	if err != nil {
		s.logger.Error("incidents failed", "service", service, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleActiveIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := s.store.ActiveIncidents(r.Context())
	if err != nil {
		s.logger.Error("active_incidents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list active incidents")
		return
	}
	if incidents == nil {
		incidents = []types.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleHealthChecks(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	if service == "" {
		writeError(w, http.StatusBadRequest, "service name required")
		return
	}

	limit := listLimit(r)
	checks, err := s.store.RecentChecks(r.Context(), service, limit)
	if err != nil {
		s.logger.Error("recent_checks failed", "service", service, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list health checks")
		return
	}
	writeJSON(w, http.StatusOK, checks)
}
