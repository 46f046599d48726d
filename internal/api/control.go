package api

import "net/http"

// handlePing forces an immediate probe-detect cycle outside the regular
// scheduler interval.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	requestID := s.scheduler.Tick(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"request_id": requestID})
}

type evaluateResult struct {
	Service string `json:"service"`
	Outcome string `json:"outcome"`
}

// handleEvaluate forces the detector over every monitored service. A
// single service's evaluation error is reported inline rather than
// failing the whole request.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	results := make([]evaluateResult, 0, len(s.services))
	for _, service := range s.services {
		outcome, _, err := s.detector.Evaluate(r.Context(), service)
		if err != nil {
			s.logger.Error("evaluate failed", "service", service, "error", err)
			results = append(results, evaluateResult{Service: service, Outcome: "error"})
			continue
		}
		results = append(results, evaluateResult{Service: service, Outcome: string(outcome)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
