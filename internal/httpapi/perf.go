package httpapi

import (
	"net/http"
	"strings"
)

// handlePerfLatency reports the rolling stage latencies. ?stage=text,media
// narrows the report to the listed stages.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	var stages []string
	for _, part := range strings.Split(r.URL.Query().Get("stage"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			stages = append(stages, part)
		}
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotTurnStages(stages...))
}

func (s *Server) handlePerfReset(w http.ResponseWriter, _ *http.Request) {
	s.metrics.ResetTurnStages()
	w.WriteHeader(http.StatusNoContent)
}
