package kernel

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 10 * time.Second

// handleHealth reports the orchestrator as up, with collaborator readiness.
// It always answers 200; collaborator state never gates job execution.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	agg := s.health.Check(ctx, correlationID(r))
	dependencies := make(map[string]any, len(agg.Services))
	for _, svc := range agg.Services {
		dependencies[string(svc.Service)] = svc
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       agg.Status,
		"dependencies": dependencies,
		"checked_at":   agg.CheckedAt,
	})
}
