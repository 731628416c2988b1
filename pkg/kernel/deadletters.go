package kernel

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

// GET /deadletters
func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	dls, err := s.deadLetters.DeadLetters(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if dls == nil {
		dls = []domain.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dead_letters": dls,
		"count":        len(dls),
	})
}

// handleReplayDeadLetter puts a dead letter back on its topic.
// POST /deadletters/{id}/replay
func (s *Server) handleReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	env, err := s.deadLetters.Replay(r.Context(), domain.MessageID(chi.URLParam(r, "id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message_id": env.ID,
		"topic":      env.Topic,
	})
}
