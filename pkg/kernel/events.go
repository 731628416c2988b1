package kernel

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/manthysbr/umbrella/internal/core/domain"
	"github.com/manthysbr/umbrella/internal/core/services"
)

const sseKeepAlive = 15 * time.Second

// handleJobEvents streams a job's status and subtask events as SSE. The
// stream ends once the job reaches a terminal status.
// GET /jobs/{id}/events
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "id"))
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before taking the snapshot so no event slips in between.
	ch, unsub := s.eventBus.Subscribe(id)
	defer unsub()

	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: %s\ndata: {\"job_id\":%q,\"status\":%q,\"progress\":%d}\n\n",
		services.EventTypeStatus, job.ID, job.Status, job.Progress)
	flusher.Flush()
	if job.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
			if evt.Type == services.EventTypeStatus && s.isTerminal(r, id) {
				return
			}
		}
	}
}

func (s *Server) isTerminal(r *http.Request, id domain.JobID) bool {
	job, err := s.jobs.Get(r.Context(), id)
	return err == nil && job.Status.IsTerminal()
}
