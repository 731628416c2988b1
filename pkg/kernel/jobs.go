package kernel

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/manthysbr/umbrella/internal/core/domain"
	"github.com/manthysbr/umbrella/internal/core/services"
)

type jobView struct {
	JobID         domain.JobID           `json:"job_id"`
	Type          string                 `json:"type"`
	Status        domain.JobStatus       `json:"status"`
	Progress      int                    `json:"progress"`
	CorrelationID domain.CorrelationID   `json:"correlation_id"`
	Subtasks      []domain.SubtaskRecord `json:"subtasks"`
	Error         *domain.JobError       `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func toJobView(j domain.Job) jobView {
	subtasks := j.Subtasks
	if subtasks == nil {
		subtasks = []domain.SubtaskRecord{}
	}
	return jobView{
		JobID:         j.ID,
		Type:          j.Type,
		Status:        j.Status,
		Progress:      j.Progress,
		CorrelationID: j.CorrelationID,
		Subtasks:      subtasks,
		Error:         j.Error,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

// handleSubmitJob accepts a job for asynchronous execution.
// POST /jobs
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req services.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.NewValidationError("invalid request body: %v", err))
		return
	}
	if req.Type == "" {
		s.writeError(w, r, domain.NewValidationError("missing field: type"))
		return
	}

	job, err := s.jobs.Submit(r.Context(), req, correlationID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// GET /jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = toJobView(j)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  views,
		"count": len(views),
	})
}

// GET /jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), domain.JobID(chi.URLParam(r, "id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

// handleGetResults returns per-subtask results of a completed job.
// GET /jobs/{id}/results
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "id"))
	results, err := s.jobs.Results(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if results == nil {
		results = map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  id,
		"results": results,
	})
}

// DELETE /jobs/{id}
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(r.Context(), domain.JobID(chi.URLParam(r, "id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}
