package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manthysbr/umbrella/internal/core/domain"
	"github.com/manthysbr/umbrella/internal/core/services"
)

// JobAPI is the job surface the server exposes.
type JobAPI interface {
	Submit(ctx context.Context, req services.SubmitRequest, cid domain.CorrelationID) (domain.Job, error)
	Get(ctx context.Context, id domain.JobID) (domain.Job, error)
	List(ctx context.Context) ([]domain.Job, error)
	Results(ctx context.Context, id domain.JobID) (map[string]any, error)
	Cancel(ctx context.Context, id domain.JobID) (domain.Job, error)
}

// DeadLetterAPI inspects and replays dead-lettered messages.
type DeadLetterAPI interface {
	DeadLetters(ctx context.Context) ([]domain.DeadLetter, error)
	Replay(ctx context.Context, id domain.MessageID) (domain.Envelope, error)
}

// HealthAPI reports collaborator readiness.
type HealthAPI interface {
	Check(ctx context.Context, cid domain.CorrelationID) services.AggregateHealth
}

type Server struct {
	logger      *slog.Logger
	jobs        JobAPI
	deadLetters DeadLetterAPI
	health      HealthAPI
	eventBus    *services.EventBus
	gatherer    prometheus.Gatherer
}

func NewServer(
	logger *slog.Logger,
	jobs JobAPI,
	deadLetters DeadLetterAPI,
	health HealthAPI,
	eventBus *services.EventBus,
	gatherer prometheus.Gatherer,
) *Server {
	return &Server{
		logger:      logger,
		jobs:        jobs,
		deadLetters: deadLetters,
		health:      health,
		eventBus:    eventBus,
		gatherer:    gatherer,
	}
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.correlation)
	r.Use(s.requestLog)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmitJob)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Get("/{id}/results", s.handleGetResults)
		r.Get("/{id}/events", s.handleJobEvents)
		r.Delete("/{id}", s.handleCancelJob)
	})

	r.Get("/deadletters", s.handleListDeadLetters)
	r.Post("/deadletters/{id}/replay", s.handleReplayDeadLetter)

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// correlation reuses the caller's X-Correlation-ID or mints one, and echoes
// it on every response.
func (s *Server) correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := domain.CorrelationOrNew(r.Header.Get(domain.CorrelationHeader))
		w.Header().Set(domain.CorrelationHeader, string(cid))
		next.ServeHTTP(w, r.WithContext(services.ContextWithCorrelation(r.Context(), cid)))
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"correlation_id", string(correlationID(r)),
		)
	})
}

func correlationID(r *http.Request) domain.CorrelationID {
	cid, _ := services.CorrelationFromContext(r.Context())
	return cid
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, domain.ErrInvalidGraph), errors.Is(err, domain.ErrCycleDetected):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrDeadLetterNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrJobNotCompleted), errors.Is(err, domain.ErrJobTerminal):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "correlation_id", string(correlationID(r)), "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
