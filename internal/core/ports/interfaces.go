package ports

import (
	"context"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

// RemoteCaller abstracts the collaborator transport (HTTP in production).
type RemoteCaller interface {
	// Call posts body to /{action} on service and returns the decoded JSON
	// response. Transient failures are retried according to policy; the
	// returned error is terminal.
	Call(ctx context.Context, service domain.ServiceName, action string, body map[string]any, cid domain.CorrelationID, policy domain.RetryPolicy) (map[string]any, error)

	// Health probes GET /health on service. Never retried.
	Health(ctx context.Context, service domain.ServiceName, cid domain.CorrelationID) domain.ServiceHealth
}

// Publisher is the write side of the message channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, body any, priority int, cid domain.CorrelationID) error
}

// JobRepository abstracts the persistent job storage (DuckDB)
type JobRepository interface {
	// SaveJob upserts the full job snapshot.
	SaveJob(ctx context.Context, job domain.Job) error

	// GetJob retrieves a job by ID or returns domain.ErrJobNotFound.
	GetJob(ctx context.Context, id domain.JobID) (domain.Job, error)

	// ListJobs returns all jobs, newest first.
	ListJobs(ctx context.Context) ([]domain.Job, error)

	DeleteJob(ctx context.Context, id domain.JobID) error
}

// DeadLetterStore abstracts where exhausted messages end up (Badger)
type DeadLetterStore interface {
	// Put stores the dead letter until its ExpiresAt.
	Put(ctx context.Context, dl domain.DeadLetter) error

	// Get returns domain.ErrDeadLetterNotFound for unknown or expired IDs.
	Get(ctx context.Context, id domain.MessageID) (domain.DeadLetter, error)

	List(ctx context.Context) ([]domain.DeadLetter, error)
	Delete(ctx context.Context, id domain.MessageID) error
}
