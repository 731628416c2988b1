package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type JobID string

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is one end-to-end unit of work submitted by a caller.
type Job struct {
	ID            JobID           `json:"id"`
	Type          string          `json:"type"`
	Content       map[string]any  `json:"content"`
	Context       map[string]any  `json:"context,omitempty"`
	Status        JobStatus       `json:"status"`
	CorrelationID CorrelationID   `json:"correlation_id"`
	Progress      int             `json:"progress"` // 0-100, share of subtasks in a terminal state
	Subtasks      []SubtaskRecord `json:"subtasks,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Result        map[string]any  `json:"result,omitempty"` // subtask outputs keyed by subtask ID
	Error         *JobError       `json:"error,omitempty"`
}

// JobError is the user-visible failure of a job: one root cause plus the
// subtasks that were never attempted because of it.
type JobError struct {
	Message   string      `json:"message"`
	SubtaskID SubtaskID   `json:"subtask_id,omitempty"`
	Skipped   []SubtaskID `json:"skipped,omitempty"`
}

// SubtaskRecord is the inspectable runtime view of one subtask.
type SubtaskRecord struct {
	ID          SubtaskID    `json:"id"`
	Service     ServiceName  `json:"service"`
	Action      string       `json:"action"`
	State       SubtaskState `json:"state"`
	Attempts    int          `json:"attempts,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       *string      `json:"error,omitempty"`
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
	ErrJobTerminal     = errors.New("job already finished")
)
