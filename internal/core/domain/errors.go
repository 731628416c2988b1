package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph       = errors.New("invalid subtask graph")
	ErrCycleDetected      = errors.New("cycle detected in subtask graph")
	ErrDeadLetterNotFound = errors.New("dead letter not found")
)

// ValidationError rejects a job before any execution. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports an unknown service or route. Never retried.
type ConfigurationError struct {
	Service ServiceName
	Msg     string
}

func (e *ConfigurationError) Error() string {
	if e.Service == "" {
		return "configuration error: " + e.Msg
	}
	return fmt.Sprintf("configuration error: service %q: %s", e.Service, e.Msg)
}

// DependencyError means a Reference could not be resolved. It signals a
// decomposition bug: the subtask fails immediately without a remote call.
type DependencyError struct {
	SubtaskID SubtaskID
	Ref       Reference
	Reason    string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("subtask %s: unresolved reference %s: %s", e.SubtaskID, e.Ref, e.Reason)
}

// RemoteServiceError is a collaborator failure. Transient failures are
// retried by the client; the error the executor sees is terminal.
type RemoteServiceError struct {
	Service    ServiceName
	Action     string
	StatusCode int // 0 when no response was received
	Attempts   int
	Transient  bool
	Err        error
}

func (e *RemoteServiceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "remote service %s/%s failed", e.Service, e.Action)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " with status %d", e.StatusCode)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// AggregateFailure is the job-level failure: one root cause, plus the
// subtasks skipped because of it (or of other failures).
type AggregateFailure struct {
	RootCause SubtaskID
	Err       error
	Failed    []SubtaskID
	Skipped   []SubtaskID
}

func (e *AggregateFailure) Error() string {
	msg := fmt.Sprintf("subtask %s failed: %v", e.RootCause, e.Err)
	if len(e.Skipped) > 0 {
		ids := make([]string, len(e.Skipped))
		for i, id := range e.Skipped {
			ids[i] = string(id)
		}
		msg += fmt.Sprintf(" (skipped: %s)", strings.Join(ids, ", "))
	}
	return msg
}

func (e *AggregateFailure) Unwrap() error { return e.Err }

// JobError converts the failure into its user-visible form.
func (e *AggregateFailure) JobError() *JobError {
	return &JobError{
		Message:   e.Error(),
		SubtaskID: e.RootCause,
		Skipped:   e.Skipped,
	}
}
