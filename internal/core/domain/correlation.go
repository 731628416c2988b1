package domain

import "github.com/google/uuid"

// CorrelationHeader carries the correlation ID on HTTP requests and responses.
const CorrelationHeader = "X-Correlation-ID"

// CorrelationID ties together every operation that belongs to one job.
// It is created once at ingress and never changed afterwards.
type CorrelationID string

func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.New().String())
}

// CorrelationOrNew reuses a caller-supplied value unchanged, or generates one.
func CorrelationOrNew(supplied string) CorrelationID {
	if supplied == "" {
		return NewCorrelationID()
	}
	return CorrelationID(supplied)
}
