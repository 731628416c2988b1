package services

import (
	"context"
	"log/slog"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

// Use a private type for context keys to avoid collisions
type serviceContextKey string

const (
	ctxKeyCorrelationID serviceContextKey = "correlation_id"
)

// ContextWithCorrelation injects the CorrelationID into the context. Only the
// HTTP boundary uses this; the core takes the ID as an explicit argument.
func ContextWithCorrelation(ctx context.Context, cid domain.CorrelationID) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, cid)
}

// CorrelationFromContext retrieves the CorrelationID from the context
func CorrelationFromContext(ctx context.Context) (domain.CorrelationID, bool) {
	cid, ok := ctx.Value(ctxKeyCorrelationID).(domain.CorrelationID)
	return cid, ok && cid != ""
}

// correlatedLogger tags every record with the correlation ID.
func correlatedLogger(logger *slog.Logger, cid domain.CorrelationID) *slog.Logger {
	return logger.With("correlation_id", string(cid))
}
