package services

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/umbrella/internal/core/domain"
	"github.com/manthysbr/umbrella/internal/core/ports"
)

// AggregateHealth is the orchestrator's readiness view of its collaborators.
type AggregateHealth struct {
	Status    string                 `json:"status"` // "healthy" or "degraded"
	Services  []domain.ServiceHealth `json:"services"`
	CheckedAt time.Time              `json:"checked_at"`
}

type HealthChecker struct {
	caller   ports.RemoteCaller
	registry *domain.ServiceRegistry
}

func NewHealthChecker(caller ports.RemoteCaller, registry *domain.ServiceRegistry) *HealthChecker {
	return &HealthChecker{caller: caller, registry: registry}
}

// Check probes every registered service concurrently.
func (h *HealthChecker) Check(ctx context.Context, cid domain.CorrelationID) AggregateHealth {
	names := h.registry.Names()
	results := make([]domain.ServiceHealth, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = h.caller.Health(gctx, name, cid)
			return nil
		})
	}
	_ = g.Wait()

	agg := AggregateHealth{Status: "healthy", Services: results, CheckedAt: time.Now().UTC()}
	for _, r := range results {
		if r.Status != domain.HealthStatusHealthy {
			agg.Status = "degraded"
			break
		}
	}
	return agg
}
