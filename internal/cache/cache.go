// Package cache holds the read-through plan cache used by the catalog and the portal.
// Two backends exist: an in-process map for single-replica deployments and Redis when
// several replicas must observe an invalidation at once. A cache failure is never fatal;
// callers fall back to the database.
package cache

import (
	"context"

	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/telemetry"
)

// PlanCache caches subscription plans. Invalidate drops both the entry for id and the
// cached listing.
type PlanCache interface {
	GetPlans(ctx context.Context) ([]*models.Plan, bool)
	SetPlans(ctx context.Context, plans []*models.Plan)
	GetPlan(ctx context.Context, id string) (*models.Plan, bool)
	SetPlan(ctx context.Context, plan *models.Plan)
	Invalidate(ctx context.Context, id string)
}

func record(hit bool) {
	if hit {
		telemetry.PlanCacheRequestsTotal.WithLabelValues("hit").Inc()
		return
	}
	telemetry.PlanCacheRequestsTotal.WithLabelValues("miss").Inc()
}

// clonePlan returns a copy that shares no mutable state with p
func clonePlan(p *models.Plan) *models.Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Features = append([]string(nil), p.Features...)
	c.FeatureFlags = make(models.FeatureFlags, len(p.FeatureFlags))
	for k, v := range p.FeatureFlags {
		c.FeatureFlags[k] = v
	}
	return &c
}

func clonePlans(plans []*models.Plan) []*models.Plan {
	out := make([]*models.Plan, 0, len(plans))
	for _, p := range plans {
		out = append(out, clonePlan(p))
	}
	return out
}

// Noop is a PlanCache that never holds anything
type Noop struct{}

func (Noop) GetPlans(context.Context) ([]*models.Plan, bool)      { return nil, false }
func (Noop) SetPlans(context.Context, []*models.Plan)             {}
func (Noop) GetPlan(context.Context, string) (*models.Plan, bool) { return nil, false }
func (Noop) SetPlan(context.Context, *models.Plan)                {}
func (Noop) Invalidate(context.Context, string)                   {}
