package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/license-console/license-console/internal/cache"
	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/db/repositories"
	"github.com/license-console/license-console/internal/validation"
)

// QuotaTemplateInput carries all three default quota dimensions
type QuotaTemplateInput struct {
	Seats       *int `json:"seats" validate:"required,gte=0"`
	Labs        *int `json:"labs" validate:"required,gte=0"`
	Concurrency *int `json:"concurrency" validate:"required,gte=0"`
}

// QuotaPatch carries optional per-dimension quota values
type QuotaPatch struct {
	Seats       *int `json:"seats" validate:"omitempty,gte=0"`
	Labs        *int `json:"labs" validate:"omitempty,gte=0"`
	Concurrency *int `json:"concurrency" validate:"omitempty,gte=0"`
}

func (p *QuotaPatch) get(dim models.QuotaDimension) *int {
	switch dim {
	case models.QuotaSeats:
		return p.Seats
	case models.QuotaLabs:
		return p.Labs
	case models.QuotaConcurrency:
		return p.Concurrency
	}
	return nil
}

// PlanInput creates a plan. An empty ID is derived from Name.
type PlanInput struct {
	ID            string             `json:"id" validate:"omitempty,plan_slug"`
	Name          string             `json:"name" validate:"required,max=100"`
	Description   string             `json:"description" validate:"max=1000"`
	Features      []string           `json:"features" validate:"max=50,dive,required,max=200"`
	DefaultQuotas QuotaTemplateInput `json:"default_quotas"`
	FeatureFlags  map[string]bool    `json:"feature_flags" validate:"dive,keys,capability_key,endkeys"`
}

// PlanUpdate changes the fields that are set. Feature flags are merged key by key.
type PlanUpdate struct {
	Name          *string         `json:"name" validate:"omitempty,min=1,max=100"`
	Description   *string         `json:"description" validate:"omitempty,max=1000"`
	Features      *[]string       `json:"features" validate:"omitempty,max=50,dive,required,max=200"`
	DefaultQuotas *QuotaPatch     `json:"default_quotas"`
	FeatureFlags  map[string]bool `json:"feature_flags" validate:"dive,keys,capability_key,endkeys"`
}

// PlanCatalog manages subscription plans. Reads go through the plan cache; every write
// invalidates it after commit.
type PlanCatalog struct {
	tx    txRunner
	store repositories.Store
	cache cache.PlanCache

	// gen counts invalidations. A read-through fill is dropped when gen moved while the
	// store was being read, so a concurrent write cannot be shadowed by the older row.
	fillMu sync.Mutex
	gen    uint64
}

// NewPlanCatalog creates a catalog. A nil cache disables caching and a nil forwarder
// disables audit shipping.
func NewPlanCatalog(store repositories.Store, planCache cache.PlanCache, forwarder AuditForwarder) *PlanCatalog {
	if planCache == nil {
		planCache = cache.Noop{}
	}
	if forwarder == nil {
		forwarder = noopForwarder{}
	}
	return &PlanCatalog{
		tx:    txRunner{store: store, forwarder: forwarder},
		store: store,
		cache: planCache,
	}
}

func (c *PlanCatalog) generation() uint64 {
	c.fillMu.Lock()
	defer c.fillMu.Unlock()
	return c.gen
}

// fill runs set unless the cache was invalidated after gen was taken
func (c *PlanCatalog) fill(gen uint64, set func()) {
	c.fillMu.Lock()
	defer c.fillMu.Unlock()
	if c.gen == gen {
		set()
	}
}

func (c *PlanCatalog) invalidate(ctx context.Context, id string) {
	c.fillMu.Lock()
	defer c.fillMu.Unlock()
	c.gen++
	c.cache.Invalidate(ctx, id)
}

// ListPlans returns every plan ordered by creation time, then id
func (c *PlanCatalog) ListPlans(ctx context.Context) ([]*models.Plan, error) {
	if plans, ok := c.cache.GetPlans(ctx); ok {
		return plans, nil
	}
	gen := c.generation()
	plans, err := c.store.Plans().List(ctx)
	if err != nil {
		return nil, storageErr("list plans", err)
	}
	c.fill(gen, func() { c.cache.SetPlans(ctx, plans) })
	return plans, nil
}

// GetPlan returns one plan
func (c *PlanCatalog) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	if plan, ok := c.cache.GetPlan(ctx, id); ok {
		return plan, nil
	}
	gen := c.generation()
	plan, err := c.store.Plans().GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get plan", err)
	}
	if plan == nil {
		return nil, NotFoundError("plan", id)
	}
	c.fill(gen, func() { c.cache.SetPlan(ctx, plan) })
	return plan, nil
}

// CreatePlan validates and stores a new plan. Missing feature flags are stored as false.
func (c *PlanCatalog) CreatePlan(ctx context.Context, actor string, in PlanInput) (*models.Plan, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.ID = strings.TrimSpace(in.ID)
	if err := fromValidation(validation.Struct(in)); err != nil {
		return nil, err
	}
	if in.ID == "" {
		in.ID = validation.Slugify(in.Name)
		if !validation.IsPlanSlug(in.ID) {
			return nil, ValidationError("invalid input", FieldError{Field: "id", Message: "could not be derived from name; supply one"})
		}
	}

	features := in.Features
	if features == nil {
		features = []string{}
	}
	plan := &models.Plan{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		Features:    features,
		DefaultQuotas: models.QuotaTemplate{
			Seats:       *in.DefaultQuotas.Seats,
			Labs:        *in.DefaultQuotas.Labs,
			Concurrency: *in.DefaultQuotas.Concurrency,
		},
		FeatureFlags: models.FeatureFlags(in.FeatureFlags).Complete(),
	}

	err := c.tx.mutate(ctx, "create plan", func(r repositories.Repos) ([]*models.AuditLog, error) {
		if err := checkPlanUnique(ctx, r.Plans(), plan.ID, plan.Name); err != nil {
			return nil, err
		}
		if err := r.Plans().Create(ctx, plan); err != nil {
			if repositories.IsUniqueViolation(err) {
				return nil, ValidationError("invalid input", FieldError{Field: "name", Message: "a plan with this id or name already exists"})
			}
			return nil, err
		}
		entry, err := appendEntry(ctx, r.Audit(), &models.AuditLog{
			Actor:        actor,
			Action:       models.ActionPlanCreate,
			ResourceType: models.ResourcePlan,
			ResourceID:   plan.ID,
			Details:      fmt.Sprintf("created plan %s", plan.Name),
			Metadata:     planMetadata(plan),
		})
		if err != nil {
			return nil, err
		}
		return []*models.AuditLog{entry}, nil
	})
	if err != nil {
		return nil, err
	}

	c.invalidate(ctx, plan.ID)
	return plan, nil
}

// checkPlanUnique rejects an id or a case-insensitive name already in use
func checkPlanUnique(ctx context.Context, plans repositories.PlanStore, id, name string) error {
	existing, err := plans.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		return ValidationError("invalid input", FieldError{Field: "id", Message: "a plan with this id already exists"})
	}
	existing, err = plans.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if existing != nil {
		return ValidationError("invalid input", FieldError{Field: "name", Message: "a plan with this name already exists"})
	}
	return nil
}

// UpdatePlan applies a partial update. Existing organizations keep their quotas.
func (c *PlanCatalog) UpdatePlan(ctx context.Context, actor, id string, in PlanUpdate) (*models.Plan, error) {
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		in.Name = &trimmed
	}
	if err := fromValidation(validation.Struct(in)); err != nil {
		return nil, err
	}

	var updated *models.Plan
	err := c.tx.mutate(ctx, "update plan", func(r repositories.Repos) ([]*models.AuditLog, error) {
		plan, err := r.Plans().GetByIDForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, NotFoundError("plan", id)
		}

		changed := []string{}
		if in.Name != nil && *in.Name != plan.Name {
			if !strings.EqualFold(*in.Name, plan.Name) {
				other, err := r.Plans().GetByName(ctx, *in.Name)
				if err != nil {
					return nil, err
				}
				if other != nil && other.ID != plan.ID {
					return nil, ValidationError("invalid input", FieldError{Field: "name", Message: "a plan with this name already exists"})
				}
			}
			plan.Name = *in.Name
			changed = append(changed, "name")
		}
		if in.Description != nil && *in.Description != plan.Description {
			plan.Description = *in.Description
			changed = append(changed, "description")
		}
		if in.Features != nil {
			plan.Features = append([]string{}, (*in.Features)...)
			changed = append(changed, "features")
		}
		if in.DefaultQuotas != nil {
			for _, dim := range models.QuotaDimensions() {
				v := in.DefaultQuotas.get(dim)
				if v == nil {
					continue
				}
				switch dim {
				case models.QuotaSeats:
					plan.DefaultQuotas.Seats = *v
				case models.QuotaLabs:
					plan.DefaultQuotas.Labs = *v
				case models.QuotaConcurrency:
					plan.DefaultQuotas.Concurrency = *v
				}
				changed = append(changed, "default_quotas."+string(dim))
			}
		}
		if len(in.FeatureFlags) > 0 {
			keys := make([]string, 0, len(in.FeatureFlags))
			for k, v := range in.FeatureFlags {
				plan.FeatureFlags[k] = v
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				changed = append(changed, "feature_flags."+k)
			}
		}

		if err := r.Plans().Update(ctx, plan); err != nil {
			if repositories.IsUniqueViolation(err) {
				return nil, ValidationError("invalid input", FieldError{Field: "name", Message: "a plan with this name already exists"})
			}
			return nil, err
		}

		metadata := planMetadata(plan)
		metadata["changed"] = changed
		entry, err := appendEntry(ctx, r.Audit(), &models.AuditLog{
			Actor:        actor,
			Action:       models.ActionPlanUpdate,
			ResourceType: models.ResourcePlan,
			ResourceID:   plan.ID,
			Details:      fmt.Sprintf("updated plan %s", plan.Name),
			Metadata:     metadata,
		})
		if err != nil {
			return nil, err
		}
		updated = plan
		return []*models.AuditLog{entry}, nil
	})
	if err != nil {
		return nil, err
	}

	c.invalidate(ctx, id)
	return updated, nil
}

// DeletePlan removes a plan that no organization references, in any status
func (c *PlanCatalog) DeletePlan(ctx context.Context, actor, id string) error {
	err := c.tx.mutate(ctx, "delete plan", func(r repositories.Repos) ([]*models.AuditLog, error) {
		plan, err := r.Plans().GetByIDForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, NotFoundError("plan", id)
		}

		refs, err := r.Organizations().CountByPlan(ctx, id)
		if err != nil {
			return nil, err
		}
		if refs > 0 {
			return nil, ConflictError("plan %q is in use by %d organization(s)", id, refs)
		}

		if err := r.Plans().Delete(ctx, id); err != nil {
			if repositories.IsForeignKeyViolation(err) {
				return nil, ConflictError("plan %q is in use", id)
			}
			return nil, err
		}

		entry, err := appendEntry(ctx, r.Audit(), &models.AuditLog{
			Actor:        actor,
			Action:       models.ActionPlanDelete,
			ResourceType: models.ResourcePlan,
			ResourceID:   id,
			Details:      fmt.Sprintf("deleted plan %s", plan.Name),
			Metadata:     planMetadata(plan),
		})
		if err != nil {
			return nil, err
		}
		return []*models.AuditLog{entry}, nil
	})
	if err != nil {
		return err
	}

	c.invalidate(ctx, id)
	return nil
}

func planMetadata(p *models.Plan) map[string]interface{} {
	return map[string]interface{}{
		"name": p.Name,
		"default_quotas": map[string]int{
			"seats":       p.DefaultQuotas.Seats,
			"labs":        p.DefaultQuotas.Labs,
			"concurrency": p.DefaultQuotas.Concurrency,
		},
		"enabled_features": p.FeatureFlags.Enabled(),
	}
}
