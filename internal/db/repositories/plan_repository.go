// plan_repository.go implements PlanRepository, providing database queries for the
// subscription plan catalog.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/license-console/license-console/internal/db/models"
)

const planColumns = `id, name, description, features, default_seats, default_labs, default_concurrency,
	feature_flags, created_at, updated_at`

type planRow struct {
	ID                 string              `db:"id"`
	Name               string              `db:"name"`
	Description        string              `db:"description"`
	Features           pq.StringArray      `db:"features"`
	DefaultSeats       int                 `db:"default_seats"`
	DefaultLabs        int                 `db:"default_labs"`
	DefaultConcurrency int                 `db:"default_concurrency"`
	FeatureFlags       models.FeatureFlags `db:"feature_flags"`
	CreatedAt          time.Time           `db:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at"`
}

func (r *planRow) toModel() *models.Plan {
	features := []string(r.Features)
	if features == nil {
		features = []string{}
	}
	return &models.Plan{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Features:    features,
		DefaultQuotas: models.QuotaTemplate{
			Seats:       r.DefaultSeats,
			Labs:        r.DefaultLabs,
			Concurrency: r.DefaultConcurrency,
		},
		FeatureFlags: r.FeatureFlags.Complete(),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// PlanRepository handles subscription plan database operations
type PlanRepository struct {
	db DBTX
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db DBTX) *PlanRepository {
	return &PlanRepository{db: db}
}

// List returns every plan ordered by creation time
func (r *PlanRepository) List(ctx context.Context) ([]*models.Plan, error) {
	var rows []planRow
	query := `SELECT ` + planColumns + ` FROM subscription_plans ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	plans := make([]*models.Plan, 0, len(rows))
	for i := range rows {
		plans = append(plans, rows[i].toModel())
	}
	return plans, nil
}

// GetByID retrieves a plan by id. Returns nil, nil if not found.
func (r *PlanRepository) GetByID(ctx context.Context, id string) (*models.Plan, error) {
	return r.getOne(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves a plan by id and locks the row until the transaction ends
func (r *PlanRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Plan, error) {
	return r.getOne(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1 FOR UPDATE`, id)
}

// GetByName retrieves a plan by case-insensitive name. Returns nil, nil if not found.
func (r *PlanRepository) GetByName(ctx context.Context, name string) (*models.Plan, error) {
	return r.getOne(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE LOWER(name) = LOWER($1)`, name)
}

func (r *PlanRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Plan, error) {
	var row planRow
	err := r.db.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return row.toModel(), nil
}

// Create inserts a new plan, setting its timestamps
func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan) error {
	now := time.Now().UTC()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	query := `
		INSERT INTO subscription_plans (id, name, description, features, default_seats, default_labs,
			default_concurrency, feature_flags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		plan.ID,
		plan.Name,
		plan.Description,
		pq.Array(plan.Features),
		plan.DefaultQuotas.Seats,
		plan.DefaultQuotas.Labs,
		plan.DefaultQuotas.Concurrency,
		plan.FeatureFlags,
		plan.CreatedAt,
		plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of an existing plan
func (r *PlanRepository) Update(ctx context.Context, plan *models.Plan) error {
	plan.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE subscription_plans
		SET name = $2, description = $3, features = $4, default_seats = $5, default_labs = $6,
			default_concurrency = $7, feature_flags = $8, updated_at = $9
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		plan.ID,
		plan.Name,
		plan.Description,
		pq.Array(plan.Features),
		plan.DefaultQuotas.Seats,
		plan.DefaultQuotas.Labs,
		plan.DefaultQuotas.Concurrency,
		plan.FeatureFlags,
		plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	return checkAffected(res)
}

// Delete removes a plan. Organizations still referencing it make the foreign key reject the delete.
func (r *PlanRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscription_plans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	return checkAffected(res)
}
