// organization_repository.go implements OrganizationRepository, providing database queries for
// licensed organizations: row-locked reads for lifecycle transitions, filtered listings that
// account for lapsed licenses, usage ingestion and dashboard aggregates.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/license-console/license-console/internal/db/models"
)

const orgColumns = `id, name, contact_email, plan_id, status, expires_at, suspend_reason,
	seats_total, seats_current, labs_total, labs_current, concurrency_total, concurrency_current,
	license_key_ciphertext, license_key_fingerprint, license_key_hint,
	activated_at, expiry_notified_at, created_at, updated_at`

type orgRow struct {
	ID                    string         `db:"id"`
	Name                  string         `db:"name"`
	ContactEmail          string         `db:"contact_email"`
	PlanID                string         `db:"plan_id"`
	Status                string         `db:"status"`
	ExpiresAt             time.Time      `db:"expires_at"`
	SuspendReason         sql.NullString `db:"suspend_reason"`
	SeatsTotal            int            `db:"seats_total"`
	SeatsCurrent          int            `db:"seats_current"`
	LabsTotal             int            `db:"labs_total"`
	LabsCurrent           int            `db:"labs_current"`
	ConcurrencyTotal      int            `db:"concurrency_total"`
	ConcurrencyCurrent    int            `db:"concurrency_current"`
	LicenseKeyCiphertext  string         `db:"license_key_ciphertext"`
	LicenseKeyFingerprint string         `db:"license_key_fingerprint"`
	LicenseKeyHint        string         `db:"license_key_hint"`
	ActivatedAt           sql.NullTime   `db:"activated_at"`
	ExpiryNotifiedAt      sql.NullTime   `db:"expiry_notified_at"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
}

func (r *orgRow) toModel() *models.Organization {
	org := &models.Organization{
		ID:           r.ID,
		Name:         r.Name,
		ContactEmail: r.ContactEmail,
		PlanID:       r.PlanID,
		Status:       models.OrganizationStatus(r.Status),
		ExpiresAt:    r.ExpiresAt,
		Quotas: models.Quotas{
			Seats:       models.Quota{Current: r.SeatsCurrent, Total: r.SeatsTotal},
			Labs:        models.Quota{Current: r.LabsCurrent, Total: r.LabsTotal},
			Concurrency: models.Quota{Current: r.ConcurrencyCurrent, Total: r.ConcurrencyTotal},
		},
		LicenseKeyCiphertext:  r.LicenseKeyCiphertext,
		LicenseKeyFingerprint: r.LicenseKeyFingerprint,
		LicenseKeyHint:        r.LicenseKeyHint,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	if r.SuspendReason.Valid {
		reason := r.SuspendReason.String
		org.SuspendReason = &reason
	}
	if r.ActivatedAt.Valid {
		t := r.ActivatedAt.Time
		org.ActivatedAt = &t
	}
	if r.ExpiryNotifiedAt.Valid {
		t := r.ExpiryNotifiedAt.Time
		org.ExpiryNotifiedAt = &t
	}
	return org
}

// UsageUpdate carries metered usage counters. Nil fields are left unchanged.
type UsageUpdate struct {
	Seats       *int
	Labs        *int
	Concurrency *int
}

// OrganizationStats aggregates organizations for the admin dashboard
type OrganizationStats struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	ByPlan       map[string]int `json:"by_plan"`
	ExpiringSoon int            `json:"expiring_soon"`
	OverCapacity int            `json:"over_capacity"`
	Saturated    int            `json:"saturated"`
}

// OrganizationRepository handles organization database operations
type OrganizationRepository struct {
	db DBTX
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db DBTX) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// GetByID retrieves an organization by id. Returns nil, nil if not found.
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	return r.getOne(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves an organization and locks its row until the transaction ends.
// Concurrent lifecycle transitions on the same organization serialize on this lock.
func (r *OrganizationRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Organization, error) {
	return r.getOne(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1 FOR UPDATE`, id)
}

// GetByKeyFingerprint retrieves the organization that owns a license key fingerprint
func (r *OrganizationRepository) GetByKeyFingerprint(ctx context.Context, fingerprint string) (*models.Organization, error) {
	return r.getOne(ctx, `SELECT `+orgColumns+` FROM organizations WHERE license_key_fingerprint = $1`, fingerprint)
}

func (r *OrganizationRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Organization, error) {
	var row orgRow
	err := r.db.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return row.toModel(), nil
}

// List retrieves organizations matching filters, newest first, with the total match count.
// The status filter is evaluated against the effective status at now, so an active row whose
// expiry has passed matches "expired" and not "active".
func (r *OrganizationRepository) List(ctx context.Context, filters models.OrganizationFilters, now time.Time, limit, offset int) ([]*models.Organization, int, error) {
	where := []string{"1=1"}
	args := make([]interface{}, 0)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.Status != nil {
		switch *filters.Status {
		case models.StatusExpired:
			where = append(where, fmt.Sprintf("(status = 'expired' OR (status = 'active' AND expires_at < %s))", arg(now)))
		case models.StatusActive:
			where = append(where, fmt.Sprintf("(status = 'active' AND expires_at >= %s)", arg(now)))
		default:
			where = append(where, "status = "+arg(string(*filters.Status)))
		}
	}
	if filters.PlanID != nil {
		where = append(where, "plan_id = "+arg(*filters.PlanID))
	}
	if filters.Search != nil && *filters.Search != "" {
		pattern := arg("%" + escapeLike(*filters.Search) + "%")
		exact := arg(*filters.Search)
		where = append(where, fmt.Sprintf(`(name ILIKE %s ESCAPE '\' OR id::text = %s)`, pattern, exact))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM organizations WHERE `+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count organizations: %w", err)
	}

	query := `SELECT ` + orgColumns + ` FROM organizations WHERE ` + clause +
		fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT %s OFFSET %s`, arg(limit), arg(offset))

	var rows []orgRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list organizations: %w", err)
	}

	orgs := make([]*models.Organization, 0, len(rows))
	for i := range rows {
		orgs = append(orgs, rows[i].toModel())
	}
	return orgs, total, nil
}

// likeEscaper makes LIKE wildcards in user input match literally
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ListLapsedForUpdate locks up to limit active organizations whose expiry is before now.
// Rows already locked by another transaction are skipped.
func (r *OrganizationRepository) ListLapsedForUpdate(ctx context.Context, now time.Time, limit int) ([]*models.Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations
		WHERE status = 'active' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	var rows []orgRow
	if err := r.db.SelectContext(ctx, &rows, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list lapsed organizations: %w", err)
	}
	orgs := make([]*models.Organization, 0, len(rows))
	for i := range rows {
		orgs = append(orgs, rows[i].toModel())
	}
	return orgs, nil
}

// ListExpiringUnnotified returns active organizations expiring within [now, until] that have
// not yet been sent an expiry warning
func (r *OrganizationRepository) ListExpiringUnnotified(ctx context.Context, now, until time.Time) ([]*models.Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations
		WHERE status = 'active'
		  AND expires_at >= $1
		  AND expires_at <= $2
		  AND expiry_notified_at IS NULL
		ORDER BY expires_at`

	var rows []orgRow
	if err := r.db.SelectContext(ctx, &rows, query, now, until); err != nil {
		return nil, fmt.Errorf("failed to list expiring organizations: %w", err)
	}
	orgs := make([]*models.Organization, 0, len(rows))
	for i := range rows {
		orgs = append(orgs, rows[i].toModel())
	}
	return orgs, nil
}

// CountByPlan counts organizations, in any status, that reference planID
func (r *OrganizationRepository) CountByPlan(ctx context.Context, planID string) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM organizations WHERE plan_id = $1`, planID); err != nil {
		return 0, fmt.Errorf("failed to count organizations by plan: %w", err)
	}
	return n, nil
}

// Create inserts a newly provisioned organization, setting its timestamps
func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now

	query := `
		INSERT INTO organizations (id, name, contact_email, plan_id, status, expires_at, suspend_reason,
			seats_total, seats_current, labs_total, labs_current, concurrency_total, concurrency_current,
			license_key_ciphertext, license_key_fingerprint, license_key_hint,
			activated_at, expiry_notified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err := r.db.ExecContext(ctx, query,
		org.ID,
		org.Name,
		org.ContactEmail,
		org.PlanID,
		string(org.Status),
		org.ExpiresAt,
		org.SuspendReason,
		org.Quotas.Seats.Total,
		org.Quotas.Seats.Current,
		org.Quotas.Labs.Total,
		org.Quotas.Labs.Current,
		org.Quotas.Concurrency.Total,
		org.Quotas.Concurrency.Current,
		org.LicenseKeyCiphertext,
		org.LicenseKeyFingerprint,
		org.LicenseKeyHint,
		org.ActivatedAt,
		org.ExpiryNotifiedAt,
		org.CreatedAt,
		org.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// UpdateLifecycle writes the lifecycle-owned fields of org: plan, status, expiry, quota
// ceilings and license key material. Usage counters are never written here.
func (r *OrganizationRepository) UpdateLifecycle(ctx context.Context, org *models.Organization) error {
	org.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE organizations
		SET plan_id = $2, status = $3, expires_at = $4, suspend_reason = $5,
			seats_total = $6, labs_total = $7, concurrency_total = $8,
			license_key_ciphertext = $9, license_key_fingerprint = $10, license_key_hint = $11,
			activated_at = $12, expiry_notified_at = $13, updated_at = $14
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		org.ID,
		org.PlanID,
		string(org.Status),
		org.ExpiresAt,
		org.SuspendReason,
		org.Quotas.Seats.Total,
		org.Quotas.Labs.Total,
		org.Quotas.Concurrency.Total,
		org.LicenseKeyCiphertext,
		org.LicenseKeyFingerprint,
		org.LicenseKeyHint,
		org.ActivatedAt,
		org.ExpiryNotifiedAt,
		org.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	return checkAffected(res)
}

// SetUsage records metered usage counters and returns the updated organization.
// Returns nil, nil if the organization does not exist.
func (r *OrganizationRepository) SetUsage(ctx context.Context, id string, usage UsageUpdate) (*models.Organization, error) {
	query := `
		UPDATE organizations
		SET seats_current = COALESCE($2, seats_current),
			labs_current = COALESCE($3, labs_current),
			concurrency_current = COALESCE($4, concurrency_current),
			updated_at = $5
		WHERE id = $1
		RETURNING ` + orgColumns

	var row orgRow
	err := r.db.GetContext(ctx, &row, query, id, usage.Seats, usage.Labs, usage.Concurrency, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set organization usage: %w", err)
	}
	return row.toModel(), nil
}

// MarkExpiryNotified records that an expiry warning was sent for expiresAt. It returns
// ErrNotFound when the organization no longer expires at expiresAt, so a warning sent for a
// license renewed in the meantime does not suppress the warning for the new expiry.
func (r *OrganizationRepository) MarkExpiryNotified(ctx context.Context, id string, expiresAt, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE organizations SET expiry_notified_at = $2 WHERE id = $1 AND expires_at = $3`, id, at, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to mark expiry notified: %w", err)
	}
	return checkAffected(res)
}

type groupCount struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

// Stats aggregates organizations by effective status and by plan. An organization is
// saturated when some dimension is at or above saturationPercent of its total without
// exceeding it.
func (r *OrganizationRepository) Stats(ctx context.Context, now, expiringBefore time.Time, saturationPercent int) (*OrganizationStats, error) {
	stats := &OrganizationStats{ByStatus: map[string]int{}, ByPlan: map[string]int{}}

	var byStatus []groupCount
	statusQuery := `
		SELECT CASE WHEN status = 'active' AND expires_at < $1 THEN 'expired' ELSE status END AS key,
			COUNT(*) AS count
		FROM organizations
		GROUP BY 1`
	if err := r.db.SelectContext(ctx, &byStatus, statusQuery, now); err != nil {
		return nil, fmt.Errorf("failed to count organizations by status: %w", err)
	}
	for _, g := range byStatus {
		stats.ByStatus[g.Key] = g.Count
		stats.Total += g.Count
	}

	var byPlan []groupCount
	if err := r.db.SelectContext(ctx, &byPlan, `SELECT plan_id AS key, COUNT(*) AS count FROM organizations GROUP BY plan_id`); err != nil {
		return nil, fmt.Errorf("failed to count organizations by plan: %w", err)
	}
	for _, g := range byPlan {
		stats.ByPlan[g.Key] = g.Count
	}

	var counts struct {
		ExpiringSoon int `db:"expiring_soon"`
		OverCapacity int `db:"over_capacity"`
		Saturated    int `db:"saturated"`
	}
	countsQuery := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'active' AND expires_at >= $1 AND expires_at <= $2) AS expiring_soon,
			COUNT(*) FILTER (WHERE status <> 'revoked' AND (seats_current > seats_total
				OR labs_current > labs_total OR concurrency_current > concurrency_total)) AS over_capacity,
			COUNT(*) FILTER (WHERE status <> 'revoked'
				AND seats_current <= seats_total AND labs_current <= labs_total AND concurrency_current <= concurrency_total
				AND ((seats_total > 0 AND seats_current * 100 >= seats_total * $3)
					OR (labs_total > 0 AND labs_current * 100 >= labs_total * $3)
					OR (concurrency_total > 0 AND concurrency_current * 100 >= concurrency_total * $3))) AS saturated
		FROM organizations`
	if err := r.db.GetContext(ctx, &counts, countsQuery, now, expiringBefore, saturationPercent); err != nil {
		return nil, fmt.Errorf("failed to count organization alerts: %w", err)
	}
	stats.ExpiringSoon = counts.ExpiringSoon
	stats.OverCapacity = counts.OverCapacity
	stats.Saturated = counts.Saturated

	return stats, nil
}
