// Package repositories implements PostgreSQL persistence for plans, organizations and the
// audit ledger. Every repository runs against either the pool or an open transaction, so
// a lifecycle mutation and its audit entry commit or roll back together.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/license-console/license-console/internal/db/models"
)

// ErrNotFound is returned by write methods whose target row does not exist
var ErrNotFound = errors.New("record not found")

// DBTX is satisfied by both *sqlx.DB and *sqlx.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// PlanStore persists subscription plans
type PlanStore interface {
	List(ctx context.Context) ([]*models.Plan, error)
	GetByID(ctx context.Context, id string) (*models.Plan, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.Plan, error)
	GetByName(ctx context.Context, name string) (*models.Plan, error)
	Create(ctx context.Context, plan *models.Plan) error
	Update(ctx context.Context, plan *models.Plan) error
	Delete(ctx context.Context, id string) error
}

// OrganizationStore persists organizations. No method other than SetUsage writes the
// current usage counters.
type OrganizationStore interface {
	GetByID(ctx context.Context, id string) (*models.Organization, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.Organization, error)
	GetByKeyFingerprint(ctx context.Context, fingerprint string) (*models.Organization, error)
	List(ctx context.Context, filters models.OrganizationFilters, now time.Time, limit, offset int) ([]*models.Organization, int, error)
	ListLapsedForUpdate(ctx context.Context, now time.Time, limit int) ([]*models.Organization, error)
	ListExpiringUnnotified(ctx context.Context, now, until time.Time) ([]*models.Organization, error)
	CountByPlan(ctx context.Context, planID string) (int, error)
	Create(ctx context.Context, org *models.Organization) error
	UpdateLifecycle(ctx context.Context, org *models.Organization) error
	SetUsage(ctx context.Context, id string, usage UsageUpdate) (*models.Organization, error)
	MarkExpiryNotified(ctx context.Context, id string, expiresAt, at time.Time) error
	Stats(ctx context.Context, now, expiringBefore time.Time, saturationPercent int) (*OrganizationStats, error)
}

// AuditStore appends to and reads from the audit ledger. There is no update or delete.
type AuditStore interface {
	Append(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filters models.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
	GetByID(ctx context.Context, id string) (*models.AuditLog, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// Repos groups the repositories bound to one connection or transaction
type Repos interface {
	Plans() PlanStore
	Organizations() OrganizationStore
	Audit() AuditStore
}

// Store is the persistence entry point used by the services
type Store interface {
	Repos
	// WithTx runs fn inside a transaction. The transaction commits when fn returns nil
	// and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Repos) error) error
	Ping(ctx context.Context) error
}

type repoSet struct {
	plans *PlanRepository
	orgs  *OrganizationRepository
	audit *AuditRepository
}

func newRepoSet(db DBTX) repoSet {
	return repoSet{
		plans: NewPlanRepository(db),
		orgs:  NewOrganizationRepository(db),
		audit: NewAuditRepository(db),
	}
}

func (r repoSet) Plans() PlanStore                 { return r.plans }
func (r repoSet) Organizations() OrganizationStore { return r.orgs }
func (r repoSet) Audit() AuditStore                { return r.audit }

// SQLStore implements Store on a PostgreSQL pool
type SQLStore struct {
	repoSet
	db *sqlx.DB
}

// NewSQLStore creates a store on top of db
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{repoSet: newRepoSet(db), db: db}
}

// WithTx implements Store
func (s *SQLStore) WithTx(ctx context.Context, fn func(Repos) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(newRepoSet(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping implements Store
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IsUniqueViolation reports whether err is a PostgreSQL unique_violation
func IsUniqueViolation(err error) bool {
	return pqCode(err) == "23505"
}

// IsForeignKeyViolation reports whether err is a PostgreSQL foreign_key_violation
func IsForeignKeyViolation(err error) bool {
	return pqCode(err) == "23503"
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
