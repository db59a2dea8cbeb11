// audit_repository.go implements AuditRepository, the append-only store behind the audit
// ledger, with conjunctive filtering and newest-first pagination.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/license-console/license-console/internal/db/models"
)

const auditColumns = `id, actor, action, resource_type, resource_id, organization_id, details, metadata, ip_address, created_at`

type auditRow struct {
	ID             string         `db:"id"`
	Actor          string         `db:"actor"`
	Action         string         `db:"action"`
	ResourceType   string         `db:"resource_type"`
	ResourceID     string         `db:"resource_id"`
	OrganizationID sql.NullString `db:"organization_id"`
	Details        string         `db:"details"`
	Metadata       []byte         `db:"metadata"`
	IPAddress      sql.NullString `db:"ip_address"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r *auditRow) toModel() (*models.AuditLog, error) {
	entry := &models.AuditLog{
		ID:           r.ID,
		Actor:        r.Actor,
		Action:       models.AuditAction(r.Action),
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		Details:      r.Details,
		CreatedAt:    r.CreatedAt,
	}
	if r.OrganizationID.Valid {
		id := r.OrganizationID.String
		entry.OrganizationID = &id
	}
	if r.IPAddress.Valid {
		ip := r.IPAddress.String
		entry.IPAddress = &ip
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
		}
	}
	return entry, nil
}

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a new ledger entry, assigning its id and timestamp when unset
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (id, actor, action, resource_type, resource_id, organization_id, details, metadata, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Actor,
		string(entry.Action),
		entry.ResourceType,
		entry.ResourceID,
		entry.OrganizationID,
		entry.Details,
		metadataJSON,
		entry.IPAddress,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

// List retrieves ledger entries matching every set filter, newest first, with the total match count
func (r *AuditRepository) List(ctx context.Context, filters models.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	where := []string{"1=1"}
	args := make([]interface{}, 0)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filters.Actor != nil {
		add("actor = $%d", *filters.Actor)
	}
	if filters.Action != nil {
		add("action = $%d", string(*filters.Action))
	}
	if filters.ResourceType != nil {
		add("resource_type = $%d", *filters.ResourceType)
	}
	if filters.ResourceID != nil {
		add("resource_id = $%d", *filters.ResourceID)
	}
	if filters.OrganizationID != nil {
		add("organization_id = $%d", *filters.OrganizationID)
	}
	if filters.From != nil {
		add("created_at >= $%d", *filters.From)
	}
	if filters.To != nil {
		add("created_at <= $%d", *filters.To)
	}
	if filters.Before != nil {
		args = append(args, filters.Before.CreatedAt, filters.Before.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_logs WHERE `+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE ` + clause +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}

	entries := make([]*models.AuditLog, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toModel()
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return entries, total, nil
}

// GetByID retrieves a single ledger entry. Returns nil, nil if not found.
func (r *AuditRepository) GetByID(ctx context.Context, id string) (*models.AuditLog, error) {
	var row auditRow
	err := r.db.GetContext(ctx, &row, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return row.toModel()
}

// CountSince counts ledger entries created at or after since
func (r *AuditRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM audit_logs WHERE created_at >= $1`, since); err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return n, nil
}
