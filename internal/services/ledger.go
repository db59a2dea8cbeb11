package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/db/repositories"
	"github.com/license-console/license-console/internal/telemetry"
	"github.com/license-console/license-console/internal/validation"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
	exportPageSize    = 200
)

// ExportHeader is the first row of every audit CSV export
var ExportHeader = []string{"id", "timestamp", "actor", "action", "resource_type", "resource_id", "organization_id", "details"}

// appendEntry writes entry through audit, normally bound to the caller's transaction.
// A failed append is a StorageError, which rolls the transaction back.
func appendEntry(ctx context.Context, audit repositories.AuditStore, entry *models.AuditLog) (*models.AuditLog, error) {
	if !entry.Action.Valid() {
		return nil, fmt.Errorf("unknown audit action %q", entry.Action)
	}
	if entry.IPAddress == nil {
		entry.IPAddress = clientIP(ctx)
	}
	if err := audit.Append(ctx, entry); err != nil {
		telemetry.AuditAppendFailuresTotal.Inc()
		return nil, StorageError("append audit entry", err)
	}
	return entry, nil
}

// AuditQuery selects ledger entries. Set fields combine with AND.
type AuditQuery struct {
	Actor          string     `form:"actor" json:"actor"`
	Action         string     `form:"action" json:"action" validate:"omitempty,audit_action"`
	ResourceType   string     `form:"resource_type" json:"resource_type" validate:"omitempty,oneof=organization plan"`
	ResourceID     string     `form:"resource" json:"resource"`
	OrganizationID string     `form:"organization_id" json:"organization_id"`
	From           *time.Time `form:"from" json:"from"`
	To             *time.Time `form:"to" json:"to"`
	Limit          int        `form:"limit" json:"limit" validate:"gte=0"`
	Offset         int        `form:"offset" json:"offset" validate:"gte=0"`
}

func (q AuditQuery) filters() models.AuditFilters {
	var f models.AuditFilters
	if q.Actor != "" {
		f.Actor = &q.Actor
	}
	if q.Action != "" {
		a := models.AuditAction(q.Action)
		f.Action = &a
	}
	if q.ResourceType != "" {
		f.ResourceType = &q.ResourceType
	}
	if q.ResourceID != "" {
		f.ResourceID = &q.ResourceID
	}
	if q.OrganizationID != "" {
		f.OrganizationID = &q.OrganizationID
	}
	f.From = q.From
	f.To = q.To
	return f
}

// AuditPage is one page of ledger entries, newest first
type AuditPage struct {
	Entries []*models.AuditLog
	Total   int
	Limit   int
	Offset  int
}

// AuditLedger reads the append-only audit ledger
type AuditLedger struct {
	store         repositories.Store
	maxExportRows int
	pageSize      int
}

// NewAuditLedger creates a ledger reader. maxExportRows caps CSV exports.
func NewAuditLedger(store repositories.Store, maxExportRows int) *AuditLedger {
	if maxExportRows <= 0 {
		maxExportRows = 1000
	}
	return &AuditLedger{store: store, maxExportRows: maxExportRows, pageSize: exportPageSize}
}

func (l *AuditLedger) validate(q AuditQuery) error {
	if err := fromValidation(validation.Struct(q)); err != nil {
		return err
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return ValidationError("invalid input", FieldError{Field: "from", Message: "must not be after to"})
	}
	return nil
}

// Query returns one page of entries. Limit defaults to 50 and is clamped to 200.
func (l *AuditLedger) Query(ctx context.Context, q AuditQuery) (*AuditPage, error) {
	if err := l.validate(q); err != nil {
		return nil, err
	}
	switch {
	case q.Limit <= 0:
		q.Limit = defaultAuditLimit
	case q.Limit > maxAuditLimit:
		q.Limit = maxAuditLimit
	}

	entries, total, err := l.store.Audit().List(ctx, q.filters(), q.Limit, q.Offset)
	if err != nil {
		return nil, storageErr("query audit log", err)
	}
	return &AuditPage{Entries: entries, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// Export writes matching entries to w as CSV, newest first, stopping after the configured
// row cap. Limit and Offset in q are ignored. It returns the number of data rows written.
// Pages are read by keyset on (created_at, id), so entries appended while the export
// runs neither shift nor repeat rows.
func (l *AuditLedger) Export(ctx context.Context, q AuditQuery, w io.Writer) (int, error) {
	if err := l.validate(q); err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return 0, err
	}

	written := 0
	filters := q.filters()
	for written < l.maxExportRows {
		limit := l.pageSize
		if remaining := l.maxExportRows - written; remaining < limit {
			limit = remaining
		}
		entries, _, err := l.store.Audit().List(ctx, filters, limit, 0)
		if err != nil {
			return written, storageErr("export audit log", err)
		}
		for _, e := range entries {
			if err := cw.Write(exportRow(e)); err != nil {
				return written, err
			}
			written++
		}
		if len(entries) < limit {
			break
		}
		last := entries[len(entries)-1]
		filters.Before = &models.AuditCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	cw.Flush()
	return written, cw.Error()
}

// WriteCSV writes entries as an export-format CSV, header included
func WriteCSV(w io.Writer, entries []*models.AuditLog) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write(exportRow(e)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func exportRow(e *models.AuditLog) []string {
	orgID := ""
	if e.OrganizationID != nil {
		orgID = *e.OrganizationID
	}
	return []string{
		e.ID,
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.Actor,
		string(e.Action),
		e.ResourceType,
		e.ResourceID,
		orgID,
		e.Details,
	}
}
