package jobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/db/repositories"
	"github.com/license-console/license-console/internal/services"
	"github.com/license-console/license-console/internal/storage"
	"github.com/license-console/license-console/internal/telemetry"
	"github.com/license-console/license-console/pkg/checksum"
)

const archivePageSize = 500

// AuditLister is the read side of repositories.AuditStore
type AuditLister interface {
	List(ctx context.Context, filters models.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
}

var _ AuditLister = (repositories.AuditStore)(nil)

// AuditArchiver writes the previous UTC day's ledger entries to blob storage as one CSV
// object per day. A day whose object already exists is skipped, so reruns are idempotent.
type AuditArchiver struct {
	audit    AuditLister
	store    storage.Storage
	now      func() time.Time
	prefix   string
	compress bool
}

// NewAuditArchiver creates the archive job. now defaults to the UTC wall clock.
func NewAuditArchiver(audit AuditLister, store storage.Storage, now func() time.Time, prefix string, compress bool) *AuditArchiver {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if prefix == "" {
		prefix = "audit-archive"
	}
	return &AuditArchiver{audit: audit, store: store, now: now, prefix: prefix, compress: compress}
}

// Name implements Job
func (a *AuditArchiver) Name() string { return "audit_archive" }

// ObjectPath returns where the archive for day is stored, e.g. audit-archive/2026/03/01.csv.gz
func (a *AuditArchiver) ObjectPath(day time.Time) string {
	name := day.UTC().Format("02") + ".csv"
	if a.compress {
		name += ".gz"
	}
	return path.Join(a.prefix, day.UTC().Format("2006"), day.UTC().Format("01"), name)
}

// Run archives yesterday
func (a *AuditArchiver) Run(ctx context.Context) error {
	today := a.now().UTC().Truncate(24 * time.Hour)
	return a.ArchiveDay(ctx, today.AddDate(0, 0, -1))
}

// ArchiveDay archives the entries created during the UTC day containing day
func (a *AuditArchiver) ArchiveDay(ctx context.Context, day time.Time) error {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24*time.Hour - time.Nanosecond)
	objectPath := a.ObjectPath(from)

	exists, err := a.store.Exists(ctx, objectPath)
	if err != nil {
		telemetry.AuditArchiveRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to check archive %s: %w", objectPath, err)
	}
	if exists {
		telemetry.AuditArchiveRunsTotal.WithLabelValues("skipped").Inc()
		slog.Debug("audit archive already present", "path", objectPath)
		return nil
	}

	entries, err := a.collect(ctx, models.AuditFilters{From: &from, To: &to})
	if err != nil {
		telemetry.AuditArchiveRunsTotal.WithLabelValues("error").Inc()
		return err
	}

	body, err := a.encode(entries)
	if err != nil {
		telemetry.AuditArchiveRunsTotal.WithLabelValues("error").Inc()
		return err
	}

	result, err := a.store.Upload(ctx, objectPath, bytes.NewReader(body), int64(len(body)))
	if err != nil {
		telemetry.AuditArchiveRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to upload archive %s: %w", objectPath, err)
	}
	// Backends that do not report a digest are trusted.
	sum := checksum.SumBytes(body)
	if result.Checksum != "" && !checksum.Equal(result.Checksum, sum) {
		telemetry.AuditArchiveRunsTotal.WithLabelValues("error").Inc()
		// Remove the corrupt object so the next run retries the day.
		if derr := a.store.Delete(ctx, objectPath); derr != nil {
			slog.Warn("failed to remove corrupt audit archive", "path", objectPath, "error", derr)
		}
		return fmt.Errorf("archive %s checksum mismatch: stored %s, expected %s", objectPath, result.Checksum, sum)
	}

	telemetry.AuditArchiveRunsTotal.WithLabelValues("success").Inc()
	slog.Info("audit archive written", "path", result.Path, "entries", len(entries), "bytes", result.Size, "sha256", sum)
	return nil
}

// collect pages through every matching entry. The ledger lists newest first; the archive
// is written oldest first.
func (a *AuditArchiver) collect(ctx context.Context, filters models.AuditFilters) ([]*models.AuditLog, error) {
	var all []*models.AuditLog
	for offset := 0; ; offset += archivePageSize {
		page, _, err := a.audit.List(ctx, filters, archivePageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to read audit log: %w", err)
		}
		all = append(all, page...)
		if len(page) < archivePageSize {
			break
		}
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

func (a *AuditArchiver) encode(entries []*models.AuditLog) ([]byte, error) {
	var buf bytes.Buffer
	var w io.Writer = &buf
	var gz *gzip.Writer
	if a.compress {
		gz = gzip.NewWriter(&buf)
		w = gz
	}
	if err := services.WriteCSV(w, entries); err != nil {
		return nil, fmt.Errorf("failed to encode audit archive: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("failed to compress audit archive: %w", err)
		}
	}
	return buf.Bytes(), nil
}
