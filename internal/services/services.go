// Package services implements the license console's domain logic: the plan catalog, the
// license lifecycle engine, the audit ledger, the organization portal and the dashboard.
//
// Every administrative mutation runs in one repository transaction that locks the target
// row, applies the change and appends exactly one audit entry. Committed entries are then
// counted in Prometheus and handed to the AuditForwarder. Errors leaving this package are
// always *Error values (see errors.go).
package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/db/repositories"
	"github.com/license-console/license-console/internal/telemetry"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

// Now implements Clock
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reports the wall clock in UTC
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// AuditForwarder receives ledger entries after their transaction commits
type AuditForwarder interface {
	Forward(entries ...*models.AuditLog)
}

type noopForwarder struct{}

func (noopForwarder) Forward(...*models.AuditLog) {}

type clientIPKey struct{}

// WithClientIP attaches the caller's address to ctx so ledger entries can record it
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIP(ctx context.Context) *string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok && ip != "" {
		return &ip
	}
	return nil
}

// txRunner runs administrative mutations against a Store
type txRunner struct {
	store     repositories.Store
	forwarder AuditForwarder
}

// mutate runs fn in a transaction. fn returns the ledger entries it appended; on commit
// they are counted and forwarded. Any error that is not already an *Error is reported as
// a StorageError for op.
func (t txRunner) mutate(ctx context.Context, op string, fn func(r repositories.Repos) ([]*models.AuditLog, error)) error {
	var entries []*models.AuditLog
	err := t.store.WithTx(ctx, func(r repositories.Repos) error {
		var err error
		entries, err = fn(r)
		return err
	})
	if err != nil {
		return storageErr(op, err)
	}

	for _, e := range entries {
		telemetry.LicenseTransitionsTotal.WithLabelValues(string(e.Action)).Inc()
	}
	if len(entries) > 0 {
		t.forwarder.Forward(entries...)
	}
	return nil
}

// storageErr passes domain errors through and wraps everything else
func storageErr(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	slog.Error("storage failure", "op", op, "error", err)
	return StorageError(op, err)
}
