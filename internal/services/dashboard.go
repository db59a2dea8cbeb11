package services

import (
	"context"
	"time"

	"github.com/license-console/license-console/internal/db/repositories"
)

// expiringWindow is how far ahead the dashboard looks for expiring licenses
const expiringWindow = 30 * 24 * time.Hour

// DashboardStats summarises the fleet for the admin dashboard
type DashboardStats struct {
	Organizations  *repositories.OrganizationStats `json:"organizations"`
	AuditEntries24 int                             `json:"audit_entries_24h"`
	GeneratedAt    time.Time                       `json:"generated_at"`
}

// Dashboard computes admin dashboard statistics
type Dashboard struct {
	store repositories.Store
	clock Clock
}

// NewDashboard creates a Dashboard. A nil clock uses SystemClock.
func NewDashboard(store repositories.Store, clock Clock) *Dashboard {
	if clock == nil {
		clock = SystemClock
	}
	return &Dashboard{store: store, clock: clock}
}

// Stats returns counts by effective status and plan, licenses expiring within 30 days,
// capacity pressure, and ledger activity over the last day
func (d *Dashboard) Stats(ctx context.Context) (*DashboardStats, error) {
	now := d.clock.Now().UTC()
	orgs, err := d.store.Organizations().Stats(ctx, now, now.Add(expiringWindow), UsageWarningPercent)
	if err != nil {
		return nil, storageErr("organization stats", err)
	}
	recent, err := d.store.Audit().CountSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, storageErr("audit stats", err)
	}
	return &DashboardStats{Organizations: orgs, AuditEntries24: recent, GeneratedAt: now}, nil
}
