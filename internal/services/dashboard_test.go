package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardStats(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	ctx := context.Background()

	short, err := f.engine.Provision(ctx, "admin", ProvisionInput{Name: "Short", ContactEmail: "a@short.example", PlanID: "starter", ValidityMonths: 1})
	require.NoError(t, err)
	full := f.provision(t, "Full", "starter").Organization
	_, err = f.engine.RecordUsage(ctx, full.ID, UsageInput{Seats: intPtr(5)})
	require.NoError(t, err)
	over := f.provision(t, "Over", "enterprise").Organization
	_, err = f.engine.RecordUsage(ctx, over.ID, UsageInput{Labs: intPtr(60)})
	require.NoError(t, err)
	revoked := f.provision(t, "Gone", "enterprise").Organization
	_, err = f.engine.Revoke(ctx, "admin", revoked.ID, "")
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	stats, err := NewDashboard(f.store, f.clock).Stats(ctx)
	require.NoError(t, err)

	o := stats.Organizations
	assert.Equal(t, 4, o.Total)
	assert.Equal(t, 3, o.ByStatus["active"])
	assert.Equal(t, 1, o.ByStatus["revoked"])
	assert.Equal(t, 2, o.ByPlan["starter"])
	assert.Equal(t, 1, o.ExpiringSoon, "only %s expires within 30 days", short.Organization.Name)
	assert.Equal(t, 1, o.OverCapacity)
	assert.Equal(t, 1, o.Saturated)
	assert.Zero(t, stats.AuditEntries24, "entries are older than a day")
	assert.Equal(t, f.clock.Now(), stats.GeneratedAt)
}

func TestDashboardStats_StorageError(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	f.store.failOn("Audit.CountSince", errors.New("down"))
	_, err := NewDashboard(f.store, f.clock).Stats(context.Background())
	assert.True(t, IsStorage(err))
}
