package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/license-console/license-console/internal/db/models"
)

func TestPortalView_ActiveLicense(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	ctx := context.Background()
	res := f.provision(t, "Acme", "starter")
	_, err := f.engine.RecordUsage(ctx, res.Organization.ID, UsageInput{Seats: intPtr(5), Labs: intPtr(1)})
	require.NoError(t, err)
	_, err = f.engine.OverrideQuota(ctx, "admin", res.Organization.ID, models.QuotaConcurrency, 0)
	require.NoError(t, err)
	_, err = f.engine.RecordUsage(ctx, res.Organization.ID, UsageInput{Concurrency: intPtr(1)})
	require.NoError(t, err)

	view, err := NewPortal(f.engine, f.catalog).View(ctx, res.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, "Acme", view.Name)
	assert.Equal(t, models.StatusActive, view.Status)
	assert.Equal(t, "Starter", view.PlanName)
	assert.True(t, view.Capabilities[models.CapabilityCyberTraining])
	assert.False(t, view.Capabilities[models.CapabilitySSOOIDC])

	require.Len(t, view.Usage, 3)
	assert.Equal(t, UsageView{Dimension: models.QuotaSeats, Current: 5, Total: 5, Percent: 100, Warning: true}, view.Usage[0])
	assert.Equal(t, UsageView{Dimension: models.QuotaLabs, Current: 1, Total: 2, Percent: 50}, view.Usage[1])
	assert.Equal(t, UsageView{Dimension: models.QuotaConcurrency, Current: 1, Total: 0, Warning: true}, view.Usage[2])
}

func TestPortalView_RefusedStatuses(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	ctx := context.Background()
	portal := NewPortal(f.engine, f.catalog)
	res := f.provision(t, "Acme", "starter")

	_, err := f.engine.Suspend(ctx, "admin", res.Organization.ID, "")
	require.NoError(t, err)
	_, err = portal.View(ctx, res.LicenseKey)
	require.True(t, IsForbidden(err))
	assert.Contains(t, err.Error(), "suspended")

	_, err = f.engine.Revoke(ctx, "admin", res.Organization.ID, "")
	require.NoError(t, err)
	_, err = portal.View(ctx, res.LicenseKey)
	assert.True(t, IsForbidden(err))
}

func TestPortalView_PendingRefused(t *testing.T) {
	f := newFixture(t, EngineConfig{RequireActivation: true})
	res := f.provision(t, "Acme", "starter")
	_, err := NewPortal(f.engine, f.catalog).View(context.Background(), res.LicenseKey)
	assert.True(t, IsForbidden(err))
}

func TestPortalView_ExpiredGetsStatusOnly(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	res := f.provision(t, "Acme", "starter")
	f.clock.Advance(400 * 24 * time.Hour)

	view, err := NewPortal(f.engine, f.catalog).View(context.Background(), res.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, view.Status)
	assert.Empty(t, view.PlanName)
	assert.Nil(t, view.Usage)
	assert.Nil(t, view.Capabilities)
}

func TestPortalView_UnknownKey(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	_, err := NewPortal(f.engine, f.catalog).View(context.Background(), "ZZZZ-ZZZZ-ZZZZ-ZZZZ")
	assert.True(t, IsNotFound(err))
}
