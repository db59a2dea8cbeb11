package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/license-console/license-console/internal/db/models"
)

// seedLedger provisions two organizations and suspends one, leaving three entries
func seedLedger(t *testing.T, f *fixture) (string, string) {
	t.Helper()
	a := f.provision(t, "Alpha", "starter").Organization
	f.clock.Advance(time.Hour)
	b := f.provision(t, "Beta", "starter").Organization
	f.clock.Advance(time.Hour)
	_, err := f.engine.Suspend(context.Background(), "ops@example.com", a.ID, "billing")
	require.NoError(t, err)
	return a.ID, b.ID
}

func TestAuditQuery_FiltersNewestFirst(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	ledger := NewAuditLedger(f.store, 0)
	alpha, _ := seedLedger(t, f)
	ctx := context.Background()

	page, err := ledger.Query(ctx, AuditQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 50, page.Limit)
	assert.Equal(t, models.ActionOrganizationSuspend, page.Entries[0].Action)

	page, err = ledger.Query(ctx, AuditQuery{OrganizationID: alpha})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = ledger.Query(ctx, AuditQuery{Actor: "admin@example.com", Action: string(models.ActionOrganizationProvision)})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	from := f.clock.Now().Add(-90 * time.Minute)
	page, err = ledger.Query(ctx, AuditQuery{From: &from, ResourceType: "organization", Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 200, page.Limit)
	assert.Equal(t, 2, page.Total)
}

func TestAuditQuery_Validation(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	ledger := NewAuditLedger(f.store, 0)
	ctx := context.Background()

	_, err := ledger.Query(ctx, AuditQuery{Action: "module.upload"})
	assert.True(t, IsValidation(err))

	_, err = ledger.Query(ctx, AuditQuery{ResourceType: "user"})
	assert.True(t, IsValidation(err))

	from := f.clock.Now()
	to := from.Add(-time.Hour)
	_, err = ledger.Query(ctx, AuditQuery{From: &from, To: &to})
	assert.True(t, IsValidation(err))
}

func TestAuditQuery_StorageError(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	f.store.failOn("Audit.List", errors.New("timeout"))
	_, err := NewAuditLedger(f.store, 0).Query(context.Background(), AuditQuery{})
	assert.True(t, IsStorage(err))
}

func TestAuditExport_CSV(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	alpha, _ := seedLedger(t, f)

	var buf bytes.Buffer
	n, err := NewAuditLedger(f.store, 0).Export(context.Background(), AuditQuery{}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, ExportHeader, rows[0])
	assert.Equal(t, "ops@example.com", rows[1][2])
	assert.Equal(t, "organization.suspend", rows[1][3])
	assert.Equal(t, alpha, rows[1][6])
	assert.Equal(t, "license suspended: billing", rows[1][7])

	ts, err := time.Parse(time.RFC3339, rows[1][1])
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ts.Location())
}

func TestAuditExport_RowCap(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	seedLedger(t, f)

	var buf bytes.Buffer
	n, err := NewAuditLedger(f.store, 2).Export(context.Background(), AuditQuery{}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestAuditExport_KeysetSurvivesConcurrentAppends(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	seedLedger(t, f)
	ledger := NewAuditLedger(f.store, 0)
	ledger.pageSize = 1

	// A newer entry lands after the first page has been read.
	f.store.afterAuditList = func() {
		f.clock.Advance(time.Minute)
		f.provision(t, "Gamma", "starter")
	}

	var buf bytes.Buffer
	n, err := ledger.Export(context.Background(), AuditQuery{}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	seen := map[string]bool{}
	for _, row := range rows[1:] {
		assert.False(t, seen[row[0]], "entry %s exported twice", row[0])
		seen[row[0]] = true
	}
	assert.Equal(t, "organization.suspend", rows[1][3])
	assert.Equal(t, "organization.provision", rows[3][3])
	assert.Len(t, f.store.entries(), 4)
}

func TestAuditExport_InvalidFilter(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	var buf bytes.Buffer
	_, err := NewAuditLedger(f.store, 0).Export(context.Background(), AuditQuery{Action: "nope"}, &buf)
	assert.True(t, IsValidation(err))
	assert.Zero(t, buf.Len())
}

func TestWriteCSV(t *testing.T) {
	orgID := "org-1"
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []*models.AuditLog{{
		ID:             "a1",
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Actor:          "system",
		Action:         models.ActionOrganizationExpire,
		ResourceType:   models.ResourceOrganization,
		ResourceID:     orgID,
		OrganizationID: &orgID,
		Details:        "license expired, \"late\"",
	}}))
	assert.Equal(t,
		"id,timestamp,actor,action,resource_type,resource_id,organization_id,details\n"+
			"a1,2026-01-02T03:04:05Z,system,organization.expire,organization,org-1,org-1,\"license expired, \"\"late\"\"\"\n",
		buf.String())
}
