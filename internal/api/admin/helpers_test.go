package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/services"
)

var errDB = errors.New("db: connection refused")

func jsonBody(v interface{}) *bytes.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func getJSON(w *httptest.ResponseRecorder) map[string]interface{} {
	var m map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &m)
	return m
}

// errorCode extracts error.code from an error response
func errorCode(w *httptest.ResponseRecorder) string {
	body, _ := getJSON(w)["error"].(map[string]interface{})
	code, _ := body["code"].(string)
	return code
}

// errorFields extracts the field names of error.fields
func errorFields(w *httptest.ResponseRecorder) []string {
	body, _ := getJSON(w)["error"].(map[string]interface{})
	raw, _ := body["fields"].([]interface{})
	var out []string
	for _, f := range raw {
		if m, ok := f.(map[string]interface{}); ok {
			name, _ := m["field"].(string)
			out = append(out, name)
		}
	}
	return out
}

// withActor injects what the auth middleware would set
func withActor(actor string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("actor", actor)
		c.Next()
	}
}

func sampleOrg(status models.OrganizationStatus) *models.Organization {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Organization{
		ID:             "org-1",
		Name:           "Acme Corp",
		ContactEmail:   "ops@acme.test",
		PlanID:         "plan-basic",
		Status:         status,
		ExpiresAt:      now.AddDate(1, 0, 0),
		Quotas:         models.Quotas{Seats: models.Quota{Current: 3, Total: 10}},
		LicenseKeyHint: "ACME-****-****-****-Q7ZK",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ---------------------------------------------------------------------------
// Stub services
// ---------------------------------------------------------------------------

type stubLicenses struct {
	list       func(services.OrganizationFilter) (*services.OrganizationPage, error)
	get        func(id string) (*models.Organization, error)
	provision  func(actor string, in services.ProvisionInput) (*services.KeyedOrganization, error)
	renew      func(actor, id string, in services.RenewInput) (*models.Organization, error)
	suspend    func(actor, id, reason string) (*models.Organization, error)
	revoke     func(actor, id, reason string) (*models.Organization, error)
	override   func(actor, id string, dim models.QuotaDimension, total int) (*services.QuotaOverrideResult, error)
	regenerate func(actor, id string) (*services.KeyedOrganization, error)
	reveal     func(id string) (string, error)
	usage      func(id string, in services.UsageInput) (*models.Organization, error)
	generate   func(orgName, orgID string) (string, error)
}

func (s *stubLicenses) List(_ context.Context, f services.OrganizationFilter) (*services.OrganizationPage, error) {
	return s.list(f)
}

func (s *stubLicenses) Get(_ context.Context, id string) (*models.Organization, error) {
	return s.get(id)
}

func (s *stubLicenses) Provision(_ context.Context, actor string, in services.ProvisionInput) (*services.KeyedOrganization, error) {
	return s.provision(actor, in)
}

func (s *stubLicenses) Renew(_ context.Context, actor, id string, in services.RenewInput) (*models.Organization, error) {
	return s.renew(actor, id, in)
}

func (s *stubLicenses) Suspend(_ context.Context, actor, id, reason string) (*models.Organization, error) {
	return s.suspend(actor, id, reason)
}

func (s *stubLicenses) Revoke(_ context.Context, actor, id, reason string) (*models.Organization, error) {
	return s.revoke(actor, id, reason)
}

func (s *stubLicenses) OverrideQuota(_ context.Context, actor, id string, dim models.QuotaDimension, total int) (*services.QuotaOverrideResult, error) {
	return s.override(actor, id, dim, total)
}

func (s *stubLicenses) RegenerateLicenseKey(_ context.Context, actor, id string) (*services.KeyedOrganization, error) {
	return s.regenerate(actor, id)
}

func (s *stubLicenses) RevealLicenseKey(_ context.Context, id string) (string, error) {
	return s.reveal(id)
}

func (s *stubLicenses) RecordUsage(_ context.Context, id string, in services.UsageInput) (*models.Organization, error) {
	return s.usage(id, in)
}

func (s *stubLicenses) GenerateKey(_ context.Context, orgName, orgID string) (string, error) {
	return s.generate(orgName, orgID)
}

type stubPlans struct {
	list   func() ([]*models.Plan, error)
	get    func(id string) (*models.Plan, error)
	create func(actor string, in services.PlanInput) (*models.Plan, error)
	update func(actor, id string, in services.PlanUpdate) (*models.Plan, error)
	del    func(actor, id string) error
}

func (s *stubPlans) ListPlans(context.Context) ([]*models.Plan, error) { return s.list() }

func (s *stubPlans) GetPlan(_ context.Context, id string) (*models.Plan, error) { return s.get(id) }

func (s *stubPlans) CreatePlan(_ context.Context, actor string, in services.PlanInput) (*models.Plan, error) {
	return s.create(actor, in)
}

func (s *stubPlans) UpdatePlan(_ context.Context, actor, id string, in services.PlanUpdate) (*models.Plan, error) {
	return s.update(actor, id, in)
}

func (s *stubPlans) DeletePlan(_ context.Context, actor, id string) error { return s.del(actor, id) }

type stubAudit struct {
	query  func(q services.AuditQuery) (*services.AuditPage, error)
	export func(q services.AuditQuery, w io.Writer) (int, error)
}

func (s *stubAudit) Query(_ context.Context, q services.AuditQuery) (*services.AuditPage, error) {
	return s.query(q)
}

func (s *stubAudit) Export(_ context.Context, q services.AuditQuery, w io.Writer) (int, error) {
	return s.export(q, w)
}

type stubStats struct {
	stats func() (*services.DashboardStats, error)
}

func (s *stubStats) Stats(context.Context) (*services.DashboardStats, error) { return s.stats() }
