// Package admin implements the authenticated administration endpoints: organization
// lifecycle, the plan catalog, the audit ledger, dashboard statistics and the key
// generator. Handlers hold narrow service interfaces so they can be exercised without
// a database.
package admin

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/middleware"
	"github.com/license-console/license-console/internal/services"
)

// LicenseService is the lifecycle engine surface used by the organization handlers
type LicenseService interface {
	List(ctx context.Context, f services.OrganizationFilter) (*services.OrganizationPage, error)
	Get(ctx context.Context, id string) (*models.Organization, error)
	Provision(ctx context.Context, actor string, in services.ProvisionInput) (*services.KeyedOrganization, error)
	Renew(ctx context.Context, actor, id string, in services.RenewInput) (*models.Organization, error)
	Suspend(ctx context.Context, actor, id, reason string) (*models.Organization, error)
	Revoke(ctx context.Context, actor, id, reason string) (*models.Organization, error)
	OverrideQuota(ctx context.Context, actor, id string, dim models.QuotaDimension, total int) (*services.QuotaOverrideResult, error)
	RegenerateLicenseKey(ctx context.Context, actor, id string) (*services.KeyedOrganization, error)
	RevealLicenseKey(ctx context.Context, id string) (string, error)
	RecordUsage(ctx context.Context, id string, in services.UsageInput) (*models.Organization, error)
	GenerateKey(ctx context.Context, orgName, orgID string) (string, error)
}

// PlanService is the plan catalog surface
type PlanService interface {
	ListPlans(ctx context.Context) ([]*models.Plan, error)
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	CreatePlan(ctx context.Context, actor string, in services.PlanInput) (*models.Plan, error)
	UpdatePlan(ctx context.Context, actor, id string, in services.PlanUpdate) (*models.Plan, error)
	DeletePlan(ctx context.Context, actor, id string) error
}

// AuditService is the audit ledger surface
type AuditService interface {
	Query(ctx context.Context, q services.AuditQuery) (*services.AuditPage, error)
	Export(ctx context.Context, q services.AuditQuery, w io.Writer) (int, error)
}

// StatsService produces dashboard statistics
type StatsService interface {
	Stats(ctx context.Context) (*services.DashboardStats, error)
}

// requestContext carries the client IP into the services so audit entries record it
func requestContext(c *gin.Context) context.Context {
	return services.WithClientIP(c.Request.Context(), c.ClientIP())
}

func actor(c *gin.Context) string {
	return middleware.GetActor(c)
}

func pagination(total, limit, offset int) gin.H {
	return gin.H{
		"total":  total,
		"limit":  limit,
		"offset": offset,
	}
}
