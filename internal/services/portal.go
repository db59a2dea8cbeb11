package services

import (
	"context"
	"time"

	"github.com/license-console/license-console/internal/db/models"
)

// UsageWarningPercent is the utilisation at which a quota is flagged in the portal and
// counted as saturated on the dashboard
const UsageWarningPercent = 85

// UsageView is one quota dimension as shown to an organization
type UsageView struct {
	Dimension models.QuotaDimension `json:"dimension"`
	Current   int                   `json:"current"`
	Total     int                   `json:"total"`
	Percent   int                   `json:"percent"`
	Warning   bool                  `json:"warning"`
}

// PortalView is what an organization sees about its own license. An expired license
// gets the status fields only.
type PortalView struct {
	Name         string                    `json:"name"`
	Status       models.OrganizationStatus `json:"status"`
	ExpiresAt    time.Time                 `json:"expires_at"`
	LicenseKey   string                    `json:"license_key_hint"`
	PlanName     string                    `json:"plan_name,omitempty"`
	Capabilities models.FeatureFlags       `json:"capabilities,omitempty"`
	Usage        []UsageView               `json:"usage,omitempty"`
}

// Portal serves the license-key authenticated organization view
type Portal struct {
	engine  *LicenseEngine
	catalog *PlanCatalog
}

// NewPortal creates a Portal
func NewPortal(engine *LicenseEngine, catalog *PlanCatalog) *Portal {
	return &Portal{engine: engine, catalog: catalog}
}

// View resolves a presented key to the organization's portal view. Pending, suspended
// and revoked licenses are refused with a ForbiddenError naming the status.
func (p *Portal) View(ctx context.Context, licenseKey string) (*PortalView, error) {
	org, err := p.engine.LookupByKey(ctx, licenseKey)
	if err != nil {
		return nil, err
	}

	switch org.Status {
	case models.StatusPending, models.StatusSuspended, models.StatusRevoked:
		return nil, ForbiddenError("license is %s", org.Status)
	}

	view := &PortalView{
		Name:       org.Name,
		Status:     org.Status,
		ExpiresAt:  org.ExpiresAt,
		LicenseKey: org.LicenseKeyHint,
	}
	if org.Status == models.StatusExpired {
		return view, nil
	}

	plan, err := p.catalog.GetPlan(ctx, org.PlanID)
	if err != nil {
		return nil, err
	}
	view.PlanName = plan.Name
	view.Capabilities = plan.FeatureFlags.Complete()
	view.Usage = usageViews(org.Quotas)
	return view, nil
}

func usageViews(q models.Quotas) []UsageView {
	out := make([]UsageView, 0, len(models.QuotaDimensions()))
	for _, dim := range models.QuotaDimensions() {
		quota := q.Get(dim)
		v := UsageView{Dimension: dim, Current: quota.Current, Total: quota.Total}
		if quota.Total > 0 {
			v.Percent = quota.Current * 100 / quota.Total
			v.Warning = v.Percent >= UsageWarningPercent
		} else {
			v.Warning = quota.Current > 0
		}
		out = append(out, v)
	}
	return out
}
