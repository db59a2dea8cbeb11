// Package models - audit_log.go defines the AuditLog model for the append-only ledger of
// administrative mutations, along with the closed action taxonomy.
package models

import "time"

// AuditAction names an administrative mutation recorded in the ledger
type AuditAction string

const (
	ActionOrganizationProvision     AuditAction = "organization.provision"
	ActionOrganizationActivate      AuditAction = "organization.activate"
	ActionOrganizationRenew         AuditAction = "organization.renew"
	ActionOrganizationSuspend       AuditAction = "organization.suspend"
	ActionOrganizationRevoke        AuditAction = "organization.revoke"
	ActionOrganizationExpire        AuditAction = "organization.expire"
	ActionOrganizationQuotaOverride AuditAction = "organization.quota_override"
	ActionOrganizationKeyRegenerate AuditAction = "organization.key_regenerate"
	ActionPlanCreate                AuditAction = "plan.create"
	ActionPlanUpdate                AuditAction = "plan.update"
	ActionPlanDelete                AuditAction = "plan.delete"
)

// AuditActions returns the full taxonomy
func AuditActions() []AuditAction {
	return []AuditAction{
		ActionOrganizationProvision,
		ActionOrganizationActivate,
		ActionOrganizationRenew,
		ActionOrganizationSuspend,
		ActionOrganizationRevoke,
		ActionOrganizationExpire,
		ActionOrganizationQuotaOverride,
		ActionOrganizationKeyRegenerate,
		ActionPlanCreate,
		ActionPlanUpdate,
		ActionPlanDelete,
	}
}

// Valid reports whether a is part of the taxonomy
func (a AuditAction) Valid() bool {
	for _, known := range AuditActions() {
		if a == known {
			return true
		}
	}
	return false
}

// Resource types referenced by audit entries
const (
	ResourceOrganization = "organization"
	ResourcePlan         = "plan"
)

// ActorSystem is recorded for transitions the service applies on its own
const ActorSystem = "system"

// AuditLog represents one entry in the audit ledger
type AuditLog struct {
	ID             string                 `json:"id"`
	Actor          string                 `json:"actor"`
	Action         AuditAction            `json:"action"`
	ResourceType   string                 `json:"resource_type"`
	ResourceID     string                 `json:"resource_id"`
	OrganizationID *string                `json:"organization_id,omitempty"` // target org, nil for plan actions
	Details        string                 `json:"details"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"` // JSONB
	IPAddress      *string                `json:"ip_address,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// AuditFilters narrows ledger queries. Nil fields impose no constraint; set fields are ANDed.
type AuditFilters struct {
	Actor          *string
	Action         *AuditAction
	ResourceType   *string
	ResourceID     *string
	OrganizationID *string
	From           *time.Time
	To             *time.Time
	// Before restricts results to entries strictly older than the cursor in
	// (created_at, id) order
	Before *AuditCursor
}

// AuditCursor identifies the last entry of a newest-first page
type AuditCursor struct {
	CreatedAt time.Time
	ID        string
}
