package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/license-console/license-console/internal/auth"
	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/db/repositories"
	"github.com/license-console/license-console/internal/telemetry"
	"github.com/license-console/license-console/internal/validation"
)

// KeyGenerator produces license keys
type KeyGenerator interface {
	Generate(orgName, orgID string) (string, error)
}

// KeyCipher protects license keys at rest
type KeyCipher interface {
	Seal(plaintext string) (string, error)
	Open(ciphertext string) (string, error)
	Fingerprint(key string) string
}

// EngineConfig holds lifecycle policy knobs
type EngineConfig struct {
	// RequireActivation provisions organizations as pending until their key is activated
	RequireActivation bool
	MinValidityMonths int
	MaxValidityMonths int
	// SweepBatchSize bounds the organizations expired by one SweepExpired call
	SweepBatchSize int
}

// ProvisionInput describes a new organization
type ProvisionInput struct {
	Name           string `json:"name" validate:"required,min=2,max=120"`
	ContactEmail   string `json:"email" validate:"required,email,max=254"`
	PlanID         string `json:"plan_id" validate:"required"`
	ValidityMonths int    `json:"validity_months" validate:"required,min=1,max=60"`
}

// RenewInput extends a license and optionally moves it to another plan. Quotas set here
// win over the new plan's defaults.
type RenewInput struct {
	ExpiresAt time.Time   `json:"expires_at"`
	PlanID    *string     `json:"plan_id" validate:"omitempty,min=1"`
	Quotas    *QuotaPatch `json:"quotas"`
}

// UsageInput carries metered usage counters. Unset dimensions are left unchanged.
type UsageInput struct {
	Seats       *int `json:"seats" validate:"omitempty,gte=0"`
	Labs        *int `json:"labs" validate:"omitempty,gte=0"`
	Concurrency *int `json:"concurrency" validate:"omitempty,gte=0"`
}

// OrganizationFilter selects organizations for List
type OrganizationFilter struct {
	Status string `form:"status" json:"status" validate:"omitempty,org_status"`
	PlanID string `form:"plan" json:"plan"`
	Search string `form:"search" json:"search" validate:"max=200"`
	Limit  int    `form:"limit" json:"limit" validate:"gte=0"`
	Offset int    `form:"offset" json:"offset" validate:"gte=0"`
}

// OrganizationPage is one page of organizations, newest first
type OrganizationPage struct {
	Organizations []*models.Organization
	Total         int
	Limit         int
	Offset        int
}

// KeyedOrganization pairs an organization with its plaintext key, which is only ever
// returned from provisioning and regeneration
type KeyedOrganization struct {
	Organization *models.Organization
	LicenseKey   string
}

// QuotaOverrideResult reports an overridden quota
type QuotaOverrideResult struct {
	Organization *models.Organization
	OverCapacity bool
}

// KeyValidation is the outcome of checking a presented license key
type KeyValidation struct {
	Valid        bool
	Status       models.OrganizationStatus
	Organization *models.Organization
}

// LicenseEngine drives the organization license state machine
type LicenseEngine struct {
	tx     txRunner
	store  repositories.Store
	keys   KeyGenerator
	cipher KeyCipher
	clock  Clock
	cfg    EngineConfig
}

// NewLicenseEngine creates an engine. A nil clock uses SystemClock and a nil forwarder
// disables audit shipping.
func NewLicenseEngine(store repositories.Store, keys KeyGenerator, cipher KeyCipher, clock Clock, forwarder AuditForwarder, cfg EngineConfig) *LicenseEngine {
	if clock == nil {
		clock = SystemClock
	}
	if forwarder == nil {
		forwarder = noopForwarder{}
	}
	if cfg.MinValidityMonths <= 0 {
		cfg.MinValidityMonths = 1
	}
	if cfg.MaxValidityMonths <= 0 || cfg.MaxValidityMonths > 60 {
		cfg.MaxValidityMonths = 60
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 500
	}
	return &LicenseEngine{
		tx:     txRunner{store: store, forwarder: forwarder},
		store:  store,
		keys:   keys,
		cipher: cipher,
		clock:  clock,
		cfg:    cfg,
	}
}

func (e *LicenseEngine) now() time.Time {
	return e.clock.Now().UTC()
}

// issueKey generates a key for org and stores its ciphertext, fingerprint and hint on org
func (e *LicenseEngine) issueKey(org *models.Organization) (string, error) {
	key, err := e.keys.Generate(org.Name, org.ID)
	if err != nil {
		return "", err
	}
	sealed, err := e.cipher.Seal(key)
	if err != nil {
		return "", fmt.Errorf("failed to seal license key: %w", err)
	}
	org.LicenseKeyCiphertext = sealed
	org.LicenseKeyFingerprint = e.cipher.Fingerprint(key)
	org.LicenseKeyHint = auth.MaskKey(key)
	return key, nil
}

func orgEntry(actor string, action models.AuditAction, org *models.Organization, details string, metadata map[string]interface{}) *models.AuditLog {
	id := org.ID
	return &models.AuditLog{
		Actor:          actor,
		Action:         action,
		ResourceType:   models.ResourceOrganization,
		ResourceID:     org.ID,
		OrganizationID: &id,
		Details:        details,
		Metadata:       metadata,
	}
}

func quotaMetadata(q models.Quotas) map[string]interface{} {
	return map[string]interface{}{
		"seats":       q.Seats.Total,
		"labs":        q.Labs.Total,
		"concurrency": q.Concurrency.Total,
	}
}

// lockOrg loads id for update, returning NotFoundError when it does not exist
func lockOrg(ctx context.Context, r repositories.Repos, id string) (*models.Organization, error) {
	org, err := r.Organizations().GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, NotFoundError("organization", id)
	}
	return org, nil
}

// Provision creates an organization on a plan and issues its license key
func (e *LicenseEngine) Provision(ctx context.Context, actor string, in ProvisionInput) (*KeyedOrganization, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.ContactEmail = strings.TrimSpace(in.ContactEmail)
	if err := fromValidation(validation.Struct(in)); err != nil {
		return nil, err
	}
	if in.ValidityMonths < e.cfg.MinValidityMonths || in.ValidityMonths > e.cfg.MaxValidityMonths {
		return nil, ValidationError("invalid input", FieldError{
			Field:   "validity_months",
			Message: fmt.Sprintf("must be between %d and %d", e.cfg.MinValidityMonths, e.cfg.MaxValidityMonths),
		})
	}

	now := e.now()
	org := &models.Organization{
		ID:           uuid.New().String(),
		Name:         in.Name,
		ContactEmail: in.ContactEmail,
		Status:       models.StatusActive,
		ExpiresAt:    now.AddDate(0, in.ValidityMonths, 0),
	}
	if e.cfg.RequireActivation {
		org.Status = models.StatusPending
	} else {
		org.ActivatedAt = &now
	}

	var key string
	err := e.tx.mutate(ctx, "provision organization", func(r repositories.Repos) ([]*models.AuditLog, error) {
		plan, err := r.Plans().GetByID(ctx, in.PlanID)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, ValidationError("invalid input", FieldError{Field: "plan_id", Message: "unknown plan"})
		}
		org.PlanID = plan.ID
		org.Quotas = models.Quotas{}
		org.Quotas.ApplyTemplate(plan.DefaultQuotas)

		if key, err = e.issueKey(org); err != nil {
			return nil, err
		}
		if err := r.Organizations().Create(ctx, org); err != nil {
			return nil, err
		}

		entry, err := appendEntry(ctx, r.Audit(), orgEntry(actor, models.ActionOrganizationProvision, org,
			fmt.Sprintf("provisioned %s on plan %s until %s", org.Name, plan.Name, org.ExpiresAt.Format("2006-01-02")),
			map[string]interface{}{
				"plan_id":         plan.ID,
				"status":          string(org.Status),
				"expires_at":      org.ExpiresAt,
				"validity_months": in.ValidityMonths,
				"quotas":          quotaMetadata(org.Quotas),
				"license_key":     org.LicenseKeyHint,
			}))
		if err != nil {
			return nil, err
		}
		return []*models.AuditLog{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return &KeyedOrganization{Organization: org, LicenseKey: key}, nil
}

// Activate moves a pending organization to active. The presented key identifies the
// organization and the ledger actor is derived from its hint.
func (e *LicenseEngine) Activate(ctx context.Context, presented string) (*models.Organization, error) {
	key, err := auth.ParseKey(presented)
	if err != nil {
		return nil, ValidationError("invalid input", FieldError{Field: "license_key", Message: "is malformed"})
	}

	var activated *models.Organization
	err = e.tx.mutate(ctx, "activate license", func(r repositories.Repos) ([]*models.AuditLog, error) {
		found, err := r.Organizations().GetByKeyFingerprint(ctx, e.cipher.Fingerprint(key))
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, NotFoundError("license key", auth.MaskKey(key))
		}
		org, err := lockOrg(ctx, r, found.ID)
		if err != nil {
			return nil, err
		}
		if org.LicenseKeyFingerprint != found.LicenseKeyFingerprint {
			return nil, NotFoundError("license key", auth.MaskKey(key))
		}

		now := e.now()
		if org.Status != models.StatusPending {
			return nil, ConflictError("license is %s, only pending licenses can be activated", org.EffectiveStatus(now))
		}
		if now.After(org.ExpiresAt) {
			return nil, ConflictError("license validity ended on %s", org.ExpiresAt.Format("2006-01-02"))
		}

		org.Status = models.StatusActive
		org.ActivatedAt = &now
		if err := r.Organizations().UpdateLifecycle(ctx, org); err != nil {
			return nil, err
		}

		entry, err := appendEntry(ctx, r.Audit(), orgEntry("license:"+org.LicenseKeyHint, models.ActionOrganizationActivate, org,
			"license activated", map[string]interface{}{"previous_status": string(models.StatusPending)}))
		if err != nil {
			return nil, err
		}
		activated = org
		return []*models.AuditLog{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return activated, nil
}

// Get returns one organization. An active license past its expiry is moved to expired
// and the transition is recorded with the system actor.
func (e *LicenseEngine) Get(ctx context.Context, id string) (*models.Organization, error) {
	org, err := e.store.Organizations().GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get organization", err)
	}
	if org == nil {
		return nil, NotFoundError("organization", id)
	}
	return e.expireIfLapsed(ctx, org)
}

func (e *LicenseEngine) expireIfLapsed(ctx context.Context, org *models.Organization) (*models.Organization, error) {
	if !org.Lapsed(e.now()) {
		return org, nil
	}

	result := org
	err := e.tx.mutate(ctx, "expire organization", func(r repositories.Repos) ([]*models.AuditLog, error) {
		locked, err := lockOrg(ctx, r, org.ID)
		if err != nil {
			return nil, err
		}
		// A concurrent renew or sweep may have won the lock first.
		if !locked.Lapsed(e.now()) {
			result = locked
			return nil, nil
		}
		entry, err := e.expire(ctx, r, locked)
		if err != nil {
			return nil, err
		}
		result = locked
		return []*models.AuditLog{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// expire persists the active to expired transition for a locked organization
func (e *LicenseEngine) expire(ctx context.Context, r repositories.Repos, org *models.Organization) (*models.AuditLog, error) {
	org.Status = models.StatusExpired
	if err := r.Organizations().UpdateLifecycle(ctx, org); err != nil {
		return nil, err
	}
	return appendEntry(ctx, r.Audit(), orgEntry(models.ActorSystem, models.ActionOrganizationExpire, org,
		fmt.Sprintf("license expired on %s", org.ExpiresAt.Format(time.RFC3339)),
		map[string]interface{}{"expires_at": org.ExpiresAt}))
}

// List returns a page of organizations. Lapsed active licenses are reported as expired
// without being persisted, and the status filter matches on that effective status.
func (e *LicenseEngine) List(ctx context.Context, f OrganizationFilter) (*OrganizationPage, error) {
	if err := fromValidation(validation.Struct(f)); err != nil {
		return nil, err
	}
	switch {
	case f.Limit <= 0:
		f.Limit = 20
	case f.Limit > 100:
		f.Limit = 100
	}

	var filters models.OrganizationFilters
	if f.Status != "" {
		s := models.OrganizationStatus(f.Status)
		filters.Status = &s
	}
	if f.PlanID != "" {
		filters.PlanID = &f.PlanID
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		filters.Search = &search
	}

	now := e.now()
	orgs, total, err := e.store.Organizations().List(ctx, filters, now, f.Limit, f.Offset)
	if err != nil {
		return nil, storageErr("list organizations", err)
	}
	for _, org := range orgs {
		org.Status = org.EffectiveStatus(now)
	}
	return &OrganizationPage{Organizations: orgs, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Renew sets a new expiry and reactivates the license. Usage counters are preserved.
func (e *LicenseEngine) Renew(ctx context.Context, actor, id string, in RenewInput) (*models.Organization, error) {
	if err := fromValidation(validation.Struct(in)); err != nil {
		return nil, err
	}
	now := e.now()
	if !in.ExpiresAt.After(now) {
		return nil, ValidationError("invalid input", FieldError{Field: "expires_at", Message: "must be in the future"})
	}
	if limit := now.AddDate(0, e.cfg.MaxValidityMonths, 0); in.ExpiresAt.After(limit) {
		return nil, ValidationError("invalid input", FieldError{
			Field:   "expires_at",
			Message: fmt.Sprintf("must be within %d months", e.cfg.MaxValidityMonths),
		})
	}

	var renewed *models.Organization
	err := e.tx.mutate(ctx, "renew organization", func(r repositories.Repos) ([]*models.AuditLog, error) {
		org, err := lockOrg(ctx, r, id)
		if err != nil {
			return nil, err
		}
		switch org.Status {
		case models.StatusActive, models.StatusExpired, models.StatusSuspended:
		default:
			return nil, ConflictError("cannot renew a %s license", org.Status)
		}

		previousStatus := org.EffectiveStatus(now)
		previousPlan := org.PlanID
		previousExpiry := org.ExpiresAt

		if in.PlanID != nil && *in.PlanID != org.PlanID {
			plan, err := r.Plans().GetByID(ctx, *in.PlanID)
			if err != nil {
				return nil, err
			}
			if plan == nil {
				return nil, ValidationError("invalid input", FieldError{Field: "plan_id", Message: "unknown plan"})
			}
			org.PlanID = plan.ID
			org.Quotas.ApplyTemplate(plan.DefaultQuotas)
		}
		if in.Quotas != nil {
			for _, dim := range models.QuotaDimensions() {
				if v := in.Quotas.get(dim); v != nil {
					org.Quotas.Get(dim).Total = *v
				}
			}
		}

		org.Status = models.StatusActive
		org.ExpiresAt = in.ExpiresAt.UTC()
		org.SuspendReason = nil
		org.ExpiryNotifiedAt = nil
		if org.ActivatedAt == nil {
			org.ActivatedAt = &now
		}
		if err := r.Organizations().UpdateLifecycle(ctx, org); err != nil {
			return nil, err
		}

		metadata := map[string]interface{}{
			"previous_status":     string(previousStatus),
			"previous_expires_at": previousExpiry,
			"expires_at":          org.ExpiresAt,
			"plan_id":             org.PlanID,
			"quotas":              quotaMetadata(org.Quotas),
		}
		if previousPlan != org.PlanID {
			metadata["previous_plan_id"] = previousPlan
		}
		entry, err := appendEntry(ctx, r.Audit(), orgEntry(actor, models.ActionOrganizationRenew, org,
			fmt.Sprintf("renewed until %s", org.ExpiresAt.Format("2006-01-02")), metadata))
		if err != nil {
			return nil, err
		}
		renewed = org
		return []*models.AuditLog{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return renewed, nil
}

// Suspend disables an active license. Suspending an already suspended license is a
// no-op that writes no ledger entry.
func (e *LicenseEngine) Suspend(ctx context.Context, actor, id, reason string) (*models.Organization, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > 500 {
		return nil, ValidationError("invalid input", FieldError{Field: "reason", Message: "must be at most 500 characters"})
	}

	var suspended *models.Organization
	err := e.tx.mutate(ctx, "suspend organization", func(r repositories.Repos) ([]*models.AuditLog, error) {
		org, err := lockOrg(ctx, r, id)
		if err != nil {
			return nil, err
		}
		status := org.EffectiveStatus(e.now())
		if status == models.StatusSuspended {
			suspended = org
			return nil, nil
		}
		if status != models.StatusActive {
			return nil, ConflictError("cannot suspend a %s license", status)
		}

		org.Status = models.StatusSuspended
		org.SuspendReason = nil
		if reason != "" {
			org.SuspendReason = &reason
		}
		if err := r.Organizations().UpdateLifecycle(ctx, org); err != nil {
			return nil, err
		}

		details := "license suspended"
		if reason != "" {
			details += ": " + reason
		}
		entry, err := appendEntry(ctx, r.Audit(), orgEntry(actor, models.ActionOrganizationSuspend, org, details,
			map[string]interface{}{"reason": reason}))
		if err != nil {
			return nil, err
		}
		suspended = org
		return []*models.AuditLog{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return suspended, nil
}

// Revoke permanently disables a license. Revoked is terminal.
func (e *LicenseEngine) Revoke(ctx context.Context, actor, id, reason string) (*models.Organization, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > 500 {
		return nil, ValidationError("invalid input", FieldError{Field: "reason", Message: "must be at most 500 characters"})
	}

	var revoked *models.Organization
	err := e.tx.mutate(ctx, "revoke organization", func(r repositories.Repos) ([]*models.AuditLog, error) {
		org, err := lockOrg(ctx, r, id)
		if err != nil {
			return nil, err
		}
		if org.Status.Terminal() {
			return nil, ConflictError("license is already revoked")
		}

		previous := org.EffectiveStatus(e.now())
		org.Status = models.StatusRevoked
		if err := r.Organizations().UpdateLifecycle(ctx, org); err != nil {
			return nil, err
		}

		details := "license revoked"
		if reason != "" {
			details += ": " + reason
		}
		entry, err := appendEntry(ctx, r.Audit(), orgEntry(actor, models.ActionOrganizationRevoke, org, details,
			map[string]interface{}{"reason": reason, "previous_status": string(previous)}))
		if err != nil {
			return nil, err
		}
		revoked = org
		return []*models.AuditLog{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

// OverrideQuota sets the total of one quota dimension. The current counter is untouched,
// so the result may be over capacity.
func (e *LicenseEngine) OverrideQuota(ctx context.Context, actor, id string, dim models.QuotaDimension, total int) (*QuotaOverrideResult, error) {
	var fields []FieldError
	if !dim.Valid() {
		fields = append(fields, FieldError{Field: "dimension", Message: "must be one of: seats, labs, concurrency"})
	}
	if total < 0 {
		fields = append(fields, FieldError{Field: "total", Message: "must be greater than or equal to 0"})
	}
	if len(fields) > 0 {
		return nil, ValidationError("invalid input", fields...)
	}

	var result *QuotaOverrideResult
	err := e.tx.mutate(ctx, "override quota", func(r repositories.Repos) ([]*models.AuditLog, error) {
		org, err := lockOrg(ctx, r, id)
		if err != nil {
			return nil, err
		}
		if org.Status.Terminal() {
			return nil, ConflictError("cannot change quotas of a revoked license")
		}

		q := org.Quotas.Get(dim)
		previous := q.Total
		q.Total = total
		if err := r.Organizations().UpdateLifecycle(ctx, org); err != nil {
			return nil, err
		}

		entry, err := appendEntry(ctx, r.Audit(), orgEntry(actor, models.ActionOrganizationQuotaOverride, org,
			fmt.Sprintf("%s quota changed from %d to %d", dim, previous, total),
			map[string]interface{}{
				"dimension": string(dim),
				"old_total": previous,
				"new_total": total,
				"current":   q.Current,
			}))
		if err != nil {
			return nil, err
		}
		org.Status = org.EffectiveStatus(e.now())
		result = &QuotaOverrideResult{Organization: org, OverCapacity: q.Over()}
		return []*models.AuditLog{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RegenerateLicenseKey replaces the organization's key. The previous key stops
// validating as soon as the transaction commits.
func (e *LicenseEngine) RegenerateLicenseKey(ctx context.Context, actor, id string) (*KeyedOrganization, error) {
	var result *KeyedOrganization
	err := e.tx.mutate(ctx, "regenerate license key", func(r repositories.Repos) ([]*models.AuditLog, error) {
		org, err := lockOrg(ctx, r, id)
		if err != nil {
			return nil, err
		}
		if org.Status.Terminal() {
			return nil, ConflictError("cannot regenerate the key of a revoked license")
		}

		oldHint := org.LicenseKeyHint
		key, err := e.issueKey(org)
		if err != nil {
			return nil, err
		}
		if err := r.Organizations().UpdateLifecycle(ctx, org); err != nil {
			return nil, err
		}

		entry, err := appendEntry(ctx, r.Audit(), orgEntry(actor, models.ActionOrganizationKeyRegenerate, org,
			"license key regenerated", map[string]interface{}{"old_key": oldHint, "new_key": org.LicenseKeyHint}))
		if err != nil {
			return nil, err
		}
		org.Status = org.EffectiveStatus(e.now())
		result = &KeyedOrganization{Organization: org, LicenseKey: key}
		return []*models.AuditLog{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RevealLicenseKey decrypts the stored key
func (e *LicenseEngine) RevealLicenseKey(ctx context.Context, id string) (string, error) {
	org, err := e.store.Organizations().GetByID(ctx, id)
	if err != nil {
		return "", storageErr("get organization", err)
	}
	if org == nil {
		return "", NotFoundError("organization", id)
	}
	key, err := e.cipher.Open(org.LicenseKeyCiphertext)
	if err != nil {
		return "", storageErr("decrypt license key", err)
	}
	return key, nil
}

// LookupByKey resolves a presented key to its organization, applying lazy expiry
func (e *LicenseEngine) LookupByKey(ctx context.Context, presented string) (*models.Organization, error) {
	key, err := auth.ParseKey(presented)
	if err != nil {
		return nil, NotFoundError("license key", "")
	}
	org, err := e.store.Organizations().GetByKeyFingerprint(ctx, e.cipher.Fingerprint(key))
	if err != nil {
		return nil, storageErr("look up license key", err)
	}
	if org == nil {
		return nil, NotFoundError("license key", auth.MaskKey(key))
	}
	return e.expireIfLapsed(ctx, org)
}

// ValidateLicenseKey reports whether a presented key belongs to an active, unexpired
// license. Unknown and malformed keys are invalid rather than errors.
func (e *LicenseEngine) ValidateLicenseKey(ctx context.Context, presented string) (*KeyValidation, error) {
	org, err := e.LookupByKey(ctx, presented)
	if IsNotFound(err) {
		return &KeyValidation{Valid: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &KeyValidation{
		Valid:        org.Status == models.StatusActive,
		Status:       org.Status,
		Organization: org,
	}, nil
}

// SweepExpired expires every lapsed active license, up to the configured batch size,
// in one transaction. It returns the number of organizations expired.
func (e *LicenseEngine) SweepExpired(ctx context.Context) (int, error) {
	count := 0
	err := e.tx.mutate(ctx, "sweep expired licenses", func(r repositories.Repos) ([]*models.AuditLog, error) {
		lapsed, err := r.Organizations().ListLapsedForUpdate(ctx, e.now(), e.cfg.SweepBatchSize)
		if err != nil {
			return nil, err
		}
		entries := make([]*models.AuditLog, 0, len(lapsed))
		for _, org := range lapsed {
			entry, err := e.expire(ctx, r, org)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
		count = len(entries)
		return entries, nil
	})
	if err != nil {
		return 0, err
	}
	telemetry.ExpirySweepsTotal.Inc()
	telemetry.ExpiredOrgsTotal.Add(float64(count))
	return count, nil
}

// RecordUsage stores metered usage counters. It is not an administrative action and
// writes no ledger entry.
func (e *LicenseEngine) RecordUsage(ctx context.Context, id string, in UsageInput) (*models.Organization, error) {
	if err := fromValidation(validation.Struct(in)); err != nil {
		return nil, err
	}
	if in.Seats == nil && in.Labs == nil && in.Concurrency == nil {
		return nil, ValidationError("invalid input", FieldError{Field: "body", Message: "at least one dimension is required"})
	}
	org, err := e.store.Organizations().SetUsage(ctx, id, repositories.UsageUpdate{
		Seats:       in.Seats,
		Labs:        in.Labs,
		Concurrency: in.Concurrency,
	})
	if err != nil {
		return nil, storageErr("record usage", err)
	}
	if org == nil {
		return nil, NotFoundError("organization", id)
	}
	org.Status = org.EffectiveStatus(e.now())
	return org, nil
}

// GenerateKey returns a fresh key for an organization name without storing it
func (e *LicenseEngine) GenerateKey(ctx context.Context, orgName, orgID string) (string, error) {
	orgName = strings.TrimSpace(orgName)
	if orgID != "" && orgName == "" {
		org, err := e.store.Organizations().GetByID(ctx, orgID)
		if err != nil {
			return "", storageErr("get organization", err)
		}
		if org == nil {
			return "", NotFoundError("organization", orgID)
		}
		orgName = org.Name
	}
	if orgName == "" {
		return "", ValidationError("invalid input", FieldError{Field: "organization_name", Message: "is required"})
	}
	key, err := e.keys.Generate(orgName, orgID)
	if err != nil {
		return "", storageErr("generate license key", err)
	}
	return key, nil
}
