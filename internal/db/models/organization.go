// Package models - organization.go defines the Organization model: a licensed tenant bound to
// a plan, a license key, an expiry instant, a lifecycle status and per-dimension quotas.
package models

import "time"

// OrganizationStatus is the license lifecycle state of an organization
type OrganizationStatus string

const (
	StatusPending   OrganizationStatus = "pending"
	StatusActive    OrganizationStatus = "active"
	StatusSuspended OrganizationStatus = "suspended"
	StatusExpired   OrganizationStatus = "expired"
	StatusRevoked   OrganizationStatus = "revoked"
)

// OrganizationStatuses returns every status in lifecycle order
func OrganizationStatuses() []OrganizationStatus {
	return []OrganizationStatus{StatusPending, StatusActive, StatusSuspended, StatusExpired, StatusRevoked}
}

// Valid reports whether s is a known status
func (s OrganizationStatus) Valid() bool {
	for _, st := range OrganizationStatuses() {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition may leave s
func (s OrganizationStatus) Terminal() bool {
	return s == StatusRevoked
}

// QuotaDimension names a metered resource
type QuotaDimension string

const (
	QuotaSeats       QuotaDimension = "seats"
	QuotaLabs        QuotaDimension = "labs"
	QuotaConcurrency QuotaDimension = "concurrency"
)

// QuotaDimensions returns the metered resources in display order
func QuotaDimensions() []QuotaDimension {
	return []QuotaDimension{QuotaSeats, QuotaLabs, QuotaConcurrency}
}

// Valid reports whether d is a known dimension
func (d QuotaDimension) Valid() bool {
	return d == QuotaSeats || d == QuotaLabs || d == QuotaConcurrency
}

// Quota pairs the metered usage of one dimension with its ceiling.
// Current may exceed Total after a ceiling is lowered.
type Quota struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Over reports whether usage exceeds the ceiling
func (q Quota) Over() bool {
	return q.Current > q.Total
}

// Quotas holds the quota for every dimension
type Quotas struct {
	Seats       Quota `json:"seats"`
	Labs        Quota `json:"labs"`
	Concurrency Quota `json:"concurrency"`
}

// Get returns a pointer to the quota for dim, or nil for an unknown dimension
func (q *Quotas) Get(dim QuotaDimension) *Quota {
	switch dim {
	case QuotaSeats:
		return &q.Seats
	case QuotaLabs:
		return &q.Labs
	case QuotaConcurrency:
		return &q.Concurrency
	}
	return nil
}

// ApplyTemplate copies the template ceilings into every Total, leaving Current untouched
func (q *Quotas) ApplyTemplate(t QuotaTemplate) {
	for _, dim := range QuotaDimensions() {
		q.Get(dim).Total = t.Get(dim)
	}
}

// OverCapacity returns the dimensions whose usage exceeds the ceiling
func (q Quotas) OverCapacity() []QuotaDimension {
	var over []QuotaDimension
	for _, dim := range QuotaDimensions() {
		if q.Get(dim).Over() {
			over = append(over, dim)
		}
	}
	return over
}

// Organization represents a licensed tenant
type Organization struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	ContactEmail string             `json:"contact_email"`
	PlanID       string             `json:"plan_id"`
	Status       OrganizationStatus `json:"status"`
	ExpiresAt    time.Time          `json:"expires_at"`
	// SuspendReason is set while the organization is suspended or revoked
	SuspendReason *string `json:"suspend_reason,omitempty"`
	Quotas        Quotas  `json:"quotas"`

	LicenseKeyCiphertext  string `json:"-"` // AES-GCM sealed key
	LicenseKeyFingerprint string `json:"-"` // HMAC-SHA256 lookup index
	LicenseKeyHint        string `json:"license_key_hint"`

	ActivatedAt      *time.Time `json:"activated_at,omitempty"`
	ExpiryNotifiedAt *time.Time `json:"-"` // cleared whenever the expiry moves
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Lapsed reports whether the organization is stored as active but its expiry has passed
func (o *Organization) Lapsed(now time.Time) bool {
	return o.Status == StatusActive && now.After(o.ExpiresAt)
}

// EffectiveStatus returns the status a reader must observe at now
func (o *Organization) EffectiveStatus(now time.Time) OrganizationStatus {
	if o.Lapsed(now) {
		return StatusExpired
	}
	return o.Status
}

// OrganizationFilters narrows organization listings. Nil fields impose no constraint.
type OrganizationFilters struct {
	Status *OrganizationStatus
	PlanID *string
	Search *string // case-insensitive match on name, or exact id
}
