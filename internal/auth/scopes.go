// Package auth - scopes.go defines the permission scopes carried in admin tokens and the
// HasScope helpers used by the authorization middleware.
package auth

import (
	"fmt"
)

// Scope represents a permission/scope type
type Scope string

const (
	// Organization scopes
	ScopeOrganizationsRead  Scope = "organizations:read"
	ScopeOrganizationsWrite Scope = "organizations:write"

	// License key scopes
	ScopeLicensesManage Scope = "licenses:manage" // Regenerate and generate keys
	ScopeLicensesReveal Scope = "licenses:reveal" // Decrypt a stored key

	// Metering ingestion
	ScopeUsageWrite Scope = "usage:write"

	// Plan catalog scopes
	ScopePlansRead  Scope = "plans:read"
	ScopePlansWrite Scope = "plans:write"

	ScopeAuditRead Scope = "audit:read"

	// Admin scope (wildcard - all permissions)
	ScopeAdmin Scope = "admin"
)

// impliedBy maps a read scope to the write scope that also grants it
var impliedBy = map[Scope]Scope{
	ScopeOrganizationsRead: ScopeOrganizationsWrite,
	ScopePlansRead:         ScopePlansWrite,
}

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{
		ScopeOrganizationsRead,
		ScopeOrganizationsWrite,
		ScopeLicensesManage,
		ScopeLicensesReveal,
		ScopeUsageWrite,
		ScopePlansRead,
		ScopePlansWrite,
		ScopeAuditRead,
		ScopeAdmin,
	}
}

// ValidScopes returns a map of valid scope strings
func ValidScopes() map[string]bool {
	valid := make(map[string]bool)
	for _, scope := range AllScopes() {
		valid[string(scope)] = true
	}
	return valid
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	valid := ValidScopes()
	for _, scope := range scopes {
		if !valid[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}
	return nil
}

// HasScope checks if a token grants the required scope.
// The admin scope grants everything and a write scope grants its read scope.
func HasScope(granted []string, required Scope) bool {
	for _, scope := range granted {
		if scope == string(required) || scope == string(ScopeAdmin) {
			return true
		}
		if w, ok := impliedBy[required]; ok && scope == string(w) {
			return true
		}
	}
	return false
}

// HasAnyScope checks if a token grants at least one of the required scopes
func HasAnyScope(granted []string, required []Scope) bool {
	for _, r := range required {
		if HasScope(granted, r) {
			return true
		}
	}
	return false
}

// HasAllScopes checks if a token grants all of the required scopes
func HasAllScopes(granted []string, required []Scope) bool {
	for _, r := range required {
		if !HasScope(granted, r) {
			return false
		}
	}
	return true
}
