package auth

import "testing"

func TestValidateScopes(t *testing.T) {
	tests := []struct {
		name    string
		scopes  []string
		wantErr bool
	}{
		{"empty", nil, false},
		{"known scopes", []string{"organizations:read", "plans:write", "usage:write"}, false},
		{"admin", []string{"admin"}, false},
		{"unknown scope", []string{"modules:read"}, true},
		{"one bad among good", []string{"audit:read", "bogus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateScopes(tt.scopes)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateScopes(%v) error = %v, wantErr %v", tt.scopes, err, tt.wantErr)
			}
		})
	}
}

func TestHasScope(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required Scope
		want     bool
	}{
		{"exact", []string{"audit:read"}, ScopeAuditRead, true},
		{"admin wildcard", []string{"admin"}, ScopeLicensesReveal, true},
		{"write implies read", []string{"organizations:write"}, ScopeOrganizationsRead, true},
		{"plans write implies read", []string{"plans:write"}, ScopePlansRead, true},
		{"read does not imply write", []string{"organizations:read"}, ScopeOrganizationsWrite, false},
		{"manage does not imply reveal", []string{"licenses:manage"}, ScopeLicensesReveal, false},
		{"none", nil, ScopeAuditRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasScope(tt.granted, tt.required); got != tt.want {
				t.Errorf("HasScope(%v, %s) = %v, want %v", tt.granted, tt.required, got, tt.want)
			}
		})
	}
}

func TestHasAnyAndAllScopes(t *testing.T) {
	granted := []string{"plans:read", "audit:read"}
	if !HasAnyScope(granted, []Scope{ScopePlansWrite, ScopeAuditRead}) {
		t.Error("HasAnyScope should match audit:read")
	}
	if HasAllScopes(granted, []Scope{ScopePlansRead, ScopeUsageWrite}) {
		t.Error("HasAllScopes should fail without usage:write")
	}
	if !HasAllScopes(granted, []Scope{ScopePlansRead, ScopeAuditRead}) {
		t.Error("HasAllScopes should pass")
	}
}

func TestAllScopesUnique(t *testing.T) {
	seen := make(map[Scope]bool)
	for _, s := range AllScopes() {
		if seen[s] {
			t.Errorf("duplicate scope %s", s)
		}
		seen[s] = true
	}
}
