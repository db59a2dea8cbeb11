// Package models - capability.go defines the global capability registry. Every plan carries
// one feature flag per registered capability key.
package models

import "sort"

// Capability describes a single licensable product capability
type Capability struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Capability keys, in display order
const (
	CapabilityAccessControl    = "access_control"
	CapabilityCyberTraining    = "cyber_training"
	CapabilityLiveBattle       = "live_battle"
	CapabilityNetworkDiagrams  = "network_diagrams"
	CapabilityTrafficGenerator = "traffic_generator"
	CapabilityHostManagement   = "host_management"
	CapabilityIncidentHistory  = "incident_history"
	CapabilityAPISandbox       = "api_sandbox"
	CapabilitySSOOIDC          = "sso_oidc"
	CapabilityCustomBranding   = "custom_branding"
)

var capabilityRegistry = []Capability{
	{Key: CapabilityAccessControl, Label: "Access Control", Description: "Role-based access control for organization members"},
	{Key: CapabilityCyberTraining, Label: "Cyber Training", Description: "Guided training labs and exercises"},
	{Key: CapabilityLiveBattle, Label: "Live Battle", Description: "Real-time red team versus blue team exercises"},
	{Key: CapabilityNetworkDiagrams, Label: "Network Diagrams", Description: "Topology designer for lab networks"},
	{Key: CapabilityTrafficGenerator, Label: "Traffic Generator", Description: "Synthetic background traffic for lab networks"},
	{Key: CapabilityHostManagement, Label: "Host Management", Description: "Provisioning and lifecycle of lab hosts"},
	{Key: CapabilityIncidentHistory, Label: "Incident History", Description: "Retained timeline of past incidents"},
	{Key: CapabilityAPISandbox, Label: "API Sandbox", Description: "Programmatic access to a sandboxed API"},
	{Key: CapabilitySSOOIDC, Label: "SSO / OIDC", Description: "Single sign-on through an external identity provider"},
	{Key: CapabilityCustomBranding, Label: "Custom Branding", Description: "Organization logo and color scheme in the portal"},
}

// Capabilities returns a copy of the registry in display order
func Capabilities() []Capability {
	out := make([]Capability, len(capabilityRegistry))
	copy(out, capabilityRegistry)
	return out
}

// CapabilityKeys returns the registered capability keys in display order
func CapabilityKeys() []string {
	keys := make([]string, len(capabilityRegistry))
	for i, c := range capabilityRegistry {
		keys[i] = c.Key
	}
	return keys
}

// IsCapability reports whether key is present in the registry
func IsCapability(key string) bool {
	for _, c := range capabilityRegistry {
		if c.Key == key {
			return true
		}
	}
	return false
}

// FeatureFlags maps a capability key to its enabled state
type FeatureFlags map[string]bool

// Complete returns a copy of f holding an entry for every registered capability.
// Keys missing from f are disabled.
func (f FeatureFlags) Complete() FeatureFlags {
	out := make(FeatureFlags, len(capabilityRegistry))
	for _, c := range capabilityRegistry {
		out[c.Key] = f[c.Key]
	}
	return out
}

// UnknownKeys returns the keys of f that are not registered capabilities
func (f FeatureFlags) UnknownKeys() []string {
	var unknown []string
	for k := range f {
		if !IsCapability(k) {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// Enabled returns the enabled capability keys in registry order
func (f FeatureFlags) Enabled() []string {
	var keys []string
	for _, c := range capabilityRegistry {
		if f[c.Key] {
			keys = append(keys, c.Key)
		}
	}
	return keys
}
