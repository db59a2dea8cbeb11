// Package models - plan.go defines the subscription Plan model: a named tier carrying a
// default quota template and one feature flag per registered capability.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// QuotaTemplate holds the default ceilings a plan grants to newly provisioned organizations
type QuotaTemplate struct {
	Seats       int `json:"seats"`
	Labs        int `json:"labs"`
	Concurrency int `json:"concurrency"`
}

// Get returns the ceiling for dim, or 0 for an unknown dimension
func (t QuotaTemplate) Get(dim QuotaDimension) int {
	switch dim {
	case QuotaSeats:
		return t.Seats
	case QuotaLabs:
		return t.Labs
	case QuotaConcurrency:
		return t.Concurrency
	}
	return 0
}

// Plan represents a subscription tier in the catalog
type Plan struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Features      []string      `json:"features"`
	DefaultQuotas QuotaTemplate `json:"default_quotas"`
	FeatureFlags  FeatureFlags  `json:"feature_flags"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Value implements driver.Valuer so flags are stored as JSONB
func (f FeatureFlags) Value() (driver.Value, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner for JSONB flag columns
func (f *FeatureFlags) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*f = FeatureFlags{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("feature_flags: unsupported column type")
	}
	flags := FeatureFlags{}
	if err := json.Unmarshal(data, &flags); err != nil {
		return err
	}
	*f = flags
	return nil
}
