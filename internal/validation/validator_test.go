package validation

import (
	"errors"
	"testing"
)

type provisionInput struct {
	Name           string `json:"name" validate:"required,min=2,max=120"`
	Email          string `json:"email" validate:"required,email"`
	ValidityMonths int    `json:"validity_months" validate:"min=1,max=60"`
}

type quotaInput struct {
	Dimension string `json:"dimension" validate:"required,quota_dimension"`
	Total     int    `json:"total" validate:"gte=0"`
}

type planInput struct {
	ID string `json:"id" validate:"omitempty,plan_slug"`
}

func fieldErrors(t *testing.T, err error) FieldErrors {
	t.Helper()
	var fe FieldErrors
	if !errors.As(err, &fe) {
		t.Fatalf("expected FieldErrors, got %T: %v", err, err)
	}
	return fe
}

func TestStruct_Valid(t *testing.T) {
	err := Struct(provisionInput{Name: "Acme", Email: "ops@acme.io", ValidityMonths: 12})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStruct_UsesJSONFieldNames(t *testing.T) {
	err := Struct(provisionInput{Name: "A", Email: "nope", ValidityMonths: 61})
	fe := fieldErrors(t, err)
	if len(fe) != 3 {
		t.Fatalf("expected 3 field errors, got %v", fe)
	}
	want := map[string]string{
		"name":            "must be at least 2 characters",
		"email":           "must be a valid email address",
		"validity_months": "must be at most 60",
	}
	for _, e := range fe {
		if want[e.Field] != e.Message {
			t.Errorf("field %q: message %q, want %q", e.Field, e.Message, want[e.Field])
		}
	}
}

func TestStruct_QuotaDimension(t *testing.T) {
	if err := Struct(quotaInput{Dimension: "labs", Total: 0}); err != nil {
		t.Fatalf("labs should be valid: %v", err)
	}
	fe := fieldErrors(t, Struct(quotaInput{Dimension: "gpus", Total: -1}))
	if len(fe) != 2 {
		t.Fatalf("expected 2 errors, got %v", fe)
	}
	if fe[0].Field != "dimension" || fe[1].Field != "total" {
		t.Errorf("unexpected fields: %v", fe)
	}
}

func TestStruct_PlanSlug(t *testing.T) {
	for _, id := range []string{"", "pro", "pro-tier", "tier-2"} {
		if err := Struct(planInput{ID: id}); err != nil {
			t.Errorf("%q should be valid: %v", id, err)
		}
	}
	for _, id := range []string{"Pro", "pro--tier", "-pro", "pro_tier"} {
		if err := Struct(planInput{ID: id}); err == nil {
			t.Errorf("%q should be invalid", id)
		}
	}
}

func TestFromError_NonValidatorError(t *testing.T) {
	fe := fieldErrors(t, FromError(errors.New("unexpected EOF")))
	if len(fe) != 1 || fe[0].Field != "body" {
		t.Errorf("got %v", fe)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Pro Tier":        "pro-tier",
		"  Enterprise  ":  "enterprise",
		"Gold & Platinum": "gold-platinum",
		"v2 -- Beta!":     "v2-beta",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
