// Package validation wraps go-playground/validator with the custom tags used by the license
// console (plan slugs, quota dimensions, capability keys) and converts validator failures
// into field-level errors that carry the JSON field name.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/license-console/license-console/internal/db/models"
)

// slugRegex matches lowercase alphanumerics separated by single hyphens
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// FieldError describes a single invalid input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors is a collection of field errors
type FieldErrors []FieldError

// Error implements the error interface
func (f FieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for _, e := range f {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

var (
	defaultOnce     sync.Once
	defaultValidate *validator.Validate
)

// New returns a validator with the custom tags registered
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	register(v)
	return v
}

func register(v *validator.Validate) {
	v.RegisterTagNameFunc(jsonFieldName)
	_ = v.RegisterValidation("plan_slug", validatePlanSlug)
	_ = v.RegisterValidation("quota_dimension", validateQuotaDimension)
	_ = v.RegisterValidation("capability_key", validateCapabilityKey)
	_ = v.RegisterValidation("org_status", validateOrgStatus)
	_ = v.RegisterValidation("audit_action", validateAuditAction)
}

// RegisterGinValidations installs the custom tags on gin's binding engine so request
// structs can use them in `binding:"..."` tags.
func RegisterGinValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		register(v)
	}
}

// Struct validates s with the shared validator and returns nil or FieldErrors
func Struct(s interface{}) error {
	defaultOnce.Do(func() { defaultValidate = New() })
	return FromError(defaultValidate.Struct(s))
}

// FromError converts validator.ValidationErrors (from Struct or gin binding) into FieldErrors.
// Other errors, such as malformed JSON, become a single "body" field error.
func FromError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{{Field: "body", Message: err.Error()}}
	}
	out := make(FieldErrors, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, FieldError{Field: fieldPath(e), Message: message(e)})
	}
	return out
}

// fieldPath drops the top-level struct name from the namespace ("Req.quotas.seats" -> "quotas.seats")
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return e.Field()
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if isNumeric(e.Kind()) {
			return fmt.Sprintf("must be at least %s", e.Param())
		}
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		if isNumeric(e.Kind()) {
			return fmt.Sprintf("must be at most %s", e.Param())
		}
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(e.Param(), " ", ", ")
	case "plan_slug":
		return "must be lowercase letters, digits and single hyphens"
	case "quota_dimension":
		return "must be one of: seats, labs, concurrency"
	case "capability_key":
		return "must be a registered capability key"
	case "org_status":
		return "must be one of: pending, active, suspended, expired, revoked"
	case "audit_action":
		return "must be a known audit action"
	}
	return "is invalid"
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

func validatePlanSlug(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // let 'required' handle empty values
	}
	return len(value) <= 64 && slugRegex.MatchString(value)
}

func validateQuotaDimension(fl validator.FieldLevel) bool {
	return models.QuotaDimension(fl.Field().String()).Valid()
}

func validateCapabilityKey(fl validator.FieldLevel) bool {
	return models.IsCapability(fl.Field().String())
}

func validateOrgStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || models.OrganizationStatus(value).Valid()
}

func validateAuditAction(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || models.AuditAction(value).Valid()
}

// Slugify derives a plan id from a display name ("Pro Tier" -> "pro-tier")
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// IsPlanSlug reports whether s is a well-formed plan id
func IsPlanSlug(s string) bool {
	return s != "" && len(s) <= 64 && slugRegex.MatchString(s)
}
