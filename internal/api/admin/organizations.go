// organizations.go implements handlers for the organization license lifecycle: provisioning,
// renewal, suspension, revocation, quota overrides and license key management.
package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/license-console/license-console/internal/api/httperr"
	"github.com/license-console/license-console/internal/auth"
	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/services"
)

// OrganizationHandlers handles organization management endpoints
type OrganizationHandlers struct {
	licenses LicenseService
}

// NewOrganizationHandlers creates a new OrganizationHandlers instance
func NewOrganizationHandlers(licenses LicenseService) *OrganizationHandlers {
	return &OrganizationHandlers{licenses: licenses}
}

// RenewRequest is the body of PUT /organizations/:id/renew. ExpiryDate is RFC 3339 or a
// bare YYYY-MM-DD date, which keeps the license valid through the end of that UTC day.
type RenewRequest struct {
	ExpiryDate string               `json:"expiry_date" binding:"required"`
	PlanID     *string              `json:"plan_id"`
	Quotas     *services.QuotaPatch `json:"quotas"`
}

// ReasonRequest is the optional body of suspend and revoke
type ReasonRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// QuotaRequest is the body of PUT /organizations/:id/quotas
type QuotaRequest struct {
	Dimension string `json:"dimension" binding:"required"`
	Total     *int   `json:"total" binding:"required"`
}

// parseExpiryDate accepts RFC 3339 timestamps and date-only values
func parseExpiryDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d.UTC().AddDate(0, 0, 1).Add(-time.Microsecond), true
	}
	return time.Time{}, false
}

// @Summary      List organizations
// @Description  Paginated organization listing with status, plan and name filters. Overdue active licenses are reported as expired.
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Param        status  query  string  false  "pending, active, suspended, expired or revoked"
// @Param        plan    query  string  false  "Plan id"
// @Param        search  query  string  false  "Name substring or exact id"
// @Param        limit   query  int     false  "Page size, max 100 (default 20)"
// @Param        offset  query  int     false  "Offset"
// @Success      200  {object}  map[string]interface{}  "organizations, pagination: {total, limit, offset}"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Router       /api/v1/organizations [get]
// ListOrganizationsHandler lists organizations
func (h *OrganizationHandlers) ListOrganizationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter services.OrganizationFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			httperr.BindError(c, err)
			return
		}

		page, err := h.licenses.List(c.Request.Context(), filter)
		if err != nil {
			httperr.Respond(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"organizations": page.Organizations,
			"pagination":    pagination(page.Total, page.Limit, page.Offset),
		})
	}
}

// @Summary      Get organization
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Organization ID"
// @Success      200  {object}  models.Organization
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Router       /api/v1/organizations/{id} [get]
// GetOrganizationHandler retrieves an organization, applying lazy expiry
func (h *OrganizationHandlers) GetOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		org, err := h.licenses.Get(requestContext(c), c.Param("id"))
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, org)
	}
}

// @Summary      Provision organization
// @Description  Creates an organization on a plan and issues its license key. The plaintext key is returned only in this response.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  services.ProvisionInput  true  "Organization"
// @Success      201  {object}  map[string]interface{}  "organization, license_key"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Router       /api/v1/organizations [post]
// ProvisionOrganizationHandler creates an organization
func (h *OrganizationHandlers) ProvisionOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in services.ProvisionInput
		if err := c.ShouldBindJSON(&in); err != nil {
			httperr.BindError(c, err)
			return
		}

		keyed, err := h.licenses.Provision(requestContext(c), actor(c), in)
		if err != nil {
			httperr.Respond(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"organization": keyed.Organization,
			"license_key":  keyed.LicenseKey,
		})
	}
}

// @Summary      Renew organization
// @Description  Sets a new expiry and optionally moves the organization to another plan. Expired and suspended licenses are reactivated. Usage is kept.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string        true  "Organization ID"
// @Param        body  body  RenewRequest  true  "New expiry, plan and quotas"
// @Success      200  {object}  models.Organization
// @Failure      400  {object}  map[string]interface{}  "Expiry in the past or beyond the validity limit"
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Failure      409  {object}  map[string]interface{}  "License is revoked or pending"
// @Router       /api/v1/organizations/{id}/renew [put]
// RenewOrganizationHandler extends a license
func (h *OrganizationHandlers) RenewOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RenewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BindError(c, err)
			return
		}
		expiresAt, ok := parseExpiryDate(req.ExpiryDate)
		if !ok {
			httperr.Validation(c, "expiry_date", "must be an RFC 3339 timestamp or a YYYY-MM-DD date")
			return
		}

		org, err := h.licenses.Renew(requestContext(c), actor(c), c.Param("id"), services.RenewInput{
			ExpiresAt: expiresAt,
			PlanID:    req.PlanID,
			Quotas:    req.Quotas,
		})
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, org)
	}
}

// bindReason reads the optional reason body. An empty body is allowed.
func bindReason(c *gin.Context) (string, bool) {
	var req ReasonRequest
	if c.Request.ContentLength == 0 {
		return "", true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BindError(c, err)
		return "", false
	}
	return req.Reason, true
}

// @Summary      Suspend organization
// @Description  Suspends an active license. Suspending a suspended license succeeds without change.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string         true   "Organization ID"
// @Param        body  body  ReasonRequest  false  "Reason"
// @Success      200  {object}  models.Organization
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Failure      409  {object}  map[string]interface{}  "License is not active"
// @Router       /api/v1/organizations/{id}/suspend [put]
// SuspendOrganizationHandler suspends an active license. Suspending a suspended
// license succeeds without change.
func (h *OrganizationHandlers) SuspendOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reason, ok := bindReason(c)
		if !ok {
			return
		}
		org, err := h.licenses.Suspend(requestContext(c), actor(c), c.Param("id"), reason)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, org)
	}
}

// @Summary      Revoke organization
// @Description  Permanently revokes a license. A revoked license cannot be renewed.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string         true   "Organization ID"
// @Param        body  body  ReasonRequest  false  "Reason"
// @Success      200  {object}  models.Organization
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Failure      409  {object}  map[string]interface{}  "License is already revoked"
// @Router       /api/v1/organizations/{id}/revoke [put]
// RevokeOrganizationHandler permanently revokes a license
func (h *OrganizationHandlers) RevokeOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reason, ok := bindReason(c)
		if !ok {
			return
		}
		org, err := h.licenses.Revoke(requestContext(c), actor(c), c.Param("id"), reason)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, org)
	}
}

// @Summary      Override quota
// @Description  Sets the total of one quota dimension. Usage is untouched, so the result may be over capacity.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string        true  "Organization ID"
// @Param        body  body  QuotaRequest  true  "Dimension and total"
// @Success      200  {object}  map[string]interface{}  "organization, over_capacity"
// @Failure      409  {object}  map[string]interface{}  "License is revoked"
// @Router       /api/v1/organizations/{id}/quotas [put]
// OverrideQuotaHandler sets one quota total
func (h *OrganizationHandlers) OverrideQuotaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req QuotaRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BindError(c, err)
			return
		}

		result, err := h.licenses.OverrideQuota(requestContext(c), actor(c), c.Param("id"),
			models.QuotaDimension(req.Dimension), *req.Total)
		if err != nil {
			httperr.Respond(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"organization":  result.Organization,
			"over_capacity": result.OverCapacity,
		})
	}
}

// @Summary      Regenerate license key
// @Description  Issues a new license key. The previous key stops validating immediately. The plaintext key is returned only in this response.
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Organization ID"
// @Success      200  {object}  map[string]interface{}  "organization, license_key"
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Failure      409  {object}  map[string]interface{}  "License is revoked"
// @Router       /api/v1/organizations/{id}/license-key [put]
// RegenerateLicenseKeyHandler issues a new key; the previous key stops validating
func (h *OrganizationHandlers) RegenerateLicenseKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		keyed, err := h.licenses.RegenerateLicenseKey(requestContext(c), actor(c), c.Param("id"))
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"organization": keyed.Organization,
			"license_key":  keyed.LicenseKey,
		})
	}
}

// @Summary      Reveal license key
// @Description  Decrypts and returns the stored license key. Requires the licenses:reveal scope.
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Organization ID"
// @Success      200  {object}  map[string]interface{}  "organization_id, license_key"
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Router       /api/v1/organizations/{id}/license-key [get]
// RevealLicenseKeyHandler decrypts the stored key
func (h *OrganizationHandlers) RevealLicenseKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := h.licenses.RevealLicenseKey(c.Request.Context(), c.Param("id"))
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"organization_id": c.Param("id"),
			"license_key":     key,
		})
	}
}

// @Summary      Record usage
// @Description  Stores metered usage counters reported by the metering collaborator. Unset dimensions are left unchanged.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string               true  "Organization ID"
// @Param        body  body  services.UsageInput  true  "Usage counters"
// @Success      200  {object}  models.Organization
// @Failure      400  {object}  map[string]interface{}  "Negative counter"
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Router       /api/v1/organizations/{id}/usage [put]
// RecordUsageHandler stores metered usage counters
func (h *OrganizationHandlers) RecordUsageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in services.UsageInput
		if err := c.ShouldBindJSON(&in); err != nil {
			httperr.BindError(c, err)
			return
		}
		org, err := h.licenses.RecordUsage(c.Request.Context(), c.Param("id"), in)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, org)
	}
}

// GenerateKeyRequest is the body of POST /generator/license-key
type GenerateKeyRequest struct {
	OrganizationName string `json:"organization_name"`
	OrganizationID   string `json:"organization_id"`
}

// @Summary      Generate license key
// @Description  Returns a freshly generated key and its masked hint without storing either.
// @Tags         Generator
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  GenerateKeyRequest  true  "Organization name and id"
// @Success      200  {object}  map[string]interface{}  "license_key, hint"
// @Failure      400  {object}  map[string]interface{}  "Invalid body"
// @Router       /api/v1/generator/license-key [post]
// GenerateLicenseKeyHandler returns a key without storing it
func (h *OrganizationHandlers) GenerateLicenseKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GenerateKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BindError(c, err)
			return
		}
		key, err := h.licenses.GenerateKey(c.Request.Context(), req.OrganizationName, req.OrganizationID)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"license_key": key,
			"hint":        auth.MaskKey(key),
		})
	}
}
