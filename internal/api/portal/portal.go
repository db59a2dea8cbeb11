// Package portal implements the license-key authenticated endpoints used by licensed
// deployments and organization users: key activation, key validation and the
// organization's own license view. None of these routes take a bearer token.
package portal

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/license-console/license-console/internal/api/httperr"
	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/services"
)

// LicenseKeyHeader carries the presented key on portal requests
const LicenseKeyHeader = "X-License-Key"

// KeyService is the lifecycle engine surface reachable with a license key
type KeyService interface {
	Activate(ctx context.Context, key string) (*models.Organization, error)
	ValidateLicenseKey(ctx context.Context, key string) (*services.KeyValidation, error)
}

// ViewService resolves a key to the organization's portal view
type ViewService interface {
	View(ctx context.Context, key string) (*services.PortalView, error)
}

// Handlers serves the public license endpoints
type Handlers struct {
	keys  KeyService
	views ViewService
}

// NewHandlers creates a new Handlers instance
func NewHandlers(keys KeyService, views ViewService) *Handlers {
	return &Handlers{keys: keys, views: views}
}

// KeyRequest is the body of activate and validate. Key is accepted as an alias of
// LicenseKey for older deployment agents.
type KeyRequest struct {
	LicenseKey string `json:"license_key"`
	Key        string `json:"key"`
}

func (r KeyRequest) presented() string {
	if r.LicenseKey != "" {
		return strings.TrimSpace(r.LicenseKey)
	}
	return strings.TrimSpace(r.Key)
}

// bindKey reads the presented key, answering 400 when it is absent
func bindKey(c *gin.Context) (string, bool) {
	var req KeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BindError(c, err)
		return "", false
	}
	key := req.presented()
	if key == "" {
		httperr.Validation(c, "license_key", "is required")
		return "", false
	}
	return key, true
}

// @Summary      Activate license
// @Description  Moves a pending license to active. Only the holder of the key can activate it.
// @Tags         Licenses
// @Accept       json
// @Produce      json
// @Param        body  body  KeyRequest  true  "License key"
// @Success      200  {object}  models.Organization
// @Failure      400  {object}  map[string]interface{}  "Malformed key"
// @Failure      404  {object}  map[string]interface{}  "Unknown key"
// @Failure      409  {object}  map[string]interface{}  "License is not pending"
// @Failure      429  {object}  map[string]interface{}  "Rate limit exceeded"
// @Router       /api/v1/licenses/activate [post]
// ActivateHandler activates the license the presented key belongs to
func (h *Handlers) ActivateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := bindKey(c)
		if !ok {
			return
		}
		ctx := services.WithClientIP(c.Request.Context(), c.ClientIP())
		org, err := h.keys.Activate(ctx, key)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, org)
	}
}

// validatedOrganization is the part of an organization a key holder learns from validate
type validatedOrganization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PlanID    string    `json:"plan_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// @Summary      Validate license key
// @Description  Reports whether the key belongs to an active, unexpired license. Unknown and malformed keys answer valid=false.
// @Tags         Licenses
// @Accept       json
// @Produce      json
// @Param        body  body  KeyRequest  true  "License key"
// @Success      200  {object}  map[string]interface{}  "valid, status, organization"
// @Failure      429  {object}  map[string]interface{}  "Rate limit exceeded"
// @Router       /api/v1/licenses/validate [post]
// ValidateHandler checks a presented key
func (h *Handlers) ValidateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := bindKey(c)
		if !ok {
			return
		}
		result, err := h.keys.ValidateLicenseKey(c.Request.Context(), key)
		if err != nil {
			httperr.Respond(c, err)
			return
		}

		resp := gin.H{"valid": result.Valid}
		if result.Organization != nil {
			org := result.Organization
			resp["status"] = result.Status
			resp["organization"] = validatedOrganization{
				ID:        org.ID,
				Name:      org.Name,
				PlanID:    org.PlanID,
				ExpiresAt: org.ExpiresAt,
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// @Summary      Organization license view
// @Description  Status, plan, capabilities and quota usage for the organization owning the key. Expired licenses see status fields only.
// @Tags         Portal
// @Produce      json
// @Param        X-License-Key  header  string  true  "License key"
// @Success      200  {object}  services.PortalView
// @Failure      401  {object}  map[string]interface{}  "Missing or unknown key"
// @Failure      403  {object}  map[string]interface{}  "License is pending, suspended or revoked"
// @Router       /api/v1/portal/organization [get]
// OrganizationHandler returns the portal view
func (h *Handlers) OrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(LicenseKeyHeader))
		if key == "" {
			httperr.Write(c, http.StatusUnauthorized, httperr.Body{
				Code:    httperr.CodeUnauthorized,
				Message: LicenseKeyHeader + " header required",
			})
			return
		}

		view, err := h.views.View(c.Request.Context(), key)
		if services.IsNotFound(err) {
			httperr.Write(c, http.StatusUnauthorized, httperr.Body{
				Code:    httperr.CodeUnauthorized,
				Message: "invalid license key",
			})
			return
		}
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}
