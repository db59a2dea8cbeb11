// plans.go implements handlers for the subscription plan catalog and the capability registry.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/license-console/license-console/internal/api/httperr"
	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/services"
)

// PlanHandlers handles subscription plan endpoints
type PlanHandlers struct {
	plans PlanService
}

// NewPlanHandlers creates a new PlanHandlers instance
func NewPlanHandlers(plans PlanService) *PlanHandlers {
	return &PlanHandlers{plans: plans}
}

// @Summary      List subscription plans
// @Tags         Plans
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "plans: []models.Plan"
// @Router       /api/v1/subscription-plans [get]
// ListPlansHandler lists every plan in creation order
func (h *PlanHandlers) ListPlansHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		plans, err := h.plans.ListPlans(c.Request.Context())
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"plans": plans})
	}
}

// @Summary      Get subscription plan
// @Tags         Plans
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Plan ID"
// @Success      200  {object}  models.Plan
// @Failure      404  {object}  map[string]interface{}  "Plan not found"
// @Router       /api/v1/subscription-plans/{id} [get]
// GetPlanHandler retrieves one plan
func (h *PlanHandlers) GetPlanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		plan, err := h.plans.GetPlan(c.Request.Context(), c.Param("id"))
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, plan)
	}
}

// @Summary      Create subscription plan
// @Description  Creates a plan. Feature flags missing from the body default to false; unknown capability keys are rejected.
// @Tags         Plans
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  services.PlanInput  true  "Plan"
// @Success      201  {object}  models.Plan
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Router       /api/v1/subscription-plans [post]
// CreatePlanHandler creates a plan
func (h *PlanHandlers) CreatePlanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in services.PlanInput
		if err := c.ShouldBindJSON(&in); err != nil {
			httperr.BindError(c, err)
			return
		}
		plan, err := h.plans.CreatePlan(requestContext(c), actor(c), in)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, plan)
	}
}

// @Summary      Update subscription plan
// @Description  Applies a partial update. Feature flags are merged key by key. Existing organizations keep their quotas.
// @Tags         Plans
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string               true  "Plan ID"
// @Param        body  body  services.PlanUpdate  true  "Fields to change"
// @Success      200  {object}  models.Plan
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      404  {object}  map[string]interface{}  "Plan not found"
// @Router       /api/v1/subscription-plans/{id} [put]
// UpdatePlanHandler applies a partial update
func (h *PlanHandlers) UpdatePlanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in services.PlanUpdate
		if err := c.ShouldBindJSON(&in); err != nil {
			httperr.BindError(c, err)
			return
		}
		plan, err := h.plans.UpdatePlan(requestContext(c), actor(c), c.Param("id"), in)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, plan)
	}
}

// @Summary      Delete subscription plan
// @Tags         Plans
// @Security     Bearer
// @Param        id  path  string  true  "Plan ID"
// @Success      204
// @Failure      404  {object}  map[string]interface{}  "Plan not found"
// @Failure      409  {object}  map[string]interface{}  "Plan is referenced by organizations"
// @Router       /api/v1/subscription-plans/{id} [delete]
// DeletePlanHandler deletes a plan no organization references
func (h *PlanHandlers) DeletePlanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.plans.DeletePlan(requestContext(c), actor(c), c.Param("id")); err != nil {
			httperr.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary      List capabilities
// @Tags         Plans
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "capabilities"
// @Router       /api/v1/capabilities [get]
// CapabilitiesHandler lists the capability registry every plan's feature flags refer to
func CapabilitiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"capabilities": models.Capabilities()})
	}
}
