package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/license-console/license-console/internal/api/httperr"
)

// StatsHandlers handles dashboard statistics
type StatsHandlers struct {
	stats StatsService
}

// NewStatsHandlers creates a new StatsHandlers instance
func NewStatsHandlers(stats StatsService) *StatsHandlers {
	return &StatsHandlers{stats: stats}
}

// @Summary      Dashboard statistics
// @Description  Organization counts by effective status and plan, licenses expiring within 30 days, capacity alerts and audit activity over the last 24 hours.
// @Tags         Stats
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  services.DashboardStats
// @Router       /api/v1/stats/dashboard [get]
// DashboardStatsHandler returns aggregate license statistics
func (h *StatsHandlers) DashboardStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.stats.Stats(c.Request.Context())
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
