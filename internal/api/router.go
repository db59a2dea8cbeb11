// Package api wires together all HTTP routes for the license console backend.
//
// Route grouping:
//   - Administration routes under /api/v1 require a bearer token and the scope named
//     on each route.
//   - License key routes (/api/v1/licenses/*, /api/v1/portal/*) authenticate with the
//     presented key itself and are rate limited per client IP.
//   - /health, /ready and /version sit outside /api/v1 and are unauthenticated.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/license-console/license-console/internal/api/admin"
	"github.com/license-console/license-console/internal/api/portal"
	"github.com/license-console/license-console/internal/auth"
	"github.com/license-console/license-console/internal/config"
	"github.com/license-console/license-console/internal/middleware"
	"github.com/license-console/license-console/internal/storage"
	"github.com/license-console/license-console/internal/validation"
)

// LicenseEngine is the lifecycle engine as seen by both the admin and the key-holder routes
type LicenseEngine interface {
	admin.LicenseService
	portal.KeyService
}

// Pinger reports database reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the services the router dispatches to
type Deps struct {
	Engine    LicenseEngine
	Catalog   admin.PlanService
	Ledger    admin.AuditService
	Dashboard admin.StatsService
	Portal    portal.ViewService
	Store     Pinger
	// Archive is checked by /ready when the audit archive is enabled; nil skips the check
	Archive storage.Storage
	// Limiter throttles the license key routes; nil disables rate limiting
	Limiter middleware.Limiter
	Version string
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	validation.RegisterGinValidations()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware(slog.Default()))
	if c, ok := corsConfig(cfg.Security.CORS); ok {
		router.Use(cors.New(c))
	}
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/health", healthCheckHandler(deps.Store))
	router.GET("/ready", readinessHandler(deps.Store, deps.Archive))
	router.GET("/version", versionHandler(deps.Version))

	orgHandlers := admin.NewOrganizationHandlers(deps.Engine)
	planHandlers := admin.NewPlanHandlers(deps.Catalog)
	auditHandlers := admin.NewAuditHandlers(deps.Ledger)
	statsHandlers := admin.NewStatsHandlers(deps.Dashboard)
	portalHandlers := portal.NewHandlers(deps.Engine, deps.Portal)

	apiV1 := router.Group("/api/v1")
	{
		// License key holders
		keyGroup := apiV1.Group("")
		if deps.Limiter != nil {
			keyGroup.Use(middleware.RateLimitMiddleware(deps.Limiter))
		}
		{
			keyGroup.POST("/licenses/activate", portalHandlers.ActivateHandler())
			keyGroup.POST("/licenses/validate", portalHandlers.ValidateHandler())
			keyGroup.GET("/portal/organization", portalHandlers.OrganizationHandler())
		}

		authenticatedGroup := apiV1.Group("")
		authenticatedGroup.Use(middleware.AuthMiddleware())
		{
			orgs := authenticatedGroup.Group("/organizations")
			{
				orgs.GET("", middleware.RequireScope(auth.ScopeOrganizationsRead), orgHandlers.ListOrganizationsHandler())
				orgs.POST("", middleware.RequireScope(auth.ScopeOrganizationsWrite), orgHandlers.ProvisionOrganizationHandler())
				orgs.GET("/:id", middleware.RequireScope(auth.ScopeOrganizationsRead), orgHandlers.GetOrganizationHandler())
				orgs.PUT("/:id/renew", middleware.RequireScope(auth.ScopeOrganizationsWrite), orgHandlers.RenewOrganizationHandler())
				orgs.PUT("/:id/suspend", middleware.RequireScope(auth.ScopeOrganizationsWrite), orgHandlers.SuspendOrganizationHandler())
				orgs.PUT("/:id/revoke", middleware.RequireScope(auth.ScopeOrganizationsWrite), orgHandlers.RevokeOrganizationHandler())
				orgs.PUT("/:id/quotas", middleware.RequireScope(auth.ScopeOrganizationsWrite), orgHandlers.OverrideQuotaHandler())
				orgs.PUT("/:id/usage", middleware.RequireScope(auth.ScopeUsageWrite), orgHandlers.RecordUsageHandler())
				orgs.GET("/:id/license-key", middleware.RequireScope(auth.ScopeLicensesReveal), orgHandlers.RevealLicenseKeyHandler())
				orgs.PUT("/:id/license-key", middleware.RequireScope(auth.ScopeLicensesManage), orgHandlers.RegenerateLicenseKeyHandler())
			}

			authenticatedGroup.POST("/generator/license-key",
				middleware.RequireScope(auth.ScopeLicensesManage),
				orgHandlers.GenerateLicenseKeyHandler())

			plans := authenticatedGroup.Group("/subscription-plans")
			{
				plans.GET("", middleware.RequireScope(auth.ScopePlansRead), planHandlers.ListPlansHandler())
				plans.POST("", middleware.RequireScope(auth.ScopePlansWrite), planHandlers.CreatePlanHandler())
				plans.GET("/:id", middleware.RequireScope(auth.ScopePlansRead), planHandlers.GetPlanHandler())
				plans.PUT("/:id", middleware.RequireScope(auth.ScopePlansWrite), planHandlers.UpdatePlanHandler())
				plans.DELETE("/:id", middleware.RequireScope(auth.ScopePlansWrite), planHandlers.DeletePlanHandler())
			}
			authenticatedGroup.GET("/capabilities", middleware.RequireScope(auth.ScopePlansRead), admin.CapabilitiesHandler())

			authenticatedGroup.GET("/audit-logs", middleware.RequireScope(auth.ScopeAuditRead), auditHandlers.QueryAuditLogsHandler())
			authenticatedGroup.GET("/audit-logs/export", middleware.RequireScope(auth.ScopeAuditRead), auditHandlers.ExportAuditLogsHandler())

			authenticatedGroup.GET("/stats/dashboard", middleware.RequireScope(auth.ScopeOrganizationsRead), statsHandlers.DashboardStatsHandler())
		}
	}

	return router
}

// corsConfig builds the CORS policy. No configured origins disables CORS handling.
func corsConfig(c config.CORSConfig) (cors.Config, bool) {
	if len(c.AllowedOrigins) == 0 {
		return cors.Config{}, false
	}
	out := cors.Config{
		AllowMethods:  c.AllowedMethods,
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-Request-ID", portal.LicenseKeyHeader},
		ExposeHeaders: []string{"Content-Disposition", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:        time.Hour,
	}
	if len(out.AllowMethods) == 0 {
		out.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	for _, origin := range c.AllowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			out.AllowAllOrigins = true
			return out, true
		}
	}
	out.AllowOrigins = c.AllowedOrigins
	return out, true
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when the audit archive is enabled, the storage backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service
func readinessHandler(db Pinger, archive storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if archive != nil {
			// Exists on an absent path exercises credentials and connectivity without writing.
			if _, err := archive.Exists(c.Request.Context(), ".readiness-check"); err != nil {
				checks["storage"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "storage backend not ready",
				})
				return
			}
			checks["storage"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler(version string) gin.HandlerFunc {
	if version == "" {
		version = "dev"
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     version,
			"api_version": "v1",
		})
	}
}
