// Package middleware (rbac.go) implements scope-based authorization middleware.
//
// Scopes travel in the admin token and are checked per route. The admin scope grants
// everything; a write scope also grants its read counterpart (see auth.HasScope).

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/license-console/license-console/internal/auth"
)

// RequireScope checks if the authenticated actor has the required scope
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted, ok := grantedScopes(c)
		if !ok {
			abortForbidden(c, "Insufficient permissions")
			return
		}

		if !auth.HasScope(granted, scope) {
			abortForbidden(c, "Missing required scope: "+string(scope))
			return
		}

		c.Next()
	}
}

// RequireAnyScope checks if the authenticated actor has at least one of the required scopes
func RequireAnyScope(scopes ...auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted, ok := grantedScopes(c)
		if !ok {
			abortForbidden(c, "Insufficient permissions")
			return
		}

		if !auth.HasAnyScope(granted, scopes) {
			abortForbidden(c, "Missing required scope")
			return
		}

		c.Next()
	}
}

func grantedScopes(c *gin.Context) ([]string, bool) {
	v, exists := c.Get(ScopesKey)
	if !exists {
		return nil, false
	}
	scopes, ok := v.([]string)
	return scopes, ok
}

func abortForbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error": gin.H{"code": "FORBIDDEN", "message": message},
	})
}
