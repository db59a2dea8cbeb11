// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, request logging and metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → (RateLimit | Auth → RBAC) → Handler
//
// Security headers run before any handler so they appear on error responses too.
// Public license endpoints are rate limited instead of authenticated.
// Auth populates the actor and scopes; RBAC reads from that context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/license-console/license-console/internal/auth"
)

// Context keys set by AuthMiddleware
const (
	ActorKey  = "actor"
	ScopesKey = "scopes"
	EmailKey  = "email"
)

// AuthMiddleware validates the admin bearer token
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "Missing authorization header")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			abortUnauthorized(c, "Authorization header must start with 'Bearer '")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			abortUnauthorized(c, "Authorization token is empty")
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		actor := claims.Actor()
		if actor == "" {
			abortUnauthorized(c, "Token carries no subject")
			return
		}

		c.Set(ActorKey, actor)
		c.Set(ScopesKey, claims.Scopes)
		if claims.Email != "" {
			c.Set(EmailKey, claims.Email)
		}

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"code": "UNAUTHORIZED", "message": message},
	})
}

// GetActor returns the authenticated actor, or "" outside an authenticated route
func GetActor(c *gin.Context) string {
	return c.GetString(ActorKey)
}

// GetScopes returns the scopes granted to the authenticated actor
func GetScopes(c *gin.Context) []string {
	return c.GetStringSlice(ScopesKey)
}
