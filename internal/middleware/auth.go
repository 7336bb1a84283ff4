package middleware

import (
	"net/http"
	"strings"

	"github.com/EdouardKamole/clean-city-dashboard/internal/service"
	"github.com/gin-gonic/gin"
)

// Context keys for storing auth claims in the request context.
const (
	// ContextKeyUsername stores the authenticated user's username.
	ContextKeyUsername = "auth_username"
	// ContextKeyRole stores the authenticated user's role.
	ContextKeyRole = "auth_role"
)

// TokenValidator validates bearer tokens. *service.AuthService satisfies it.
type TokenValidator interface {
	ValidateAccessToken(token string) (*service.AuthClaims, error)
}

// JWTAuth returns a Gin middleware that validates a Bearer token from the
// Authorization header.
//
// Browsers cannot set headers on WebSocket upgrades, so for those requests
// the token is also accepted from the access_token query parameter.
//
// On success, claims are stored in the Gin context under ContextKey* keys.
// On failure, the request is aborted with a 401 response.
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}

		claims, err := validator.ValidateAccessToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(ContextKeyUsername, claims.Username)
		c.Set(ContextKeyRole, claims.Role)

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if isWebSocketUpgrade(c.Request) {
			if q := c.Query("access_token"); q != "" {
				return q, true
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format; expected 'Bearer <token>'"})
		return "", false
	}
	return parts[1], true
}

// RequireRole returns a Gin middleware that checks whether the authenticated
// user has one of the allowed roles. Must be used after JWTAuth.
func RequireRole(allowed ...string) gin.HandlerFunc {
	roleSet := make(map[string]bool, len(allowed))
	for _, r := range allowed {
		roleSet[r] = true
	}

	return func(c *gin.Context) {
		role, exists := c.Get(ContextKeyRole)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		roleStr, ok := role.(string)
		if !ok || !roleSet[roleStr] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}

		c.Next()
	}
}
