package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	jwtpkg "streamportal/gatekeeper/pkg/jwt"
	"streamportal/gatekeeper/pkg/response"
)

const (
	ContextKeySessionClaims = "session_claims"
	ContextKeyAdminClaims   = "admin_claims"
)

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

// SessionAuth validates a viewer session token and stores its claims.
// The raw token stays on the context for services that need to resolve
// the backing session row.
func SessionAuth(jwtManager *jwtpkg.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Unauthorized(c, "missing or malformed authorization header")
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateSessionToken(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextKeySessionClaims, claims)
		c.Next()
	}
}

// AdminAuth validates an operator token.
func AdminAuth(jwtManager *jwtpkg.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Unauthorized(c, "missing or malformed authorization header")
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateAdminToken(token)
		if err != nil {
			response.Forbidden(c, "admin access required")
			c.Abort()
			return
		}

		c.Set(ContextKeyAdminClaims, claims)
		c.Next()
	}
}
