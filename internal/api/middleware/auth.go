package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Wikid82/gearshare/backend/internal/csrf"
)

const (
	UserIDKey = "userID"
	ClaimsKey = "claims"
)

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.RegisteredClaims, error)
}

// AuthMiddleware requires a valid bearer token and stores the user id and
// claims on the context.
func AuthMiddleware(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Bearer token required"})
			return
		}
		claims, err := tokens.ValidateToken(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}
		c.Set(UserIDKey, claims.Subject)
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireCSRFHeader rejects state-changing requests that do not carry the
// anti-forgery header. The token is minted by the client, so only its
// presence and shape are checked here.
func RequireCSRFHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if !csrf.WellFormed(c.GetHeader(csrf.HeaderName)) {
			GetRequestLogger(c).WithField("path", SanitizePath(c.Request.URL.Path)).Warn("request without csrf token rejected")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "security token unavailable, refresh and try again"})
			return
		}
		c.Next()
	}
}

// AdminChecker confirms administrator privileges against the role store.
type AdminChecker interface {
	VerifyAdmin(userID string) (bool, error)
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin(admins AdminChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := admins.VerifyAdmin(c.GetString(UserIDKey))
		if err != nil || !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "administrator privileges required"})
			return
		}
		c.Next()
	}
}
