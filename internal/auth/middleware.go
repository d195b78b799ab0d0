package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyDashboardUser is the gin context key for the logged-in user
	ContextKeyDashboardUser = "dashboardUser"
)

// RequireAPIKey rejects tracking requests without the configured API key.
// The key is read from X-API-Key or an Authorization bearer header.
// Missing key is 401; wrong key is 403.
func RequireAPIKey(configured string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader("X-API-Key")
		if presented == "" {
			presented = bearerToken(c)
		}

		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'X-API-Key' header.",
			})
			return
		}
		if !CheckAPIKey(presented, configured) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid API key.",
			})
			return
		}

		c.Next()
	}
}

// RequireDashboardToken rejects dashboard requests without a valid bearer
// token issued by POST /api/login.
func RequireDashboardToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Login required. Include 'Authorization: Bearer dt_...' header.",
			})
			return
		}

		token, err := m.Validate(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid or expired token.",
			})
			return
		}

		c.Set(ContextKeyDashboardUser, token.User)
		c.Next()
	}
}

// DashboardUser returns the logged-in dashboard user, if any.
func DashboardUser(c *gin.Context) string {
	user, exists := c.Get(ContextKeyDashboardUser)
	if !exists {
		return ""
	}
	return user.(string)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
