package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/boxsignal/repricer/internal/config"
	"github.com/gin-gonic/gin"
)

const (
	HeaderAPIKey   = "X-Api-Key"
	HeaderAdminKey = "X-Admin-Key"
)

// AuthMiddleware gates the ops API behind the configured API key. Tenant
// scoping is the caller's responsibility; the engine trusts the supplied
// organization id.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || !cfg.Auth.RequireAPIKey {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderAPIKey)
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Auth.APIKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminMiddleware protects the credit top-up and cache-management surface.
func AdminMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || cfg.Auth.AdminKey == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin surface disabled"})
			c.Abort()
			return
		}
		key := c.GetHeader(HeaderAdminKey)
		if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Auth.AdminKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
