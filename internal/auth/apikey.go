package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	headerName = "X-API-Key"
	// queryName carries the key for WebSocket clients, which cannot set
	// headers from a browser.
	queryName = "api_key"
)

// providedKey returns the key from X-API-Key, a bearer token, or the
// api_key query parameter, in that order.
func providedKey(c *gin.Context) string {
	if v := c.GetHeader(headerName); v != "" {
		return v
	}
	if v, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return c.Query(queryName)
}

// APIKeyMiddleware rejects requests without the configured API key.
// If apiKey is empty, authentication is disabled.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := providedKey(c)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing API key"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "invalid API key"})
			return
		}

		c.Next()
	}
}
