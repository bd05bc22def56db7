// Package middleware provides Gin middleware for the gateway's HTTP surface.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyAuth authenticates callers against the configured key list. keys is a
// provider so hot-reloaded configuration takes effect without a restart. An
// empty key list disables authentication.
func APIKeyAuth(keys func() []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed := keys()
		if len(allowed) == 0 {
			c.Next()
			return
		}

		presented := bearerToken(c.GetHeader("Authorization"))
		if presented == "" {
			presented = strings.TrimSpace(c.GetHeader("X-Api-Key"))
		}
		if presented != "" {
			for _, key := range allowed {
				if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
					c.Next()
					return
				}
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"message": "invalid or missing API key",
				"type":    "authentication_error",
			},
		})
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
