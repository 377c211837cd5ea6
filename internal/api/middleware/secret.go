package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequireSecret gates the internal ingestion endpoint. The comparison
// is constant-time so the secret cannot be probed byte by byte.
func RequireSecret(secret string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		supplied := c.Query("secret")
		if secret == "" ||
			len(supplied) != len(secret) ||
			subtle.ConstantTimeCompare([]byte(supplied), []byte(secret)) != 1 {
			logger.Warn("Rejected internal request with bad secret",
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path))
			c.String(http.StatusForbidden, "forbidden")
			c.Abort()
			return
		}
		c.Next()
	}
}
