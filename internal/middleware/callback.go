// internal/middleware/callback.go
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/hotspot-billing/internal/models"
	"github.com/javajoker/hotspot-billing/internal/utils"
)

type AllowlistSource interface {
	CallbackAllowlist(ctx context.Context) []string
}

// DarajaCallbackGuard authenticates Safaricom result notifications, which
// carry no signature. The source address must be on the allowlist when one
// is configured, and the ?token= query must match when a token is set. With
// neither configured every notification is refused.
// Rejections still answer 200 so Daraja does not retry forever.
func DarajaCallbackGuard(allowlist AllowlistSource, token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		allowed := models.AddressList(allowlist.CallbackAllowlist(c.Request.Context()))
		if len(allowed) == 0 && token == "" {
			reject(c, ip, "callback authentication not configured")
			return
		}
		if !allowed.Contains(ip) {
			reject(c, ip, "source address not allowed")
			return
		}
		if token != "" && !utils.ConstantTimeEqual(c.Query("token"), token) {
			reject(c, ip, "callback token mismatch")
			return
		}
		c.Next()
	}
}

func reject(c *gin.Context, ip, reason string) {
	logrus.WithFields(logrus.Fields{
		"ip":     ip,
		"path":   c.Request.URL.Path,
		"reason": reason,
	}).Warn("Rejected payment callback")
	c.AbortWithStatusJSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}
