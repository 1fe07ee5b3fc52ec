// internal/handlers/webhook.go
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/hotspot-billing/internal/gateway"
	"github.com/javajoker/hotspot-billing/internal/models"
	"github.com/javajoker/hotspot-billing/internal/services"
)

const maxWebhookBody = 64 << 10

type WebhookHandler struct {
	webhookService *services.WebhookService
}

func NewWebhookHandler(webhookService *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

// POST /webhooks/mpesa
//
// Daraja retries any non-success answer, so every outcome is acknowledged.
// Processing errors are logged and left to the sweeper's final poll.
func (h *WebhookHandler) Mpesa(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err == nil {
		var result *services.ConfirmationResult
		result, err = h.webhookService.HandleDaraja(c.Request.Context(), body)
		if err == nil {
			logCallback(models.GatewayMpesaSTK, result)
		}
	}
	if err != nil {
		logrus.WithField("gateway", models.GatewayMpesaSTK).WithError(err).Warn("Callback not applied")
	}

	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Success"})
}

// POST /webhooks/paystack
func (h *WebhookHandler) Paystack(c *gin.Context) {
	h.signed(c, models.GatewayPaystack)
}

// POST /webhooks/stripe
func (h *WebhookHandler) Stripe(c *gin.Context) {
	h.signed(c, models.GatewayStripe)
}

// signed answers 401 on a bad signature so the provider surfaces it, and
// 200 for payloads that are authentic but not ours.
func (h *WebhookHandler) signed(c *gin.Context, kind models.GatewayKind) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"received": false})
		return
	}

	result, err := h.webhookService.HandleSigned(c.Request.Context(), kind, body, c.Request.Header)
	switch {
	case err == nil:
		logCallback(kind, result)
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, gateway.ErrInvalidSignature):
		logrus.WithField("gateway", kind).Warn("Webhook signature rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"received": false})
	case errors.Is(err, gateway.ErrMalformedCallback), errors.Is(err, services.ErrUnknownTransaction):
		logrus.WithField("gateway", kind).WithError(err).Info("Webhook ignored")
		c.JSON(http.StatusOK, gin.H{"received": true})
	default:
		// Let the provider retry.
		logrus.WithField("gateway", kind).WithError(err).Error("Webhook processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"received": false})
	}
}

func logCallback(kind models.GatewayKind, result *services.ConfirmationResult) {
	logrus.WithFields(logrus.Fields{
		"gateway":           kind,
		"correlation_token": result.Transaction.CorrelationToken,
		"status":            result.Status(),
		"exhausted":         result.Exhausted,
	}).Info("Callback processed")
}
