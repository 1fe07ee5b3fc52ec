package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/gateway"
	"github.com/javajoker/hotspot-billing/internal/models"
)

// WebhookService turns raw provider notifications into confirmation
// outcomes. Signed webhooks are verified with the credentials of the
// reseller that owns the referenced transaction.
type WebhookService struct {
	ledger       *LedgerService
	gateways     GatewayProvider
	confirmation *ConfirmationService
}

func NewWebhookService(db *gorm.DB, gateways GatewayProvider, confirmation *ConfirmationService) *WebhookService {
	return &WebhookService{
		ledger:       NewLedgerService(db),
		gateways:     gateways,
		confirmation: confirmation,
	}
}

// HandleDaraja processes an STK result notification. The caller is expected
// to have authenticated the source already; the result itself is confirmed
// with an STK query before it changes the ledger.
func (s *WebhookService) HandleDaraja(ctx context.Context, body []byte) (*ConfirmationResult, error) {
	outcome, err := gateway.ParseDarajaCallback(body)
	if err != nil {
		return nil, err
	}
	return s.confirmation.HandleUnverifiedCallback(ctx, outcome)
}

// HandleSigned processes a Paystack or Stripe webhook.
func (s *WebhookService) HandleSigned(ctx context.Context, kind models.GatewayKind, body []byte, header http.Header) (*ConfirmationResult, error) {
	var (
		token string
		err   error
	)
	switch kind {
	case models.GatewayPaystack:
		token, err = gateway.PaystackReference(body)
	case models.GatewayStripe:
		token, err = gateway.StripeSessionID(body)
	default:
		return nil, fmt.Errorf("%w: %s", gateway.ErrUnsupportedGateway, kind)
	}
	if err != nil {
		return nil, err
	}

	txn, err := s.ledger.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if txn.Gateway != kind {
		logrus.WithFields(logrus.Fields{
			"correlation_token": token,
			"expected":          txn.Gateway,
			"received":          kind,
		}).Warn("Webhook gateway does not match transaction")
		return nil, ErrUnknownTransaction
	}

	adapter, err := s.gateways.Adapter(ctx, txn.ResellerID, kind)
	if err != nil {
		return nil, err
	}
	outcome, err := adapter.ParseCallback(body, header)
	if err != nil {
		return nil, err
	}
	return s.confirmation.HandleCallback(ctx, outcome)
}
