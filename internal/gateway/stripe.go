// internal/gateway/stripe.go
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/javajoker/hotspot-billing/internal/models"
)

// Stripe sells packages through a hosted Checkout Session. The session id is
// the correlation token.
type Stripe struct {
	creds    Credentials
	sessions *session.Client
}

func NewStripe(creds Credentials, backend stripe.Backend) *Stripe {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &Stripe{
		creds:    creds,
		sessions: &session.Client{B: backend, Key: creds.StripeSecretKey},
	}
}

func (s *Stripe) Kind() models.GatewayKind { return models.GatewayStripe }

func (s *Stripe) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, &InitiationError{Gateway: models.GatewayStripe, Code: "INVALID_PHONE", Err: err}
	}
	if !req.Amount.IsPositive() {
		return nil, &InitiationError{Gateway: models.GatewayStripe, Code: "INVALID_AMOUNT", Message: "amount must be positive"}
	}

	currency := req.Currency
	if currency == "" {
		currency = s.creds.Currency
	}
	name := req.Description
	if name == "" {
		name = "Internet access"
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.Reference),
		SuccessURL:        stripe.String(s.creds.SuccessURL),
		CancelURL:         stripe.String(s.creds.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(currency)),
					UnitAmount: stripe.Int64(toSubunits(req.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("phone", phone)
	params.AddMetadata("reference", req.Reference)

	sess, err := s.sessions.New(params)
	if err != nil {
		return nil, &InitiationError{Gateway: models.GatewayStripe, Code: stripeErrorCode(err), Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"gateway":    models.GatewayStripe,
		"session_id": sess.ID,
	}).Info("Stripe checkout session created")

	return &InitiateResult{
		CorrelationToken: sess.ID,
		AuthorizationURL: sess.URL,
	}, nil
}

func (s *Stripe) VerifyStatus(ctx context.Context, sessionID string) (*VerifyResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := s.sessions.Get(sessionID, params)
	if err != nil {
		return nil, &VerificationError{Gateway: models.GatewayStripe, Token: sessionID, Err: err}
	}

	return stripeSessionResult(sess), nil
}

func stripeSessionResult(sess *stripe.CheckoutSession) *VerifyResult {
	res := &VerifyResult{
		State:             StatePending,
		ResultCode:        string(sess.PaymentStatus),
		ResultDescription: string(sess.Status),
	}
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		res.State = StateSuccess
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		res.State = StateFailed
	}
	if sess.PaymentIntent != nil {
		res.Receipt = sess.PaymentIntent.ID
	}
	return res
}

// ParseCallback verifies the Stripe-Signature header and reduces checkout
// session events to an outcome.
func (s *Stripe) ParseCallback(body []byte, header http.Header) (*CallbackOutcome, error) {
	event, err := webhook.ConstructEvent(body, header.Get("Stripe-Signature"), s.creds.StripeWebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrMalformedCallback)
	}

	res := stripeSessionResult(&sess)
	switch event.Type {
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		res.State = StateFailed
	case "checkout.session.async_payment_succeeded":
		res.State = StateSuccess
	}

	return &CallbackOutcome{
		CorrelationToken:  sess.ID,
		State:             res.State,
		Receipt:           res.Receipt,
		ResultCode:        string(event.Type),
		ResultDescription: res.ResultDescription,
		Amount:            decimal.New(sess.AmountTotal, -2),
		PhoneNumber:       sess.Metadata["phone"],
	}, nil
}

// StripeSessionID reads the checkout session id out of an unauthenticated
// event body so the caller can pick the signing secret.
func StripeSessionID(body []byte) (string, error) {
	var ev struct {
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &ev); err != nil || ev.Data.Object.ID == "" {
		return "", ErrMalformedCallback
	}
	return ev.Data.Object.ID, nil
}

func stripeErrorCode(err error) string {
	if serr, ok := err.(*stripe.Error); ok && serr.Code != "" {
		return string(serr.Code)
	}
	return "REJECTED"
}
