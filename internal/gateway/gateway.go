// internal/gateway/gateway.go
package gateway

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/javajoker/hotspot-billing/internal/models"
)

// State is the normalised payment outcome reported by a provider.
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

type InitiateRequest struct {
	PhoneNumber string
	Amount      decimal.Decimal
	Currency    string
	// Reference is our own id for the purchase. Providers that accept a
	// caller-chosen reference use it as the correlation token.
	Reference   string
	Description string
}

type InitiateResult struct {
	CorrelationToken  string
	MerchantRequestID string
	AuthorizationURL  string
	CustomerMessage   string
}

type VerifyResult struct {
	State             State
	Receipt           string
	ResultCode        string
	ResultDescription string
}

// CallbackOutcome is a provider webhook reduced to what the reconciler needs.
type CallbackOutcome struct {
	CorrelationToken  string
	State             State
	Receipt           string
	ResultCode        string
	ResultDescription string
	Amount            decimal.Decimal
	PhoneNumber       string
}

type Gateway interface {
	Kind() models.GatewayKind
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	VerifyStatus(ctx context.Context, token string) (*VerifyResult, error)
}

type CallbackParser interface {
	ParseCallback(body []byte, header http.Header) (*CallbackOutcome, error)
}

// Adapter is a payment method that can also read its own webhooks.
type Adapter interface {
	Gateway
	CallbackParser
}
