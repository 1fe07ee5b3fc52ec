// internal/gateway/errors.go
package gateway

import (
	"errors"
	"fmt"

	"github.com/javajoker/hotspot-billing/internal/models"
)

var (
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrInvalidSignature   = errors.New("invalid callback signature")
	ErrMalformedCallback  = errors.New("malformed callback payload")
	ErrNotConfigured      = errors.New("payment gateway not configured")
	ErrUnsupportedGateway = errors.New("unsupported payment gateway")
)

// InitiationError means the provider refused or could not be reached while
// starting a payment. No transaction exists yet when it is returned.
type InitiationError struct {
	Gateway models.GatewayKind
	Code    string
	Message string
	Err     error
}

func (e *InitiationError) Error() string {
	msg := fmt.Sprintf("%s initiation failed", e.Gateway)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InitiationError) Unwrap() error { return e.Err }

// VerificationError means the status query itself failed. It says nothing
// about whether the customer paid.
type VerificationError struct {
	Gateway models.GatewayKind
	Token   string
	Err     error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s status query for %s failed: %v", e.Gateway, e.Token, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }
