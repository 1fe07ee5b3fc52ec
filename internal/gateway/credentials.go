// internal/gateway/credentials.go
package gateway

import (
	"github.com/javajoker/hotspot-billing/internal/models"
)

// Credentials is one resolved set of provider settings. Source records which
// layer supplied it: "reseller", "default" or "env".
type Credentials struct {
	Kind        models.GatewayKind
	Environment models.GatewayEnvironment
	Source      string

	// Daraja
	ConsumerKey      string
	ConsumerSecret   string
	Shortcode        string
	Passkey          string
	TillNumber       string
	PaybillNumber    string
	AccountReference string
	CallbackURL      string

	// Paystack
	PaystackSecretKey   string
	PaystackCallbackURL string
	EmailDomain         string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	SuccessURL          string
	CancelURL           string

	Currency          string
	CallbackAllowlist []string
}

// Complete reports whether the credentials are enough to talk to the
// provider.
func (c *Credentials) Complete() bool {
	switch {
	case c.Kind.IsDaraja():
		if c.ConsumerKey == "" || c.ConsumerSecret == "" || c.Shortcode == "" || c.Passkey == "" {
			return false
		}
		if c.Kind == models.GatewayTill && c.TillNumber == "" {
			return false
		}
		return true
	case c.Kind == models.GatewayPaystack:
		return c.PaystackSecretKey != ""
	case c.Kind == models.GatewayStripe:
		return c.StripeSecretKey != ""
	default:
		return false
	}
}
