// internal/gateway/paystack.go
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/hotspot-billing/internal/models"
)

const paystackBaseURL = "https://api.paystack.co"

// Paystack runs card and mobile-money checkout through Paystack's hosted page.
type Paystack struct {
	creds   Credentials
	baseURL string
	client  *http.Client
}

func NewPaystack(creds Credentials, client *http.Client) *Paystack {
	return &Paystack{creds: creds, baseURL: paystackBaseURL, client: client}
}

func (p *Paystack) WithBaseURL(url string) *Paystack {
	p.baseURL = strings.TrimRight(url, "/")
	return p
}

func (p *Paystack) Kind() models.GatewayKind { return models.GatewayPaystack }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackInitData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackTransaction struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	GatewayResponse string `json:"gateway_response"`
	Metadata        struct {
		Phone string `json:"phone"`
	} `json:"metadata"`
}

// SyntheticEmail builds the customer email Paystack insists on from the
// phone number.
func (p *Paystack) SyntheticEmail(phone string) string {
	domain := p.creds.EmailDomain
	if domain == "" {
		domain = "hotspot.local"
	}
	return phone + "@" + domain
}

func (p *Paystack) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, &InitiationError{Gateway: models.GatewayPaystack, Code: "INVALID_PHONE", Err: err}
	}
	if !req.Amount.IsPositive() {
		return nil, &InitiationError{Gateway: models.GatewayPaystack, Code: "INVALID_AMOUNT", Message: "amount must be positive"}
	}

	currency := req.Currency
	if currency == "" {
		currency = p.creds.Currency
	}

	payload := map[string]interface{}{
		"email":     p.SyntheticEmail(phone),
		"amount":    toSubunits(req.Amount),
		"currency":  strings.ToUpper(currency),
		"reference": req.Reference,
		"metadata": map[string]string{
			"phone":       phone,
			"description": req.Description,
		},
	}
	if p.creds.PaystackCallbackURL != "" {
		payload["callback_url"] = p.creds.PaystackCallbackURL
	}

	var data paystackInitData
	if err := p.call(ctx, http.MethodPost, "/transaction/initialize", payload, &data); err != nil {
		return nil, &InitiationError{Gateway: models.GatewayPaystack, Code: "REJECTED", Err: err}
	}

	reference := data.Reference
	if reference == "" {
		reference = req.Reference
	}

	logrus.WithFields(logrus.Fields{
		"gateway":   models.GatewayPaystack,
		"reference": reference,
	}).Info("Paystack checkout initialized")

	return &InitiateResult{
		CorrelationToken: reference,
		AuthorizationURL: data.AuthorizationURL,
	}, nil
}

func (p *Paystack) VerifyStatus(ctx context.Context, reference string) (*VerifyResult, error) {
	var tx paystackTransaction
	if err := p.call(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &tx); err != nil {
		return nil, &VerificationError{Gateway: models.GatewayPaystack, Token: reference, Err: err}
	}

	return &VerifyResult{
		State:             paystackState(tx.Status),
		Receipt:           paystackReceipt(tx),
		ResultCode:        tx.Status,
		ResultDescription: tx.GatewayResponse,
	}, nil
}

// paystackState maps a transaction status. "abandoned" is what Paystack
// reports for a checkout the customer has not finished yet, so it stays
// pending and the sweeper expires it.
func paystackState(status string) State {
	switch status {
	case "success":
		return StateSuccess
	case "failed", "reversed":
		return StateFailed
	default:
		return StatePending
	}
}

func paystackReceipt(tx paystackTransaction) string {
	if tx.ID == 0 {
		return ""
	}
	return fmt.Sprintf("PS-%d", tx.ID)
}

type paystackEvent struct {
	Event string              `json:"event"`
	Data  paystackTransaction `json:"data"`
}

// ParseCallback authenticates the webhook with HMAC-SHA512 of the raw body
// under the secret key before decoding it.
func (p *Paystack) ParseCallback(body []byte, header http.Header) (*CallbackOutcome, error) {
	if !p.validSignature(body, header.Get("x-paystack-signature")) {
		return nil, ErrInvalidSignature
	}

	var ev paystackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if ev.Data.Reference == "" {
		return nil, fmt.Errorf("%w: missing data.reference", ErrMalformedCallback)
	}

	state := paystackState(ev.Data.Status)
	if ev.Event == "charge.success" {
		state = StateSuccess
	}

	return &CallbackOutcome{
		CorrelationToken:  ev.Data.Reference,
		State:             state,
		Receipt:           paystackReceipt(ev.Data),
		ResultCode:        ev.Data.Status,
		ResultDescription: ev.Data.GatewayResponse,
		Amount:            decimal.New(ev.Data.Amount, -2),
		PhoneNumber:       ev.Data.Metadata.Phone,
	}, nil
}

func (p *Paystack) validSignature(body []byte, signature string) bool {
	if signature == "" || p.creds.PaystackSecretKey == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(p.creds.PaystackSecretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// PaystackReference reads the reference out of an unauthenticated webhook
// body so the caller can look up whose secret key signs it.
func PaystackReference(body []byte) (string, error) {
	var ev paystackEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.Data.Reference == "" {
		return "", ErrMalformedCallback
	}
	return ev.Data.Reference, nil
}

func (p *Paystack) call(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.creds.PaystackSecretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var env paystackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("http %d: undecodable response", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !env.Status {
		return fmt.Errorf("http %d: %s", resp.StatusCode, env.Message)
	}

	return json.Unmarshal(env.Data, out)
}

// toSubunits converts a major-unit amount to the smallest currency unit.
func toSubunits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
