// internal/gateway/mpesa.go
package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/javajoker/hotspot-billing/internal/cache"
	"github.com/javajoker/hotspot-billing/internal/models"
)

const (
	darajaSandboxURL = "https://sandbox.safaricom.co.ke"
	darajaLiveURL    = "https://api.safaricom.co.ke"

	darajaStillProcessing = "500.001.1001"
)

var nairobi = loadNairobi()

func loadNairobi() *time.Location {
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		return time.FixedZone("EAT", 3*60*60)
	}
	return loc
}

// darajaFailureCodes describes the common terminal STK result codes.
var darajaFailureCodes = map[string]string{
	"1":    "insufficient balance",
	"1001": "subscriber busy",
	"1019": "transaction expired",
	"1025": "error sending push request",
	"1032": "request cancelled by user",
	"1037": "phone unreachable",
	"2001": "wrong PIN entered",
}

// tokenFlight collapses concurrent OAuth fetches for the same consumer key.
var tokenFlight singleflight.Group

// Mpesa drives Safaricom Daraja STK push for the mpesa_stk, paybill and till
// payment methods.
type Mpesa struct {
	kind    models.GatewayKind
	creds   Credentials
	baseURL string
	client  *http.Client
	cache   cache.Cache
	now     func() time.Time
}

func NewMpesa(creds Credentials, client *http.Client, c cache.Cache) *Mpesa {
	baseURL := darajaSandboxURL
	if creds.Environment == models.EnvironmentLive {
		baseURL = darajaLiveURL
	}
	if c == nil {
		c = cache.NewMemory()
	}
	return &Mpesa{
		kind:    creds.Kind,
		creds:   creds,
		baseURL: baseURL,
		client:  client,
		cache:   c,
		now:     time.Now,
	}
}

// WithBaseURL points the adapter at another Daraja host.
func (m *Mpesa) WithBaseURL(url string) *Mpesa {
	m.baseURL = strings.TrimRight(url, "/")
	return m
}

func (m *Mpesa) Kind() models.GatewayKind { return m.kind }

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type darajaError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (m *Mpesa) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, &InitiationError{Gateway: m.kind, Code: "INVALID_PHONE", Err: err}
	}
	if !req.Amount.IsPositive() {
		return nil, &InitiationError{Gateway: m.kind, Code: "INVALID_AMOUNT", Message: "amount must be positive"}
	}

	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, &InitiationError{Gateway: m.kind, Code: "AUTH_FAILED", Err: err}
	}

	timestamp, password := m.password()
	transactionType := "CustomerPayBillOnline"
	partyB := m.creds.Shortcode
	switch m.kind {
	case models.GatewayTill:
		transactionType = "CustomerBuyGoodsOnline"
		partyB = m.creds.TillNumber
	case models.GatewayPaybill:
		if m.creds.PaybillNumber != "" {
			partyB = m.creds.PaybillNumber
		}
	}

	accountRef := m.creds.AccountReference
	if accountRef == "" {
		accountRef = "Hotspot"
	}
	desc := req.Description
	if desc == "" {
		desc = "Internet access"
	}

	payload := stkPushRequest{
		BusinessShortCode: m.creds.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            req.Amount.Ceil().IntPart(),
		PartyA:            phone,
		PartyB:            partyB,
		PhoneNumber:       phone,
		CallBackURL:       m.creds.CallbackURL,
		AccountReference:  truncate(accountRef, 12),
		TransactionDesc:   truncate(desc, 13),
	}

	var resp stkPushResponse
	status, raw, err := m.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &resp)
	if err != nil {
		return nil, &InitiationError{Gateway: m.kind, Code: "NETWORK", Err: err}
	}
	if status != http.StatusOK || resp.ResponseCode != "0" {
		code, msg := describeDarajaFailure(raw, resp.ResponseCode, resp.ResponseDescription)
		return nil, &InitiationError{Gateway: m.kind, Code: code, Message: msg}
	}

	logrus.WithFields(logrus.Fields{
		"gateway":             m.kind,
		"checkout_request_id": resp.CheckoutRequestID,
		"merchant_request_id": resp.MerchantRequestID,
	}).Info("STK push accepted")

	return &InitiateResult{
		CorrelationToken:  resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

func (m *Mpesa) VerifyStatus(ctx context.Context, checkoutRequestID string) (*VerifyResult, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, &VerificationError{Gateway: m.kind, Token: checkoutRequestID, Err: err}
	}

	timestamp, password := m.password()
	payload := stkQueryRequest{
		BusinessShortCode: m.creds.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var resp stkQueryResponse
	status, raw, err := m.postJSON(ctx, "/mpesa/stkpushquery/v1/query", token, payload, &resp)
	if err != nil {
		return nil, &VerificationError{Gateway: m.kind, Token: checkoutRequestID, Err: err}
	}

	if status != http.StatusOK {
		var derr darajaError
		if json.Unmarshal(raw, &derr) == nil && derr.ErrorCode == darajaStillProcessing {
			return &VerifyResult{State: StatePending, ResultCode: derr.ErrorCode, ResultDescription: derr.ErrorMessage}, nil
		}
		return nil, &VerificationError{
			Gateway: m.kind,
			Token:   checkoutRequestID,
			Err:     fmt.Errorf("http %d: %s", status, strings.TrimSpace(string(raw))),
		}
	}

	return &VerifyResult{
		State:             darajaResultState(resp.ResultCode),
		ResultCode:        resp.ResultCode,
		ResultDescription: darajaResultDescription(resp.ResultCode, resp.ResultDesc),
	}, nil
}

// darajaResultState maps an STK result code. "4999" is Daraja's "still under
// processing"; every other non-zero code is a completed, unsuccessful request.
func darajaResultState(code string) State {
	switch code {
	case "0":
		return StateSuccess
	case "", "4999":
		return StatePending
	default:
		return StateFailed
	}
}

func darajaResultDescription(code, desc string) string {
	if desc != "" {
		return desc
	}
	return darajaFailureCodes[code]
}

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback reads a Daraja STK result notification. Caller
// authentication (IP allowlist and callback token) happens before this.
func (m *Mpesa) ParseCallback(body []byte, _ http.Header) (*CallbackOutcome, error) {
	return ParseDarajaCallback(body)
}

func ParseDarajaCallback(body []byte) (*CallbackOutcome, error) {
	var env stkCallbackEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := env.Body.StkCallback
	if cb == nil || cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: missing stkCallback.CheckoutRequestID", ErrMalformedCallback)
	}

	code := cb.ResultCode.String()
	out := &CallbackOutcome{
		CorrelationToken:  cb.CheckoutRequestID,
		State:             darajaResultState(code),
		ResultCode:        code,
		ResultDescription: darajaResultDescription(code, cb.ResultDesc),
	}

	if cb.CallbackMetadata != nil {
		for _, item := range cb.CallbackMetadata.Item {
			value := fmt.Sprint(item.Value)
			switch item.Name {
			case "MpesaReceiptNumber":
				out.Receipt = value
			case "Amount":
				if amt, err := decimal.NewFromString(value); err == nil {
					out.Amount = amt
				}
			case "PhoneNumber":
				out.PhoneNumber = value
			}
		}
	}

	return out, nil
}

func (m *Mpesa) password() (timestamp, password string) {
	timestamp = m.now().In(nairobi).Format("20060102150405")
	raw := m.creds.Shortcode + m.creds.Passkey + timestamp
	return timestamp, base64.StdEncoding.EncodeToString([]byte(raw))
}

type darajaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (m *Mpesa) tokenCacheKey() string {
	sum := sha256.Sum256([]byte(m.baseURL + "|" + m.creds.ConsumerKey))
	return "daraja:token:" + hex.EncodeToString(sum[:8])
}

func (m *Mpesa) accessToken(ctx context.Context) (string, error) {
	key := m.tokenCacheKey()
	if token, err := m.cache.Get(ctx, key); err == nil && token != "" {
		return token, nil
	}

	v, err, _ := tokenFlight.Do(key, func() (interface{}, error) {
		return m.fetchToken(ctx, key)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Mpesa) fetchToken(ctx context.Context, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(m.creds.ConsumerKey, m.creds.ConsumerSecret)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("daraja oauth: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("daraja oauth: http %d", resp.StatusCode)
	}

	var tr darajaTokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", fmt.Errorf("daraja oauth: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("daraja oauth: empty access token")
	}

	ttl := 55 * time.Minute
	if secs, err := strconv.Atoi(tr.ExpiresIn); err == nil && secs > 120 {
		ttl = time.Duration(secs-60) * time.Second
	}
	if err := m.cache.Set(ctx, key, tr.AccessToken, ttl); err != nil {
		logrus.WithError(err).Warn("Failed to cache Daraja access token")
	}

	return tr.AccessToken, nil
}

func (m *Mpesa) postJSON(ctx context.Context, path, token string, payload, out interface{}) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}

	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, raw, fmt.Errorf("decode daraja response: %w", err)
		}
	}
	return resp.StatusCode, raw, nil
}

func describeDarajaFailure(raw []byte, code, desc string) (string, string) {
	var derr darajaError
	if json.Unmarshal(raw, &derr) == nil && derr.ErrorCode != "" {
		return derr.ErrorCode, derr.ErrorMessage
	}
	if code == "" {
		code = "REJECTED"
	}
	return code, desc
}

// truncate keeps at most n characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
