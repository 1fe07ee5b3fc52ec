package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/hotspot-billing/internal/cache"
	"github.com/javajoker/hotspot-billing/internal/models"
)

type fakeDaraja struct {
	mu          sync.Mutex
	server      *httptest.Server
	tokenCalls  int32
	lastPush    stkPushRequest
	queryStatus int
	queryBody   string
}

func newFakeDaraja(t *testing.T) *fakeDaraja {
	f := &fakeDaraja{queryStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var push stkPushRequest
		json.NewDecoder(r.Body).Decode(&push)
		f.mu.Lock()
		f.lastPush = push
		f.mu.Unlock()
		if push.PartyA == "254700000000" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"requestId":"r1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`))
			return
		}
		w.Write([]byte(`{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_123","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`))
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status, body := f.queryStatus, f.queryBody
		f.mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDaraja) push() stkPushRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPush
}

func (f *fakeDaraja) setQuery(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryStatus, f.queryBody = status, body
}

func testDarajaCreds(kind models.GatewayKind) Credentials {
	return Credentials{
		Kind:           kind,
		Environment:    models.EnvironmentSandbox,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Shortcode:      "174379",
		Passkey:        "passkey",
		TillNumber:     "5555555",
		CallbackURL:    "https://example.com/v1/webhooks/mpesa?token=x",
	}
}

func TestMpesa_InitiateSTKPush(t *testing.T) {
	f := newFakeDaraja(t)
	m := NewMpesa(testDarajaCreds(models.GatewayMpesaSTK), f.server.Client(), cache.NewMemory()).WithBaseURL(f.server.URL)
	m.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }

	res, err := m.Initiate(context.Background(), InitiateRequest{
		PhoneNumber: "0712345678",
		Amount:      decimal.RequireFromString("49.50"),
		Description: "1 Hour",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_123", res.CorrelationToken)
	assert.Equal(t, "29115-34620561-1", res.MerchantRequestID)

	assert.Equal(t, "CustomerPayBillOnline", f.push().TransactionType)
	assert.Equal(t, "254712345678", f.push().PartyA)
	assert.Equal(t, "174379", f.push().PartyB)
	assert.Equal(t, int64(50), f.push().Amount)
	// 09:00 UTC is 12:00 in Nairobi.
	assert.Equal(t, "20240301120000", f.push().Timestamp)
	expected := base64.StdEncoding.EncodeToString([]byte("174379passkey20240301120000"))
	assert.Equal(t, expected, f.push().Password)
}

func TestMpesa_DescriptionCutOnCharacterBoundary(t *testing.T) {
	f := newFakeDaraja(t)
	m := NewMpesa(testDarajaCreds(models.GatewayMpesaSTK), f.server.Client(), cache.NewMemory()).WithBaseURL(f.server.URL)

	_, err := m.Initiate(context.Background(), InitiateRequest{
		PhoneNumber: "0712345678",
		Amount:      decimal.NewFromInt(20),
		Description: "Saa 1 ☕☕ Wi‑Fi Kasi",
	})
	require.NoError(t, err)

	desc := f.push().TransactionDesc
	assert.True(t, utf8.ValidString(desc))
	assert.Equal(t, "Saa 1 ☕☕ Wi‑F", desc)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 13))
	assert.Equal(t, "héllo", truncate("héllo wörld", 5))
	assert.Equal(t, "☕☕", truncate("☕☕☕", 2))
}

func TestMpesa_TillUsesBuyGoods(t *testing.T) {
	f := newFakeDaraja(t)
	m := NewMpesa(testDarajaCreds(models.GatewayTill), f.server.Client(), cache.NewMemory()).WithBaseURL(f.server.URL)

	_, err := m.Initiate(context.Background(), InitiateRequest{PhoneNumber: "712345678", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, "CustomerBuyGoodsOnline", f.push().TransactionType)
	assert.Equal(t, "5555555", f.push().PartyB)
}

func TestMpesa_TokenIsCached(t *testing.T) {
	f := newFakeDaraja(t)
	c := cache.NewMemory()
	m := NewMpesa(testDarajaCreds(models.GatewayMpesaSTK), f.server.Client(), c).WithBaseURL(f.server.URL)

	for i := 0; i < 3; i++ {
		_, err := m.Initiate(context.Background(), InitiateRequest{PhoneNumber: "0712345678", Amount: decimal.NewFromInt(10)})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.tokenCalls))
}

func TestMpesa_InitiateRejected(t *testing.T) {
	f := newFakeDaraja(t)
	m := NewMpesa(testDarajaCreds(models.GatewayMpesaSTK), f.server.Client(), cache.NewMemory()).WithBaseURL(f.server.URL)

	_, err := m.Initiate(context.Background(), InitiateRequest{PhoneNumber: "0700000000", Amount: decimal.NewFromInt(10)})
	var initErr *InitiationError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "400.002.02", initErr.Code)

	_, err = m.Initiate(context.Background(), InitiateRequest{PhoneNumber: "12345", Amount: decimal.NewFromInt(10)})
	require.True(t, errors.As(err, &initErr))
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestMpesa_VerifyStatus(t *testing.T) {
	f := newFakeDaraja(t)
	m := NewMpesa(testDarajaCreds(models.GatewayMpesaSTK), f.server.Client(), cache.NewMemory()).WithBaseURL(f.server.URL)
	ctx := context.Background()

	cases := []struct {
		name   string
		status int
		body   string
		state  State
	}{
		{"paid", http.StatusOK, `{"ResponseCode":"0","ResultCode":"0","ResultDesc":"The service request is processed successfully."}`, StateSuccess},
		{"cancelled", http.StatusOK, `{"ResponseCode":"0","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`, StateFailed},
		{"wrong pin", http.StatusOK, `{"ResponseCode":"0","ResultCode":"2001","ResultDesc":"The initiator information is invalid."}`, StateFailed},
		{"processing", http.StatusInternalServerError, `{"requestId":"x","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`, StatePending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.setQuery(tc.status, tc.body)
			res, err := m.VerifyStatus(ctx, "ws_CO_123")
			require.NoError(t, err)
			assert.Equal(t, tc.state, res.State)
		})
	}

	f.setQuery(http.StatusServiceUnavailable, `upstream down`)
	_, err := m.VerifyStatus(ctx, "ws_CO_123")
	var verr *VerificationError
	assert.True(t, errors.As(err, &verr))
}

func TestParseDarajaCallback(t *testing.T) {
	body := []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_123","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":20.00},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"TransactionDate","Value":20191219102115},{"Name":"PhoneNumber","Value":254712345678}]}}}}`)

	out, err := ParseDarajaCallback(body)
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_123", out.CorrelationToken)
	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, "NLJ7RT61SV", out.Receipt)
	assert.Equal(t, "254712345678", out.PhoneNumber)
	assert.True(t, out.Amount.Equal(decimal.NewFromInt(20)))

	cancelled := []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"1","CheckoutRequestID":"ws_CO_124","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`)
	out, err = ParseDarajaCallback(cancelled)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "1032", out.ResultCode)

	_, err = ParseDarajaCallback([]byte(`{"Body":{}}`))
	assert.ErrorIs(t, err, ErrMalformedCallback)
}
