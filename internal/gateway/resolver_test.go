package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v74"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/hotspot-billing/internal/cache"
	"github.com/javajoker/hotspot-billing/internal/models"
	"github.com/javajoker/hotspot-billing/internal/testutil"
)

func TestResolver_FallbackOrder(t *testing.T) {
	db := testutil.NewDB(t)
	cfg := testutil.Config()
	r := NewResolver(db, cfg, cache.NewMemory())
	ctx := context.Background()

	creds, err := r.Resolve(ctx, 7, models.GatewayMpesaSTK)
	require.NoError(t, err)
	assert.Equal(t, "env", creds.Source)
	assert.Contains(t, creds.CallbackURL, "token=cb-token")

	def := models.GatewaySettings{
		Gateway:           models.GatewayMpesaSTK,
		Environment:       models.EnvironmentSandbox,
		IsActive:          true,
		ConsumerKey:       "default-key",
		ConsumerSecret:    "default-secret",
		Shortcode:         "600000",
		Passkey:           "pk",
		CallbackAllowlist: models.AddressList{"196.201.214.200"},
	}
	require.NoError(t, db.Create(&def).Error)

	creds, err = r.Resolve(ctx, 7, models.GatewayMpesaSTK)
	require.NoError(t, err)
	assert.Equal(t, "default", creds.Source)
	assert.Equal(t, "600000", creds.Shortcode)

	resellerID := uint(7)
	own := models.GatewaySettings{
		ResellerID:     &resellerID,
		Gateway:        models.GatewayMpesaSTK,
		Environment:    models.EnvironmentLive,
		IsActive:       true,
		ConsumerKey:    "own-key",
		ConsumerSecret: "own-secret",
		Shortcode:      "700000",
		Passkey:        "pk2",
	}
	require.NoError(t, db.Create(&own).Error)

	creds, err = r.Resolve(ctx, 7, models.GatewayMpesaSTK)
	require.NoError(t, err)
	assert.Equal(t, "reseller", creds.Source)
	assert.Equal(t, models.EnvironmentLive, creds.Environment)

	// Other resellers still fall back to the default row.
	creds, err = r.Resolve(ctx, 8, models.GatewayMpesaSTK)
	require.NoError(t, err)
	assert.Equal(t, "default", creds.Source)

	assert.Contains(t, r.CallbackAllowlist(ctx), "196.201.214.200")
}

func TestResolver_ResellerCallbackURLCarriesToken(t *testing.T) {
	db := testutil.NewDB(t)
	r := NewResolver(db, testutil.Config(), cache.NewMemory())

	resellerID := uint(3)
	require.NoError(t, db.Create(&models.GatewaySettings{
		ResellerID:     &resellerID,
		Gateway:        models.GatewayMpesaSTK,
		Environment:    models.EnvironmentSandbox,
		IsActive:       true,
		ConsumerKey:    "k",
		ConsumerSecret: "s",
		Shortcode:      "600100",
		Passkey:        "pk",
		CallbackURL:    "https://hotspot.example.com/v1/webhooks/mpesa?site=westlands",
	}).Error)

	creds, err := r.Resolve(context.Background(), resellerID, models.GatewayMpesaSTK)
	require.NoError(t, err)
	assert.Equal(t, "reseller", creds.Source)
	assert.Equal(t, "https://hotspot.example.com/v1/webhooks/mpesa?site=westlands&token=cb-token", creds.CallbackURL)
}

func TestWithCallbackToken(t *testing.T) {
	assert.Equal(t, "https://a.example/cb", withCallbackToken("https://a.example/cb", ""))
	assert.Equal(t, "https://a.example/cb?token=t1", withCallbackToken("https://a.example/cb", "t1"))
	assert.Equal(t, "https://a.example/cb?token=t1", withCallbackToken("https://a.example/cb?token=stale", "t1"))
}

func TestResolver_IncompleteReturnsNotConfigured(t *testing.T) {
	db := testutil.NewDB(t)
	r := NewResolver(db, testutil.Config(), cache.NewMemory())

	_, err := r.Resolve(context.Background(), 1, models.GatewayPaystack)
	assert.ErrorIs(t, err, ErrNotConfigured)

	kind, err := r.ActiveKind(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.GatewayMpesaSTK, kind)
}

func TestResolver_BuildStripeUsesBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_test_1", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_stripe", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","payment_status":"paid","status":"complete","payment_intent":"pi_42"}`))
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})
	r := NewResolver(testutil.NewDB(t), testutil.Config(), cache.NewMemory()).WithStripeBackend(backend)

	adapter, err := r.Build(Credentials{Kind: models.GatewayStripe, StripeSecretKey: "sk_test_stripe"})
	require.NoError(t, err)
	assert.Equal(t, models.GatewayStripe, adapter.Kind())

	res, err := adapter.VerifyStatus(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, res.State)
	assert.Equal(t, "pi_42", res.Receipt)

	_, err = r.Build(Credentials{Kind: models.GatewayKind("cash")})
	assert.ErrorIs(t, err, ErrUnsupportedGateway)
}
