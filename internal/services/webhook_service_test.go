package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/cache"
	"github.com/javajoker/hotspot-billing/internal/gateway"
	"github.com/javajoker/hotspot-billing/internal/models"
	"github.com/javajoker/hotspot-billing/internal/testutil"
)

func newWebhooks(t *testing.T, db *gorm.DB) *WebhookService {
	t.Helper()
	cfg := testutil.Config()
	cfg.Paystack.SecretKey = "sk_test"
	c := cache.NewMemory()
	resolver := gateway.NewResolver(db, cfg, c)
	confirm := NewConfirmationService(db, cfg, NewVoucherService(db, cfg), resolver, &fakeNotifier{}, c)
	return NewWebhookService(db, resolver, confirm)
}

func paystackSigned(body, secret string) http.Header {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(body))
	h := http.Header{}
	h.Set("x-paystack-signature", hex.EncodeToString(mac.Sum(nil)))
	return h
}

const darajaSuccessBody = `{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":20.00},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"PhoneNumber","Value":254712345678}]}}}}`

func newDarajaWebhooks(db *gorm.DB, gateways *fakeGateways) *WebhookService {
	cfg := testutil.Config()
	confirm := NewConfirmationService(db, cfg, NewVoucherService(db, cfg), gateways, &fakeNotifier{}, cache.NewMemory())
	return NewWebhookService(db, gateways, confirm)
}

func TestWebhook_DarajaSuccessAllocates(t *testing.T) {
	db := testutil.NewDB(t)
	fx := testutil.SeedCatalog(t, db, 20)
	testutil.SeedVouchers(t, db, fx.Package, nil, 1)
	createPending(t, db, fx, "ws_CO_191220191020363925")
	gateways := newFakeGateways()
	gateways.adapter.setVerify(&gateway.VerifyResult{State: gateway.StateSuccess, ResultCode: "0"}, nil)

	res, err := newDarajaWebhooks(db, gateways).HandleDaraja(context.Background(), []byte(darajaSuccessBody))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusConfirmed, res.Status())
	assert.Equal(t, "NLJ7RT61SV", res.Transaction.Receipt)
	assert.NotNil(t, res.Voucher)
}

func TestWebhook_DarajaSuccessUnknownToGatewayIsNotApplied(t *testing.T) {
	db := testutil.NewDB(t)
	fx := testutil.SeedCatalog(t, db, 20)
	testutil.SeedVouchers(t, db, fx.Package, nil, 1)
	createPending(t, db, fx, "ws_CO_191220191020363925")
	gateways := newFakeGateways()
	gateways.adapter.setVerify(&gateway.VerifyResult{State: gateway.StatePending, ResultCode: "500.001.1001"}, nil)

	res, err := newDarajaWebhooks(db, gateways).HandleDaraja(context.Background(), []byte(darajaSuccessBody))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPending, res.Status())
	assert.Nil(t, res.Voucher)
	assert.Equal(t, 1, gateways.adapter.verifyCount())

	var allocated int64
	require.NoError(t, db.Model(&models.Voucher{}).Where("status <> ?", models.VoucherStatusAvailable).Count(&allocated).Error)
	assert.Zero(t, allocated)
}

func TestWebhook_PaystackSignatureChecked(t *testing.T) {
	db := testutil.NewDB(t)
	fx := testutil.SeedCatalog(t, db, 20)
	testutil.SeedVouchers(t, db, fx.Package, nil, 1)
	_, err := NewLedgerService(db).Create(context.Background(), models.TransactionDraft{
		ResellerID:       fx.Reseller.ID,
		PackageID:        fx.Package.ID,
		PhoneNumber:      "254712345678",
		Gateway:          models.GatewayPaystack,
		CorrelationToken: "HS-abc",
		Amount:           fx.Package.Price,
	})
	require.NoError(t, err)
	svc := newWebhooks(t, db)
	ctx := context.Background()

	body := `{"event":"charge.success","data":{"id":77,"reference":"HS-abc","status":"success","amount":2000,"gateway_response":"Approved"}}`

	_, err = svc.HandleSigned(ctx, models.GatewayPaystack, []byte(body), paystackSigned(body, "wrong"))
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)

	res, err := svc.HandleSigned(ctx, models.GatewayPaystack, []byte(body), paystackSigned(body, "sk_test"))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusConfirmed, res.Status())
	assert.NotNil(t, res.Voucher)
}

func TestWebhook_SignedUnknownReference(t *testing.T) {
	db := testutil.NewDB(t)
	body := `{"event":"charge.success","data":{"reference":"HS-ghost","status":"success"}}`

	_, err := newWebhooks(t, db).HandleSigned(context.Background(), models.GatewayPaystack, []byte(body), paystackSigned(body, "sk_test"))
	assert.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestWebhook_GatewayMismatchRejected(t *testing.T) {
	db := testutil.NewDB(t)
	fx := testutil.SeedCatalog(t, db, 20)
	createPending(t, db, fx, "HS-mpesa")
	body := `{"event":"charge.success","data":{"reference":"HS-mpesa","status":"success"}}`

	_, err := newWebhooks(t, db).HandleSigned(context.Background(), models.GatewayPaystack, []byte(body), paystackSigned(body, "sk_test"))
	assert.ErrorIs(t, err, ErrUnknownTransaction)
}
