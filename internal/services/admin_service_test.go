package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/cache"
	"github.com/javajoker/hotspot-billing/internal/gateway"
	"github.com/javajoker/hotspot-billing/internal/models"
	"github.com/javajoker/hotspot-billing/internal/testutil"
	"github.com/javajoker/hotspot-billing/internal/utils"
)

func newAdmin(t *testing.T, db *gorm.DB) (*AdminService, *ConfirmationService, *fakeNotifier) {
	t.Helper()
	cfg := testutil.Config()
	notifier := &fakeNotifier{}
	vouchers := NewVoucherService(db, cfg)
	confirm := NewConfirmationService(db, cfg, vouchers, newFakeGateways(), notifier, cache.NewMemory())
	sweeper := NewSweeperService(cfg, NewLedgerService(db), confirm, nil)
	return NewAdminService(db, cfg, vouchers, sweeper, notifier), confirm, notifier
}

func TestAdmin_Login(t *testing.T) {
	db := testutil.NewDB(t)
	admin, _, _ := newAdmin(t, db)
	ctx := context.Background()

	op, err := admin.CreateOperator(ctx, "Ops@Example.com", "Ops", "Secret123")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", op.Email)

	res, err := admin.Login(ctx, &LoginRequest{Email: "ops@example.com", Password: "Secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotNil(t, res.Operator.LastLoginAt)

	claims, err := utils.ValidateJWT(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, op.ID, claims.OperatorID)
	assert.Equal(t, "operator", claims.Role)

	_, err = admin.Login(ctx, &LoginRequest{Email: "ops@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = admin.Login(ctx, &LoginRequest{Email: "nobody@example.com", Password: "Secret123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAdmin_CreateOperatorResetsPassword(t *testing.T) {
	db := testutil.NewDB(t)
	admin, _, _ := newAdmin(t, db)
	ctx := context.Background()

	first, err := admin.CreateOperator(ctx, "ops@example.com", "Ops", "Secret123")
	require.NoError(t, err)
	second, err := admin.CreateOperator(ctx, "ops@example.com", "", "Other456")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ops", second.Name)
	_, err = admin.Login(ctx, &LoginRequest{Email: "ops@example.com", Password: "Other456"})
	assert.NoError(t, err)
}

func TestAdmin_RetryFulfillmentAfterRestock(t *testing.T) {
	db := testutil.NewDB(t)
	fx := testutil.SeedCatalog(t, db, 20)
	admin, confirm, notifier := newAdmin(t, db)
	ctx := context.Background()

	txn := createPending(t, db, fx, "ws_CO_empty")
	res, err := confirm.HandleCallback(ctx, &gateway.CallbackOutcome{CorrelationToken: "ws_CO_empty", State: gateway.StateSuccess})
	require.NoError(t, err)
	require.True(t, res.Exhausted)

	unfulfilled, total, err := admin.ListUnfulfilled(ctx, utils.PaginationParams{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, unfulfilled, 1)

	_, err = admin.RetryFulfillment(ctx, txn.ID, AuditMeta{OperatorID: 7, IPAddress: "10.0.0.1"})
	assert.ErrorIs(t, err, ErrVoucherExhausted)

	testutil.SeedVouchers(t, db, fx.Package, nil, 1)
	fulfilled, err := admin.RetryFulfillment(ctx, txn.ID, AuditMeta{OperatorID: 7, IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, fulfilled.Voucher)
	assert.True(t, fulfilled.Fulfilled())

	_, err = admin.RetryFulfillment(ctx, txn.ID, AuditMeta{OperatorID: 7})
	assert.ErrorIs(t, err, ErrAlreadyFulfilled)

	var entry models.AuditLog
	require.NoError(t, db.Where("action = ?", "RETRY_FULFILLMENT").First(&entry).Error)
	assert.Equal(t, txn.ID.String(), entry.ResourceID)
	require.NotNil(t, entry.OperatorID)
	assert.Equal(t, uint(7), *entry.OperatorID)

	assert.Eventually(t, func() bool { return notifier.sent() == 1 }, time.Second, 10*time.Millisecond)
}

func TestAdmin_RetryFulfillmentRequiresConfirmed(t *testing.T) {
	db := testutil.NewDB(t)
	fx := testutil.SeedCatalog(t, db, 20)
	testutil.SeedVouchers(t, db, fx.Package, nil, 1)
	admin, _, _ := newAdmin(t, db)

	txn := createPending(t, db, fx, "ws_CO_pending")
	_, err := admin.RetryFulfillment(context.Background(), txn.ID, AuditMeta{})
	assert.ErrorIs(t, err, ErrNotConfirmed)
}

func TestAdmin_TriggerSweepIsAudited(t *testing.T) {
	db := testutil.NewDB(t)
	admin, _, _ := newAdmin(t, db)

	report, err := admin.TriggerSweep(context.Background(), AuditMeta{OperatorID: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)

	var count int64
	db.Model(&models.AuditLog{}).Where("action = ?", "TRIGGER_SWEEP").Count(&count)
	assert.Equal(t, int64(1), count)
}
