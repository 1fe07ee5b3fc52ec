package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/cache"
	"github.com/javajoker/hotspot-billing/internal/config"
	"github.com/javajoker/hotspot-billing/internal/gateway"
	"github.com/javajoker/hotspot-billing/internal/models"
	"github.com/javajoker/hotspot-billing/internal/testutil"
)

type ConfirmationTestSuite struct {
	suite.Suite
	db       *gorm.DB
	cfg      *config.Config
	fx       *testutil.Fixture
	gateways *fakeGateways
	notifier *fakeNotifier
	service  *ConfirmationService
	ctx      context.Context
}

func (suite *ConfirmationTestSuite) SetupTest() {
	t := suite.T()
	suite.db = testutil.NewDB(t)
	suite.cfg = testutil.Config()
	suite.fx = testutil.SeedCatalog(t, suite.db, 20)
	suite.gateways = newFakeGateways()
	suite.notifier = &fakeNotifier{}
	suite.ctx = context.Background()
	suite.service = NewConfirmationService(
		suite.db, suite.cfg,
		NewVoucherService(suite.db, suite.cfg),
		suite.gateways, suite.notifier, cache.NewMemory(),
	)
}

func (suite *ConfirmationTestSuite) success(token string) *gateway.CallbackOutcome {
	return &gateway.CallbackOutcome{
		CorrelationToken: token,
		State:            gateway.StateSuccess,
		Receipt:          "QKJ4ABC123",
		ResultCode:       "0",
	}
}

func (suite *ConfirmationTestSuite) TestCallbackConfirmsAndAllocates() {
	vouchers := testutil.SeedVouchers(suite.T(), suite.db, suite.fx.Package, nil, 2)
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_123")

	res, err := suite.service.HandleCallback(suite.ctx, suite.success("ws_CO_123"))
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), models.TransactionStatusConfirmed, res.Status())
	require.NotNil(suite.T(), res.Voucher)
	assert.Equal(suite.T(), vouchers[0].ID, res.Voucher.ID)
	assert.Equal(suite.T(), "QKJ4ABC123", res.Transaction.Receipt)
	assert.False(suite.T(), res.Exhausted)
	require.NotNil(suite.T(), res.Package)
	assert.Eventually(suite.T(), func() bool { return suite.notifier.sent() == 1 }, time.Second, 10*time.Millisecond)
}

func (suite *ConfirmationTestSuite) TestCallbackReplayReturnsSameVoucher() {
	testutil.SeedVouchers(suite.T(), suite.db, suite.fx.Package, nil, 3)
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_123")

	first, err := suite.service.HandleCallback(suite.ctx, suite.success("ws_CO_123"))
	require.NoError(suite.T(), err)
	second, err := suite.service.HandleCallback(suite.ctx, suite.success("ws_CO_123"))
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), first.Voucher.ID, second.Voucher.ID)

	var assigned int64
	suite.db.Model(&models.Voucher{}).Where("status = ?", models.VoucherStatusAssigned).Count(&assigned)
	assert.Equal(suite.T(), int64(1), assigned)

	assert.Eventually(suite.T(), func() bool { return suite.notifier.sent() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(suite.T(), 1, suite.notifier.sent())
}

func (suite *ConfirmationTestSuite) TestCallbackThenPollReturnsSameVoucher() {
	testutil.SeedVouchers(suite.T(), suite.db, suite.fx.Package, nil, 2)
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_123")

	cb, err := suite.service.HandleCallback(suite.ctx, suite.success("ws_CO_123"))
	require.NoError(suite.T(), err)

	polled, err := suite.service.Poll(suite.ctx, "ws_CO_123")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), cb.Voucher.ID, polled.Voucher.ID)
	assert.Equal(suite.T(), 0, suite.gateways.adapter.verifyCount())
}

func (suite *ConfirmationTestSuite) TestConcurrentConfirmationsAllocateOnce() {
	const racers = 6
	testutil.SeedVouchers(suite.T(), suite.db, suite.fx.Package, nil, racers)
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_race")
	suite.gateways.adapter.setVerify(&gateway.VerifyResult{State: gateway.StateSuccess, Receipt: "QKJ4ABC123"}, nil)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[uint]int{}
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				res *ConfirmationResult
				err error
			)
			if i%2 == 0 {
				res, err = suite.service.HandleCallback(suite.ctx, suite.success("ws_CO_race"))
			} else {
				res, err = suite.service.Poll(suite.ctx, "ws_CO_race")
			}
			if !assert.NoError(suite.T(), err) || !assert.NotNil(suite.T(), res.Voucher) {
				return
			}
			mu.Lock()
			ids[res.Voucher.ID]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(suite.T(), ids, 1)

	var assigned int64
	suite.db.Model(&models.Voucher{}).Where("status = ?", models.VoucherStatusAssigned).Count(&assigned)
	assert.Equal(suite.T(), int64(1), assigned)
}

func (suite *ConfirmationTestSuite) TestUnknownTokenIsNeverCreated() {
	_, err := suite.service.HandleCallback(suite.ctx, suite.success("ws_CO_ghost"))
	assert.ErrorIs(suite.T(), err, ErrUnknownTransaction)

	var count int64
	suite.db.Model(&models.Transaction{}).Count(&count)
	assert.Equal(suite.T(), int64(0), count)
}

func (suite *ConfirmationTestSuite) TestFailedIsTerminal() {
	testutil.SeedVouchers(suite.T(), suite.db, suite.fx.Package, nil, 1)
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_fail")

	res, err := suite.service.HandleCallback(suite.ctx, &gateway.CallbackOutcome{
		CorrelationToken:  "ws_CO_fail",
		State:             gateway.StateFailed,
		ResultCode:        "1032",
		ResultDescription: "Request cancelled by user",
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStatusFailed, res.Status())
	assert.Equal(suite.T(), "1032", res.Transaction.ResultCode)

	res, err = suite.service.HandleCallback(suite.ctx, suite.success("ws_CO_fail"))
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStatusFailed, res.Status())
	assert.Nil(suite.T(), res.Voucher)

	var assigned int64
	suite.db.Model(&models.Voucher{}).Where("status = ?", models.VoucherStatusAssigned).Count(&assigned)
	assert.Equal(suite.T(), int64(0), assigned)
}

func (suite *ConfirmationTestSuite) TestPendingOutcomeChangesNothing() {
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_wait")

	res, err := suite.service.Poll(suite.ctx, "ws_CO_wait")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStatusPending, res.Status())
	assert.Nil(suite.T(), res.Voucher)
	assert.Equal(suite.T(), 1, suite.gateways.adapter.verifyCount())
}

func (suite *ConfirmationTestSuite) TestPollVerifyErrorLeavesPending() {
	testutil.SeedVouchers(suite.T(), suite.db, suite.fx.Package, nil, 1)
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_net")
	suite.gateways.adapter.setVerify(nil, errors.New("connection reset"))

	_, err := suite.service.Poll(suite.ctx, "ws_CO_net")
	var verr *gateway.VerificationError
	assert.True(suite.T(), errors.As(err, &verr))

	txn, err := NewLedgerService(suite.db).FindByToken(suite.ctx, "ws_CO_net")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStatusPending, txn.Status)
}

func (suite *ConfirmationTestSuite) TestPollConfirmsOnVerifiedSuccess() {
	testutil.SeedVouchers(suite.T(), suite.db, suite.fx.Package, nil, 1)
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_ok")
	suite.gateways.adapter.setVerify(&gateway.VerifyResult{State: gateway.StateSuccess, Receipt: "R1", ResultCode: "0"}, nil)

	res, err := suite.service.Poll(suite.ctx, "ws_CO_ok")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStatusConfirmed, res.Status())
	require.NotNil(suite.T(), res.Voucher)
	assert.Equal(suite.T(), "R1", res.Transaction.Receipt)
}

func (suite *ConfirmationTestSuite) TestExhaustedStaysConfirmedAndAlerts() {
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_empty")

	res, err := suite.service.HandleCallback(suite.ctx, suite.success("ws_CO_empty"))
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStatusConfirmed, res.Status())
	assert.True(suite.T(), res.Exhausted)
	assert.Nil(suite.T(), res.Voucher)
	assert.Eventually(suite.T(), func() bool { return suite.notifier.alerts() == 1 }, time.Second, 10*time.Millisecond)

	again, err := suite.service.Poll(suite.ctx, "ws_CO_empty")
	require.NoError(suite.T(), err)
	assert.True(suite.T(), again.Exhausted)
	assert.Equal(suite.T(), models.TransactionStatusConfirmed, again.Status())
}

func (suite *ConfirmationTestSuite) TestLatePaymentConfirmsExpired() {
	testutil.SeedVouchers(suite.T(), suite.db, suite.fx.Package, nil, 1)
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_late")
	_, err := NewLedgerService(suite.db).CompareAndTransition(suite.ctx, "ws_CO_late",
		models.TransactionStatusPending, models.TransactionStatusExpired)
	require.NoError(suite.T(), err)

	res, err := suite.service.HandleCallback(suite.ctx, suite.success("ws_CO_late"))
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStatusConfirmed, res.Status())
	assert.NotNil(suite.T(), res.Voucher)
}

func (suite *ConfirmationTestSuite) TestPollIsThrottled() {
	suite.cfg.Fulfillment.PollThrottleSeconds = 60
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_busy")

	_, err := suite.service.Poll(suite.ctx, "ws_CO_busy")
	require.NoError(suite.T(), err)
	res, err := suite.service.Poll(suite.ctx, "ws_CO_busy")
	require.NoError(suite.T(), err)

	assert.True(suite.T(), res.Throttled)
	assert.Equal(suite.T(), models.TransactionStatusPending, res.Status())
	assert.Equal(suite.T(), 1, suite.gateways.adapter.verifyCount())
}

func (suite *ConfirmationTestSuite) TestUnverifiedSuccessNeedsGatewayAgreement() {
	testutil.SeedVouchers(suite.T(), suite.db, suite.fx.Package, nil, 1)
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_claim")

	// The gateway has not seen a payment yet.
	res, err := suite.service.HandleUnverifiedCallback(suite.ctx, suite.success("ws_CO_claim"))
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStatusPending, res.Status())
	assert.Nil(suite.T(), res.Voucher)
	assert.Equal(suite.T(), 1, suite.gateways.adapter.verifyCount())

	suite.gateways.adapter.setVerify(&gateway.VerifyResult{State: gateway.StateSuccess, ResultCode: "0"}, nil)
	res, err = suite.service.HandleUnverifiedCallback(suite.ctx, suite.success("ws_CO_claim"))
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStatusConfirmed, res.Status())
	assert.NotNil(suite.T(), res.Voucher)
	assert.Equal(suite.T(), "QKJ4ABC123", res.Transaction.Receipt)
}

func (suite *ConfirmationTestSuite) TestUnverifiedFailureOverruledByGateway() {
	testutil.SeedVouchers(suite.T(), suite.db, suite.fx.Package, nil, 1)
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_paid")
	suite.gateways.adapter.setVerify(&gateway.VerifyResult{State: gateway.StateSuccess, Receipt: "QKJ-GW", ResultCode: "0"}, nil)

	res, err := suite.service.HandleUnverifiedCallback(suite.ctx, &gateway.CallbackOutcome{
		CorrelationToken: "ws_CO_paid",
		State:            gateway.StateFailed,
		ResultCode:       "1032",
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStatusConfirmed, res.Status())
	assert.Equal(suite.T(), "QKJ-GW", res.Transaction.Receipt)
}

func (suite *ConfirmationTestSuite) TestUnverifiedCallbackUnreachableGatewayLeavesPending() {
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_down")
	suite.gateways.adapter.setVerify(nil, errors.New("connection reset"))

	_, err := suite.service.HandleUnverifiedCallback(suite.ctx, suite.success("ws_CO_down"))
	var verr *gateway.VerificationError
	assert.True(suite.T(), errors.As(err, &verr))

	txn, err := NewLedgerService(suite.db).FindByToken(suite.ctx, "ws_CO_down")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStatusPending, txn.Status)
}

func (suite *ConfirmationTestSuite) TestVerifyIgnoresThrottle() {
	suite.cfg.Fulfillment.PollThrottleSeconds = 60
	createPending(suite.T(), suite.db, suite.fx, "ws_CO_busy")

	_, err := suite.service.Poll(suite.ctx, "ws_CO_busy")
	require.NoError(suite.T(), err)
	res, err := suite.service.Verify(suite.ctx, "ws_CO_busy")
	require.NoError(suite.T(), err)

	assert.False(suite.T(), res.Throttled)
	assert.Equal(suite.T(), 2, suite.gateways.adapter.verifyCount())
}

func TestConfirmationTestSuite(t *testing.T) {
	suite.Run(t, new(ConfirmationTestSuite))
}
