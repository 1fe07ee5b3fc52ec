// internal/services/confirmation_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/cache"
	"github.com/javajoker/hotspot-billing/internal/config"
	"github.com/javajoker/hotspot-billing/internal/database"
	"github.com/javajoker/hotspot-billing/internal/gateway"
	"github.com/javajoker/hotspot-billing/internal/models"
)

// GatewayProvider hands out adapters for a reseller's configured gateway.
type GatewayProvider interface {
	ActiveKind(ctx context.Context, resellerID uint) (models.GatewayKind, error)
	Adapter(ctx context.Context, resellerID uint, kind models.GatewayKind) (gateway.Adapter, error)
}

// ConfirmationResult is the settled view of a transaction after a callback
// or poll.
type ConfirmationResult struct {
	Transaction *models.Transaction
	Voucher     *models.Voucher
	Package     *models.Package
	// Exhausted is set when the transaction is paid but holds no voucher.
	Exhausted bool
	// Throttled is set when a poll was answered without asking the gateway.
	Throttled bool
}

func (r *ConfirmationResult) Status() models.TransactionStatus {
	return r.Transaction.Status
}

// ConfirmationService reconciles gateway outcomes into the ledger. Webhooks
// and customer polls run the same algorithm; whichever lands first wins the
// compare-and-set and allocates the voucher, the other reads the result.
type ConfirmationService struct {
	db       *gorm.DB
	config   *config.Config
	ledger   *LedgerService
	vouchers *VoucherService
	gateways GatewayProvider
	notifier VoucherNotifier
	cache    cache.Cache
}

func NewConfirmationService(
	db *gorm.DB,
	config *config.Config,
	vouchers *VoucherService,
	gateways GatewayProvider,
	notifier VoucherNotifier,
	c cache.Cache,
) *ConfirmationService {
	return &ConfirmationService{
		db:       db,
		config:   config,
		ledger:   NewLedgerService(db),
		vouchers: vouchers,
		gateways: gateways,
		notifier: notifier,
		cache:    c,
	}
}

// HandleCallback applies an authenticated gateway callback. Callbacks for
// tokens the ledger has never seen are rejected, never created.
func (s *ConfirmationService) HandleCallback(ctx context.Context, outcome *gateway.CallbackOutcome) (*ConfirmationResult, error) {
	txn, err := s.ledger.FindByToken(ctx, outcome.CorrelationToken)
	if err != nil {
		if errors.Is(err, ErrUnknownTransaction) {
			logrus.WithFields(logrus.Fields{
				"correlation_token": outcome.CorrelationToken,
				"state":             outcome.State,
			}).Warn("Callback for unknown transaction discarded")
		}
		return nil, err
	}

	return s.reconcile(ctx, txn, outcome.State, Transition{
		Receipt:           outcome.Receipt,
		ResultCode:        outcome.ResultCode,
		ResultDescription: outcome.ResultDescription,
	})
}

// HandleUnverifiedCallback applies a callback whose payload carries no
// signature. A settling outcome is checked against the gateway's status
// query first, and the gateway's answer wins when the two disagree.
func (s *ConfirmationService) HandleUnverifiedCallback(ctx context.Context, outcome *gateway.CallbackOutcome) (*ConfirmationResult, error) {
	txn, err := s.ledger.FindByToken(ctx, outcome.CorrelationToken)
	if err != nil {
		if errors.Is(err, ErrUnknownTransaction) {
			logrus.WithFields(logrus.Fields{
				"correlation_token": outcome.CorrelationToken,
				"state":             outcome.State,
			}).Warn("Callback for unknown transaction discarded")
		}
		return nil, err
	}

	switch {
	case txn.Status == models.TransactionStatusConfirmed:
		return s.settled(ctx, txn)
	case txn.Status == models.TransactionStatusFailed, outcome.State == gateway.StatePending:
		return &ConfirmationResult{Transaction: txn}, nil
	}

	verified, err := s.verifyStatus(ctx, txn)
	if err != nil {
		return nil, err
	}

	t := Transition{
		Receipt:           outcome.Receipt,
		ResultCode:        outcome.ResultCode,
		ResultDescription: outcome.ResultDescription,
	}
	if verified.State != outcome.State {
		logrus.WithFields(logrus.Fields{
			"correlation_token": txn.CorrelationToken,
			"callback_state":    outcome.State,
			"gateway_state":     verified.State,
		}).Warn("Callback disagrees with gateway status")
		t = Transition{
			Receipt:           verified.Receipt,
			ResultCode:        verified.ResultCode,
			ResultDescription: verified.ResultDescription,
		}
	}
	if t.Receipt == "" {
		t.Receipt = verified.Receipt
	}

	return s.reconcile(ctx, txn, verified.State, t)
}

// Poll asks the gateway about a transaction the customer is waiting on.
// Settled transactions are answered from the ledger. A gateway that cannot
// be reached yields a *gateway.VerificationError and no state change.
func (s *ConfirmationService) Poll(ctx context.Context, token string) (*ConfirmationResult, error) {
	return s.poll(ctx, token, true)
}

// Verify is Poll without the per-token throttle.
func (s *ConfirmationService) Verify(ctx context.Context, token string) (*ConfirmationResult, error) {
	return s.poll(ctx, token, false)
}

func (s *ConfirmationService) poll(ctx context.Context, token string, throttle bool) (*ConfirmationResult, error) {
	txn, err := s.ledger.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	switch txn.Status {
	case models.TransactionStatusConfirmed:
		return s.settled(ctx, txn)
	case models.TransactionStatusFailed:
		return &ConfirmationResult{Transaction: txn}, nil
	}

	if throttle && s.throttled(ctx, token) {
		return &ConfirmationResult{Transaction: txn, Throttled: true}, nil
	}

	verified, err := s.verifyStatus(ctx, txn)
	if err != nil {
		return nil, err
	}

	return s.reconcile(ctx, txn, verified.State, Transition{
		Receipt:           verified.Receipt,
		ResultCode:        verified.ResultCode,
		ResultDescription: verified.ResultDescription,
	})
}

func (s *ConfirmationService) verifyStatus(ctx context.Context, txn *models.Transaction) (*gateway.VerifyResult, error) {
	adapter, err := s.gateways.Adapter(ctx, txn.ResellerID, txn.Gateway)
	if err != nil {
		return nil, &gateway.VerificationError{Gateway: txn.Gateway, Token: txn.CorrelationToken, Err: err}
	}
	verified, err := adapter.VerifyStatus(ctx, txn.CorrelationToken)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"correlation_token": txn.CorrelationToken,
			"gateway":           txn.Gateway,
		}).WithError(err).Warn("Payment verification failed")
		return nil, err
	}
	return verified, nil
}

// throttled reports whether token was polled within the throttle window.
// Cache failures never block a poll.
func (s *ConfirmationService) throttled(ctx context.Context, token string) bool {
	window := s.config.Fulfillment.PollThrottleSeconds
	if window <= 0 || s.cache == nil {
		return false
	}
	first, err := s.cache.SetNX(ctx, "poll:"+token, "1", time.Duration(window)*time.Second)
	if err != nil {
		logrus.WithError(err).Debug("Poll throttle unavailable")
		return false
	}
	return !first
}

func (s *ConfirmationService) reconcile(ctx context.Context, txn *models.Transaction, state gateway.State, t Transition) (*ConfirmationResult, error) {
	if txn.Status == models.TransactionStatusConfirmed {
		return s.settled(ctx, txn)
	}

	switch state {
	case gateway.StateSuccess:
		return s.confirm(ctx, txn, t)
	case gateway.StateFailed:
		return s.fail(ctx, txn, t)
	default:
		return &ConfirmationResult{Transaction: txn}, nil
	}
}

func (s *ConfirmationService) confirm(ctx context.Context, txn *models.Transaction, t Transition) (*ConfirmationResult, error) {
	from := txn.Status
	if from != models.TransactionStatusPending && from != models.TransactionStatusExpired {
		logrus.WithFields(logrus.Fields{
			"transaction_id": txn.ID,
			"status":         from,
			"receipt":        t.Receipt,
		}).Error("Gateway reported success for a settled transaction")
		return s.reread(ctx, txn.CorrelationToken)
	}

	won, voucher, exhausted, err := s.confirmAndAllocate(ctx, txn, from, t)
	if err != nil {
		return nil, err
	}
	if !won {
		return s.reread(ctx, txn.CorrelationToken)
	}

	fresh, err := s.ledger.FindByToken(ctx, txn.CorrelationToken)
	if err != nil {
		return nil, err
	}
	pkg := s.loadPackage(ctx, fresh.PackageID)

	logrus.WithFields(logrus.Fields{
		"transaction_id": fresh.ID,
		"receipt":        fresh.Receipt,
		"from":           from,
		"exhausted":      exhausted,
	}).Info("Payment confirmed")

	if exhausted {
		dispatchExhaustionAlert(s.notifier, fresh)
	} else {
		dispatchVoucher(s.notifier, VoucherNotice{Transaction: fresh, Voucher: voucher, Package: pkg})
	}

	return &ConfirmationResult{
		Transaction: fresh,
		Voucher:     voucher,
		Package:     pkg,
		Exhausted:   exhausted,
	}, nil
}

// confirmAndAllocate runs the confirming compare-and-set and the voucher
// claim in one local transaction so a concurrent reader never sees a
// confirmed row whose allocation is still in flight. An empty pool does not
// undo the confirmation.
func (s *ConfirmationService) confirmAndAllocate(ctx context.Context, txn *models.Transaction, from models.TransactionStatus, t Transition) (won bool, voucher *models.Voucher, exhausted bool, err error) {
	err = database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		ok, err := s.ledger.WithTx(tx).CompareAndTransitionWith(ctx, txn.CorrelationToken, from, models.TransactionStatusConfirmed, t)
		if err != nil || !ok {
			return err
		}
		won = true

		confirmed := *txn
		confirmed.Status = models.TransactionStatusConfirmed
		v, err := s.vouchers.WithTx(tx).Allocate(ctx, &confirmed)
		switch {
		case err == nil:
			voucher = v
		case errors.Is(err, ErrVoucherExhausted):
			exhausted = true
		default:
			logrus.WithField("transaction_id", txn.ID).WithError(err).
				Error("Voucher allocation failed after confirmation")
			exhausted = true
		}
		return nil
	})
	return won, voucher, exhausted, err
}

func (s *ConfirmationService) fail(ctx context.Context, txn *models.Transaction, t Transition) (*ConfirmationResult, error) {
	if txn.Status != models.TransactionStatusPending {
		return &ConfirmationResult{Transaction: txn}, nil
	}

	ok, err := s.ledger.CompareAndTransitionWith(ctx, txn.CorrelationToken, models.TransactionStatusPending, models.TransactionStatusFailed, t)
	if err != nil {
		return nil, err
	}
	if ok {
		logrus.WithFields(logrus.Fields{
			"transaction_id": txn.ID,
			"result_code":    t.ResultCode,
		}).Info("Payment failed")
	}
	return s.reread(ctx, txn.CorrelationToken)
}

// reread returns whatever the ledger now says, which is the winner's result
// after a lost compare-and-set.
func (s *ConfirmationService) reread(ctx context.Context, token string) (*ConfirmationResult, error) {
	txn, err := s.ledger.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if txn.Status == models.TransactionStatusConfirmed {
		return s.settled(ctx, txn)
	}
	return &ConfirmationResult{Transaction: txn}, nil
}

func (s *ConfirmationService) settled(ctx context.Context, txn *models.Transaction) (*ConfirmationResult, error) {
	result := &ConfirmationResult{
		Transaction: txn,
		Package:     s.loadPackage(ctx, txn.PackageID),
	}
	if txn.AssignedVoucherID == nil {
		result.Exhausted = true
		return result, nil
	}

	voucher, err := s.vouchers.FindByID(ctx, *txn.AssignedVoucherID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assigned voucher: %w", err)
	}
	result.Voucher = voucher
	return result, nil
}

func (s *ConfirmationService) loadPackage(ctx context.Context, id uint) *models.Package {
	var pkg models.Package
	if err := s.db.WithContext(ctx).First(&pkg, id).Error; err != nil {
		return nil
	}
	return &pkg
}
