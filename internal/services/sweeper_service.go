// internal/services/sweeper_service.go
package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/javajoker/hotspot-billing/internal/config"
	"github.com/javajoker/hotspot-billing/internal/models"
)

const sweepConcurrency = 4

// SweeperService expires pending transactions the customer abandoned and
// retries undelivered SMS. Several instances may sweep at once; every
// change goes through the ledger's compare-and-set.
type SweeperService struct {
	config       *config.Config
	ledger       *LedgerService
	confirmation *ConfirmationService
	notifier     *NotificationService
}

type SweepReport struct {
	Scanned       int `json:"scanned"`
	Confirmed     int `json:"confirmed"`
	Failed        int `json:"failed"`
	Expired       int `json:"expired"`
	Notifications int `json:"notifications_resent"`
}

func NewSweeperService(config *config.Config, ledger *LedgerService, confirmation *ConfirmationService, notifier *NotificationService) *SweeperService {
	return &SweeperService{
		config:       config,
		ledger:       ledger,
		confirmation: confirmation,
		notifier:     notifier,
	}
}

// Run sweeps on every tick until ctx is done.
func (s *SweeperService) Run(ctx context.Context) {
	interval := time.Duration(s.config.Fulfillment.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logrus.WithField("interval", interval).Info("Pending sweeper started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Pending sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithError(err).Error("Sweep failed")
			}
		}
	}
}

// SweepOnce gives each stale pending transaction a final poll, expires the
// ones still unresolved and then retries failed notifications.
func (s *SweeperService) SweepOnce(ctx context.Context) (*SweepReport, error) {
	cutoff := time.Now().Add(-time.Duration(s.config.Fulfillment.PendingTTLMinutes) * time.Minute)
	stale, err := s.ledger.ListStalePending(ctx, cutoff, s.config.Fulfillment.SweepBatchSize)
	if err != nil {
		return nil, err
	}

	var confirmed, failed, expired int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for i := range stale {
		txn := stale[i]
		g.Go(func() error {
			status, err := s.settle(gctx, &txn)
			if err != nil {
				return err
			}
			switch status {
			case models.TransactionStatusConfirmed:
				atomic.AddInt64(&confirmed, 1)
			case models.TransactionStatusFailed:
				atomic.AddInt64(&failed, 1)
			case models.TransactionStatusExpired:
				atomic.AddInt64(&expired, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &SweepReport{
		Scanned:   len(stale),
		Confirmed: int(confirmed),
		Failed:    int(failed),
		Expired:   int(expired),
	}

	if s.notifier != nil {
		sent, err := s.notifier.RetryFailed(ctx, s.config.Fulfillment.NotificationMaxAttempts, s.config.Fulfillment.SweepBatchSize)
		if err != nil {
			logrus.WithError(err).Warn("Notification retry failed")
		}
		report.Notifications = sent
	}

	if report.Scanned > 0 || report.Notifications > 0 {
		logrus.WithFields(logrus.Fields{
			"scanned":       report.Scanned,
			"confirmed":     report.Confirmed,
			"failed":        report.Failed,
			"expired":       report.Expired,
			"notifications": report.Notifications,
		}).Info("Sweep completed")
	}
	return report, nil
}

// settle returns the status the transaction ended up in. A gateway that
// cannot be reached does not keep a transaction pending forever; a late
// success still confirms it from expired.
func (s *SweeperService) settle(ctx context.Context, txn *models.Transaction) (models.TransactionStatus, error) {
	result, err := s.confirmation.Verify(ctx, txn.CorrelationToken)
	switch {
	case err == nil:
		if result.Status() != models.TransactionStatusPending {
			return result.Status(), nil
		}
	case errors.Is(err, ErrUnknownTransaction):
		return "", nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	default:
		logrus.WithField("correlation_token", txn.CorrelationToken).WithError(err).
			Debug("Final poll inconclusive")
	}

	ok, err := s.ledger.CompareAndTransition(ctx, txn.CorrelationToken, models.TransactionStatusPending, models.TransactionStatusExpired)
	if err != nil {
		return "", err
	}
	if !ok {
		// Someone else settled it in the meantime.
		current, err := s.ledger.FindByToken(ctx, txn.CorrelationToken)
		if err != nil {
			return "", err
		}
		return current.Status, nil
	}

	logrus.WithField("transaction_id", txn.ID).Info("Pending transaction expired")
	return models.TransactionStatusExpired, nil
}
