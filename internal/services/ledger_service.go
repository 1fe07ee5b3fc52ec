// internal/services/ledger_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/models"
	"github.com/javajoker/hotspot-billing/internal/utils"
)

// LedgerService owns the transactions table. Every status change goes
// through a single conditional UPDATE so concurrent writers cannot both win.
type LedgerService struct {
	db *gorm.DB
}

// Transition carries the gateway details stamped alongside a status change.
type Transition struct {
	Receipt           string
	ResultCode        string
	ResultDescription string
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db}
}

// WithTx returns a ledger bound to an open transaction.
func (s *LedgerService) WithTx(tx *gorm.DB) *LedgerService {
	return &LedgerService{db: tx}
}

func (s *LedgerService) Create(ctx context.Context, draft models.TransactionDraft) (*models.Transaction, error) {
	if draft.CorrelationToken == "" {
		return nil, errors.New("correlation token is required")
	}
	txn := newTransaction(draft, models.TransactionStatusPending)
	if err := s.db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return txn, nil
}

// RecordConfirmed writes a transaction that is settled at birth, such as a
// zero-price free trial.
func (s *LedgerService) RecordConfirmed(ctx context.Context, draft models.TransactionDraft) (*models.Transaction, error) {
	txn := newTransaction(draft, models.TransactionStatusConfirmed)
	now := time.Now()
	txn.ConfirmedAt = &now
	if err := s.db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}
	return txn, nil
}

func newTransaction(draft models.TransactionDraft, status models.TransactionStatus) *models.Transaction {
	currency := draft.Currency
	if currency == "" {
		currency = "KES"
	}
	return &models.Transaction{
		ResellerID:        draft.ResellerID,
		RouterID:          draft.RouterID,
		PackageID:         draft.PackageID,
		PhoneNumber:       draft.PhoneNumber,
		Gateway:           draft.Gateway,
		CorrelationToken:  draft.CorrelationToken,
		MerchantRequestID: draft.MerchantRequestID,
		Amount:            draft.Amount,
		Currency:          currency,
		Status:            status,
	}
}

func (s *LedgerService) CompareAndTransition(ctx context.Context, token string, from, to models.TransactionStatus) (bool, error) {
	return s.CompareAndTransitionWith(ctx, token, from, to, Transition{})
}

// CompareAndTransitionWith moves the transaction from one status to another
// and stamps t in the same statement. It reports true only for the caller
// whose update matched the row.
func (s *LedgerService) CompareAndTransitionWith(ctx context.Context, token string, from, to models.TransactionStatus, t Transition) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	if to == models.TransactionStatusConfirmed {
		updates["confirmed_at"] = now
	}
	if t.Receipt != "" {
		updates["receipt"] = t.Receipt
	}
	if t.ResultCode != "" {
		updates["result_code"] = t.ResultCode
	}
	if t.ResultDescription != "" {
		updates["result_description"] = t.ResultDescription
	}

	result := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("correlation_token = ? AND status = ?", token, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition transaction: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *LedgerService) FindByToken(ctx context.Context, token string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := s.db.WithContext(ctx).
		Where("correlation_token = ?", token).
		First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownTransaction
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return &txn, nil
}

func (s *LedgerService) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := s.db.WithContext(ctx).
		Preload("Package").
		Preload("Voucher").
		Where("id = ?", id).
		First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownTransaction
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return &txn, nil
}

// AttachVoucher links a claimed voucher to a confirmed transaction that does
// not hold one yet.
func (s *LedgerService) AttachVoucher(ctx context.Context, txID uuid.UUID, voucherID uint) error {
	result := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ? AND assigned_voucher_id IS NULL", txID, models.TransactionStatusConfirmed).
		Updates(map[string]interface{}{
			"assigned_voucher_id": voucherID,
			"updated_at":          time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to attach voucher: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyFulfilled
	}
	return nil
}

// ListStalePending returns pending transactions created before cutoff,
// oldest first.
func (s *LedgerService) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	query := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.TransactionStatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&txns).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale transactions: %w", err)
	}
	return txns, nil
}

// LatestFulfilledByPhone backs the voucher lookup for customers who missed
// the SMS.
func (s *LedgerService) LatestFulfilledByPhone(ctx context.Context, phone string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := s.db.WithContext(ctx).
		Preload("Package").
		Preload("Voucher").
		Where("phone_number = ? AND status = ? AND assigned_voucher_id IS NOT NULL", phone, models.TransactionStatusConfirmed).
		Order("confirmed_at DESC").
		First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, fmt.Errorf("failed to look up voucher: %w", err)
	}
	return &txn, nil
}

// ListUnfulfilled returns paid transactions still waiting for a voucher.
func (s *LedgerService) ListUnfulfilled(ctx context.Context, params utils.PaginationParams) ([]models.Transaction, int64, error) {
	query := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("status = ? AND assigned_voucher_id IS NULL", models.TransactionStatusConfirmed).
		Preload("Package")

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	allowedSortFields := []string{"created_at", "confirmed_at", "amount"}
	query = utils.ApplySort(query, params, allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var txns []models.Transaction
	if err := query.Find(&txns).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	return txns, total, nil
}
