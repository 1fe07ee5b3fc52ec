// internal/services/admin_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/config"
	"github.com/javajoker/hotspot-billing/internal/models"
	"github.com/javajoker/hotspot-billing/internal/utils"
)

const operatorRole = "operator"

type AdminService struct {
	db       *gorm.DB
	config   *config.Config
	ledger   *LedgerService
	vouchers *VoucherService
	sweeper  *SweeperService
	notifier VoucherNotifier
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResult struct {
	AccessToken string           `json:"access_token"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Operator    *models.Operator `json:"operator"`
}

// AuditMeta identifies who performed an operator action and from where.
type AuditMeta struct {
	OperatorID uint
	IPAddress  string
	UserAgent  string
}

func NewAdminService(db *gorm.DB, config *config.Config, vouchers *VoucherService, sweeper *SweeperService, notifier VoucherNotifier) *AdminService {
	return &AdminService{
		db:       db,
		config:   config,
		ledger:   NewLedgerService(db),
		vouchers: vouchers,
		sweeper:  sweeper,
		notifier: notifier,
	}
}

func (s *AdminService) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	var operator models.Operator
	if err := s.db.WithContext(ctx).
		Where("email = ? AND is_active = ?", strings.ToLower(req.Email), true).
		First(&operator).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load operator: %w", err)
	}
	if err := operator.CheckPassword(req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}

	ttl := s.config.JWT.AccessTokenTTL
	token, err := utils.GenerateJWT(operator.ID, operator.Email, operatorRole, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	now := time.Now()
	s.db.WithContext(ctx).Model(&operator).Update("last_login_at", now)
	operator.LastLoginAt = &now

	return &LoginResult{
		AccessToken: token,
		ExpiresAt:   now.Add(time.Duration(ttl) * time.Hour),
		Operator:    &operator,
	}, nil
}

// CreateOperator adds an operator account or resets the password of an
// existing one.
func (s *AdminService) CreateOperator(ctx context.Context, email, name, password string) (*models.Operator, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var operator models.Operator
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&operator).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load operator: %w", err)
	}

	operator.Email = email
	operator.IsActive = true
	if name != "" {
		operator.Name = name
	}
	if err := operator.SetPassword(password); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.db.WithContext(ctx).Save(&operator).Error; err != nil {
		return nil, fmt.Errorf("failed to save operator: %w", err)
	}
	return &operator, nil
}

func (s *AdminService) ListUnfulfilled(ctx context.Context, params utils.PaginationParams) ([]models.Transaction, int64, error) {
	return s.ledger.ListUnfulfilled(ctx, params)
}

// RetryFulfillment allocates a voucher for a paid transaction left without
// one, from the same package it was bought for.
func (s *AdminService) RetryFulfillment(ctx context.Context, txID uuid.UUID, meta AuditMeta) (*models.Transaction, error) {
	txn, err := s.ledger.FindByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if txn.Status != models.TransactionStatusConfirmed {
		return nil, ErrNotConfirmed
	}
	if txn.AssignedVoucherID != nil {
		return nil, ErrAlreadyFulfilled
	}

	voucher, err := s.vouchers.Allocate(ctx, txn)
	if err != nil {
		return nil, err
	}
	txn.AssignedVoucherID = &voucher.ID
	txn.Voucher = voucher

	s.createAuditLog(ctx, meta, "RETRY_FULFILLMENT", "transaction", txn.ID.String(),
		models.JSONB{"assigned_voucher_id": nil},
		models.JSONB{"assigned_voucher_id": voucher.ID})

	dispatchVoucher(s.notifier, VoucherNotice{Transaction: txn, Voucher: voucher, Package: txn.Package})
	return txn, nil
}

func (s *AdminService) TriggerSweep(ctx context.Context, meta AuditMeta) (*SweepReport, error) {
	report, err := s.sweeper.SweepOnce(ctx)
	if err != nil {
		return nil, err
	}

	s.createAuditLog(ctx, meta, "TRIGGER_SWEEP", "sweep", "", nil, models.JSONB{
		"scanned":   report.Scanned,
		"confirmed": report.Confirmed,
		"expired":   report.Expired,
	})
	return report, nil
}

func (s *AdminService) createAuditLog(ctx context.Context, meta AuditMeta, action, resourceType, resourceID string, oldValues, newValues models.JSONB) {
	entry := &models.AuditLog{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		OldValues:    oldValues,
		NewValues:    newValues,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	}
	if meta.OperatorID != 0 {
		id := meta.OperatorID
		entry.OperatorID = &id
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		logrus.WithFields(logrus.Fields{
			"action":      action,
			"resource_id": resourceID,
		}).WithError(err).Error("Failed to write audit log")
	}
}
