// internal/services/free_trial_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/hotspot-billing/internal/config"
	"github.com/javajoker/hotspot-billing/internal/database"
	"github.com/javajoker/hotspot-billing/internal/gateway"
	"github.com/javajoker/hotspot-billing/internal/models"
)

// FreeTrialService grants zero-price packages a limited number of times per
// phone number and per device.
type FreeTrialService struct {
	db       *gorm.DB
	config   *config.Config
	vouchers *VoucherService
	notifier VoucherNotifier
}

type TrialIdentity struct {
	Value      string
	Type       models.IdentityType
	ResellerID uint
}

type FreeTrialRequest struct {
	ResellerID  uint   `json:"reseller_id" validate:"required"`
	RouterID    *uint  `json:"router_id,omitempty"`
	PackageID   uint   `json:"package_id" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required,ke_phone"`
	MACAddress  string `json:"mac_address,omitempty" validate:"omitempty,mac"`
}

type FreeTrialResult struct {
	Transaction *models.Transaction
	Voucher     *models.Voucher
	Package     *models.Package
}

var macPattern = regexp.MustCompile(`^([0-9a-f]{2}[:-]){5}[0-9a-f]{2}$`)

func NewFreeTrialService(db *gorm.DB, config *config.Config, vouchers *VoucherService, notifier VoucherNotifier) *FreeTrialService {
	return &FreeTrialService{
		db:       db,
		config:   config,
		vouchers: vouchers,
		notifier: notifier,
	}
}

func (s *FreeTrialService) withTx(tx *gorm.DB) *FreeTrialService {
	return &FreeTrialService{
		db:       tx,
		config:   s.config,
		vouchers: s.vouchers.WithTx(tx),
		notifier: s.notifier,
	}
}

// TryConsume records one use of the package by identity if it is still
// under limit. The insert-if-absent path covers first use; the second
// conditional increment covers losing the insert race to another request.
func (s *FreeTrialService) TryConsume(ctx context.Context, identity TrialIdentity, packageID uint, limit int) (bool, error) {
	if limit < 1 {
		return false, nil
	}
	db := s.db.WithContext(ctx)

	ok, err := s.increment(db, identity.Value, packageID, limit)
	if err != nil || ok {
		return ok, err
	}

	now := time.Now()
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.FreeTrialUsage{
		Identity:     identity.Value,
		IdentityType: identity.Type,
		PackageID:    packageID,
		ResellerID:   identity.ResellerID,
		UsesCount:    1,
		LastUsedAt:   now,
	})
	if result.Error != nil {
		return false, fmt.Errorf("failed to record trial usage: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	return s.increment(db, identity.Value, packageID, limit)
}

func (s *FreeTrialService) increment(db *gorm.DB, identity string, packageID uint, limit int) (bool, error) {
	now := time.Now()
	result := db.Model(&models.FreeTrialUsage{}).
		Where("identity = ? AND package_id = ? AND uses_count < ?", identity, packageID, limit).
		Updates(map[string]interface{}{
			"uses_count":   gorm.Expr("uses_count + 1"),
			"last_used_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update trial usage: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Request grants a free trial. Consuming the identities, recording the
// zero-amount transaction and allocating the voucher commit together, so a
// denied identity or an empty pool leaves nothing behind.
func (s *FreeTrialService) Request(ctx context.Context, req *FreeTrialRequest) (*FreeTrialResult, error) {
	phone, err := gateway.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	mac := ""
	if req.MACAddress != "" {
		if mac, err = NormalizeMAC(req.MACAddress); err != nil {
			return nil, err
		}
	}

	var pkg models.Package
	if err := s.db.WithContext(ctx).
		Where("id = ? AND reseller_id = ? AND is_active = ?", req.PackageID, req.ResellerID, true).
		First(&pkg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("failed to load package: %w", err)
	}
	if !pkg.IsFree() {
		return nil, ErrPackageNotFree
	}
	limit := s.trialLimit(&pkg)

	result := &FreeTrialResult{Package: &pkg}
	err = database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		scoped := s.withTx(tx)

		identities := []TrialIdentity{{Value: phone, Type: models.IdentityPhone, ResellerID: req.ResellerID}}
		if mac != "" {
			identities = append(identities, TrialIdentity{Value: mac, Type: models.IdentityMAC, ResellerID: req.ResellerID})
		}
		for _, identity := range identities {
			ok, err := scoped.TryConsume(ctx, identity, pkg.ID, limit)
			if err != nil {
				return err
			}
			if !ok {
				return ErrTrialLimitExceeded
			}
		}

		txn, err := NewLedgerService(tx).RecordConfirmed(ctx, models.TransactionDraft{
			ResellerID:       req.ResellerID,
			RouterID:         req.RouterID,
			PackageID:        pkg.ID,
			PhoneNumber:      phone,
			Gateway:          models.GatewayFreeTrial,
			CorrelationToken: "FT-" + uuid.NewString(),
			Amount:           decimal.Zero,
		})
		if err != nil {
			return err
		}

		voucher, err := scoped.vouchers.Allocate(ctx, txn)
		if err != nil {
			return err
		}
		txn.AssignedVoucherID = &voucher.ID

		result.Transaction = txn
		result.Voucher = voucher
		return nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"package_id":  req.PackageID,
			"reseller_id": req.ResellerID,
			"phone":       phone,
		}).WithError(err).Warn("Free trial denied")
		return nil, err
	}

	dispatchVoucher(s.notifier, VoucherNotice{
		Transaction: result.Transaction,
		Voucher:     result.Voucher,
		Package:     result.Package,
		FreeTrial:   true,
	})

	return result, nil
}

// trialLimit falls back to the configured default for packages stored
// without a limit.
func (s *FreeTrialService) trialLimit(pkg *models.Package) int {
	if pkg.TrialLimit < 1 && s.config.Fulfillment.DefaultTrialLimit > 0 {
		p := *pkg
		p.TrialLimit = s.config.Fulfillment.DefaultTrialLimit
		return p.EffectiveTrialLimit()
	}
	return pkg.EffectiveTrialLimit()
}

// NormalizeMAC lower-cases a device address and accepts ':' or '-' as the
// separator.
func NormalizeMAC(raw string) (string, error) {
	mac := strings.ToLower(strings.TrimSpace(raw))
	if !macPattern.MatchString(mac) {
		return "", ErrInvalidMAC
	}
	return strings.ReplaceAll(mac, "-", ":"), nil
}
