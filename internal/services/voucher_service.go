// internal/services/voucher_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/config"
	"github.com/javajoker/hotspot-billing/internal/database"
	"github.com/javajoker/hotspot-billing/internal/models"
)

// VoucherService hands out pre-generated hotspot vouchers. A voucher is
// claimed with one conditional UPDATE, so no two transactions can ever hold
// the same code.
type VoucherService struct {
	db     *gorm.DB
	config *config.Config
}

// Availability is an advisory snapshot of a package's stock.
type Availability struct {
	Available bool  `json:"available"`
	Count     int64 `json:"count"`
}

func NewVoucherService(db *gorm.DB, config *config.Config) *VoucherService {
	return &VoucherService{db: db, config: config}
}

// WithTx returns a service bound to an open transaction.
func (s *VoucherService) WithTx(tx *gorm.DB) *VoucherService {
	return &VoucherService{db: tx, config: s.config}
}

// Allocate claims the oldest available voucher for the transaction's
// package, router pool first and the shared pool second, and attaches it to
// the transaction. Both happen in one local transaction.
func (s *VoucherService) Allocate(ctx context.Context, txn *models.Transaction) (*models.Voucher, error) {
	var voucher *models.Voucher

	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		v, err := s.claim(tx, txn)
		if err != nil {
			return err
		}
		if err := NewLedgerService(tx).AttachVoucher(ctx, txn.ID, v.ID); err != nil {
			return err
		}
		voucher = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"voucher_id":     voucher.ID,
		"package_id":     txn.PackageID,
	}).Info("Voucher allocated")

	return voucher, nil
}

type voucherPool struct {
	name     string
	routerID *uint
}

func (s *VoucherService) pools(txn *models.Transaction) []voucherPool {
	if txn.RouterID == nil {
		return []voucherPool{{name: "shared"}}
	}
	return []voucherPool{
		{name: "router", routerID: txn.RouterID},
		{name: "shared"},
	}
}

func (s *VoucherService) claim(tx *gorm.DB, txn *models.Transaction) (*models.Voucher, error) {
	retries := s.config.Fulfillment.ClaimRetries
	if retries < 1 {
		retries = 1
	}

	for _, pool := range s.pools(txn) {
		for attempt := 0; attempt < retries; attempt++ {
			ok, err := s.claimFrom(tx, txn, pool)
			if err != nil {
				return nil, err
			}
			if ok {
				var v models.Voucher
				if err := tx.Where("assigned_transaction_id = ?", txn.ID).First(&v).Error; err != nil {
					return nil, fmt.Errorf("failed to read claimed voucher: %w", err)
				}
				return &v, nil
			}

			// Lost the row to a concurrent claimer. Try again only while
			// stock remains in this pool.
			remaining, err := s.countAvailable(tx, txn.PackageID, pool.routerID)
			if err != nil {
				return nil, err
			}
			if remaining == 0 {
				break
			}
		}
	}

	return nil, ErrVoucherExhausted
}

func (s *VoucherService) claimFrom(tx *gorm.DB, txn *models.Transaction, pool voucherPool) (bool, error) {
	args := []interface{}{
		models.VoucherStatusAssigned, txn.ID, time.Now(), time.Now(),
		txn.PackageID,
	}

	poolClause := "router_id IS NULL"
	if pool.routerID != nil {
		poolClause = "router_id = ?"
		args = append(args, *pool.routerID)
	}
	args = append(args, models.VoucherStatusAvailable, models.VoucherStatusAvailable)

	lockHint := ""
	if database.IsPostgres(tx) {
		lockHint = " FOR UPDATE SKIP LOCKED"
	}

	sql := "UPDATE vouchers SET status = ?, assigned_transaction_id = ?, assigned_at = ?, updated_at = ? " +
		"WHERE id = (SELECT id FROM vouchers WHERE package_id = ? AND " + poolClause +
		" AND status = ? ORDER BY id LIMIT 1" + lockHint + ") AND status = ?"

	result := tx.Exec(sql, args...)
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim voucher: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *VoucherService) countAvailable(db *gorm.DB, packageID uint, routerID *uint) (int64, error) {
	query := db.Model(&models.Voucher{}).
		Where("package_id = ? AND status = ?", packageID, models.VoucherStatusAvailable)
	if routerID != nil {
		query = query.Where("router_id = ?", *routerID)
	} else {
		query = query.Where("router_id IS NULL")
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count vouchers: %w", err)
	}
	return count, nil
}

// CheckAvailability counts what Allocate could hand out right now. The
// answer can be stale by the time a payment confirms.
func (s *VoucherService) CheckAvailability(ctx context.Context, packageID uint, routerID *uint) (*Availability, error) {
	db := s.db.WithContext(ctx)

	total, err := s.countAvailable(db, packageID, nil)
	if err != nil {
		return nil, err
	}
	if routerID != nil {
		own, err := s.countAvailable(db, packageID, routerID)
		if err != nil {
			return nil, err
		}
		total += own
	}

	return &Availability{Available: total > 0, Count: total}, nil
}

func (s *VoucherService) FindByTransaction(ctx context.Context, txID uuid.UUID) (*models.Voucher, error) {
	var v models.Voucher
	if err := s.db.WithContext(ctx).
		Where("assigned_transaction_id = ?", txID).
		First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, fmt.Errorf("failed to load voucher: %w", err)
	}
	return &v, nil
}

func (s *VoucherService) FindByID(ctx context.Context, id uint) (*models.Voucher, error) {
	var v models.Voucher
	if err := s.db.WithContext(ctx).First(&v, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, fmt.Errorf("failed to load voucher: %w", err)
	}
	return &v, nil
}
