// internal/services/purchase_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/config"
	"github.com/javajoker/hotspot-billing/internal/gateway"
	"github.com/javajoker/hotspot-billing/internal/models"
)

// PurchaseService starts paid purchases. The ledger row is written only
// after the gateway accepted the request.
type PurchaseService struct {
	db       *gorm.DB
	config   *config.Config
	ledger   *LedgerService
	vouchers *VoucherService
	gateways GatewayProvider
}

type PurchaseRequest struct {
	ResellerID  uint   `json:"reseller_id" validate:"required"`
	RouterID    *uint  `json:"router_id,omitempty"`
	PackageID   uint   `json:"package_id" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required,ke_phone"`
	Gateway     string `json:"gateway,omitempty" validate:"omitempty,oneof=mpesa_stk paybill till paystack stripe"`
}

type PurchaseResult struct {
	TransactionID    uuid.UUID          `json:"transaction_id"`
	CorrelationToken string             `json:"correlation_token"`
	AuthorizationURL string             `json:"authorization_url,omitempty"`
	Gateway          models.GatewayKind `json:"gateway"`
	Amount           string             `json:"amount"`
	Currency         string             `json:"currency"`
	CustomerMessage  string             `json:"customer_message,omitempty"`
}

func NewPurchaseService(db *gorm.DB, config *config.Config, vouchers *VoucherService, gateways GatewayProvider) *PurchaseService {
	return &PurchaseService{
		db:       db,
		config:   config,
		ledger:   NewLedgerService(db),
		vouchers: vouchers,
		gateways: gateways,
	}
}

func (s *PurchaseService) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	phone, err := gateway.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, &gateway.InitiationError{Code: "INVALID_PHONE", Err: err}
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
	if pkg.IsFree() {
		return nil, ErrPackageIsFree
	}

	if req.RouterID != nil {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Router{}).
			Where("id = ? AND reseller_id = ?", *req.RouterID, req.ResellerID).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to load router: %w", err)
		}
		if count == 0 {
			return nil, ErrRouterNotFound
		}
	}

	// Refuse to charge for a package that could not be fulfilled right now.
	stock, err := s.vouchers.CheckAvailability(ctx, pkg.ID, req.RouterID)
	if err != nil {
		return nil, err
	}
	if !stock.Available {
		return nil, ErrVoucherExhausted
	}

	kind := models.GatewayKind(req.Gateway)
	if kind == "" {
		if kind, err = s.gateways.ActiveKind(ctx, req.ResellerID); err != nil {
			return nil, err
		}
	}
	adapter, err := s.gateways.Adapter(ctx, req.ResellerID, kind)
	if err != nil {
		return nil, err
	}

	reference := "HS-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
	initiated, err := adapter.Initiate(ctx, gateway.InitiateRequest{
		PhoneNumber: phone,
		Amount:      pkg.Price,
		Reference:   reference,
		Description: pkg.Name,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"reseller_id": req.ResellerID,
			"package_id":  pkg.ID,
			"gateway":     kind,
		}).WithError(err).Warn("Payment initiation failed")
		return nil, err
	}

	txn, err := s.ledger.Create(ctx, models.TransactionDraft{
		ResellerID:        req.ResellerID,
		RouterID:          req.RouterID,
		PackageID:         pkg.ID,
		PhoneNumber:       phone,
		Gateway:           kind,
		CorrelationToken:  initiated.CorrelationToken,
		MerchantRequestID: initiated.MerchantRequestID,
		Amount:            pkg.Price,
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id":    txn.ID,
		"correlation_token": txn.CorrelationToken,
		"gateway":           kind,
	}).Info("Purchase initiated")

	return &PurchaseResult{
		TransactionID:    txn.ID,
		CorrelationToken: txn.CorrelationToken,
		AuthorizationURL: initiated.AuthorizationURL,
		Gateway:          kind,
		Amount:           txn.Amount.StringFixed(2),
		Currency:         txn.Currency,
		CustomerMessage:  initiated.CustomerMessage,
	}, nil
}

// CheckAvailability validates the package before counting its stock.
func (s *PurchaseService) CheckAvailability(ctx context.Context, packageID uint, routerID *uint) (*Availability, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Package{}).
		Where("id = ? AND is_active = ?", packageID, true).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to load package: %w", err)
	}
	if count == 0 {
		return nil, ErrPackageNotFound
	}
	return s.vouchers.CheckAvailability(ctx, packageID, routerID)
}

// LookupVoucher returns the most recent voucher sold to phone.
func (s *PurchaseService) LookupVoucher(ctx context.Context, rawPhone string) (*models.Transaction, error) {
	phone, err := gateway.NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	return s.ledger.LatestFulfilledByPhone(ctx, phone)
}
