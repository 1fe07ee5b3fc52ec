// internal/models/transaction.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Transaction struct {
	ID                uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	ResellerID        uint              `json:"reseller_id" gorm:"not null;index"`
	RouterID          *uint             `json:"router_id" gorm:"index"`
	PackageID         uint              `json:"package_id" gorm:"not null;index"`
	PhoneNumber       string            `json:"phone_number" gorm:"size:20;not null;index"`
	Gateway           GatewayKind       `json:"gateway" gorm:"type:varchar(20);not null"`
	CorrelationToken  string            `json:"correlation_token" gorm:"size:128;not null;uniqueIndex"`
	MerchantRequestID string            `json:"merchant_request_id,omitempty" gorm:"size:128"`
	Amount            decimal.Decimal   `json:"amount" gorm:"type:decimal(10,2);not null"`
	Currency          string            `json:"currency" gorm:"size:3;not null;default:'KES'"`
	Status            TransactionStatus `json:"status" gorm:"type:varchar(20);not null;default:'new';index"`
	Receipt           string            `json:"receipt,omitempty" gorm:"size:64"`
	ResultCode        string            `json:"result_code,omitempty" gorm:"size:32"`
	ResultDescription string            `json:"result_description,omitempty" gorm:"type:text"`
	AssignedVoucherID *uint             `json:"assigned_voucher_id" gorm:"index"`
	ConfirmedAt       *time.Time        `json:"confirmed_at"`
	CreatedAt         time.Time         `json:"created_at" gorm:"index"`
	UpdatedAt         time.Time         `json:"updated_at"`

	// Relationships
	Package *Package `json:"package,omitempty" gorm:"foreignKey:PackageID"`
	Voucher *Voucher `json:"voucher,omitempty" gorm:"foreignKey:AssignedVoucherID"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = TransactionStatusNew
	}
	return nil
}

// Fulfilled reports whether the transaction is paid and holds a voucher.
func (t *Transaction) Fulfilled() bool {
	return t.Status == TransactionStatusConfirmed && t.AssignedVoucherID != nil
}

// TransactionDraft is what a caller knows about a purchase before the ledger
// persists it.
type TransactionDraft struct {
	ResellerID        uint
	RouterID          *uint
	PackageID         uint
	PhoneNumber       string
	Gateway           GatewayKind
	CorrelationToken  string
	MerchantRequestID string
	Amount            decimal.Decimal
	Currency          string
}
