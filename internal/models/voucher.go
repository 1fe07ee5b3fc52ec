// internal/models/voucher.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type Voucher struct {
	BaseModel
	ResellerID            uint          `json:"reseller_id" gorm:"not null;index"`
	PackageID             uint          `json:"package_id" gorm:"not null;index:idx_vouchers_pool,priority:1"`
	RouterID              *uint         `json:"router_id" gorm:"index:idx_vouchers_pool,priority:2"`
	Code                  string        `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Username              string        `json:"username" gorm:"size:64"`
	Password              string        `json:"-" gorm:"size:64"`
	Status                VoucherStatus `json:"status" gorm:"type:varchar(20);not null;default:'available';index:idx_vouchers_pool,priority:3"`
	AssignedTransactionID *uuid.UUID    `json:"assigned_transaction_id" gorm:"type:uuid;uniqueIndex"`
	AssignedAt            *time.Time    `json:"assigned_at"`
}

// LoginUsername falls back to the voucher code for pools imported without
// separate credentials.
func (v *Voucher) LoginUsername() string {
	if v.Username != "" {
		return v.Username
	}
	return v.Code
}

func (v *Voucher) LoginPassword() string {
	if v.Password != "" {
		return v.Password
	}
	return v.Code
}

type FreeTrialUsage struct {
	BaseModel
	Identity     string       `json:"identity" gorm:"size:64;not null;uniqueIndex:idx_trial_identity_package,priority:1"`
	IdentityType IdentityType `json:"identity_type" gorm:"type:varchar(10);not null"`
	PackageID    uint         `json:"package_id" gorm:"not null;uniqueIndex:idx_trial_identity_package,priority:2"`
	ResellerID   uint         `json:"reseller_id" gorm:"not null;index"`
	UsesCount    int          `json:"uses_count" gorm:"not null;default:0"`
	LastUsedAt   time.Time    `json:"last_used_at"`
}
