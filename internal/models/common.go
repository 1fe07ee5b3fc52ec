// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Base model with common fields
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JSONB type for PostgreSQL, stored as text on SQLite
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB) Scan(value interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type GatewayKind string

const (
	GatewayMpesaSTK  GatewayKind = "mpesa_stk"
	GatewayPaybill   GatewayKind = "paybill"
	GatewayTill      GatewayKind = "till"
	GatewayPaystack  GatewayKind = "paystack"
	GatewayStripe    GatewayKind = "stripe"
	GatewayFreeTrial GatewayKind = "free_trial"
)

// IsDaraja reports whether the gateway is served by the Safaricom Daraja API.
func (g GatewayKind) IsDaraja() bool {
	return g == GatewayMpesaSTK || g == GatewayPaybill || g == GatewayTill
}

type GatewayEnvironment string

const (
	EnvironmentSandbox GatewayEnvironment = "sandbox"
	EnvironmentLive    GatewayEnvironment = "live"
)

type TransactionStatus string

const (
	TransactionStatusNew       TransactionStatus = "new"
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusExpired   TransactionStatus = "expired"
)

// statusRank orders statuses so that every allowed transition moves strictly
// forward. confirmed and failed are terminal.
var statusRank = map[TransactionStatus]int{
	TransactionStatusNew:       0,
	TransactionStatusPending:   1,
	TransactionStatusExpired:   2,
	TransactionStatusConfirmed: 3,
	TransactionStatusFailed:    3,
}

// CanTransition reports whether from -> to is a legal ledger move.
// expired -> confirmed is allowed so a late payment is never lost.
func CanTransition(from, to TransactionStatus) bool {
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	if from == TransactionStatusExpired {
		return to == TransactionStatusConfirmed
	}
	return tr > fr
}

func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusConfirmed || s == TransactionStatusFailed
}

type VoucherStatus string

const (
	VoucherStatusAvailable VoucherStatus = "available"
	VoucherStatusAssigned  VoucherStatus = "assigned"
	VoucherStatusExpired   VoucherStatus = "expired"
)

type IdentityType string

const (
	IdentityPhone IdentityType = "phone"
	IdentityMAC   IdentityType = "mac"
)

type NotificationStatus string

const (
	NotificationStatusSent   NotificationStatus = "sent"
	NotificationStatusFailed NotificationStatus = "failed"
)
