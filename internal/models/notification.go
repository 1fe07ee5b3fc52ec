// internal/models/notification.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationLog struct {
	BaseModel
	TransactionID uuid.UUID          `json:"transaction_id" gorm:"type:uuid;not null;index"`
	ResellerID    uint               `json:"reseller_id" gorm:"not null;index"`
	Phone         string             `json:"phone" gorm:"size:20;not null"`
	Channel       string             `json:"channel" gorm:"size:20;not null;default:'sms'"`
	Provider      SmsProvider        `json:"provider" gorm:"type:varchar(20)"`
	Message       string             `json:"message" gorm:"type:text;not null"`
	Status        NotificationStatus `json:"status" gorm:"type:varchar(10);not null;index"`
	Attempts      int                `json:"attempts" gorm:"not null;default:0"`
	LastError     string             `json:"last_error,omitempty" gorm:"type:text"`
	SentAt        *time.Time         `json:"sent_at"`
}
