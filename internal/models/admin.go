// internal/models/admin.go
package models

import (
	"time"
)

type AuditLog struct {
	BaseModel
	OperatorID   *uint  `json:"operator_id" gorm:"index"`
	Action       string `json:"action" gorm:"size:100;not null;index"`
	ResourceType string `json:"resource_type" gorm:"size:50;not null;index"`
	ResourceID   string `json:"resource_id" gorm:"size:64;index"`
	OldValues    JSONB  `json:"old_values" gorm:"type:text"`
	NewValues    JSONB  `json:"new_values" gorm:"type:text"`
	IPAddress    string `json:"ip_address" gorm:"size:45"`
	UserAgent    string `json:"user_agent" gorm:"type:text"`

	// Relationships
	Operator *Operator `json:"operator,omitempty" gorm:"foreignKey:OperatorID"`
}

type SchemaMigration struct {
	Version   int       `json:"version" gorm:"primaryKey;autoIncrement:false"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	AppliedAt time.Time `json:"applied_at"`
}
