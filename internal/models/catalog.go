// internal/models/catalog.go
package models

import (
	"github.com/shopspring/decimal"
)

type Reseller struct {
	BaseModel
	BusinessName string `json:"business_name" gorm:"size:255;not null"`
	Email        string `json:"email" gorm:"size:255"`
	Phone        string `json:"phone" gorm:"size:20"`
	IsActive     bool   `json:"is_active" gorm:"default:true"`
}

type Router struct {
	BaseModel
	ResellerID uint   `json:"reseller_id" gorm:"not null;index"`
	Name       string `json:"name" gorm:"size:100;not null"`
	IPAddress  string `json:"ip_address" gorm:"size:45"`
	IsActive   bool   `json:"is_active" gorm:"default:true"`
}

type Package struct {
	BaseModel
	ResellerID uint            `json:"reseller_id" gorm:"not null;index"`
	Name       string          `json:"name" gorm:"size:100;not null"`
	Price      decimal.Decimal `json:"price" gorm:"type:decimal(10,2);not null"`
	Duration   string          `json:"duration" gorm:"size:50"`
	TrialLimit int             `json:"trial_limit" gorm:"not null;default:1"`
	IsActive   bool            `json:"is_active" gorm:"default:true"`
}

func (p *Package) IsFree() bool {
	return p.Price.IsZero()
}

// EffectiveTrialLimit clamps the configured limit into the supported 1..3 range.
func (p *Package) EffectiveTrialLimit() int {
	switch {
	case p.TrialLimit < 1:
		return 1
	case p.TrialLimit > 3:
		return 3
	default:
		return p.TrialLimit
	}
}
