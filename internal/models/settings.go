// internal/models/settings.go
package models

import (
	"database/sql/driver"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// AddressList is a Postgres text[] column; SQLite keeps the same array
// literal in a text column.
type AddressList pq.StringArray

func (a AddressList) Value() (driver.Value, error) {
	return pq.StringArray(a).Value()
}

func (a *AddressList) Scan(src interface{}) error {
	if s, ok := src.(string); ok {
		src = []byte(s)
	}
	return (*pq.StringArray)(a).Scan(src)
}

func (AddressList) GormDataType() string {
	return "text"
}

func (AddressList) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// Contains reports whether ip is listed. An empty list allows everything.
func (a AddressList) Contains(ip string) bool {
	if len(a) == 0 {
		return true
	}
	for _, allowed := range a {
		if allowed == ip {
			return true
		}
	}
	return false
}

// GatewaySettings holds a reseller's payment credentials. The row with a NULL
// reseller_id is the system default used when a reseller has none.
type GatewaySettings struct {
	BaseModel
	ResellerID        *uint              `json:"reseller_id" gorm:"index:idx_gateway_settings_owner,priority:1"`
	Gateway           GatewayKind        `json:"gateway" gorm:"type:varchar(20);not null;index:idx_gateway_settings_owner,priority:2"`
	Environment       GatewayEnvironment `json:"environment" gorm:"type:varchar(10);not null;default:'sandbox'"`
	IsActive          bool               `json:"is_active" gorm:"default:true"`
	ConsumerKey       string             `json:"-" gorm:"size:255"`
	ConsumerSecret    string             `json:"-" gorm:"size:255"`
	Shortcode         string             `json:"shortcode" gorm:"size:20"`
	Passkey           string             `json:"-" gorm:"size:255"`
	TillNumber        string             `json:"till_number" gorm:"size:20"`
	PaybillNumber     string             `json:"paybill_number" gorm:"size:20"`
	AccountReference  string             `json:"account_reference" gorm:"size:50"`
	CallbackURL       string             `json:"callback_url" gorm:"size:500"`
	PaystackSecretKey string             `json:"-" gorm:"size:255"`
	PaystackPublicKey string             `json:"paystack_public_key" gorm:"size:255"`
	StripeSecretKey   string             `json:"-" gorm:"size:255"`
	StripeWebhookKey  string             `json:"-" gorm:"size:255"`
	CallbackAllowlist AddressList        `json:"callback_allowlist"`
}

type SmsProvider string

const (
	SmsProviderTextSMS        SmsProvider = "textsms"
	SmsProviderAfricasTalking SmsProvider = "africastalking"
	SmsProviderHostPinnacle   SmsProvider = "hostpinnacle"
	SmsProviderSNS            SmsProvider = "sns"
)

// SmsSettings follows the same NULL-reseller default rule as GatewaySettings.
type SmsSettings struct {
	BaseModel
	ResellerID        *uint       `json:"reseller_id" gorm:"uniqueIndex"`
	Provider          SmsProvider `json:"provider" gorm:"type:varchar(20);not null"`
	Enabled           bool        `json:"enabled" gorm:"default:true"`
	APIKey            string      `json:"-" gorm:"size:255"`
	PartnerID         string      `json:"partner_id" gorm:"size:100"`
	Username          string      `json:"username" gorm:"size:100"`
	Password          string      `json:"-" gorm:"size:255"`
	SenderID          string      `json:"sender_id" gorm:"size:20"`
	PaymentTemplate   string      `json:"payment_template" gorm:"type:text"`
	FreeTrialTemplate string      `json:"free_trial_template" gorm:"type:text"`
}
