// internal/sms/template.go
package sms

import (
	"strings"
)

// Vars fills the placeholders of a message template.
type Vars struct {
	Package  string
	Amount   string
	Username string
	Password string
	Voucher  string
	Duration string
}

// Render substitutes {package}, {amount}, {username}, {password}, {voucher}
// and {duration}. Unknown placeholders are left as written.
func Render(template string, v Vars) string {
	r := strings.NewReplacer(
		"{package}", v.Package,
		"{amount}", v.Amount,
		"{username}", v.Username,
		"{password}", v.Password,
		"{voucher}", v.Voucher,
		"{duration}", v.Duration,
	)
	return r.Replace(template)
}
