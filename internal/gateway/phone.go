// internal/gateway/phone.go
package gateway

import (
	"strings"
)

// NormalizePhone converts Kenyan MSISDNs in local, international or bare
// form into 254XXXXXXXXX.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "254"):
		digits = digits[3:]
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		digits = digits[1:]
	case len(digits) == 9:
	default:
		return "", ErrInvalidPhone
	}

	if digits[0] != '7' && digits[0] != '1' {
		return "", ErrInvalidPhone
	}
	return "254" + digits, nil
}
