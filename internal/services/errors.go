// internal/services/errors.go
package services

import "errors"

var (
	ErrUnknownTransaction    = errors.New("unknown transaction")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrDuplicateConfirmation = errors.New("transaction already confirmed")
	ErrAlreadyFulfilled      = errors.New("transaction already holds a voucher")
	ErrNotConfirmed          = errors.New("transaction is not confirmed")
	ErrVoucherExhausted      = errors.New("no vouchers available for package")
	ErrTrialLimitExceeded    = errors.New("free trial limit reached")
	ErrPackageNotFound       = errors.New("package not found")
	ErrRouterNotFound        = errors.New("router not found")
	ErrPackageIsFree         = errors.New("package is free, use the free trial flow")
	ErrPackageNotFree        = errors.New("package is not a free trial package")
	ErrVoucherNotFound       = errors.New("voucher not found")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrInvalidMAC            = errors.New("invalid MAC address")
)
