// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess       = "success"
	KeyInternalError = "error.internal"
	KeyRateLimited   = "error.rate_limited"

	// Authentication
	KeyAuthRequired           = "auth.required"
	KeyAuthInvalidToken       = "auth.invalid_token"
	KeyAuthInvalidCredentials = "auth.invalid_credentials"
	KeyAuthLoginSuccess       = "auth.login_success"

	// Validation
	KeyValidationInvalid  = "validation.invalid"
	KeyValidationPhone    = "validation.phone"
	KeyValidationMAC      = "validation.mac"
	KeyValidationRequired = "validation.required"

	// Packages and routers
	KeyPackageNotFound = "package.not_found"
	KeyPackageIsFree   = "package.is_free"
	KeyPackageNotFree  = "package.not_free"
	KeyRouterNotFound  = "router.not_found"

	// Payments
	KeyPaymentInitiated       = "payment.initiated"
	KeyPaymentConfirmed       = "payment.confirmed"
	KeyPaymentPending         = "payment.pending"
	KeyPaymentTryAgain        = "payment.try_again"
	KeyPaymentFailed          = "payment.failed"
	KeyPaymentExpired         = "payment.expired"
	KeyPaymentInitiateFailed  = "payment.initiate_failed"
	KeyPaymentNotConfigured   = "payment.not_configured"
	KeyTransactionNotFound    = "transaction.not_found"
	KeyTransactionNotFulfill  = "transaction.not_fulfillable"
	KeyTransactionFulfilled   = "transaction.fulfilled"
	KeyTransactionAlreadyDone = "transaction.already_fulfilled"

	// Vouchers
	KeyVoucherExhausted  = "voucher.exhausted"
	KeyVoucherPaidNoCode = "voucher.paid_no_code"
	KeyVoucherNotFound   = "voucher.not_found"
	KeyVoucherAvailable  = "voucher.available"

	// Free trial
	KeyTrialGranted       = "trial.granted"
	KeyTrialLimitExceeded = "trial.limit_exceeded"

	// Operator
	KeySweepCompleted = "admin.sweep_completed"
)
