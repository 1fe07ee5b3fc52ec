// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/hotspot-billing/internal/gateway"
	"github.com/javajoker/hotspot-billing/internal/i18n"
	"github.com/javajoker/hotspot-billing/internal/services"
	"github.com/javajoker/hotspot-billing/internal/utils"
)

// respondError maps service errors onto the response envelope. Anything
// unrecognised is logged and reported as an internal error.
func respondError(c *gin.Context, err error) {
	lang := utils.GetLangFromContext(c)

	var (
		initErr   *gateway.InitiationError
		verifyErr *gateway.VerificationError
	)

	switch {
	case errors.Is(err, services.ErrPackageNotFound):
		utils.NotFoundResponse(c, "package")
	case errors.Is(err, services.ErrRouterNotFound):
		utils.NotFoundResponse(c, "router")
	case errors.Is(err, services.ErrUnknownTransaction):
		utils.NotFoundResponse(c, "transaction")
	case errors.Is(err, services.ErrVoucherNotFound):
		utils.NotFoundResponse(c, "voucher")
	case errors.Is(err, gateway.ErrInvalidPhone):
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationPhone), nil)
	case errors.Is(err, services.ErrInvalidMAC):
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationMAC), nil)
	case errors.Is(err, services.ErrPackageIsFree):
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyPackageIsFree), nil)
	case errors.Is(err, services.ErrPackageNotFree):
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyPackageNotFree), nil)
	case errors.Is(err, services.ErrVoucherExhausted):
		utils.ErrorResponse(c, http.StatusConflict, "VOUCHER_EXHAUSTED", i18n.T(lang, i18n.KeyVoucherExhausted), nil)
	case errors.Is(err, services.ErrTrialLimitExceeded):
		utils.ErrorResponse(c, http.StatusForbidden, "TRIAL_LIMIT_EXCEEDED", i18n.T(lang, i18n.KeyTrialLimitExceeded), nil)
	case errors.Is(err, services.ErrNotConfirmed):
		utils.ConflictResponse(c, i18n.T(lang, i18n.KeyTransactionNotFulfill))
	case errors.Is(err, services.ErrAlreadyFulfilled):
		utils.ConflictResponse(c, i18n.T(lang, i18n.KeyTransactionAlreadyDone))
	case errors.Is(err, gateway.ErrNotConfigured), errors.Is(err, gateway.ErrUnsupportedGateway):
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "PAYMENT_NOT_CONFIGURED", i18n.T(lang, i18n.KeyPaymentNotConfigured), nil)
	case errors.As(err, &initErr):
		utils.ErrorResponse(c, http.StatusBadGateway, "PAYMENT_INITIATION_FAILED", i18n.T(lang, i18n.KeyPaymentInitiateFailed), gin.H{
			"gateway": initErr.Gateway,
			"code":    initErr.Code,
		})
	case errors.As(err, &verifyErr):
		utils.AcceptedResponse(c, "PAYMENT_PENDING", i18n.T(lang, i18n.KeyPaymentTryAgain), gin.H{"retry": true})
	default:
		logrus.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).WithError(err).Error("Request failed")
		utils.InternalErrorResponse(c, "")
	}
}

// bindAndValidate decodes the JSON body into req and runs struct validation.
// It writes the error response itself and reports whether to continue.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	lang := utils.GetLangFromContext(c)
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}
