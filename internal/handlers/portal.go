// internal/handlers/portal.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/hotspot-billing/internal/i18n"
	"github.com/javajoker/hotspot-billing/internal/models"
	"github.com/javajoker/hotspot-billing/internal/services"
	"github.com/javajoker/hotspot-billing/internal/utils"
)

// PortalHandler serves the captive portal: buying a package, waiting for the
// payment and getting the voucher.
type PortalHandler struct {
	purchaseService     *services.PurchaseService
	confirmationService *services.ConfirmationService
	freeTrialService    *services.FreeTrialService
}

func NewPortalHandler(purchaseService *services.PurchaseService, confirmationService *services.ConfirmationService, freeTrialService *services.FreeTrialService) *PortalHandler {
	return &PortalHandler{
		purchaseService:     purchaseService,
		confirmationService: confirmationService,
		freeTrialService:    freeTrialService,
	}
}

type paymentStatusRequest struct {
	CorrelationToken string `json:"correlation_token" validate:"required"`
}

type availabilityRequest struct {
	PackageID uint  `json:"package_id" form:"package_id" validate:"required"`
	RouterID  *uint `json:"router_id,omitempty" form:"router_id"`
}

type voucherLookupRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,ke_phone"`
}

// voucherView is what the portal shows the customer to log in with.
type voucherView struct {
	Status      models.TransactionStatus `json:"status"`
	VoucherCode string                   `json:"voucher_code,omitempty"`
	Username    string                   `json:"username,omitempty"`
	Password    string                   `json:"password,omitempty"`
	Receipt     string                   `json:"receipt,omitempty"`
	PackageName string                   `json:"package_name,omitempty"`
	Duration    string                   `json:"duration,omitempty"`
	Amount      string                   `json:"amount,omitempty"`
	Message     string                   `json:"message"`
}

func newVoucherView(txn *models.Transaction, voucher *models.Voucher, pkg *models.Package, message string) voucherView {
	view := voucherView{
		Status:  txn.Status,
		Receipt: txn.Receipt,
		Amount:  txn.Amount.StringFixed(2),
		Message: message,
	}
	if voucher != nil {
		view.VoucherCode = voucher.Code
		view.Username = voucher.LoginUsername()
		view.Password = voucher.LoginPassword()
	}
	if pkg != nil {
		view.PackageName = pkg.Name
		view.Duration = pkg.Duration
	}
	return view
}

// POST /portal/purchase
func (h *PortalHandler) Purchase(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.PurchaseRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.purchaseService.Purchase(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	message := result.CustomerMessage
	if message == "" || result.Gateway.IsDaraja() {
		message = i18n.T(lang, i18n.KeyPaymentInitiated)
	}

	utils.CreatedResponse(c, gin.H{
		"message":           message,
		"transaction_id":    result.TransactionID,
		"correlation_token": result.CorrelationToken,
		"authorization_url": result.AuthorizationURL,
		"gateway":           result.Gateway,
		"amount":            result.Amount,
		"currency":          result.Currency,
	})
}

// POST /portal/payment-status
func (h *PortalHandler) PaymentStatus(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req paymentStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.confirmationService.Poll(c.Request.Context(), req.CorrelationToken)
	if err != nil {
		respondError(c, err)
		return
	}

	txn := result.Transaction
	switch {
	case result.Exhausted:
		utils.ErrorResponse(c, http.StatusConflict, "VOUCHER_EXHAUSTED", i18n.T(lang, i18n.KeyVoucherPaidNoCode), gin.H{
			"paid":           true,
			"transaction_id": txn.ID,
			"receipt":        txn.Receipt,
		})
	case txn.Status == models.TransactionStatusConfirmed:
		utils.SuccessResponse(c, newVoucherView(txn, result.Voucher, result.Package, i18n.T(lang, i18n.KeyPaymentConfirmed)))
	case txn.Status == models.TransactionStatusFailed:
		utils.ErrorResponse(c, http.StatusPaymentRequired, "PAYMENT_FAILED", i18n.T(lang, i18n.KeyPaymentFailed), gin.H{
			"result_code":        txn.ResultCode,
			"result_description": txn.ResultDescription,
		})
	case txn.Status == models.TransactionStatusExpired:
		utils.ErrorResponse(c, http.StatusGone, "PAYMENT_EXPIRED", i18n.T(lang, i18n.KeyPaymentExpired), nil)
	default:
		utils.AcceptedResponse(c, "PAYMENT_PENDING", i18n.T(lang, i18n.KeyPaymentPending), gin.H{
			"status": txn.Status,
		})
	}
}

// GET|POST /portal/voucher-availability
func (h *PortalHandler) VoucherAvailability(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req availabilityRequest
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	stock, err := h.purchaseService.CheckAvailability(c.Request.Context(), req.PackageID, req.RouterID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, stock)
}

// POST /portal/free-trial
func (h *PortalHandler) FreeTrial(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.FreeTrialRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.freeTrialService.Request(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, newVoucherView(result.Transaction, result.Voucher, result.Package, i18n.T(lang, i18n.KeyTrialGranted)))
}

// POST /portal/voucher-lookup
func (h *PortalHandler) VoucherLookup(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req voucherLookupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	txn, err := h.purchaseService.LookupVoucher(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, newVoucherView(txn, txn.Voucher, txn.Package, i18n.T(lang, i18n.KeyVoucherAvailable)))
}
