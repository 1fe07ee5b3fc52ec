// internal/handlers/admin.go
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/hotspot-billing/internal/i18n"
	"github.com/javajoker/hotspot-billing/internal/services"
	"github.com/javajoker/hotspot-billing/internal/utils"
)

type AdminHandler struct {
	adminService *services.AdminService
}

func NewAdminHandler(adminService *services.AdminService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
	}
}

func auditMeta(c *gin.Context) services.AuditMeta {
	operatorID, _ := utils.GetOperatorIDFromContext(c)
	return services.AuditMeta{
		OperatorID: operatorID,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	}
}

// POST /admin/login
func (h *AdminHandler) Login(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.LoginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.adminService.Login(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidCredentials))
			return
		}
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":    i18n.T(lang, i18n.KeyAuthLoginSuccess),
		"operator":   result.Operator,
		"token":      result.AccessToken,
		"token_type": "Bearer",
		"expires_at": result.ExpiresAt,
	})
}

// GET /admin/transactions/unfulfilled
func (h *AdminHandler) GetUnfulfilled(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	transactions, total, err := h.adminService.ListUnfulfilled(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(transactions, total, params))
}

// POST /admin/transactions/:id/fulfill
func (h *AdminHandler) Fulfill(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "transaction id"), nil)
		return
	}

	txn, err := h.adminService.RetryFulfillment(c.Request.Context(), id, auditMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyTransactionFulfilled),
		"transaction": txn,
	})
}

// POST /admin/sweep
func (h *AdminHandler) Sweep(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	report, err := h.adminService.TriggerSweep(c.Request.Context(), auditMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeySweepCompleted),
		"report":  report,
	})
}
