// internal/router/router.go
package router

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/cache"
	"github.com/javajoker/hotspot-billing/internal/config"
	"github.com/javajoker/hotspot-billing/internal/handlers"
	"github.com/javajoker/hotspot-billing/internal/middleware"
	"github.com/javajoker/hotspot-billing/internal/services"
	"github.com/javajoker/hotspot-billing/internal/sms"
	"github.com/javajoker/hotspot-billing/internal/utils"
)

// Gateways is everything the HTTP layer needs from the payment gateway
// resolver.
type Gateways interface {
	services.GatewayProvider
	middleware.AllowlistSource
}

// Services is the wired service graph shared by the HTTP server and the CLI.
type Services struct {
	Gateways      Gateways
	Notifications *services.NotificationService
	Vouchers      *services.VoucherService
	Confirmation  *services.ConfirmationService
	Purchase      *services.PurchaseService
	FreeTrial     *services.FreeTrialService
	Webhooks      *services.WebhookService
	Sweeper       *services.SweeperService
	Admin         *services.AdminService
}

// NewServices builds the service graph. snsClient and mailer may be nil.
func NewServices(db *gorm.DB, cfg *config.Config, gateways Gateways, c cache.Cache, snsClient sms.SNSPublisher, mailer services.AlertMailer) *Services {
	notifications := services.NewNotificationService(db, cfg, snsClient, mailer)
	vouchers := services.NewVoucherService(db, cfg)
	confirmation := services.NewConfirmationService(db, cfg, vouchers, gateways, notifications, c)
	sweeper := services.NewSweeperService(cfg, services.NewLedgerService(db), confirmation, notifications)

	return &Services{
		Gateways:      gateways,
		Notifications: notifications,
		Vouchers:      vouchers,
		Confirmation:  confirmation,
		Purchase:      services.NewPurchaseService(db, cfg, vouchers, gateways),
		FreeTrial:     services.NewFreeTrialService(db, cfg, vouchers, notifications),
		Webhooks:      services.NewWebhookService(db, gateways, confirmation),
		Sweeper:       sweeper,
		Admin:         services.NewAdminService(db, cfg, vouchers, sweeper, notifications),
	}
}

func Initialize(db *gorm.DB, cfg *config.Config, svc *Services) *gin.Engine {
	// Initialize handlers
	portalHandler := handlers.NewPortalHandler(svc.Purchase, svc.Confirmation, svc.FreeTrial)
	webhookHandler := handlers.NewWebhookHandler(svc.Webhooks)
	adminHandler := handlers.NewAdminHandler(svc.Admin)
	healthHandler := handlers.NewHealthHandler(db)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	r.Use(middleware.I18nMiddleware(cfg.I18n.DefaultLocale))

	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Captive portal
		portal := v1.Group("/portal")
		portal.Use(middleware.PortalRateLimit(cfg.RateLimit.PortalPerSecond, cfg.RateLimit.PortalBurst))
		{
			portal.POST("/purchase", portalHandler.Purchase)
			portal.POST("/payment-status", portalHandler.PaymentStatus)
			portal.GET("/voucher-availability", portalHandler.VoucherAvailability)
			portal.POST("/voucher-availability", portalHandler.VoucherAvailability)
			portal.POST("/free-trial", portalHandler.FreeTrial)
			portal.POST("/voucher-lookup", portalHandler.VoucherLookup)
		}

		// Provider webhooks
		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/mpesa", middleware.DarajaCallbackGuard(svc.Gateways, cfg.Mpesa.CallbackToken), webhookHandler.Mpesa)
			webhooks.POST("/paystack", webhookHandler.Paystack)
			webhooks.POST("/stripe", webhookHandler.Stripe)
		}

		// Operator routes
		admin := v1.Group("/admin")
		{
			admin.POST("/login", middleware.LoginRateLimit(cfg.RateLimit.LoginPerMinute), adminHandler.Login)

			protected := admin.Group("")
			protected.Use(middleware.OperatorRequired(), middleware.AuditLogMiddleware(db))
			{
				protected.GET("/transactions/unfulfilled", adminHandler.GetUnfulfilled)
				protected.POST("/transactions/:id/fulfill", adminHandler.Fulfill)
				protected.POST("/sweep", adminHandler.Sweep)
			}
		}
	}

	return r
}
