// internal/testutil/testutil.go
package testutil

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/config"
	"github.com/javajoker/hotspot-billing/internal/database"
	"github.com/javajoker/hotspot-billing/internal/models"
)

// NewDB opens a migrated SQLite database in a temp dir owned by t.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.Initialize(config.DatabaseConfig{
		Driver:      "sqlite",
		SQLitePath:  filepath.Join(t.TempDir(), "test.db"),
		MaxLifetime: 300,
		LogLevel:    "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db))

	t.Cleanup(func() { database.Close(db) })
	return db
}

// Config returns a configuration suitable for service tests.
func Config() *config.Config {
	return &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{PublicURL: "http://localhost:8080"},
		Database:    config.DatabaseConfig{Driver: "sqlite"},
		JWT:         config.JWTConfig{SecretKey: "test-secret", AccessTokenTTL: 1},
		Mpesa: config.MpesaConfig{
			Environment:    "sandbox",
			ConsumerKey:    "key",
			ConsumerSecret: "secret",
			Shortcode:      "174379",
			Passkey:        "passkey",
			CallbackToken:  "cb-token",
			AccountRef:     "Hotspot",
			RequestTimeout: 5,
		},
		Paystack: config.PaystackConfig{EmailDomain: "hotspot.test", Currency: "KES"},
		Stripe:   config.StripeConfig{Currency: "kes"},
		SMS: config.SMSConfig{
			Provider:          "textsms",
			Enabled:           true,
			PaymentTemplate:   config.DefaultPaymentTemplate,
			FreeTrialTemplate: config.DefaultFreeTrialTemplate,
			RequestTimeout:    5,
		},
		Fulfillment: config.FulfillmentConfig{
			PendingTTLMinutes:       15,
			SweepIntervalSeconds:    60,
			SweepBatchSize:          100,
			PollThrottleSeconds:     0,
			NotificationMaxAttempts: 3,
			ClaimRetries:            5,
			DefaultTrialLimit:       1,
		},
		I18n: config.I18nConfig{DefaultLocale: "en"},
	}
}

type Fixture struct {
	Reseller *models.Reseller
	Router   *models.Router
	Package  *models.Package
}

// SeedCatalog creates a reseller, one router and one package at price.
func SeedCatalog(t testing.TB, db *gorm.DB, price int64) *Fixture {
	t.Helper()

	reseller := &models.Reseller{BusinessName: "Test Hotspot", IsActive: true}
	require.NoError(t, db.Create(reseller).Error)

	router := &models.Router{ResellerID: reseller.ID, Name: "router-1", IsActive: true}
	require.NoError(t, db.Create(router).Error)

	pkg := &models.Package{
		ResellerID: reseller.ID,
		Name:       fmt.Sprintf("Package %d", price),
		Price:      decimal.NewFromInt(price),
		Duration:   "1 hour",
		TrialLimit: 1,
		IsActive:   true,
	}
	require.NoError(t, db.Create(pkg).Error)

	return &Fixture{Reseller: reseller, Router: router, Package: pkg}
}

// SeedVouchers adds n available vouchers to the pool of pkg on routerID
// (nil for the shared pool) and returns them in id order.
func SeedVouchers(t testing.TB, db *gorm.DB, pkg *models.Package, routerID *uint, n int) []models.Voucher {
	t.Helper()

	out := make([]models.Voucher, 0, n)
	for i := 0; i < n; i++ {
		var count int64
		require.NoError(t, db.Model(&models.Voucher{}).Count(&count).Error)
		code := fmt.Sprintf("V%d-%04d", pkg.ID, count+1)
		v := models.Voucher{
			ResellerID: pkg.ResellerID,
			PackageID:  pkg.ID,
			RouterID:   routerID,
			Code:       code,
			Username:   code,
			Password:   "pw-" + code,
			Status:     models.VoucherStatusAvailable,
		}
		require.NoError(t, db.Create(&v).Error)
		out = append(out, v)
	}
	return out
}
