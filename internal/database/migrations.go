// internal/database/migrations.go
package database

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/models"
)

type migration struct {
	version int
	name    string
	up      func(tx *gorm.DB) error
}

// Migrations are append-only. Never edit a released entry; add a new one.
var migrations = []migration{
	{
		version: 1,
		name:    "core_schema",
		up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Reseller{},
				&models.Router{},
				&models.Package{},
				&models.Transaction{},
				&models.Voucher{},
				&models.FreeTrialUsage{},
			)
		},
	},
	{
		version: 2,
		name:    "reseller_settings",
		up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.GatewaySettings{},
				&models.SmsSettings{},
			)
		},
	},
	{
		version: 3,
		name:    "notifications_and_operators",
		up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.NotificationLog{},
				&models.Operator{},
				&models.AuditLog{},
			)
		},
	},
	{
		version: 4,
		name:    "indexes",
		up:      createIndexes,
	},
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	if err := db.AutoMigrate(&models.SchemaMigration{}); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var applied []models.SchemaMigration
	if err := db.Find(&applied).Error; err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, m := range applied {
		done[m.Version] = true
	}

	for _, m := range migrations {
		if done[m.version] {
			continue
		}

		err := WithTransaction(db, func(tx *gorm.DB) error {
			if err := m.up(tx); err != nil {
				return err
			}
			return tx.Create(&models.SchemaMigration{
				Version:   m.version,
				Name:      m.name,
				AppliedAt: time.Now(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}

		logrus.WithFields(logrus.Fields{
			"version": m.version,
			"name":    m.name,
		}).Info("Applied migration")
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Ledger
		"CREATE INDEX IF NOT EXISTS idx_transactions_status_created ON transactions(status, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_phone_status ON transactions(phone_number, status)",

		// Free trial
		"CREATE INDEX IF NOT EXISTS idx_free_trial_usages_reseller ON free_trial_usages(reseller_id, package_id)",

		// Notifications
		"CREATE INDEX IF NOT EXISTS idx_notification_logs_retry ON notification_logs(status, attempts)",

		// Admin
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_operator_action ON audit_logs(operator_id, action)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at DESC)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			return fmt.Errorf("failed to create index: %s: %w", index, err)
		}
	}

	return nil
}

// Seed a default reseller, router, packages, operator and a small voucher
// pool for local development.
func SeedInitialData(db *gorm.DB, operatorEmail, operatorPassword string) error {
	logrus.Info("Seeding initial data...")

	var operatorCount int64
	db.Model(&models.Operator{}).Count(&operatorCount)
	if operatorCount == 0 && operatorEmail != "" {
		op := &models.Operator{Email: operatorEmail, Name: "System Operator", IsActive: true}
		if err := op.SetPassword(operatorPassword); err != nil {
			return fmt.Errorf("failed to set operator password: %w", err)
		}
		if err := db.Create(op).Error; err != nil {
			return fmt.Errorf("failed to create operator: %w", err)
		}
		logrus.WithField("email", operatorEmail).Info("Default operator created successfully")
	}

	var resellerCount int64
	db.Model(&models.Reseller{}).Count(&resellerCount)
	if resellerCount > 0 {
		logrus.Info("Initial data seeding skipped, resellers already present")
		return nil
	}

	return WithTransaction(db, func(tx *gorm.DB) error {
		reseller := &models.Reseller{BusinessName: "Demo Hotspot", IsActive: true}
		if err := tx.Create(reseller).Error; err != nil {
			return err
		}
		router := &models.Router{ResellerID: reseller.ID, Name: "Main Router", IsActive: true}
		if err := tx.Create(router).Error; err != nil {
			return err
		}

		packages := []*models.Package{
			{ResellerID: reseller.ID, Name: "Free 30 Minutes", Price: decimal.Zero, Duration: "30 minutes", TrialLimit: 1, IsActive: true},
			{ResellerID: reseller.ID, Name: "1 Hour", Price: decimal.NewFromInt(20), Duration: "1 hour", TrialLimit: 1, IsActive: true},
			{ResellerID: reseller.ID, Name: "24 Hours", Price: decimal.NewFromInt(100), Duration: "24 hours", TrialLimit: 1, IsActive: true},
		}
		for _, p := range packages {
			if err := tx.Create(p).Error; err != nil {
				return err
			}
		}

		for _, p := range packages {
			for i := 1; i <= 5; i++ {
				code := fmt.Sprintf("DEMO-%d-%03d", p.ID, i)
				v := &models.Voucher{
					ResellerID: reseller.ID,
					PackageID:  p.ID,
					RouterID:   &router.ID,
					Code:       code,
					Username:   code,
					Password:   code,
					Status:     models.VoucherStatusAvailable,
				}
				if err := tx.Create(v).Error; err != nil {
					return err
				}
			}
		}

		logrus.Info("Initial data seeding completed")
		return nil
	})
}
