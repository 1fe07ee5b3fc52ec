// internal/services/notification_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/config"
	"github.com/javajoker/hotspot-billing/internal/models"
	"github.com/javajoker/hotspot-billing/internal/sms"
)

// VoucherNotice is everything the customer SMS needs.
type VoucherNotice struct {
	Transaction *models.Transaction
	Voucher     *models.Voucher
	Package     *models.Package
	FreeTrial   bool
}

// VoucherNotifier delivers vouchers and raises operator alerts. Callers in
// the payment path never wait on it.
type VoucherNotifier interface {
	SendVoucher(ctx context.Context, notice VoucherNotice) error
	AlertVoucherExhaustion(ctx context.Context, txn *models.Transaction)
}

const notifyTimeout = 30 * time.Second

func dispatchVoucher(n VoucherNotifier, notice VoucherNotice) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := n.SendVoucher(ctx, notice); err != nil {
			logrus.WithField("transaction_id", notice.Transaction.ID).
				WithError(err).Warn("Voucher SMS not delivered")
		}
	}()
}

func dispatchExhaustionAlert(n VoucherNotifier, txn *models.Transaction) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		n.AlertVoucherExhaustion(ctx, txn)
	}()
}

type SenderFactory func(settings sms.Settings) (sms.Sender, error)

type NotificationService struct {
	db        *gorm.DB
	config    *config.Config
	newSender SenderFactory
	mailer    AlertMailer
}

// smsProfile is the resolved SMS configuration for one reseller.
type smsProfile struct {
	settings          sms.Settings
	enabled           bool
	paymentTemplate   string
	freeTrialTemplate string
}

func NewNotificationService(db *gorm.DB, config *config.Config, snsClient sms.SNSPublisher, mailer AlertMailer) *NotificationService {
	client := &http.Client{Timeout: time.Duration(config.SMS.RequestTimeout) * time.Second}
	return &NotificationService{
		db:     db,
		config: config,
		newSender: func(settings sms.Settings) (sms.Sender, error) {
			return sms.New(settings, client, snsClient)
		},
		mailer: mailer,
	}
}

// WithSenderFactory replaces how providers are constructed.
func (s *NotificationService) WithSenderFactory(f SenderFactory) *NotificationService {
	s.newSender = f
	return s
}

// SendVoucher renders the reseller's template and sends it to the buyer.
// Every attempt leaves a notification_logs row; a failed row is picked up
// again by RetryFailed.
func (s *NotificationService) SendVoucher(ctx context.Context, notice VoucherNotice) error {
	txn := notice.Transaction
	profile, err := s.resolveProfile(ctx, txn.ResellerID)
	if err != nil {
		return err
	}
	if !profile.enabled {
		logrus.WithField("reseller_id", txn.ResellerID).Debug("SMS disabled, voucher not sent")
		return nil
	}

	template := profile.paymentTemplate
	if notice.FreeTrial {
		template = profile.freeTrialTemplate
	}
	message := sms.Render(template, s.templateVars(notice))

	entry := &models.NotificationLog{
		TransactionID: txn.ID,
		ResellerID:    txn.ResellerID,
		Phone:         txn.PhoneNumber,
		Channel:       "sms",
		Provider:      profile.settings.Provider,
		Message:       message,
	}
	sendErr := s.deliver(ctx, profile.settings, entry)
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		logrus.WithError(err).Error("Failed to write notification log")
	}
	return sendErr
}

func (s *NotificationService) templateVars(notice VoucherNotice) sms.Vars {
	vars := sms.Vars{Amount: notice.Transaction.Amount.StringFixed(0)}
	if notice.Package != nil {
		vars.Package = notice.Package.Name
		vars.Duration = notice.Package.Duration
	}
	if notice.Voucher != nil {
		vars.Username = notice.Voucher.LoginUsername()
		vars.Password = notice.Voucher.LoginPassword()
		vars.Voucher = notice.Voucher.Code
	}
	return vars
}

// deliver sends entry.Message and records the outcome on entry.
func (s *NotificationService) deliver(ctx context.Context, settings sms.Settings, entry *models.NotificationLog) error {
	entry.Attempts++

	sender, err := s.newSender(settings)
	if err == nil {
		_, err = sender.Send(ctx, entry.Phone, entry.Message)
	}
	if err != nil {
		entry.Status = models.NotificationStatusFailed
		entry.LastError = err.Error()
		logrus.WithFields(logrus.Fields{
			"transaction_id": entry.TransactionID,
			"provider":       settings.Provider,
			"attempts":       entry.Attempts,
		}).WithError(err).Warn("SMS send failed")
		return err
	}

	now := time.Now()
	entry.Status = models.NotificationStatusSent
	entry.LastError = ""
	entry.SentAt = &now
	return nil
}

// RetryFailed resends messages that failed fewer than maxAttempts times and
// returns how many went through.
func (s *NotificationService) RetryFailed(ctx context.Context, maxAttempts, limit int) (int, error) {
	var entries []models.NotificationLog
	query := s.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", models.NotificationStatusFailed, maxAttempts).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return 0, fmt.Errorf("failed to list failed notifications: %w", err)
	}

	sent := 0
	for i := range entries {
		entry := &entries[i]
		profile, err := s.resolveProfile(ctx, entry.ResellerID)
		if err != nil {
			return sent, err
		}
		if err := s.deliver(ctx, profile.settings, entry); err == nil {
			sent++
		}
		if err := s.db.WithContext(ctx).Model(entry).Updates(map[string]interface{}{
			"status":     entry.Status,
			"attempts":   entry.Attempts,
			"last_error": entry.LastError,
			"sent_at":    entry.SentAt,
		}).Error; err != nil {
			return sent, fmt.Errorf("failed to update notification log: %w", err)
		}
	}

	if len(entries) > 0 {
		logrus.WithFields(logrus.Fields{
			"retried": len(entries),
			"sent":    sent,
		}).Info("Retried failed notifications")
	}
	return sent, nil
}

// AlertVoucherExhaustion tells operators a customer paid and got nothing.
func (s *NotificationService) AlertVoucherExhaustion(ctx context.Context, txn *models.Transaction) {
	fields := logrus.Fields{
		"alert":          "voucher_exhaustion",
		"transaction_id": txn.ID,
		"reseller_id":    txn.ResellerID,
		"package_id":     txn.PackageID,
		"phone":          txn.PhoneNumber,
		"receipt":        txn.Receipt,
	}
	logrus.WithFields(fields).Error("Paid transaction could not be fulfilled: voucher pool empty")

	if s.mailer == nil {
		return
	}

	subject := fmt.Sprintf("Voucher pool empty for package %d", txn.PackageID)
	body := fmt.Sprintf(
		"<p>A customer paid but no voucher was available.</p>"+
			"<ul><li>Transaction: %s</li><li>Reseller: %d</li><li>Package: %d</li>"+
			"<li>Phone: %s</li><li>Amount: %s %s</li><li>Receipt: %s</li></ul>"+
			"<p>Restock the pool, then fulfil the transaction from the operator API.</p>",
		txn.ID, txn.ResellerID, txn.PackageID, txn.PhoneNumber,
		txn.Amount.StringFixed(2), txn.Currency, txn.Receipt,
	)
	if err := s.mailer.Send(ctx, subject, body); err != nil {
		logrus.WithFields(fields).WithError(err).Error("Failed to email exhaustion alert")
	}
}

// resolveProfile layers the reseller's sms_settings row over the system
// default row over environment configuration.
func (s *NotificationService) resolveProfile(ctx context.Context, resellerID uint) (*smsProfile, error) {
	var row models.SmsSettings
	err := s.db.WithContext(ctx).Where("reseller_id = ?", resellerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var def models.SmsSettings
		err = s.db.WithContext(ctx).Where("reseller_id IS NULL").First(&def).Error
		row = def
	}
	switch {
	case err == nil:
		return s.fromSettings(row), nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.fromEnv(), nil
	default:
		return nil, fmt.Errorf("failed to load sms settings: %w", err)
	}
}

func (s *NotificationService) fromSettings(row models.SmsSettings) *smsProfile {
	env := s.fromEnv()
	profile := &smsProfile{
		settings: sms.Settings{
			Provider:  row.Provider,
			APIKey:    row.APIKey,
			PartnerID: row.PartnerID,
			Username:  row.Username,
			Password:  row.Password,
			SenderID:  row.SenderID,
			Sandbox:   env.settings.Sandbox,
		},
		enabled:           row.Enabled,
		paymentTemplate:   firstNonEmpty(row.PaymentTemplate, env.paymentTemplate),
		freeTrialTemplate: firstNonEmpty(row.FreeTrialTemplate, env.freeTrialTemplate),
	}
	return profile
}

func (s *NotificationService) fromEnv() *smsProfile {
	cfg := s.config.SMS
	settings := sms.Settings{Provider: models.SmsProvider(cfg.Provider)}
	switch settings.Provider {
	case models.SmsProviderTextSMS:
		settings.APIKey = cfg.TextSMSAPIKey
		settings.PartnerID = cfg.TextSMSPartnerID
		settings.SenderID = cfg.TextSMSSenderID
	case models.SmsProviderAfricasTalking:
		settings.Username = cfg.ATUsername
		settings.APIKey = cfg.ATAPIKey
		settings.SenderID = cfg.ATSenderID
		settings.Sandbox = cfg.ATSandbox
	case models.SmsProviderHostPinnacle:
		settings.Username = cfg.HostPinnacleUser
		settings.Password = cfg.HostPinnaclePass
		settings.SenderID = cfg.HostPinnacleFrom
	case models.SmsProviderSNS:
		settings.SenderID = cfg.SNSSenderID
	}

	return &smsProfile{
		settings:          settings,
		enabled:           cfg.Enabled,
		paymentTemplate:   firstNonEmpty(cfg.PaymentTemplate, config.DefaultPaymentTemplate),
		freeTrialTemplate: firstNonEmpty(cfg.FreeTrialTemplate, config.DefaultFreeTrialTemplate),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
