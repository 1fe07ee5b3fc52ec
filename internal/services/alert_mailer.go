// internal/services/alert_mailer.go
package services

import (
	"context"
	"errors"
	"fmt"

	brevo "github.com/getbrevo/brevo-go/lib"

	"github.com/javajoker/hotspot-billing/internal/config"
)

// AlertMailer emails the operator team.
type AlertMailer interface {
	Send(ctx context.Context, subject, htmlBody string) error
}

// BrevoMailer sends operator alerts through Brevo's transactional email API.
type BrevoMailer struct {
	client     *brevo.APIClient
	fromEmail  string
	fromName   string
	recipients []string
}

// NewBrevoMailer returns nil when alert e-mail is not configured.
func NewBrevoMailer(cfg config.AlertConfig) *BrevoMailer {
	if cfg.BrevoAPIKey == "" || cfg.FromEmail == "" || len(cfg.Recipients) == 0 {
		return nil
	}

	brevoCfg := brevo.NewConfiguration()
	brevoCfg.AddDefaultHeader("api-key", cfg.BrevoAPIKey)

	return &BrevoMailer{
		client:     brevo.NewAPIClient(brevoCfg),
		fromEmail:  cfg.FromEmail,
		fromName:   cfg.FromName,
		recipients: cfg.Recipients,
	}
}

func (m *BrevoMailer) Send(ctx context.Context, subject, htmlBody string) error {
	if m == nil {
		return errors.New("alert mailer not configured")
	}

	to := make([]brevo.SendSmtpEmailTo, 0, len(m.recipients))
	for _, addr := range m.recipients {
		to = append(to, brevo.SendSmtpEmailTo{Email: addr})
	}

	_, resp, err := m.client.TransactionalEmailsApi.SendTransacEmail(ctx, brevo.SendSmtpEmail{
		Sender:      &brevo.SendSmtpEmailSender{Name: m.fromName, Email: m.fromEmail},
		To:          to,
		Subject:     subject,
		HtmlContent: htmlBody,
	})
	if err != nil {
		return fmt.Errorf("brevo send failed: %w", err)
	}
	if resp != nil && resp.StatusCode >= 300 {
		return fmt.Errorf("brevo send failed: http %d", resp.StatusCode)
	}
	return nil
}
