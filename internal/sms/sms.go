// internal/sms/sms.go
package sms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/javajoker/hotspot-billing/internal/models"
)

var (
	ErrNotConfigured       = errors.New("sms provider not configured")
	ErrUnsupportedProvider = errors.New("unsupported sms provider")
)

// SendError carries the provider's own description of a rejected message.
type SendError struct {
	Provider models.SmsProvider
	Status   int
	Message  string
}

func (e *SendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

type Result struct {
	MessageID string
}

type Sender interface {
	Provider() models.SmsProvider
	Send(ctx context.Context, phone, message string) (*Result, error)
}

// Settings is one resolved set of provider credentials.
type Settings struct {
	Provider  models.SmsProvider
	APIKey    string
	PartnerID string
	Username  string
	Password  string
	SenderID  string
	Sandbox   bool
}

// New builds the sender for settings. snsClient may be nil unless the
// provider is sns.
func New(settings Settings, client *http.Client, snsClient SNSPublisher) (Sender, error) {
	switch settings.Provider {
	case models.SmsProviderTextSMS:
		if settings.APIKey == "" || settings.PartnerID == "" {
			return nil, fmt.Errorf("%w: textsms", ErrNotConfigured)
		}
		return NewTextSMS(settings, client), nil
	case models.SmsProviderAfricasTalking:
		if settings.Username == "" || settings.APIKey == "" {
			return nil, fmt.Errorf("%w: africastalking", ErrNotConfigured)
		}
		return NewAfricasTalking(settings, client), nil
	case models.SmsProviderHostPinnacle:
		if settings.Username == "" || settings.Password == "" {
			return nil, fmt.Errorf("%w: hostpinnacle", ErrNotConfigured)
		}
		return NewHostPinnacle(settings, client), nil
	case models.SmsProviderSNS:
		if snsClient == nil {
			return nil, fmt.Errorf("%w: sns", ErrNotConfigured)
		}
		return NewSNS(snsClient, settings.SenderID), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, settings.Provider)
	}
}

func internationalPhone(phone string) string {
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	return "+" + phone
}
