// internal/sms/africastalking.go
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/javajoker/hotspot-billing/internal/models"
)

const (
	atLiveURL    = "https://api.africastalking.com/version1/messaging"
	atSandboxURL = "https://api.sandbox.africastalking.com/version1/messaging"
)

type AfricasTalking struct {
	settings Settings
	endpoint string
	client   *http.Client
}

func NewAfricasTalking(settings Settings, client *http.Client) *AfricasTalking {
	endpoint := atLiveURL
	if settings.Sandbox {
		endpoint = atSandboxURL
	}
	return &AfricasTalking{settings: settings, endpoint: endpoint, client: client}
}

func (a *AfricasTalking) WithEndpoint(endpoint string) *AfricasTalking {
	a.endpoint = endpoint
	return a
}

func (a *AfricasTalking) Provider() models.SmsProvider { return models.SmsProviderAfricasTalking }

type atResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			Status     string `json:"status"`
			StatusCode int    `json:"statusCode"`
			MessageID  string `json:"messageId"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

func (a *AfricasTalking) Send(ctx context.Context, phone, message string) (*Result, error) {
	form := url.Values{}
	form.Set("username", a.settings.Username)
	form.Set("to", internationalPhone(phone))
	form.Set("message", message)
	if a.settings.SenderID != "" {
		form.Set("from", a.settings.SenderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apiKey", a.settings.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("africastalking: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusCreated {
		return nil, &SendError{Provider: a.Provider(), Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var out atResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &SendError{Provider: a.Provider(), Message: "undecodable response"}
	}
	for _, r := range out.SMSMessageData.Recipients {
		if r.Status == "Success" || r.StatusCode == 101 {
			return &Result{MessageID: r.MessageID}, nil
		}
	}
	return nil, &SendError{Provider: a.Provider(), Message: out.SMSMessageData.Message}
}
