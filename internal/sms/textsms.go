// internal/sms/textsms.go
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

const textSMSURL = "https://sms.textsms.co.ke/api/services/sendsms/"

type TextSMS struct {
	settings Settings
	endpoint string
	client   *http.Client
}

func NewTextSMS(settings Settings, client *http.Client) *TextSMS {
	return &TextSMS{settings: settings, endpoint: textSMSURL, client: client}
}

func (t *TextSMS) WithEndpoint(endpoint string) *TextSMS {
	t.endpoint = endpoint
	return t
}

func (t *TextSMS) Provider() models.SmsProvider { return models.SmsProviderTextSMS }

type textSMSResponse struct {
	Responses []struct {
		// The provider spells this key without the second "n".
		ResponseCode        json.Number `json:"respose-code"`
		ResponseDescription string      `json:"response-description"`
		MessageID           json.Number `json:"messageid"`
	} `json:"responses"`
}

func (t *TextSMS) Send(ctx context.Context, phone, message string) (*Result, error) {
	form := url.Values{}
	form.Set("apikey", t.settings.APIKey)
	form.Set("partnerID", t.settings.PartnerID)
	form.Set("message", message)
	form.Set("shortcode", t.settings.SenderID)
	form.Set("mobile", phone)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("textsms: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return nil, &SendError{Provider: t.Provider(), Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var out textSMSResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &SendError{Provider: t.Provider(), Message: "undecodable response"}
	}
	if len(out.Responses) == 0 {
		return &Result{}, nil
	}
	first := out.Responses[0]
	if first.ResponseCode.String() != "200" {
		return nil, &SendError{Provider: t.Provider(), Message: first.ResponseDescription}
	}
	return &Result{MessageID: first.MessageID.String()}, nil
}
