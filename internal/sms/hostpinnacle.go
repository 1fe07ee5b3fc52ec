// internal/sms/hostpinnacle.go
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

const hostPinnacleURL = "https://smsportal.hostpinnacle.co.ke/SMSApi/send"

type HostPinnacle struct {
	settings Settings
	endpoint string
	client   *http.Client
}

func NewHostPinnacle(settings Settings, client *http.Client) *HostPinnacle {
	return &HostPinnacle{settings: settings, endpoint: hostPinnacleURL, client: client}
}

func (h *HostPinnacle) WithEndpoint(endpoint string) *HostPinnacle {
	h.endpoint = endpoint
	return h
}

func (h *HostPinnacle) Provider() models.SmsProvider { return models.SmsProviderHostPinnacle }

type hostPinnacleResponse struct {
	Status        string `json:"status"`
	StatusCode    string `json:"statusCode"`
	Reason        string `json:"reason"`
	TransactionID string `json:"transactionId"`
}

func (h *HostPinnacle) Send(ctx context.Context, phone, message string) (*Result, error) {
	q := url.Values{}
	q.Set("userid", h.settings.Username)
	q.Set("password", h.settings.Password)
	q.Set("mobile", phone)
	q.Set("msg", message)
	q.Set("senderid", h.settings.SenderID)
	q.Set("msgType", "text")
	q.Set("duplicatecheck", "true")
	q.Set("output", "json")
	q.Set("sendMethod", "quick")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hostpinnacle: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return nil, &SendError{Provider: h.Provider(), Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var out hostPinnacleResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &SendError{Provider: h.Provider(), Message: "undecodable response"}
	}
	if !strings.EqualFold(out.Status, "success") {
		return nil, &SendError{Provider: h.Provider(), Message: out.Reason}
	}
	return &Result{MessageID: out.TransactionID}, nil
}
