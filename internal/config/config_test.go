package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Environment: "production",
		JWT:         JWTConfig{SecretKey: "a-real-secret"},
		Database:    DatabaseConfig{Driver: "postgres", Password: "pw"},
		Mpesa:       MpesaConfig{Environment: "live", CallbackToken: "cb-token"},
		Fulfillment: FulfillmentConfig{PendingTTLMinutes: 5},
	}
}

func TestValidate_CallbackAuthentication(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"token only", func(c *Config) {}, false},
		{"allowlist only", func(c *Config) {
			c.Mpesa.CallbackToken = ""
			c.Mpesa.CallbackIPs = []string{"196.201.214.200"}
		}, false},
		{"neither in production", func(c *Config) { c.Mpesa.CallbackToken = "" }, true},
		{"neither on live daraja", func(c *Config) {
			c.Environment = "staging"
			c.Mpesa.CallbackToken = ""
		}, true},
		{"neither in sandbox development", func(c *Config) {
			c.Environment = "development"
			c.Mpesa.Environment = "sandbox"
			c.Mpesa.CallbackToken = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorContains(t, err, "MPESA_CALLBACK_TOKEN")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_DefaultJWTSecretRejectedInProduction(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.SecretKey = "your-secret-key-change-in-production"
	assert.Error(t, cfg.Validate())
}
