// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	AWS         AWSConfig
	Mpesa       MpesaConfig
	Paystack    PaystackConfig
	Stripe      StripeConfig
	SMS         SMSConfig
	Alerts      AlertConfig
	Fulfillment FulfillmentConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	I18n        I18nConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	PublicURL    string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DatabaseConfig struct {
	Driver       string // postgres | sqlite
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey      string
	AccessTokenTTL int // in hours
}

type RedisConfig struct {
	URL string
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// MpesaConfig holds the system-wide Daraja credentials used when a reseller
// has not configured their own.
type MpesaConfig struct {
	Environment    string // sandbox | live
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
	CallbackToken  string
	CallbackIPs    []string
	AccountRef     string
	RequestTimeout int
}

type PaystackConfig struct {
	SecretKey   string
	PublicKey   string
	CallbackURL string
	EmailDomain string
	Currency    string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
}

type SMSConfig struct {
	Provider          string
	Enabled           bool
	TextSMSAPIKey     string
	TextSMSPartnerID  string
	TextSMSSenderID   string
	ATUsername        string
	ATAPIKey          string
	ATSenderID        string
	ATSandbox         bool
	HostPinnacleUser  string
	HostPinnaclePass  string
	HostPinnacleFrom  string
	SNSSenderID       string
	PaymentTemplate   string
	FreeTrialTemplate string
	RequestTimeout    int
}

type AlertConfig struct {
	BrevoAPIKey string
	FromEmail   string
	FromName    string
	Recipients  []string
}

type FulfillmentConfig struct {
	PendingTTLMinutes       int
	SweepIntervalSeconds    int
	SweepBatchSize          int
	PollThrottleSeconds     int
	NotificationMaxAttempts int
	ClaimRetries            int
	DefaultTrialLimit       int
}

type RateLimitConfig struct {
	PortalPerSecond float64
	PortalBurst     int
	LoginPerMinute  int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type I18nConfig struct {
	DefaultLocale string
	LocalesPath   string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			PublicURL:    getEnv("PUBLIC_URL", "http://localhost:8080"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 45),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "hotspot_billing"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:   getEnv("SQLITE_PATH", "hotspot-billing.db"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
		},
		JWT: JWTConfig{
			SecretKey:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL: getEnvAsInt("JWT_ACCESS_TTL", 12),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "eu-west-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		Mpesa: MpesaConfig{
			Environment:    getEnv("MPESA_ENVIRONMENT", "sandbox"),
			ConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
			Shortcode:      getEnv("MPESA_SHORTCODE", "174379"),
			Passkey:        getEnv("MPESA_PASSKEY", ""),
			CallbackURL:    getEnv("MPESA_CALLBACK_URL", ""),
			CallbackToken:  getEnv("MPESA_CALLBACK_TOKEN", ""),
			CallbackIPs:    getEnvAsSlice("MPESA_CALLBACK_IPS", nil),
			AccountRef:     getEnv("MPESA_ACCOUNT_REFERENCE", "Hotspot"),
			RequestTimeout: getEnvAsInt("MPESA_TIMEOUT", 30),
		},
		Paystack: PaystackConfig{
			SecretKey:   getEnv("PAYSTACK_SECRET_KEY", ""),
			PublicKey:   getEnv("PAYSTACK_PUBLIC_KEY", ""),
			CallbackURL: getEnv("PAYSTACK_CALLBACK_URL", ""),
			EmailDomain: getEnv("PAYSTACK_EMAIL_DOMAIN", "hotspot.local"),
			Currency:    getEnv("PAYSTACK_CURRENCY", "KES"),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:    getEnv("STRIPE_SUCCESS_URL", ""),
			CancelURL:     getEnv("STRIPE_CANCEL_URL", ""),
			Currency:      getEnv("STRIPE_CURRENCY", "kes"),
		},
		SMS: SMSConfig{
			Provider:          getEnv("SMS_PROVIDER", "textsms"),
			Enabled:           getEnvAsBool("SMS_ENABLED", true),
			TextSMSAPIKey:     getEnv("TEXTSMS_API_KEY", ""),
			TextSMSPartnerID:  getEnv("TEXTSMS_PARTNER_ID", ""),
			TextSMSSenderID:   getEnv("TEXTSMS_SENDER_ID", "TextSMS"),
			ATUsername:        getEnv("AT_USERNAME", ""),
			ATAPIKey:          getEnv("AT_API_KEY", ""),
			ATSenderID:        getEnv("AT_SENDER_ID", ""),
			ATSandbox:         getEnvAsBool("AT_SANDBOX", false),
			HostPinnacleUser:  getEnv("HOSTPINNACLE_USERID", ""),
			HostPinnaclePass:  getEnv("HOSTPINNACLE_PASSWORD", ""),
			HostPinnacleFrom:  getEnv("HOSTPINNACLE_SENDER", ""),
			SNSSenderID:       getEnv("SNS_SENDER_ID", ""),
			PaymentTemplate:   getEnv("SMS_PAYMENT_TEMPLATE", DefaultPaymentTemplate),
			FreeTrialTemplate: getEnv("SMS_FREE_TRIAL_TEMPLATE", DefaultFreeTrialTemplate),
			RequestTimeout:    getEnvAsInt("SMS_TIMEOUT", 15),
		},
		Alerts: AlertConfig{
			BrevoAPIKey: getEnv("BREVO_API_KEY", ""),
			FromEmail:   getEnv("BREVO_FROM_EMAIL", ""),
			FromName:    getEnv("BREVO_FROM_NAME", "Hotspot Billing"),
			Recipients:  getEnvAsSlice("ALERT_EMAILS", nil),
		},
		Fulfillment: FulfillmentConfig{
			PendingTTLMinutes:       getEnvAsInt("PENDING_TTL_MINUTES", 15),
			SweepIntervalSeconds:    getEnvAsInt("SWEEP_INTERVAL_SECONDS", 60),
			SweepBatchSize:          getEnvAsInt("SWEEP_BATCH_SIZE", 100),
			PollThrottleSeconds:     getEnvAsInt("POLL_THROTTLE_SECONDS", 3),
			NotificationMaxAttempts: getEnvAsInt("NOTIFICATION_MAX_ATTEMPTS", 3),
			ClaimRetries:            getEnvAsInt("VOUCHER_CLAIM_RETRIES", 5),
			DefaultTrialLimit:       getEnvAsInt("FREE_TRIAL_LIMIT", 1),
		},
		RateLimit: RateLimitConfig{
			PortalPerSecond: getEnvAsFloat("RATE_LIMIT_PORTAL_RPS", 5),
			PortalBurst:     getEnvAsInt("RATE_LIMIT_PORTAL_BURST", 10),
			LoginPerMinute:  getEnvAsInt("RATE_LIMIT_LOGIN_PER_MINUTE", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
			LocalesPath:   getEnv("LOCALES_PATH", "./internal/i18n/locales"),
		},
	}

	return config, config.Validate()
}

const (
	DefaultPaymentTemplate   = "Thank you for purchasing {package} KSH {amount}. Username: {username} Password: {password}. Voucher code: {voucher}"
	DefaultFreeTrialTemplate = "Thank you for your free trial of {package}. Username: {username} Password: {password}. Voucher: {voucher}"
)

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	if (c.Environment == "production" || c.Mpesa.Environment == "live") &&
		c.Mpesa.CallbackToken == "" && len(c.Mpesa.CallbackIPs) == 0 {
		return fmt.Errorf("MPESA_CALLBACK_TOKEN or MPESA_CALLBACK_IPS is required outside sandbox")
	}

	if c.Mpesa.Environment != "sandbox" && c.Mpesa.Environment != "live" {
		return fmt.Errorf("MPESA_ENVIRONMENT must be sandbox or live")
	}

	if c.Fulfillment.PendingTTLMinutes <= 0 {
		return fmt.Errorf("PENDING_TTL_MINUTES must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
