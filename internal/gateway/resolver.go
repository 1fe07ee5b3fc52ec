// internal/gateway/resolver.go
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v74"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/cache"
	"github.com/javajoker/hotspot-billing/internal/config"
	"github.com/javajoker/hotspot-billing/internal/models"
)

// Resolver finds the credentials for a reseller and builds adapters from
// them. Lookup order: the reseller's own gateway_settings row, the system
// default row (reseller_id NULL), then environment configuration.
type Resolver struct {
	db            *gorm.DB
	config        *config.Config
	client        *http.Client
	cache         cache.Cache
	stripeBackend stripe.Backend
	baseURLs      map[models.GatewayKind]string
}

func NewResolver(db *gorm.DB, cfg *config.Config, c cache.Cache) *Resolver {
	return &Resolver{
		db:     db,
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.Mpesa.RequestTimeout) * time.Second},
		cache:  c,
	}
}

// WithBaseURL routes a gateway kind to another host.
func (r *Resolver) WithBaseURL(kind models.GatewayKind, url string) *Resolver {
	if r.baseURLs == nil {
		r.baseURLs = make(map[models.GatewayKind]string)
	}
	r.baseURLs[kind] = url
	return r
}

func (r *Resolver) WithStripeBackend(b stripe.Backend) *Resolver {
	r.stripeBackend = b
	return r
}

// ActiveKind returns the payment method a reseller sells through.
func (r *Resolver) ActiveKind(ctx context.Context, resellerID uint) (models.GatewayKind, error) {
	var row models.GatewaySettings
	err := r.db.WithContext(ctx).
		Where("reseller_id = ? AND is_active = ?", resellerID, true).
		Order("updated_at DESC").
		First(&row).Error
	if err == nil {
		return row.Gateway, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to load gateway settings: %w", err)
	}

	var def models.GatewaySettings
	err = r.db.WithContext(ctx).
		Where("reseller_id IS NULL AND is_active = ?", true).
		Order("updated_at DESC").
		First(&def).Error
	if err == nil {
		return def.Gateway, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to load default gateway settings: %w", err)
	}

	return models.GatewayMpesaSTK, nil
}

func (r *Resolver) Resolve(ctx context.Context, resellerID uint, kind models.GatewayKind) (*Credentials, error) {
	var own models.GatewaySettings
	err := r.db.WithContext(ctx).
		Where("reseller_id = ? AND gateway = ? AND is_active = ?", resellerID, kind, true).
		First(&own).Error
	if err == nil {
		creds := r.fromSettings(own, "reseller")
		if creds.Complete() {
			return creds, nil
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load gateway settings: %w", err)
	}

	var def models.GatewaySettings
	err = r.db.WithContext(ctx).
		Where("reseller_id IS NULL AND gateway = ? AND is_active = ?", kind, true).
		First(&def).Error
	if err == nil {
		creds := r.fromSettings(def, "default")
		if creds.Complete() {
			return creds, nil
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load default gateway settings: %w", err)
	}

	creds := r.fromEnv(kind)
	if !creds.Complete() {
		return nil, fmt.Errorf("%w: %s for reseller %d", ErrNotConfigured, kind, resellerID)
	}
	return creds, nil
}

// Adapter resolves credentials and returns a ready adapter.
func (r *Resolver) Adapter(ctx context.Context, resellerID uint, kind models.GatewayKind) (Adapter, error) {
	creds, err := r.Resolve(ctx, resellerID, kind)
	if err != nil {
		return nil, err
	}
	return r.Build(*creds)
}

func (r *Resolver) Build(creds Credentials) (Adapter, error) {
	base := r.baseURLs[creds.Kind]
	switch {
	case creds.Kind.IsDaraja():
		m := NewMpesa(creds, r.client, r.cache)
		if base != "" {
			m.WithBaseURL(base)
		}
		return m, nil
	case creds.Kind == models.GatewayPaystack:
		p := NewPaystack(creds, r.client)
		if base != "" {
			p.WithBaseURL(base)
		}
		return p, nil
	case creds.Kind == models.GatewayStripe:
		return NewStripe(creds, r.stripeBackend), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, creds.Kind)
	}
}

// CallbackAllowlist is the union of the configured Daraja source addresses
// and the allowlists stored on active gateway settings rows.
func (r *Resolver) CallbackAllowlist(ctx context.Context) []string {
	list := append([]string(nil), r.config.Mpesa.CallbackIPs...)

	var rows []models.GatewaySettings
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&rows).Error; err == nil {
		for _, row := range rows {
			list = append(list, row.CallbackAllowlist...)
		}
	}
	return list
}

func (r *Resolver) fromSettings(row models.GatewaySettings, source string) *Credentials {
	env := r.fromEnv(row.Gateway)
	creds := &Credentials{
		Kind:                row.Gateway,
		Environment:         row.Environment,
		Source:              source,
		ConsumerKey:         row.ConsumerKey,
		ConsumerSecret:      row.ConsumerSecret,
		Shortcode:           row.Shortcode,
		Passkey:             row.Passkey,
		TillNumber:          row.TillNumber,
		PaybillNumber:       row.PaybillNumber,
		AccountReference:    firstNonEmpty(row.AccountReference, env.AccountReference),
		CallbackURL:         env.CallbackURL,
		PaystackSecretKey:   row.PaystackSecretKey,
		PaystackCallbackURL: env.PaystackCallbackURL,
		EmailDomain:         env.EmailDomain,
		StripeSecretKey:     row.StripeSecretKey,
		StripeWebhookSecret: row.StripeWebhookKey,
		SuccessURL:          env.SuccessURL,
		CancelURL:           env.CancelURL,
		Currency:            env.Currency,
		CallbackAllowlist:   row.CallbackAllowlist,
	}
	if row.CallbackURL != "" {
		creds.CallbackURL = withCallbackToken(row.CallbackURL, r.config.Mpesa.CallbackToken)
	}
	if creds.Environment == "" {
		creds.Environment = models.EnvironmentSandbox
	}
	return creds
}

func (r *Resolver) fromEnv(kind models.GatewayKind) *Credentials {
	cfg := r.config
	creds := &Credentials{
		Kind:                kind,
		Environment:         models.GatewayEnvironment(cfg.Mpesa.Environment),
		Source:              "env",
		ConsumerKey:         cfg.Mpesa.ConsumerKey,
		ConsumerSecret:      cfg.Mpesa.ConsumerSecret,
		Shortcode:           cfg.Mpesa.Shortcode,
		Passkey:             cfg.Mpesa.Passkey,
		AccountReference:    cfg.Mpesa.AccountRef,
		CallbackURL:         darajaCallbackURL(cfg),
		PaystackSecretKey:   cfg.Paystack.SecretKey,
		PaystackCallbackURL: cfg.Paystack.CallbackURL,
		EmailDomain:         cfg.Paystack.EmailDomain,
		StripeSecretKey:     cfg.Stripe.SecretKey,
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		SuccessURL:          cfg.Stripe.SuccessURL,
		CancelURL:           cfg.Stripe.CancelURL,
		Currency:            "KES",
		CallbackAllowlist:   cfg.Mpesa.CallbackIPs,
	}
	switch kind {
	case models.GatewayPaystack:
		creds.Currency = cfg.Paystack.Currency
	case models.GatewayStripe:
		creds.Currency = cfg.Stripe.Currency
	}
	return creds
}

// darajaCallbackURL appends the shared callback token so the webhook guard
// can authenticate Safaricom's POST.
func darajaCallbackURL(cfg *config.Config) string {
	base := cfg.Mpesa.CallbackURL
	if base == "" {
		base = cfg.Server.PublicURL + "/v1/webhooks/mpesa"
	}
	return withCallbackToken(base, cfg.Mpesa.CallbackToken)
}

// withCallbackToken sets the token query parameter on a callback URL,
// keeping any query the URL already has.
func withCallbackToken(raw, token string) string {
	if token == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		sep := "?"
		if strings.Contains(raw, "?") {
			sep = "&"
		}
		return raw + sep + "token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
