package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting the API recognizes.
// Optional sections stay zero-valued when their variables are unset and the
// features that depend on them degrade instead of failing startup.
type Config struct {
	Port        string
	DatabaseURL string
	AppEnv      string
	SentryDSN   string

	Stripe   StripeConfig
	Facebook FacebookConfig
	Google   GoogleConfig

	N8NWebhookURL    string
	InternalWSSecret string

	UsageReportEnabled  bool
	UsageReportInterval time.Duration
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	PublishableKey string
	FrontendURL    string
	// PriceIDs is keyed by "<plan>_<cycle>", e.g. "growth_monthly".
	PriceIDs          map[string]string
	UsageMeteredPrice string
}

// Enabled reports whether Stripe calls can be made at all.
func (s StripeConfig) Enabled() bool { return strings.TrimSpace(s.SecretKey) != "" }

type FacebookConfig struct {
	AppID        string
	AppSecret    string
	GraphVersion string
	GraphBaseURL string
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
}

const (
	DefaultPort                = "18911"
	DefaultGraphVersion        = "v23.0"
	DefaultGraphBaseURL        = "https://graph.facebook.com"
	DefaultUsageReportInterval = 24 * time.Hour
)

// PlanPriceEnvKeys lists the per-plan Stripe price variables, keyed the same
// way as StripeConfig.PriceIDs.
var PlanPriceEnvKeys = map[string]string{
	"starter_monthly": "STRIPE_PRICE_STARTER_MONTHLY",
	"starter_yearly":  "STRIPE_PRICE_STARTER_YEARLY",
	"growth_monthly":  "STRIPE_PRICE_GROWTH_MONTHLY",
	"growth_yearly":   "STRIPE_PRICE_GROWTH_YEARLY",
	"agency_monthly":  "STRIPE_PRICE_AGENCY_MONTHLY",
	"agency_yearly":   "STRIPE_PRICE_AGENCY_YEARLY",
}

// Load reads a .env file when present and builds the config from the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds the config from an arbitrary lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	cfg := &Config{
		Port:        get("PORT"),
		DatabaseURL: get("DATABASE_URL"),
		AppEnv:      get("APP_ENV"),
		SentryDSN:   get("SENTRY_DSN"),
		Stripe: StripeConfig{
			SecretKey:         get("STRIPE_SECRET_KEY"),
			WebhookSecret:     get("STRIPE_WEBHOOK_SECRET"),
			PublishableKey:    get("NEXT_PUBLIC_STRIPE_PUBLISHABLE_KEY"),
			FrontendURL:       strings.TrimRight(get("FRONTEND_URL"), "/"),
			PriceIDs:          map[string]string{},
			UsageMeteredPrice: get("STRIPE_PRICE_USAGE_METERED"),
		},
		Facebook: FacebookConfig{
			AppID:        get("NEXT_PUBLIC_FACEBOOK_APP_ID"),
			AppSecret:    get("FACEBOOK_APP_SECRET"),
			GraphVersion: get("FACEBOOK_GRAPH_VERSION"),
			GraphBaseURL: strings.TrimRight(get("FACEBOOK_GRAPH_BASE_URL"), "/"),
		},
		Google: GoogleConfig{
			ClientID:     get("GOOGLE_CLIENT_ID"),
			ClientSecret: get("GOOGLE_CLIENT_SECRET"),
		},
		N8NWebhookURL:       get("N8N_WEBHOOK_URL"),
		InternalWSSecret:    get("INTERNAL_WS_SECRET"),
		UsageReportEnabled:  true,
		UsageReportInterval: DefaultUsageReportInterval,
	}

	for key, env := range PlanPriceEnvKeys {
		if v := get(env); v != "" {
			cfg.Stripe.PriceIDs[key] = v
		}
	}

	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.Facebook.GraphVersion == "" {
		cfg.Facebook.GraphVersion = DefaultGraphVersion
	}
	if !strings.HasPrefix(cfg.Facebook.GraphVersion, "v") {
		return nil, fmt.Errorf("FACEBOOK_GRAPH_VERSION must look like v23.0, got %q", cfg.Facebook.GraphVersion)
	}
	if cfg.Facebook.GraphBaseURL == "" {
		cfg.Facebook.GraphBaseURL = DefaultGraphBaseURL
	}

	if v := get("USAGE_REPORT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("USAGE_REPORT_ENABLED: %w", err)
		}
		cfg.UsageReportEnabled = enabled
	}
	cfg.UsageReportInterval = ParseIntervalSeconds(get("USAGE_REPORT_INTERVAL_SECONDS"), DefaultUsageReportInterval)

	return cfg, nil
}

// ParseIntervalSeconds parses a positive integer number of seconds, returning def otherwise.
func ParseIntervalSeconds(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
