package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string   `mapstructure:"PORT"`
	Env              string   `mapstructure:"ENV"`
	DatabaseURL      string   `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32    `mapstructure:"DB_MIN_CONNS"`
	TenantDBMaxConns int32    `mapstructure:"TENANT_DB_MAX_CONNS"`
	RedisURL         string   `mapstructure:"REDIS_URL"`
	CORSOrigins      []string `mapstructure:"CORS_ORIGINS"`
	FrontendURL      string   `mapstructure:"FRONTEND_URL"`

	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`
	SessionCookie string        `mapstructure:"SESSION_COOKIE"`
	CookieSecure  bool          `mapstructure:"COOKIE_SECURE"`

	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `mapstructure:"GOOGLE_REDIRECT_URL"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	SentryDSN string `mapstructure:"SENTRY_DSN"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFile   string `mapstructure:"LOG_FILE"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	TeleconsultSigningKey string        `mapstructure:"TELECONSULT_SIGNING_KEY"`
	TeleconsultTokenTTL   time.Duration `mapstructure:"TELECONSULT_TOKEN_TTL"`

	MaintenanceSchedule string `mapstructure:"MAINTENANCE_SCHEDULE"`

	// DevTenant is the tenant of the implicit superadmin session in development.
	DevTenant string `mapstructure:"DEV_TENANT"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "TENANT_DB_MAX_CONNS",
	"REDIS_URL", "CORS_ORIGINS", "FRONTEND_URL",
	"SESSION_TTL", "SESSION_COOKIE", "COOKIE_SECURE",
	"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_REDIRECT_URL",
	"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET",
	"SENTRY_DSN", "LOG_LEVEL", "LOG_FILE",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"TELECONSULT_SIGNING_KEY", "TELECONSULT_TOKEN_TTL",
	"MAINTENANCE_SCHEDULE", "DEV_TENANT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("TENANT_DB_MAX_CONNS", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("FRONTEND_URL", "http://localhost:5173")
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("SESSION_COOKIE", "cabinet_session")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("TELECONSULT_TOKEN_TTL", "2h")
	v.SetDefault("MAINTENANCE_SCHEDULE", "@every 5m")
	v.SetDefault("DEV_TENANT", "demo")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsProduction() && !v.IsSet("COOKIE_SECURE") {
		cfg.CookieSecure = true
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// BillingEnabled reports whether Stripe is configured.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.IsProduction() && c.TeleconsultSigningKey == "" {
		return fmt.Errorf("TELECONSULT_SIGNING_KEY is required in production")
	}
	if c.TeleconsultSigningKey != "" && len(c.TeleconsultSigningKey) < 32 {
		return fmt.Errorf("TELECONSULT_SIGNING_KEY must be at least 32 bytes, got %d", len(c.TeleconsultSigningKey))
	}

	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	if c.GoogleClientID != "" {
		if c.GoogleClientSecret == "" {
			return fmt.Errorf("GOOGLE_CLIENT_SECRET is required when GOOGLE_CLIENT_ID is set")
		}
		if c.GoogleRedirectURL == "" {
			return fmt.Errorf("GOOGLE_REDIRECT_URL is required when GOOGLE_CLIENT_ID is set")
		}
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	return nil
}
