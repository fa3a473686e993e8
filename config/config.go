package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// PlatformCredentials holds the OAuth app registered with one social network.
type PlatformCredentials struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
}

type Config struct {
	Env         string
	Port        string
	AppURL      string
	APIURL      string
	DatabaseURL string
	RedisURL    string
	NatsURL     string

	JWTSecret  string
	CronSecret string
	// 32 bytes, hex encoded. Seals OAuth tokens at rest.
	TokenKey string

	PublishBatchSize   int
	PublishMaxAttempts int
	PublishInterval    time.Duration
	GenerateInterval   time.Duration
	GenerateLead       time.Duration
	StuckAfter         time.Duration

	RateLimitPerMinute int

	LinkedIn  PlatformCredentials
	X         PlatformCredentials
	Facebook  PlatformCredentials
	Instagram PlatformCredentials

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripePricePro      string
	StripePriceBusiness string

	SendGridAPIKey  string
	MailFrom        string
	SlackWebhookURL string

	SentryDSN    string
	OtelEndpoint string
}

// PublishLockTTL bounds how long one publish run holds the Redis lock.
const PublishLockTTL = 5 * time.Minute

func setDefaults() {
	viper.SetDefault("APP_ENV", "local")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("APP_URL", "http://localhost:3000")
	viper.SetDefault("API_URL", "http://localhost:8080")
	viper.SetDefault("REDIS_URL", "redis://localhost:6379/0")

	viper.SetDefault("PUBLISH_BATCH_SIZE", 10)
	viper.SetDefault("PUBLISH_MAX_ATTEMPTS", 3)
	viper.SetDefault("PUBLISH_INTERVAL", "60s")
	viper.SetDefault("GENERATE_INTERVAL", "15m")
	viper.SetDefault("GENERATE_LEAD", "1h")
	viper.SetDefault("STUCK_AFTER", "15m")
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 120)

	viper.SetDefault("LINKEDIN_BASE_URL", "https://api.linkedin.com")
	viper.SetDefault("X_BASE_URL", "https://api.twitter.com")
	viper.SetDefault("FACEBOOK_BASE_URL", "https://graph.facebook.com/v19.0")
	viper.SetDefault("INSTAGRAM_BASE_URL", "https://graph.facebook.com/v19.0")

	viper.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	viper.SetDefault("MAIL_FROM", "notifications@postvolve.app")

	viper.SetDefault("AUTH_ENABLED", true)
	viper.SetDefault("BILLING_ENABLED", false)
	viper.SetDefault("SCHEDULER_ENABLED", false)
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	setDefaults()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	cfg := &Config{
		Env:         viper.GetString("APP_ENV"),
		Port:        viper.GetString("PORT"),
		AppURL:      strings.TrimRight(viper.GetString("APP_URL"), "/"),
		APIURL:      strings.TrimRight(viper.GetString("API_URL"), "/"),
		DatabaseURL: viper.GetString("DATABASE_URL"),
		RedisURL:    viper.GetString("REDIS_URL"),
		NatsURL:     viper.GetString("NATS_URL"),

		JWTSecret:  viper.GetString("JWT_SECRET"),
		CronSecret: viper.GetString("CRON_SECRET"),
		TokenKey:   viper.GetString("TOKEN_ENCRYPTION_KEY"),

		PublishBatchSize:   viper.GetInt("PUBLISH_BATCH_SIZE"),
		PublishMaxAttempts: viper.GetInt("PUBLISH_MAX_ATTEMPTS"),
		PublishInterval:    viper.GetDuration("PUBLISH_INTERVAL"),
		GenerateInterval:   viper.GetDuration("GENERATE_INTERVAL"),
		GenerateLead:       viper.GetDuration("GENERATE_LEAD"),
		StuckAfter:         viper.GetDuration("STUCK_AFTER"),

		RateLimitPerMinute: viper.GetInt("RATE_LIMIT_PER_MINUTE"),

		LinkedIn:  platformCredentials("LINKEDIN"),
		X:         platformCredentials("X"),
		Facebook:  platformCredentials("FACEBOOK"),
		Instagram: platformCredentials("INSTAGRAM"),

		OpenAIKey:     viper.GetString("OPENAI_API_KEY"),
		OpenAIModel:   viper.GetString("OPENAI_MODEL"),
		OpenAIBaseURL: viper.GetString("OPENAI_BASE_URL"),

		StripeSecretKey:     viper.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: viper.GetString("STRIPE_WEBHOOK_SECRET"),
		StripePricePro:      viper.GetString("STRIPE_PRICE_PRO"),
		StripePriceBusiness: viper.GetString("STRIPE_PRICE_BUSINESS"),

		SendGridAPIKey:  viper.GetString("SENDGRID_API_KEY"),
		MailFrom:        viper.GetString("MAIL_FROM"),
		SlackWebhookURL: viper.GetString("SLACK_WEBHOOK_URL"),

		SentryDSN:    viper.GetString("SENTRY_DSN"),
		OtelEndpoint: viper.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func platformCredentials(prefix string) PlatformCredentials {
	return PlatformCredentials{
		ClientID:     viper.GetString(prefix + "_CLIENT_ID"),
		ClientSecret: viper.GetString(prefix + "_CLIENT_SECRET"),
		BaseURL:      strings.TrimRight(viper.GetString(prefix+"_BASE_URL"), "/"),
	}
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if c.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET environment variable not set")
	}
	if c.PublishBatchSize <= 0 {
		return fmt.Errorf("PUBLISH_BATCH_SIZE must be positive, got %d", c.PublishBatchSize)
	}
	if c.PublishMaxAttempts <= 0 {
		return fmt.Errorf("PUBLISH_MAX_ATTEMPTS must be positive, got %d", c.PublishMaxAttempts)
	}
	if c.PublishInterval <= 0 {
		return fmt.Errorf("PUBLISH_INTERVAL must be positive, got %s", c.PublishInterval)
	}
	if c.GenerateInterval <= 0 {
		return fmt.Errorf("GENERATE_INTERVAL must be positive, got %s", c.GenerateInterval)
	}
	// Recovery must not reclaim posts a live run still holds the lock for.
	if c.StuckAfter <= PublishLockTTL {
		return fmt.Errorf("STUCK_AFTER must be longer than the %s publish lock, got %s", PublishLockTTL, c.StuckAfter)
	}
	if LoadFeatures().AuthEnabled && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable not set")
	}
	return nil
}

// IsLocal reports whether the service runs on a developer machine.
func (c *Config) IsLocal() bool { return c.Env == "local" }
