package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	BaseURL       string `env:"BASE_URL" validate:"omitempty,url"`
	ClientBackURL string `env:"CLIENT_BACK_URL" validate:"omitempty,url"`
	StoreName     string `env:"STORE_NAME" envDefault:"ShopHub"`

	// AllowedOrigins lists browser origins allowed to call the API.
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	JWTSecret     string `env:"JWT_SECRET,required" validate:"required,min=16"`
	EncryptionKey string `env:"ENCRYPTION_KEY,required" validate:"required,len=32"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis"`

	SiteTimezone           string `env:"SITE_TIMEZONE" envDefault:"Asia/Taipei" validate:"required"`
	OrderNoPrefix          string `env:"ORDER_NO_PREFIX" envDefault:"ORD" validate:"required,alphanum,max=8"`
	DefaultHomeDeliveryFee int64  `env:"DEFAULT_HOME_DELIVERY_FEE" envDefault:"100" validate:"gte=0"`

	ECPayMode                string        `env:"ECPAY_MODE" envDefault:"stage" validate:"omitempty,oneof=stage production"`
	ECPayMerchantID          string        `env:"ECPAY_MERCHANT_ID,required" validate:"required"`
	ECPayHashKey             string        `env:"ECPAY_HASH_KEY,required" validate:"required"`
	ECPayHashIV              string        `env:"ECPAY_HASH_IV,required" validate:"required"`
	ECPayLogisticsMerchantID string        `env:"ECPAY_LOGISTICS_MERCHANT_ID"`
	ECPayLogisticsHashKey    string        `env:"ECPAY_LOGISTICS_HASH_KEY"`
	ECPayLogisticsHashIV     string        `env:"ECPAY_LOGISTICS_HASH_IV"`
	ECPayTimeout             time.Duration `env:"ECPAY_TIMEOUT" envDefault:"15s" validate:"gt=0"`
	ECPayAcceptSimulated     bool          `env:"ECPAY_ACCEPT_SIMULATED" envDefault:"false"`
	SenderName               string        `env:"SENDER_NAME" envDefault:"ShopHub"`
	SenderPhone              string        `env:"SENDER_PHONE"`

	EmailProvider string `env:"EMAIL_PROVIDER" envDefault:"none" validate:"omitempty,oneof=none resend"`
	ResendAPIKey  string `env:"RESEND_API_KEY" validate:"required_if=EmailProvider resend"`
	EmailFrom     string `env:"EMAIL_FROM" validate:"required_if=EmailProvider resend"`

	SentryDSN              string  `env:"SENTRY_DSN"`
	SentryEnvironment      string  `env:"SENTRY_ENVIRONMENT" envDefault:"development"`
	SentryTracesSampleRate float64 `env:"SENTRY_TRACES_SAMPLE_RATE" envDefault:"0.1" validate:"gte=0,lte=1"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	LogFile   string     `env:"LOG_FILE"`
	Port      string     `env:"PORT" envDefault:"5001"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if _, err := time.LoadLocation(c.SiteTimezone); err != nil {
		return fmt.Errorf("SITE_TIMEZONE is not a valid IANA zone: %w", err)
	}

	hasLogisticsKey := strings.TrimSpace(c.ECPayLogisticsHashKey) != ""
	hasLogisticsIV := strings.TrimSpace(c.ECPayLogisticsHashIV) != ""
	if hasLogisticsKey != hasLogisticsIV {
		return fmt.Errorf("ECPAY_LOGISTICS_HASH_KEY and ECPAY_LOGISTICS_HASH_IV must be set together")
	}

	baseURL := strings.TrimSpace(c.BaseURL)
	if c.ECPayMode == "production" && baseURL == "" {
		return fmt.Errorf("BASE_URL is required when ECPAY_MODE is production")
	}

	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Hostname() == "" {
			return fmt.Errorf("BASE_URL must be a valid absolute URL")
		}
		if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
			return fmt.Errorf("BASE_URL must use https outside local development")
		}
	}

	return nil
}

// Location returns the site-local zone used for order-number dates.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.SiteTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LogisticsCredentials falls back to the payment credentials when the
// logistics account shares the merchant.
func (c *Config) LogisticsCredentials() (merchantID, hashKey, hashIV string) {
	merchantID = c.ECPayLogisticsMerchantID
	if merchantID == "" {
		merchantID = c.ECPayMerchantID
	}
	if c.ECPayLogisticsHashKey == "" {
		return merchantID, c.ECPayHashKey, c.ECPayHashIV
	}
	return merchantID, c.ECPayLogisticsHashKey, c.ECPayLogisticsHashIV
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
