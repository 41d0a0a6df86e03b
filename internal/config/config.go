package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime settings sourced from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string

	DBDriver       string
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisTLS        bool
	RealtimeFanout  bool
	TenantCacheTTL  time.Duration
	WebhookDedupTTL time.Duration

	WhatsAppBaseURL       string
	WhatsAppAPIVersion    string
	WhatsAppPhoneNumberID string
	WhatsAppAccessToken   string
	WhatsAppVerifyToken   string
	WhatsAppAppSecret     string
	WhatsAppTimeout       time.Duration
	WhatsAppDeviceStore   string
	WhatsAppDeviceTenant  string
	WhatsAppLogLevel      string

	WebhookTenantFallback bool
	WebhookProcessTimeout time.Duration

	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration

	// DeliveryFee is expressed in minor units.
	DeliveryFee       int64
	OrderNumberPrefix string
}

// Production reports whether the service runs with production error masking.
func (c *Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		AppEnv:           v.GetString("APP_ENV"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		HTTPListenAddr:   v.GetString("HTTP_LISTEN_ADDR"),
		PublicBasePath:   v.GetString("PUBLIC_BASE_PATH"),
		MetricsNamespace: v.GetString("METRICS_NAMESPACE"),

		DBDriver:       strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		DatabaseSchema: v.GetString("DATABASE_SCHEMA"),
		SQLitePath:     v.GetString("SQLITE_PATH"),

		RedisAddr:       v.GetString("REDIS_ADDR"),
		RedisPassword:   v.GetString("REDIS_PASSWORD"),
		RedisDB:         v.GetInt("REDIS_DB"),
		RedisTLS:        v.GetBool("REDIS_TLS"),
		RealtimeFanout:  v.GetBool("REALTIME_REDIS_FANOUT"),
		TenantCacheTTL:  v.GetDuration("TENANT_CACHE_TTL"),
		WebhookDedupTTL: v.GetDuration("WEBHOOK_DEDUP_TTL"),

		WhatsAppBaseURL:       v.GetString("WHATSAPP_API_BASE_URL"),
		WhatsAppAPIVersion:    v.GetString("WHATSAPP_API_VERSION"),
		WhatsAppPhoneNumberID: v.GetString("WHATSAPP_PHONE_NUMBER_ID"),
		WhatsAppAccessToken:   v.GetString("WHATSAPP_ACCESS_TOKEN"),
		WhatsAppVerifyToken:   v.GetString("WHATSAPP_VERIFY_TOKEN"),
		WhatsAppAppSecret:     v.GetString("WHATSAPP_APP_SECRET"),
		WhatsAppTimeout:       v.GetDuration("WHATSAPP_TIMEOUT"),
		WhatsAppDeviceStore:   v.GetString("WHATSAPP_DEVICE_STORE_PATH"),
		WhatsAppDeviceTenant:  v.GetString("WHATSAPP_DEVICE_TENANT"),
		WhatsAppLogLevel:      v.GetString("WHATSAPP_LOG_LEVEL"),

		WebhookTenantFallback: v.GetBool("WEBHOOK_TENANT_FALLBACK"),
		WebhookProcessTimeout: v.GetDuration("WEBHOOK_PROCESS_TIMEOUT"),

		JWTSecret: v.GetString("JWT_SECRET"),
		JWTIssuer: v.GetString("JWT_ISSUER"),
		JWTTTL:    v.GetDuration("JWT_TTL"),

		DeliveryFee:       toMinorUnits(v.GetFloat64("DELIVERY_FEE")),
		OrderNumberPrefix: strings.ToUpper(strings.TrimSpace(v.GetString("ORDER_NUMBER_PREFIX"))),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_LISTEN_ADDR", ":8080")
	v.SetDefault("METRICS_NAMESPACE", "orderhub")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DATABASE_SCHEMA", "public")
	v.SetDefault("SQLITE_PATH", "data/orderhub.db")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("TENANT_CACHE_TTL", "5m")
	v.SetDefault("WEBHOOK_DEDUP_TTL", "24h")
	v.SetDefault("WHATSAPP_API_BASE_URL", "https://graph.facebook.com")
	v.SetDefault("WHATSAPP_API_VERSION", "v21.0")
	v.SetDefault("WHATSAPP_TIMEOUT", "10s")
	v.SetDefault("WHATSAPP_LOG_LEVEL", "INFO")
	v.SetDefault("WEBHOOK_TENANT_FALLBACK", false)
	v.SetDefault("WEBHOOK_PROCESS_TIMEOUT", "30s")
	v.SetDefault("JWT_ISSUER", "order-hub")
	v.SetDefault("JWT_TTL", "12h")
	v.SetDefault("DELIVERY_FEE", 20.0)
	v.SetDefault("ORDER_NUMBER_PREFIX", "ORD")
}

func (c *Config) validate() error {
	var problems []string
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			problems = append(problems, "SQLITE_PATH is required for sqlite")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported DB_DRIVER %q", c.DBDriver))
	}
	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	if c.WhatsAppAppSecret == "" {
		problems = append(problems, "WHATSAPP_APP_SECRET is required")
	}
	if c.WhatsAppVerifyToken == "" {
		problems = append(problems, "WHATSAPP_VERIFY_TOKEN is required")
	}
	if c.DeliveryFee < 0 {
		problems = append(problems, "DELIVERY_FEE must not be negative")
	}
	if c.OrderNumberPrefix == "" {
		c.OrderNumberPrefix = "ORD"
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %w", errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

func toMinorUnits(v float64) int64 {
	return int64(math.Round(v * 100))
}
