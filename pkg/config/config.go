package config

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Gateway  GatewayConfig
	Checkout CheckoutConfig
	Catalog  CatalogConfig
	Webhooks WebhooksConfig
	Payments PaymentsConfig
	Export   ExportConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GatewayConfig points the payment gateway REST client at its environment.
type GatewayConfig struct {
	BaseURL      string
	APIKey       string
	WebhookToken string
	Timeout      time.Duration
	BillingType  string
}

// CheckoutConfig controls the hosted checkout sessions opened for enrollments.
type CheckoutConfig struct {
	CallbackBaseURL string
	CallbackSecret  string
	CallbackTTL     time.Duration
	ExpiryMinutes   int
}

// CatalogConfig governs caching of the class catalog.
type CatalogConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// WebhooksConfig sizes the gateway event worker pool.
type WebhooksConfig struct {
	WorkerConcurrency int
	WorkerRetries     int
	RetryDelay        time.Duration
}

// ExportConfig controls the payment report files.
type ExportConfig struct {
	CSVSeparator rune
	SchoolName   string
}

// PaymentsConfig tunes background payment maintenance.
type PaymentsConfig struct {
	OverdueSweepInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Gateway = GatewayConfig{
		BaseURL:      strings.TrimRight(v.GetString("GATEWAY_BASE_URL"), "/"),
		APIKey:       v.GetString("GATEWAY_API_KEY"),
		WebhookToken: v.GetString("GATEWAY_WEBHOOK_TOKEN"),
		Timeout:      parseDuration(v.GetString("GATEWAY_TIMEOUT"), 10*time.Second),
		BillingType:  strings.ToUpper(v.GetString("GATEWAY_BILLING_TYPE")),
	}

	cfg.Checkout = CheckoutConfig{
		CallbackBaseURL: strings.TrimRight(v.GetString("CHECKOUT_CALLBACK_BASE_URL"), "/"),
		CallbackSecret:  v.GetString("CHECKOUT_CALLBACK_SECRET"),
		CallbackTTL:     parseDuration(v.GetString("CHECKOUT_CALLBACK_TTL"), 72*time.Hour),
		ExpiryMinutes:   v.GetInt("CHECKOUT_EXPIRY_MINUTES"),
	}

	cfg.Catalog = CatalogConfig{
		CacheEnabled: v.GetBool("CATALOG_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("CATALOG_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Webhooks = WebhooksConfig{
		WorkerConcurrency: v.GetInt("WEBHOOK_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("WEBHOOK_WORKER_RETRIES"),
		RetryDelay:        parseDuration(v.GetString("WEBHOOK_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Payments = PaymentsConfig{
		OverdueSweepInterval: parseDuration(v.GetString("PAYMENTS_OVERDUE_SWEEP_INTERVAL"), time.Hour),
	}

	cfg.Export = ExportConfig{
		CSVSeparator: firstRune(v.GetString("EXPORT_CSV_SEPARATOR"), ';'),
		SchoolName:   v.GetString("EXPORT_SCHOOL_NAME"),
	}

	return cfg
}

func firstRune(value string, fallback rune) rune {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	r, _ := utf8.DecodeRuneInString(value)
	return r
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "dance_school")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GATEWAY_BASE_URL", "https://sandbox.asaas.com/api/v3")
	v.SetDefault("GATEWAY_API_KEY", "")
	v.SetDefault("GATEWAY_WEBHOOK_TOKEN", "")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("GATEWAY_BILLING_TYPE", "CREDIT_CARD")

	v.SetDefault("CHECKOUT_CALLBACK_BASE_URL", "http://localhost:8080/api/v1/checkout/callback")
	v.SetDefault("CHECKOUT_CALLBACK_SECRET", "dev_checkout_secret")
	v.SetDefault("CHECKOUT_CALLBACK_TTL", "72h")
	v.SetDefault("CHECKOUT_EXPIRY_MINUTES", 60)

	v.SetDefault("CATALOG_CACHE_ENABLED", false)
	v.SetDefault("CATALOG_CACHE_TTL", "5m")

	v.SetDefault("WEBHOOK_WORKER_CONCURRENCY", 2)
	v.SetDefault("WEBHOOK_WORKER_RETRIES", 3)
	v.SetDefault("WEBHOOK_RETRY_DELAY", "5s")

	v.SetDefault("EXPORT_CSV_SEPARATOR", ";")
	v.SetDefault("EXPORT_SCHOOL_NAME", "Dance School")

	v.SetDefault("PAYMENTS_OVERDUE_SWEEP_INTERVAL", "1h")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
