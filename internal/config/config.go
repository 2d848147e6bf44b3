package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	ServiceName        string
	StoreName          string
	Currency           string
	StoreDriver        string
	DatabaseURL        string
	MongoURI           string
	MongoDatabase      string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	AccessCookie       string
	CORSAllowedOrigins []string
	CookieSecure       bool
	CookieSameSite     http.SameSite

	CartTTL            time.Duration
	PromoCodes         string
	ShippingRates      string
	StrictCountries    bool
	ReviewsAutoApprove bool

	Payment  PaymentConfig
	Mail     MailConfig
	Kafka    KafkaConfig
	Limits   LimitConfig
	Obs      ObsConfig
	Timeouts TimeoutConfig
}

// PaymentConfig groups provider credentials and the bank transfer account.
type PaymentConfig struct {
	Timeout             time.Duration
	StripeSecretKey     string
	StripeWebhookSecret string
	PayPalBaseURL       string
	PayPalClientID      string
	PayPalClientSecret  string
	BankName            string
	BankAccountName     string
	BankAccountNumber   string
	BankRoutingNumber   string
	ReferencePrefix     string
	WebhookReplayTTL    time.Duration
}

// StripeEnabled reports whether card payments can be taken.
func (p PaymentConfig) StripeEnabled() bool { return p.StripeSecretKey != "" }

// PayPalEnabled reports whether wallet captures can be made.
func (p PaymentConfig) PayPalEnabled() bool {
	return p.PayPalClientID != "" && p.PayPalClientSecret != ""
}

// MailConfig controls transactional email.
type MailConfig struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	From         string
	AdminEmail   string
	Concurrency  int
}

// KafkaConfig enables event publishing when brokers are set.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LimitConfig configures the per-IP and per-user rate limits.
type LimitConfig struct {
	IPRate          string
	ReviewWindow    time.Duration
	ReviewMax       int
	IdempotencyTTL  time.Duration
	LockTTL         time.Duration
	MaxBodyBytes    int64
	CatalogCacheTTL time.Duration
}

// ObsConfig controls logging, metrics and tracing.
type ObsConfig struct {
	LogFormat       string
	LogLevel        string
	MetricsEnabled  bool
	MetricsBuckets  string
	TracingEnabled  bool
	TracingExporter string
	OTLPEndpoint    string
	SamplingRatio   float64
}

// TimeoutConfig groups HTTP server timeouts.
type TimeoutConfig struct {
	ReadHeader time.Duration
	Read       time.Duration
	Write      time.Duration
	Idle       time.Duration
	Shutdown   time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		ServiceName:        valueOrDefault(k.String("SERVICE_NAME"), "storefront-api"),
		StoreName:          valueOrDefault(k.String("STORE_NAME"), "Storefront"),
		Currency:           strings.ToUpper(valueOrDefault(k.String("CURRENCY"), "USD")),
		StoreDriver:        strings.ToLower(valueOrDefault(k.String("STORE_DRIVER"), DriverPostgres)),
		DatabaseURL:        k.String("DATABASE_URL"),
		MongoURI:           k.String("MONGO_URI"),
		MongoDatabase:      valueOrDefault(k.String("MONGO_DB"), "storefront"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          k.String("JWT_ISSUER"),
		JWTAudience:        k.String("JWT_AUDIENCE"),
		AccessCookie:       valueOrDefault(k.String("ACCESS_TOKEN_COOKIE"), "access_token"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		CookieSecure:       parseBool(k.String("COOKIE_SECURE"), false),
		CookieSameSite:     parseSameSite(k.String("COOKIE_SAMESITE")),

		CartTTL:            parseDuration(k.String("CART_TTL"), "168h"),
		PromoCodes:         k.String("PROMO_CODES"),
		ShippingRates:      k.String("SHIPPING_RATES"),
		StrictCountries:    parseBool(k.String("SHIPPING_STRICT_COUNTRIES"), false),
		ReviewsAutoApprove: parseBool(k.String("REVIEWS_AUTO_APPROVE"), true),

		Payment: PaymentConfig{
			Timeout:             parseDuration(k.String("PAYMENT_TIMEOUT"), "15s"),
			StripeSecretKey:     k.String("STRIPE_SECRET_KEY"),
			StripeWebhookSecret: k.String("STRIPE_WEBHOOK_SECRET"),
			PayPalBaseURL:       valueOrDefault(k.String("PAYPAL_BASE_URL"), "https://api-m.sandbox.paypal.com"),
			PayPalClientID:      k.String("PAYPAL_CLIENT_ID"),
			PayPalClientSecret:  k.String("PAYPAL_CLIENT_SECRET"),
			BankName:            k.String("BANK_NAME"),
			BankAccountName:     k.String("BANK_ACCOUNT_NAME"),
			BankAccountNumber:   k.String("BANK_ACCOUNT_NUMBER"),
			BankRoutingNumber:   k.String("BANK_ROUTING_NUMBER"),
			ReferencePrefix:     valueOrDefault(k.String("REFERENCE_PREFIX"), "ROI"),
			WebhookReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "72h"),
		},
		Mail: MailConfig{
			Enabled:      parseBool(k.String("EMAIL_NOTIFICATIONS_ENABLED"), true),
			SMTPHost:     k.String("SMTP_HOST"),
			SMTPPort:     parseInt(k.String("SMTP_PORT"), 587),
			SMTPUsername: k.String("SMTP_USERNAME"),
			SMTPPassword: k.String("SMTP_PASSWORD"),
			From:         k.String("EMAIL_FROM"),
			AdminEmail:   k.String("ADMIN_EMAIL"),
			Concurrency:  parseInt(k.String("MAIL_WORKER_CONCURRENCY"), 5),
		},
		Kafka: KafkaConfig{
			Brokers: splitAndTrim(k.String("KAFKA_BROKERS")),
			Topic:   valueOrDefault(k.String("KAFKA_TOPIC"), "storefront.events"),
		},
		Limits: LimitConfig{
			IPRate:          valueOrDefault(k.String("RATE_LIMIT_IP"), "300-M"),
			ReviewWindow:    parseDuration(k.String("RATE_LIMIT_REVIEW_WINDOW"), "1h"),
			ReviewMax:       parseInt(k.String("RATE_LIMIT_REVIEW_MAX"), 10),
			IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
			LockTTL:         parseDuration(k.String("LOCK_TTL"), "5s"),
			MaxBodyBytes:    int64(parseInt(k.String("MAX_BODY_BYTES"), 1<<20)),
			CatalogCacheTTL: parseDuration(k.String("CATALOG_CACHE_TTL"), "60s"),
		},
		Obs: ObsConfig{
			LogFormat:       valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:        valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:  parseBool(k.String("OBS_METRICS_ENABLED"), true),
			MetricsBuckets:  k.String("OBS_METRICS_BUCKETS"),
			TracingEnabled:  parseBool(k.String("OBS_TRACING_ENABLED"), false),
			TracingExporter: valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:    k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
			SamplingRatio:   parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		},
		Timeouts: TimeoutConfig{
			ReadHeader: parseDuration(k.String("HTTP_READ_HEADER_TIMEOUT"), "5s"),
			Read:       parseDuration(k.String("HTTP_READ_TIMEOUT"), "15s"),
			Write:      parseDuration(k.String("HTTP_WRITE_TIMEOUT"), "30s"),
			Idle:       parseDuration(k.String("HTTP_IDLE_TIMEOUT"), "60s"),
			Shutdown:   parseDuration(k.String("HTTP_SHUTDOWN_TIMEOUT"), "20s"),
		},
	}

	if cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER %q is not supported", c.StoreDriver)
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Payment.StripeSecretKey != "" && c.Payment.StripeWebhookSecret == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}
	if c.Payment.Timeout <= 0 {
		return errors.New("PAYMENT_TIMEOUT must be positive")
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.AppEnv) {
	case "production", "prod":
		return true
	}
	return false
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
