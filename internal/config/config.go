package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string

	HTTPAddr string
	BaseURL  string

	Providers ProvidersConfig

	ProviderTimeout time.Duration

	CheckoutRatePerMinute int
	CheckoutRateBurst     int

	SnowflakeNodeID int64

	SkipMigrations bool
}

// ProviderCredentials carries the API credentials and webhook secret for a
// single payment provider. A provider is considered configured when its
// primary credential is present.
type ProviderCredentials struct {
	SecretKey     string
	ClientID      string
	ClientSecret  string
	WebhookSecret string
	BaseURL       string
}

func (c ProviderCredentials) Configured() bool {
	return strings.TrimSpace(c.SecretKey) != "" || strings.TrimSpace(c.ClientID) != ""
}

type ProvidersConfig struct {
	Stripe      ProviderCredentials
	PayPal      ProviderCredentials
	Flutterwave ProviderCredentials
	Paystack    ProviderCredentials
}

// ConfiguredGateways returns provider names with credentials present, in the
// platform's default preference order.
func (p ProvidersConfig) ConfiguredGateways() []string {
	out := []string{}
	if p.Stripe.Configured() {
		out = append(out, "stripe")
	}
	if p.PayPal.Configured() {
		out = append(out, "paypal")
	}
	if p.Flutterwave.Configured() {
		out = append(out, "flutterwave")
	}
	if p.Paystack.Configured() {
		out = append(out, "paystack")
	}
	return out
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "snapvend"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "snapvend"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
		BaseURL:  strings.TrimRight(getenv("BASE_URL", "http://localhost:8080"), "/"),

		Providers: ProvidersConfig{
			Stripe: ProviderCredentials{
				SecretKey:     getenv("STRIPE_SECRET_KEY", ""),
				WebhookSecret: getenv("STRIPE_WEBHOOK_SECRET", ""),
				BaseURL:       getenv("STRIPE_API_URL", "https://api.stripe.com"),
			},
			PayPal: ProviderCredentials{
				ClientID:      getenv("PAYPAL_CLIENT_ID", ""),
				ClientSecret:  getenv("PAYPAL_CLIENT_SECRET", ""),
				WebhookSecret: getenv("PAYPAL_WEBHOOK_ID", ""),
				BaseURL:       getenv("PAYPAL_API_URL", "https://api-m.paypal.com"),
			},
			Flutterwave: ProviderCredentials{
				SecretKey:     getenv("FLUTTERWAVE_SECRET_KEY", ""),
				WebhookSecret: getenv("FLUTTERWAVE_VERIF_HASH", ""),
				BaseURL:       getenv("FLUTTERWAVE_API_URL", "https://api.flutterwave.com"),
			},
			Paystack: ProviderCredentials{
				SecretKey:     getenv("PAYSTACK_SECRET_KEY", ""),
				WebhookSecret: getenv("PAYSTACK_SECRET_KEY", ""),
				BaseURL:       getenv("PAYSTACK_API_URL", "https://api.paystack.co"),
			},
		},

		ProviderTimeout: getenvDuration("PROVIDER_TIMEOUT", 12*time.Second),

		CheckoutRatePerMinute: getenvInt("CHECKOUT_RATE_PER_MINUTE", 10),
		CheckoutRateBurst:     getenvInt("CHECKOUT_RATE_BURST", 5),

		SnowflakeNodeID: int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),

		SkipMigrations: getenvBool("SKIP_MIGRATIONS", false),
	}

	return cfg
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[config] invalid int for %s: %v", key, err)
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %v", key, err)
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %v", key, err)
		return fallback
	}
	return parsed
}
