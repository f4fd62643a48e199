package config

import (
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
	HTTPAddr    string

	// Shared secret used to verify inbound billing provider webhooks.
	BillingWebhookSecret string
	// API key for outbound calls to the billing provider (plan publishing,
	// force-sync snapshot pulls).
	BillingProviderAPIKey  string
	BillingProviderBaseURL string
	// How long processed events stay in the dedup index before eviction.
	BillingDedupRetention time.Duration

	SequencerAcquireTimeout time.Duration
	SequencerLockTTL        time.Duration

	// Trailing window for consumption-style quota counts (API calls etc).
	QuotaUsageWindow time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

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
	DBConnMaxIdleTime int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "couture"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		BillingWebhookSecret:   strings.TrimSpace(getenv("BILLING_WEBHOOK_SECRET", "")),
		BillingProviderAPIKey:  strings.TrimSpace(getenv("BILLING_PROVIDER_API_KEY", "")),
		BillingProviderBaseURL: strings.TrimSpace(getenv("BILLING_PROVIDER_BASE_URL", "https://api.stripe.com")),
		BillingDedupRetention:  getenvDuration("BILLING_DEDUP_RETENTION", 720*time.Hour),

		SequencerAcquireTimeout: getenvDuration("SEQUENCER_ACQUIRE_TIMEOUT", 5*time.Second),
		SequencerLockTTL:        getenvDuration("SEQUENCER_LOCK_TTL", 30*time.Second),

		QuotaUsageWindow: getenvDuration("QUOTA_USAGE_WINDOW", 720*time.Hour),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
