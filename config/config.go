package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	ServiceName     string
	Port            string
	OTELEndpoint    string
	MetricsExporter string // "otlp" or "prometheus"

	Provider ProviderConfig
	Polling  PollingConfig
	Payee    PayeeConfig
	Audit    AuditConfig
	Results  ResultsConfig
}

// ProviderConfig describes the push-payment gateway
type ProviderConfig struct {
	URL      string
	APIKey   string
	Mode     string // "http" or "simulator"
	Currency string
}

// PollingConfig controls the confirmation poll loop
type PollingConfig struct {
	Interval     time.Duration
	Budget       time.Duration
	QueryTimeout time.Duration
}

// PayeeConfig is the payee identifier rule set plus the amount ceiling
type PayeeConfig struct {
	CountryCode      string
	SubscriberLength int
	LeadingDigits    string
	AmountMax        float64
}

// AuditConfig enables the optional transition sinks
type AuditConfig struct {
	NSQAddress string
	NSQTopic   string
	MySQLDSN   string
}

// ResultsConfig controls where final attempt snapshots are kept
type ResultsConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// Load loads configuration from environment variables, reading .env first if present
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName:     getEnv("SERVICE_NAME", "pushpay-service"),
		Port:            getEnv("PORT", "8081"),
		OTELEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		MetricsExporter: getEnv("OTEL_METRICS_EXPORTER", "otlp"),
		Provider: ProviderConfig{
			URL:      getEnv("PAYMENT_PROVIDER_URL", "http://localhost:3001"),
			APIKey:   getEnv("PAYMENT_PROVIDER_API_KEY", ""),
			Mode:     getEnv("PAYMENT_PROVIDER_MODE", "http"),
			Currency: getEnv("PAYMENT_CURRENCY", "KES"),
		},
		Polling: PollingConfig{
			Interval:     getEnvAsSeconds("POLL_INTERVAL_SECONDS", 3*time.Second),
			Budget:       getEnvAsSeconds("POLL_BUDGET_SECONDS", 90*time.Second),
			QueryTimeout: getEnvAsSeconds("QUERY_TIMEOUT_SECONDS", 0),
		},
		Payee: PayeeConfig{
			CountryCode:      getEnv("PAYEE_COUNTRY_CODE", "254"),
			SubscriberLength: getEnvAsInt("PAYEE_SUBSCRIBER_LENGTH", 9),
			LeadingDigits:    getEnv("PAYEE_LEADING_DIGITS", "71"),
			AmountMax:        getEnvAsFloat("AMOUNT_MAX", 0),
		},
		Audit: AuditConfig{
			NSQAddress: getEnv("NSQ_ADDRESS", ""),
			NSQTopic:   getEnv("NSQ_TOPIC", "payment.transitions"),
			MySQLDSN:   getEnv("AUDIT_MYSQL_DSN", ""),
		},
		Results: ResultsConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			TTL:           getEnvAsDuration("RESULT_TTL", 24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}
	if c.Polling.Budget < c.Polling.Interval {
		return fmt.Errorf("POLL_BUDGET_SECONDS must be at least POLL_INTERVAL_SECONDS")
	}
	if c.Payee.SubscriberLength <= 0 {
		return fmt.Errorf("PAYEE_SUBSCRIBER_LENGTH must be positive")
	}
	if c.Payee.LeadingDigits == "" || strings.Trim(c.Payee.LeadingDigits, "0123456789") != "" {
		return fmt.Errorf("PAYEE_LEADING_DIGITS must be a non-empty set of digits")
	}
	switch c.Provider.Mode {
	case "http", "simulator":
	default:
		return fmt.Errorf("PAYMENT_PROVIDER_MODE must be http or simulator, got %q", c.Provider.Mode)
	}
	switch c.MetricsExporter {
	case "otlp", "prometheus":
	default:
		return fmt.Errorf("OTEL_METRICS_EXPORTER must be otlp or prometheus, got %q", c.MetricsExporter)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSeconds reads a whole or fractional number of seconds
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return time.Duration(value * float64(time.Second))
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}
