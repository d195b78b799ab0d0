// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Security
	TrackingAPIKey    string // Shared key for the telemetry ingest endpoints
	DashboardUser     string
	DashboardPassword string
	AllowedOrigins    string // Comma-separated CORS origins

	// Session lifecycle
	SessionTTL    time.Duration // Tracking/intervention writes refresh to this
	ConversionTTL time.Duration // Converted sessions are retained longer for reporting

	// Rate limits (requests per minute, per client)
	TrackRPM     int
	DashboardRPM int
	LoginRPM     int

	// Stripe
	StripeWebhookSecret string // Optional, enables POST /api/webhooks/stripe

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)
}

const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultSessionTTL    = 5 * time.Minute
	DefaultConversionTTL = time.Hour
	DefaultTrackRPM      = 100
	DefaultDashboardRPM  = 60
	DefaultLoginRPM      = 10
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	env := getEnv("ENV", DefaultEnv)
	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 env,
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", defaultLogFormat(env)),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		TrackingAPIKey:      os.Getenv("TRACKING_API_KEY"),
		DashboardUser:       os.Getenv("DASHBOARD_USER"),
		DashboardPassword:   os.Getenv("DASHBOARD_PASSWORD"),
		AllowedOrigins:      getEnv("ALLOWED_ORIGINS", "*"),
		SessionTTL:          getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		ConversionTTL:       getEnvDuration("CONVERSION_TTL", DefaultConversionTTL),
		TrackRPM:            int(getEnvInt64("TRACK_RATE_LIMIT_RPM", DefaultTrackRPM)),
		DashboardRPM:        int(getEnvInt64("DASHBOARD_RATE_LIMIT_RPM", DefaultDashboardRPM)),
		LoginRPM:            int(getEnvInt64("LOGIN_RATE_LIMIT_RPM", DefaultLoginRPM)),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.TrackingAPIKey == "" {
		return fmt.Errorf("TRACKING_API_KEY is required")
	}
	if c.DashboardUser == "" || c.DashboardPassword == "" {
		return fmt.Errorf("DASHBOARD_USER and DASHBOARD_PASSWORD are required")
	}
	if c.IsProduction() && c.AllowedOrigins == "*" {
		return fmt.Errorf("ALLOWED_ORIGINS must not be a wildcard in production")
	}
	if c.SessionTTL <= 0 || c.ConversionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL and CONVERSION_TTL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func defaultLogFormat(env string) string {
	if env == "production" {
		return "json"
	}
	return "text"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
