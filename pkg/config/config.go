package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rambozzang/ongo-sub007/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Billing       BillingConfig
	Entitlement   EntitlementConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds Redis cache configuration
type RedisConfig struct {
	URL       string
	Password  string
	DB        int
	CacheTTL  time.Duration
	LocalTTL  time.Duration
	LocalSize int
}

// BillingConfig holds billing scheduler configuration
type BillingConfig struct {
	// CronSchedule is the tick cadence for the scheduler binary.
	CronSchedule string
	GracePeriod  time.Duration
	BatchLimit   int
	Workers      int
}

// EntitlementConfig holds entitlement policy knobs
type EntitlementConfig struct {
	// CancelAccessAtPeriodEnd keeps paid entitlement on a canceled
	// subscription until the current period ends.
	CancelAccessAtPeriodEnd bool
	// ResubscribeFreshAllowance grants a fresh monthly allowance when a
	// canceled user re-subscribes mid-month.
	ResubscribeFreshAllowance bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("ONGO_HOST", "0.0.0.0"),
			Port:            getEnv("ONGO_PORT", "8080"),
			ReadTimeout:     getEnvDuration("ONGO_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("ONGO_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("ONGO_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("ONGO_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("ONGO_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("ONGO_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("ONGO_POSTGRES_MAX_CONNS", 20),
			MaxIdleConns: getEnvInt("ONGO_POSTGRES_IDLE_CONNS", 5),
			ConnLifetime: getEnvDuration("ONGO_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:       getEnv("ONGO_REDIS_URL", "redis://localhost:6379"),
			Password:  getEnv("ONGO_REDIS_PASSWORD", ""),
			DB:        getEnvInt("ONGO_REDIS_DB", 0),
			CacheTTL:  getEnvDuration("ONGO_CACHE_TTL", 5*time.Minute),
			LocalTTL:  getEnvDuration("ONGO_CACHE_LOCAL_TTL", 10*time.Second),
			LocalSize: getEnvInt("ONGO_CACHE_LOCAL_SIZE", 10000),
		},
		Billing: BillingConfig{
			CronSchedule: getEnv("ONGO_BILLING_SCHEDULE", "@every 5m"),
			GracePeriod:  getEnvDuration("ONGO_BILLING_GRACE_PERIOD", 7*24*time.Hour),
			BatchLimit:   getEnvInt("ONGO_BILLING_BATCH_LIMIT", 500),
			Workers:      getEnvInt("ONGO_BILLING_WORKERS", 8),
		},
		Entitlement: EntitlementConfig{
			CancelAccessAtPeriodEnd:   getEnvBool("ONGO_CANCEL_ACCESS_AT_PERIOD_END", true),
			ResubscribeFreshAllowance: getEnvBool("ONGO_RESUBSCRIBE_FRESH_ALLOWANCE", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("ONGO_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("ONGO_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Billing.GracePeriod <= 0 {
		return fmt.Errorf("billing grace period must be positive")
	}
	if c.Billing.BatchLimit <= 0 {
		return fmt.Errorf("billing batch limit must be positive")
	}
	if c.Billing.Workers <= 0 {
		return fmt.Errorf("billing workers must be positive")
	}
	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
