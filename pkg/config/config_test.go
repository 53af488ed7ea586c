package config

import (
	"os"
	"testing"
	"time"

	"github.com/rambozzang/ongo-sub007/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{name: "true string", key: "TEST_BOOL", defaultValue: false, envValue: "true", want: true},
		{name: "one string", key: "TEST_BOOL", defaultValue: false, envValue: "1", want: true},
		{name: "false string", key: "TEST_BOOL", defaultValue: true, envValue: "false", want: false},
		{name: "unset returns default", key: "TEST_BOOL_NOT_SET", defaultValue: true, envValue: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnvBool(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	os.Setenv("TEST_DURATION", "45s")
	defer os.Unsetenv("TEST_DURATION")

	if got := getEnvDuration("TEST_DURATION", time.Minute); got != 45*time.Second {
		t.Errorf("getEnvDuration() = %v, want 45s", got)
	}
	if got := getEnvDuration("TEST_DURATION_NOT_SET", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() default = %v, want 1m", got)
	}
}

// TestLoadConfig tests loading configuration with defaults
func TestLoadConfig(t *testing.T) {
	os.Setenv("ONGO_POSTGRES_URL", "postgres://localhost/ongo_test")
	defer os.Unsetenv("ONGO_POSTGRES_URL")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Billing.GracePeriod != 7*24*time.Hour {
		t.Errorf("Billing.GracePeriod = %v, want 168h", cfg.Billing.GracePeriod)
	}
	if cfg.Billing.CronSchedule != "@every 5m" {
		t.Errorf("Billing.CronSchedule = %v, want @every 5m", cfg.Billing.CronSchedule)
	}
	if !cfg.Entitlement.CancelAccessAtPeriodEnd {
		t.Error("Entitlement.CancelAccessAtPeriodEnd should default to true")
	}
	if cfg.Entitlement.ResubscribeFreshAllowance {
		t.Error("Entitlement.ResubscribeFreshAllowance should default to false")
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("Observability.LogLevel = %v, want info", cfg.Observability.LogLevel)
	}
}

// TestLoadConfigMissingDatabase tests that a missing postgres URL fails validation
func TestLoadConfigMissingDatabase(t *testing.T) {
	os.Unsetenv("ONGO_POSTGRES_URL")

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() should fail without ONGO_POSTGRES_URL")
	}
}

// TestValidate tests configuration validation rules
func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: "8080", HealthPort: "9090"},
			Database: DatabaseConfig{URL: "postgres://localhost/ongo"},
			Redis:    RedisConfig{URL: "redis://localhost:6379"},
			Billing:  BillingConfig{GracePeriod: time.Hour, BatchLimit: 100, Workers: 4},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "same server and health port", mutate: func(c *Config) { c.Server.HealthPort = "8080" }, wantErr: true},
		{name: "missing redis URL", mutate: func(c *Config) { c.Redis.URL = "" }, wantErr: true},
		{name: "zero grace period", mutate: func(c *Config) { c.Billing.GracePeriod = 0 }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Billing.Workers = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
