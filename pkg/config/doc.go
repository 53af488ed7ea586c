// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	ONGO_HOST="0.0.0.0"
//	ONGO_PORT="8080"
//	ONGO_HEALTH_PORT="9090"
//	ONGO_READ_TIMEOUT="15s"
//	ONGO_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	ONGO_POSTGRES_URL="postgres://localhost/ongo"
//	ONGO_POSTGRES_MAX_CONNS="20"
//
// Cache settings:
//
//	ONGO_REDIS_URL="redis://localhost:6379"
//	ONGO_CACHE_TTL="5m"
//	ONGO_CACHE_LOCAL_TTL="10s"
//
// Billing scheduler settings:
//
//	ONGO_BILLING_SCHEDULE="@every 5m"
//	ONGO_BILLING_GRACE_PERIOD="168h"
//	ONGO_BILLING_BATCH_LIMIT="500"
//	ONGO_BILLING_WORKERS="8"
//
// Entitlement policy settings:
//
//	ONGO_CANCEL_ACCESS_AT_PERIOD_END="true"
//	ONGO_RESUBSCRIBE_FRESH_ALLOWANCE="false"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Port)
package config
