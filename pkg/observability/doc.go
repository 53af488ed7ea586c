// Package observability provides structured logging, Prometheus metrics,
// health checks, and graceful shutdown for the entitlement engine.
//
// # Overview
//
// Logging uses stdlib slog with a JSON handler behind a small Logger
// wrapper that carries request IDs and domain fields (user, subscription)
// through context. Metrics cover the HTTP surface, the billing scheduler
// phases, charge outcomes, the credit ledger, coupons, and the entitlement
// cache.
//
// # Usage Example
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//
//	logger.WithUser(userID).Info("subscription renewed")
//	metrics.ChargeAttemptsTotal.WithLabelValues("succeeded").Inc()
//
// # Related Packages
//
//   - pkg/httputil: middleware that feeds the HTTP metrics
//   - pkg/billing: scheduler instrumentation
package observability
