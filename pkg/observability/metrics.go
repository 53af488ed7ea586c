package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the entitlement engine
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing scheduler metrics
	BillingTicksTotal     prometheus.Counter
	BillingTickDuration   prometheus.Histogram
	ChargeAttemptsTotal   *prometheus.CounterVec
	SubscriptionsByStatus *prometheus.GaugeVec

	// Credit ledger metrics
	CreditSpendTotal     *prometheus.CounterVec
	CreditGrantsTotal    *prometheus.CounterVec
	CreditBatchesExpired prometheus.Counter

	// Coupon metrics
	CouponAppliesTotal *prometheus.CounterVec

	// Quota metrics
	QuotaChecksTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ongo_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ongo_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		BillingTicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ongo_billing_ticks_total",
				Help: "Total number of billing scheduler ticks",
			},
		),
		BillingTickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ongo_billing_tick_duration_seconds",
				Help:    "Billing tick duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		ChargeAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ongo_charge_attempts_total",
				Help: "Charge attempts by outcome (succeeded, declined, transient_error, skipped)",
			},
			[]string{"outcome"},
		),
		SubscriptionsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ongo_subscriptions",
				Help: "Subscriptions by lifecycle status",
			},
			[]string{"status"},
		),
		CreditSpendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ongo_credit_spend_total",
				Help: "Credits spent by feature",
			},
			[]string{"feature"},
		),
		CreditGrantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ongo_credit_grants_total",
				Help: "Credits granted by source (allowance, purchase)",
			},
			[]string{"source"},
		),
		CreditBatchesExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ongo_credit_batches_expired_total",
				Help: "Purchased credit batches forfeited at expiry",
			},
		),
		CouponAppliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ongo_coupon_applies_total",
				Help: "Coupon applications by outcome",
			},
			[]string{"outcome"},
		),
		QuotaChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ongo_quota_checks_total",
				Help: "Storage quota checks by outcome",
			},
			[]string{"outcome"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ongo_cache_hits_total",
				Help: "Entitlement cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ongo_cache_misses_total",
				Help: "Entitlement cache misses by tier",
			},
			[]string{"tier"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.BillingTicksTotal,
		m.BillingTickDuration,
		m.ChargeAttemptsTotal,
		m.SubscriptionsByStatus,
		m.CreditSpendTotal,
		m.CreditGrantsTotal,
		m.CreditBatchesExpired,
		m.CouponAppliesTotal,
		m.QuotaChecksTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)
	return m
}

// Handler returns an HTTP handler serving the registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one HTTP request
func (m *Metrics) ObserveHTTP(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
