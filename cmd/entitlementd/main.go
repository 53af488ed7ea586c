package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rambozzang/ongo-sub007/pkg/api"
	"github.com/rambozzang/ongo-sub007/pkg/billing"
	"github.com/rambozzang/ongo-sub007/pkg/cache"
	"github.com/rambozzang/ongo-sub007/pkg/clock"
	"github.com/rambozzang/ongo-sub007/pkg/config"
	"github.com/rambozzang/ongo-sub007/pkg/coupon"
	"github.com/rambozzang/ongo-sub007/pkg/credit"
	"github.com/rambozzang/ongo-sub007/pkg/observability"
	"github.com/rambozzang/ongo-sub007/pkg/quota"
	"github.com/rambozzang/ongo-sub007/pkg/subscription"
	"github.com/rambozzang/ongo-sub007/pkg/usage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)
	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.WithError(err).Error("invalid redis URL")
		os.Exit(1)
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	redisOpts.DB = cfg.Redis.DB
	redisClient := redis.NewClient(redisOpts)

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	clk := clock.New()
	subs := subscription.NewPostgresService(db, clk)
	coupons := coupon.NewPostgresService(db, clk)
	credits := credit.NewPostgresService(db, clk)
	usageReader := usage.NewPostgresReader(db)
	guard := quota.NewGuard(subs, usageReader, clk, cfg.Entitlement.CancelAccessAtPeriodEnd)

	builder := cache.NewSnapshotBuilder(subs, guard, credits, clk)
	entitlements, err := cache.New(builder, redisClient, clk, metrics, cache.Config{
		TTL:       cfg.Redis.CacheTTL,
		LocalTTL:  cfg.Redis.LocalTTL,
		LocalSize: cfg.Redis.LocalSize,
	})
	if err != nil {
		logger.WithError(err).Error("failed to create entitlement cache")
		os.Exit(1)
	}

	attempts := billing.NewPostgresAttemptStore(db, clk)
	processor := billing.NewProcessor(subs, credits, coupons, attempts, billing.NewStubGateway(), entitlements, clk, logger, metrics, billing.Config{
		GracePeriod: cfg.Billing.GracePeriod,
		BatchLimit:  cfg.Billing.BatchLimit,
		Workers:     cfg.Billing.Workers,
	})

	server := api.NewServer(api.Deps{
		Subscriptions: subs,
		Coupons:       coupons,
		Credits:       credits,
		Quota:         guard,
		Entitlements:  entitlements,
		Charger:       processor,
		Logger:        logger,
		Metrics:       metrics,

		FreshAllowanceOnReactivate: cfg.Entitlement.ResubscribeFreshAllowance,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	healthMux.Handle("/metrics", observability.Handler(registry))
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	go func() {
		logger.Infof("entitlement API listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()
	go func() {
		logger.Infof("health and metrics listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
			os.Exit(1)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.RegisterServer(apiServer)
	shutdown.RegisterServer(healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error { return db.Close() })
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error { return redisClient.Close() })

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}
}
