package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/rambozzang/ongo-sub007/pkg/billing"
	"github.com/rambozzang/ongo-sub007/pkg/cache"
	"github.com/rambozzang/ongo-sub007/pkg/clock"
	"github.com/rambozzang/ongo-sub007/pkg/coupon"
	"github.com/rambozzang/ongo-sub007/pkg/credit"
	"github.com/rambozzang/ongo-sub007/pkg/observability"
	"github.com/rambozzang/ongo-sub007/pkg/subscription"
)

var (
	dbURL       = flag.String("db-url", getEnv("ONGO_POSTGRES_URL", "postgres://localhost/ongo?sslmode=disable"), "PostgreSQL connection URL")
	redisURL    = flag.String("redis-url", getEnv("ONGO_REDIS_URL", "redis://localhost:6379"), "Redis URL for entitlement cache invalidation (empty to disable)")
	schedule    = flag.String("schedule", getEnv("ONGO_BILLING_SCHEDULE", "@every 5m"), "Cron schedule for billing ticks")
	gracePeriod = flag.Duration("grace-period", 168*time.Hour, "How long past-due subscriptions keep entitlements before cancellation")
	batchLimit  = flag.Int("batch-limit", 500, "Maximum subscriptions fetched per phase per tick")
	workers     = flag.Int("workers", 8, "Concurrent subscriptions processed per phase")
	tickTimeout = flag.Duration("tick-timeout", 4*time.Minute, "Deadline for a single billing tick")
	runOnce     = flag.Bool("run-once", false, "Run one billing tick and exit (for testing and backfills)")
	logLevel    = flag.String("log-level", getEnv("ONGO_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	logger := setupLogger(*logLevel)

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.WithError(err).Fatal("Failed to ping database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Scheduler transitions revoke entitlements, so stale snapshots must be
	// dropped the same way the API does it after a mutation.
	var invalidator billing.SnapshotInvalidator
	if *redisURL != "" {
		redisOpts, err := redis.ParseURL(*redisURL)
		if err != nil {
			logger.WithError(err).Fatal("Invalid redis URL")
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		invalidator = cache.NewInvalidator(redisClient)
	} else {
		logger.Warn("Cache invalidation disabled; snapshots go stale until their TTL")
	}

	clk := clock.New()
	subs := subscription.NewPostgresService(db, clk)
	credits := credit.NewPostgresService(db, clk)
	coupons := coupon.NewPostgresService(db, clk)
	attempts := billing.NewPostgresAttemptStore(db, clk)

	processor := billing.NewProcessor(
		subs, credits, coupons, attempts, billing.NewStubGateway(), invalidator,
		clk, observability.NewLogger(parseLevel(*logLevel), os.Stdout), nil,
		billing.Config{
			GracePeriod: *gracePeriod,
			BatchLimit:  *batchLimit,
			Workers:     *workers,
		},
	)

	tick := func() {
		ctx, cancel := context.WithTimeout(context.Background(), *tickTimeout)
		defer cancel()

		start := time.Now()
		if err := processor.RunTick(ctx); err != nil {
			logger.WithError(err).Error("Billing tick failed")
			return
		}
		logger.WithField("duration", time.Since(start)).Info("Billing tick completed")
	}

	// Run once mode (for testing or catching up after downtime)
	if *runOnce {
		logger.Info("Running a single billing tick")
		tick()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*schedule, tick); err != nil {
		logger.WithError(err).Fatal("Failed to schedule billing tick")
	}

	c.Start()
	logger.WithField("schedule", *schedule).Info("Billing scheduler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully...")

	// Let an in-flight tick finish before exiting
	ctx := c.Stop()
	<-ctx.Done()

	logger.Info("Billing scheduler stopped")
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func parseLevel(level string) observability.LogLevel {
	switch level {
	case "debug":
		return observability.DebugLevel
	case "warn":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
