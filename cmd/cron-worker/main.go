package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/internal/cron"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/storefront"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/instance"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	// reconciliation only commits from ledger snapshots, so no gateway client is needed here
	services, err := storefront.New(storefront.Deps{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient,
		Redis:   redisClient,
		Metrics: metrics.NewStorefrontMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build storefront services", err)
		os.Exit(1)
	}

	schedule, err := buildSchedule(cfg, logg, dbClient, services)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron schedule", err)
		os.Exit(1)
	}

	leaser, err := cron.NewRedisLeaser(redisClient, cfg.App.Env)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron leaser", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Schedule: schedule,
		Leaser:   leaser,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Tick:     cfg.Cron.Tick,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"instance":    instance.GetID(),
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	stopMetrics := metrics.Serve(ctx, logg, cfg.Metrics.Addr)
	defer stopMetrics()

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildSchedule(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *storefront.Services) (*cron.Schedule, error) {
	reconcile, err := cron.NewPaymentReconciliationJob(cron.PaymentReconciliationJobParams{
		Logger:     logg,
		DB:         dbClient,
		Payments:   services.Payments,
		Reconciler: services.Checkout,
		Outbox:     services.Outbox,
		Grace:      cfg.Payment.ReconcileGrace,
		MaxTries:   cfg.Payment.ReconcileMaxTries,
		Expiry:     cfg.Payment.PendingExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("payment reconciliation job: %w", err)
	}
	cartPurge, err := cron.NewCartPurgeJob(cron.CartPurgeJobParams{
		Logger:    logg,
		Carts:     services.CartStore,
		Retention: cfg.Cart.AbandonedRetention,
	})
	if err != nil {
		return nil, fmt.Errorf("cart purge job: %w", err)
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Outbox:      services.OutboxRepo,
		DLQ:         outbox.NewDLQRepository(dbClient.DB()),
		Retention:   cfg.Outbox.Retention,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	notificationCleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: notifications.NewRepository(dbClient.DB()),
		Retention:  cfg.Notifications.ReadRetention,
	})
	if err != nil {
		return nil, fmt.Errorf("notification cleanup job: %w", err)
	}
	return cron.NewSchedule(
		cron.Every(cfg.Cron.ReconcileEvery, reconcile),
		cron.Every(cfg.Cron.CartPurgeEvery, cartPurge),
		cron.Every(cfg.Cron.OutboxRetentionEvery, outboxRetention),
		cron.Every(cfg.Cron.NotificationCleanupEvery, notificationCleanup),
	), nil
}
