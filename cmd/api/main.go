package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maralempay/maralempay-backend/api/routes"
	"github.com/maralempay/maralempay-backend/internal/discount"
	"github.com/maralempay/maralempay-backend/internal/notifications"
	"github.com/maralempay/maralempay-backend/internal/reconcile"
	"github.com/maralempay/maralempay-backend/internal/transactions"
	"github.com/maralempay/maralempay-backend/internal/users"
	"github.com/maralempay/maralempay-backend/internal/wallet"
	flutterwavewebhook "github.com/maralempay/maralempay-backend/internal/webhooks/flutterwave"
	"github.com/maralempay/maralempay-backend/pkg/config"
	"github.com/maralempay/maralempay-backend/pkg/db"
	"github.com/maralempay/maralempay-backend/pkg/flutterwave"
	"github.com/maralempay/maralempay-backend/pkg/logger"
	"github.com/maralempay/maralempay-backend/pkg/metrics"
	"github.com/maralempay/maralempay-backend/pkg/migrate"
	"github.com/maralempay/maralempay-backend/pkg/redis"
)

const webhookDedupeTTL = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
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

	flutterwaveClient, err := flutterwave.NewClient(context.Background(), cfg.Flutterwave, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create flutterwave client", err)
		os.Exit(1)
	}

	transactionsRepo := transactions.NewRepository(dbClient.DB())
	usersRepo := users.NewRepository(dbClient.DB())
	walletService := wallet.NewService(dbClient.DB())

	engine, err := reconcile.NewEngine(reconcile.Params{
		Repo:         transactionsRepo,
		Users:        usersRepo,
		Wallet:       walletService,
		Policy:       discount.NewPolicy(cfg.Discount),
		Gateway:      flutterwaveClient,
		Tx:           dbClient,
		Sender:       notifications.NewSender(context.Background(), cfg.Sendgrid, logg),
		Metrics:      metrics.NewReconcileMetrics(prometheus.DefaultRegisterer),
		Logger:       logg,
		RedirectURL:  cfg.Flutterwave.RedirectURL,
		Subscription: cfg.Subscription,
		Reconcile:    cfg.Reconcile,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation engine", err)
		os.Exit(1)
	}

	webhookService, err := flutterwavewebhook.NewService(flutterwavewebhook.ServiceParams{
		Engine: engine,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}
	webhookGuard, err := flutterwavewebhook.NewIdempotencyGuard(redisClient, webhookDedupeTTL, "flutterwave-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			engine,
			transactionsRepo,
			walletService,
			flutterwaveClient,
			webhookService,
			webhookGuard,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
