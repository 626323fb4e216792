package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maralempay/maralempay-backend/api/controllers"
	admincontrollers "github.com/maralempay/maralempay-backend/api/controllers/admin"
	purchasecontrollers "github.com/maralempay/maralempay-backend/api/controllers/purchases"
	subscriptioncontrollers "github.com/maralempay/maralempay-backend/api/controllers/subscriptions"
	walletcontrollers "github.com/maralempay/maralempay-backend/api/controllers/wallet"
	webhookcontrollers "github.com/maralempay/maralempay-backend/api/controllers/webhooks"
	"github.com/maralempay/maralempay-backend/api/middleware"
	"github.com/maralempay/maralempay-backend/internal/reconcile"
	"github.com/maralempay/maralempay-backend/internal/transactions"
	"github.com/maralempay/maralempay-backend/internal/wallet"
	flutterwavewebhook "github.com/maralempay/maralempay-backend/internal/webhooks/flutterwave"
	"github.com/maralempay/maralempay-backend/pkg/config"
	"github.com/maralempay/maralempay-backend/pkg/db"
	"github.com/maralempay/maralempay-backend/pkg/flutterwave"
	"github.com/maralempay/maralempay-backend/pkg/logger"
	"github.com/maralempay/maralempay-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	engine *reconcile.Engine,
	transactionsRepo transactions.Repository,
	walletService *wallet.Service,
	flutterwaveClient *flutterwave.Client,
	webhookService *flutterwavewebhook.Service,
	webhookGuard *flutterwavewebhook.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbClient, redisClient))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/flutterwave", webhookcontrollers.FlutterwaveWebhook(webhookService, flutterwaveClient, webhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.UserContext(logg))
			r.Use(middleware.Idempotency(redisClient, logg))

			r.Route("/purchases", func(r chi.Router) {
				r.Post("/", purchasecontrollers.Create(engine, logg))
				r.Get("/{reference}", purchasecontrollers.Detail(engine, logg))
				r.Post("/{reference}/verify", purchasecontrollers.VerifyPayment(engine, logg))
			})

			r.Route("/wallet", func(r chi.Router) {
				r.Get("/", walletcontrollers.Summary(walletService, logg))
				r.Post("/fund", walletcontrollers.Fund(engine, logg))
				r.Post("/purchases", walletcontrollers.Purchase(engine, logg))
			})

			r.Post("/subscriptions", subscriptioncontrollers.Create(engine, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(cfg.Admin, logg))
			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", admincontrollers.ListTransactions(transactionsRepo, logg))
				r.Post("/retry-pending", admincontrollers.RetryPending(engine, logg))
				r.Post("/{reference}/retry-refund", admincontrollers.RetryRefund(engine, logg))
			})
		})
	})

	return r
}
