package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/overtone-audio/storefront-backend/api/controllers"
	webhookcontrollers "github.com/overtone-audio/storefront-backend/api/controllers/webhooks"
	"github.com/overtone-audio/storefront-backend/api/middleware"
	"github.com/overtone-audio/storefront-backend/internal/orders"
	"github.com/overtone-audio/storefront-backend/internal/retry"
	stripewebhook "github.com/overtone-audio/storefront-backend/internal/webhooks/stripe"
	"github.com/overtone-audio/storefront-backend/pkg/config"
	"github.com/overtone-audio/storefront-backend/pkg/db"
	"github.com/overtone-audio/storefront-backend/pkg/logger"
	"github.com/overtone-audio/storefront-backend/pkg/redis"
	"github.com/overtone-audio/storefront-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	ordersSvc orders.Service,
	retryCtrl retry.Controller,
	stripeClient *stripe.Client,
	stripeWebhookService *stripewebhook.Service,
	stripeWebhookGuard *stripewebhook.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Idempotency(redisClient, logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, redisClient))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, stripeWebhookGuard, logg))
	})

	retryPolicy := retry.PolicyFromConfig(cfg.Retry)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", controllers.Checkout(ordersSvc, logg))
		r.Route("/orders", func(r chi.Router) {
			r.Get("/{orderId}", controllers.GetOrder(ordersSvc, logg))
			r.Post("/{orderId}/retry-payment", controllers.RetryPayment(retryCtrl, retryPolicy, logg))
		})
	})

	return r
}
