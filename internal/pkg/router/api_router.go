package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/TitanCloudAI/titan-cloud/app/controllers"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/env"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		Storage:    newLimiterStorage(),
	}))

	// The webhook endpoint stays outside API key auth; Stripe authenticates
	// itself via the signature header.
	api.Post("/webhook", controllers.HandleStripeWebhook)

	billing := api.Group("/billing", middleware.APIKeyAuthMiddleware())
	billing.Get("/config", controllers.HandleBillingConfig)
	billing.Post("/subscriptions", controllers.HandleCreateSubscription)
	billing.Get("/subscriptions/status", controllers.HandleSubscriptionStatus)
	billing.Post("/subscriptions/cancel", controllers.HandleCancelSubscription)
	billing.Post("/subscriptions/update", controllers.HandleUpdateSubscription)
	billing.Get("/invoices", controllers.HandleListInvoices)
	billing.Get("/report", controllers.HandleFinancialReport)
	billing.Get("/analytics", controllers.HandleBillingAnalytics)
}

// newLimiterStorage backs the rate limiter with Redis so limits hold across
// instances.
func newLimiterStorage() fiber.Storage {
	port, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	if err != nil {
		port = 6379
	}
	return redis.New(redis.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     port,
		Database: 1,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
