package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/TitanCloudAI/titan-cloud/app/controllers"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/billing"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/cache"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/database"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/env"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/mail"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	cfg := billing.LoadConfigFromEnv()
	if result := billing.NewConfigValidator().Validate(cfg); !result.Valid {
		// Startup proceeds so status and webhook bookkeeping stay up, but
		// every provider call will fail fast until the keys are fixed.
		log.Printf("billing configuration invalid: %v", result.Errors)
	}

	initializer := billing.NewInitializer(cfg)
	repo := billing.NewRepository(database.GetDB())
	svc := billing.NewService(initializer, repo, cfg)
	dispatcher := billing.NewDispatcher(cfg.WebhookSecret, repo, mail.NewBillingMailer(), initializer)
	controllers.InitializeBillingController(svc, dispatcher, cfg)

	go billing.NewHealthMonitor(initializer).RunHealthLoop(context.Background(), 5*time.Minute)

	app := fiber.New(fiber.Config{
		AppName: "Titan Cloud Billing",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
