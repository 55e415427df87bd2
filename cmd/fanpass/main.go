package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/FanPass/app/controllers"
	"github.com/ManuelReschke/FanPass/internal/pkg/bootstrap"
	"github.com/ManuelReschke/FanPass/internal/pkg/env"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
	"github.com/ManuelReschke/FanPass/internal/pkg/middleware"
	"github.com/ManuelReschke/FanPass/internal/pkg/router"
	"github.com/ManuelReschke/FanPass/internal/pkg/sweeper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services := bootstrap.Setup(ctx)
	app := NewApplication(services)
	log := logger.Component("main")

	sweep := sweeper.NewFromEnv(services.Engine)
	if sweep != nil {
		if err := sweep.Start(); err != nil {
			log.WithError(err).Fatal("could not start subscription sweeper")
		}
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if sweep != nil {
			sweep.Stop(30 * time.Second)
		}
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.WithError(err).Error("http shutdown failed")
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("http server stopped")
	}
}

func NewApplication(services *bootstrap.Services) *fiber.App {
	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/fanpass to project root
		"../../../", // Fallback
	}

	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			basePath = path
			break
		}
	}

	app := fiber.New(fiber.Config{
		AppName:   "FanPass",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), fiberlogger.New(fiberlogger.Config{
		Output: logger.Writer("http", logrus.InfoLevel),
	}))

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	// SWAGGER / OPENAPI
	if basePath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     "v1",
		}))
	} else {
		logger.Component("main").Warn("openapi document not found, /docs disabled")
	}

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Payments:      controllers.NewPaymentController(services.Engine, services.Gateway, env.GetEnv("MERCADOPAGO_WEBHOOK_SECRET", "")),
		Subscriptions: controllers.NewSubscriptionController(services.Store, services.Directory),
		Admin:         controllers.NewAdminSubscriptionController(services.Engine),
		AdminAuth:     middleware.RequireAdmin(middleware.AdminCredentialsFromEnv()),
		LimiterStorage: redisstorage.New(redisstorage.Config{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetInt("CACHE_PORT", 6379),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			Database: 3, // separate database for rate limits
			Reset:    false,
		}),
	})

	return app
}
