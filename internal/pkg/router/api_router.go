package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/FanPass/app/controllers"
	"github.com/ManuelReschke/FanPass/internal/pkg/env"
)

// Dependencies are the controllers and middleware the API routes need.
type Dependencies struct {
	Payments      *controllers.PaymentController
	Subscriptions *controllers.SubscriptionController
	Admin         *controllers.AdminSubscriptionController
	AdminAuth     fiber.Handler
	// LimiterStorage shares rate-limit counters between instances; nil keeps
	// them in memory.
	LimiterStorage fiber.Storage
}

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetInt("API_RATE_LIMIT", 60),
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		// gateway deliveries come in bursts from a few IPs
		Next: func(c *fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), "/payments/webhook")
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "rate_limited",
				"message": "too many requests",
			})
		},
	}))
	v1 := api.Group("/v1")

	payments := v1.Group("/payments")
	payments.Post("/webhook", h.deps.Payments.HandleWebhook)
	payments.Post("/verify", h.deps.Payments.HandleVerify)
	payments.Post("/confirm", h.deps.Payments.HandleConfirm)
	payments.Post("/pix", h.deps.Payments.HandleCreatePix)

	subs := v1.Group("/subscriptions")
	subs.Get("/status", h.deps.Subscriptions.HandleStatus)
	subs.Get("/profile", h.deps.Subscriptions.HandleProfile)
	v1.Get("/plans", h.deps.Subscriptions.HandlePlans)

	adminAuth := h.deps.AdminAuth
	if adminAuth == nil {
		adminAuth = func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "unauthorized"})
		}
	}
	admin := v1.Group("/admin", adminAuth)
	admin.Post("/subscriptions/debug", h.deps.Admin.HandleDebug)
	admin.Get("/subscriptions", h.deps.Admin.HandleList)
	admin.Get("/stats", h.deps.Admin.HandleStats)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
