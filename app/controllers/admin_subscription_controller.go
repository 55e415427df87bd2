package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
	"github.com/ManuelReschke/FanPass/internal/pkg/reconcile"
)

// AdminSubscriptionController serves the support tooling behind admin auth.
type AdminSubscriptionController struct {
	engine *reconcile.Engine
}

func NewAdminSubscriptionController(engine *reconcile.Engine) *AdminSubscriptionController {
	return &AdminSubscriptionController{engine: engine}
}

type adminDebugRequest struct {
	Action string `json:"action" validate:"required,oneof=check fix"`
	Email  string `json:"email" validate:"required,email"`
}

// HandleDebug runs "check" (inspect stored rows) or "fix" (grant a 30 day
// window without gateway verification).
func (ac *AdminSubscriptionController) HandleDebug(c *fiber.Ctx) error {
	var req adminDebugRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c, 0)
	defer cancel()

	if req.Action == "check" {
		insp, err := ac.engine.Inspect(ctx, req.Email)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"success":       true,
			"email":         req.Email,
			"users":         insp.Users,
			"subscriptions": insp.Subscriptions,
			"events":        insp.Events,
		})
	}

	fix, err := ac.engine.ManualFix(ctx, req.Email)
	if err != nil {
		return respondError(c, err)
	}
	logger.Component("admin").WithFields(logrus.Fields{
		"email":           fix.Subscription.Email,
		"subscription_id": fix.Subscription.ID,
		"created":         fix.Created,
		"admin":           c.Locals("username"),
	}).Warn("manual subscription fix applied")

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":        true,
		"subscriptionId": fix.Subscription.ID,
		"paymentId":      fix.Subscription.PaymentID,
		"created":        fix.Created,
		"endDate":        fix.Subscription.EndDate,
		"message":        "subscription activated manually",
	})
}

// HandleList returns every subscription with its plan.
func (ac *AdminSubscriptionController) HandleList(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, 0)
	defer cancel()

	subs, err := ac.engine.Store().GetAllSubscriptions(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":       true,
		"count":         len(subs),
		"subscriptions": subs,
	})
}

// HandleStats reports table counts and reconciliation outcome totals.
func (ac *AdminSubscriptionController) HandleStats(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, 0)
	defer cancel()

	stats, err := ac.engine.Stats(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":       true,
		"subscriptions": stats.Subscriptions,
		"outcomes":      stats.Outcomes,
	})
}
