package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/FanPass/internal/pkg/apperror"
	"github.com/ManuelReschke/FanPass/internal/pkg/subscriber"
	"github.com/ManuelReschke/FanPass/internal/pkg/subscription"
)

// SubscriptionController serves subscriber-facing reads.
type SubscriptionController struct {
	store     *subscription.Store
	directory *subscriber.Directory
}

func NewSubscriptionController(store *subscription.Store, directory *subscriber.Directory) *SubscriptionController {
	return &SubscriptionController{store: store, directory: directory}
}

func identityFromQuery(c *fiber.Ctx) (subscription.SubscriberIdentity, error) {
	if email := strings.TrimSpace(c.Query("email")); email != "" {
		return subscription.ByEmail(email), nil
	}
	if userID := strings.TrimSpace(c.Query("userId")); userID != "" {
		return subscription.ByUserID(userID), nil
	}
	return subscription.SubscriberIdentity{}, apperror.Validation("email", "email or userId query parameter is required")
}

// HandleStatus answers from the subscriptions table. Use it to gate paid
// content.
func (sc *SubscriptionController) HandleStatus(c *fiber.Ctx) error {
	identity, err := identityFromQuery(c)
	if err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c, 0)
	defer cancel()

	sub, err := sc.store.GetActiveSubscription(ctx, identity)
	if err != nil {
		return respondError(c, err)
	}

	body := fiber.Map{
		"success": true,
		"active":  sub != nil,
	}
	if sub != nil {
		body["subscription"] = sub
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

// HandleProfile returns the cached subscriber profile for fast UI reads.
func (sc *SubscriptionController) HandleProfile(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Query("email"))
	if key == "" {
		key = strings.TrimSpace(c.Query("userId"))
	}

	ctx, cancel := requestContext(c, 0)
	defer cancel()

	profile, err := sc.directory.Profile(ctx, key)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"profile": profile,
	})
}

func (sc *SubscriptionController) HandlePlans(c *fiber.Ctx) error {
	plans := subscription.Plans()
	out := make([]fiber.Map, 0, len(plans))
	for _, p := range plans {
		out = append(out, fiber.Map{
			"id":           p.ID,
			"name":         p.Name,
			"price":        p.Price.StringFixed(2),
			"currency":     p.Currency,
			"durationDays": p.DurationDays,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"plans":   out,
	})
}
