package controllers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/FanPass/app/models"
	"github.com/ManuelReschke/FanPass/internal/pkg/apperror"
	"github.com/ManuelReschke/FanPass/internal/pkg/gateway"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
	"github.com/ManuelReschke/FanPass/internal/pkg/reconcile"
	"github.com/ManuelReschke/FanPass/internal/pkg/subscription"
)

// PixCreator issues PIX charges.
type PixCreator interface {
	CreatePixPayment(ctx context.Context, in gateway.PixPaymentRequest) (*gateway.PixPayment, error)
}

// PaymentController serves the payment entry points.
type PaymentController struct {
	engine        *reconcile.Engine
	pix           PixCreator
	webhookSecret string
}

func NewPaymentController(engine *reconcile.Engine, pix PixCreator, webhookSecret string) *PaymentController {
	return &PaymentController{
		engine:        engine,
		pix:           pix,
		webhookSecret: strings.TrimSpace(webhookSecret),
	}
}

type verifyPaymentRequest struct {
	PaymentID  string `json:"paymentId" validate:"required"`
	MaxRetries *int   `json:"maxRetries" validate:"omitempty,min=1,max=10"`
	DelayMs    *int   `json:"delayMs" validate:"omitempty,min=0,max=10000"`
}

func (r verifyPaymentRequest) policy() gateway.RetryPolicy {
	p := gateway.RetryPolicy{Delay: -1}
	if r.MaxRetries != nil {
		p.MaxAttempts = *r.MaxRetries
	}
	if r.DelayMs != nil {
		p.Delay = time.Duration(*r.DelayMs) * time.Millisecond
	}
	return p
}

// timeout leaves room for every attempt plus the waits between them.
func (r verifyPaymentRequest) timeout() time.Duration {
	attempts, delay := 5, 2*time.Second
	if r.MaxRetries != nil {
		attempts = *r.MaxRetries
	}
	if r.DelayMs != nil {
		delay = time.Duration(*r.DelayMs) * time.Millisecond
	}
	return defaultRequestTimeout + time.Duration(attempts)*(delay+defaultRequestTimeout)
}

type confirmPaymentRequest struct {
	PaymentID string `json:"paymentId" validate:"required"`
}

type createPixRequest struct {
	Email       string      `json:"email" validate:"required,email"`
	Name        string      `json:"name" validate:"required"`
	Amount      json.Number `json:"amount"`
	CPF         string      `json:"cpf" validate:"required"`
	Description string      `json:"description"`
	PlanID      string      `json:"planId"`
}

// HandleWebhook receives gateway notifications. It answers 200 for everything
// except a bad signature so the gateway does not redeliver forever.
func (pc *PaymentController) HandleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.Body()...)
	log := logger.Component("webhook")

	n, err := gateway.ParseNotification(rawBody, c.Queries())
	if err != nil {
		log.WithError(err).Warn("unreadable webhook delivery")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"ok":      false,
			"outcome": reconcile.OutcomeIgnored,
			"message": "invalid notification payload",
		})
	}

	signatureValid := false
	if pc.webhookSecret != "" {
		signatureValid = gateway.VerifyWebhookSignature(c.Get("x-signature"), c.Get("x-request-id"), n.PaymentID, pc.webhookSecret)
		if !signatureValid {
			log.WithField("payment_id", n.PaymentID).Warn("webhook signature rejected")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"ok": false, "error": "invalid_signature"})
		}
	}

	ctx, cancel := requestContext(c, 0)
	defer cancel()

	res, err := pc.engine.HandleDelivery(ctx, reconcile.Delivery{
		Notification:   n,
		Payload:        rawBody,
		SignatureValid: signatureValid,
	})
	if err != nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"ok":        false,
			"outcome":   "error",
			"message":   publicMessage(err),
			"retryable": apperror.IsRetryable(err),
		})
	}

	body := fiber.Map{
		"ok":      true,
		"outcome": res.Outcome,
		"message": res.Message,
	}
	if res.SubscriptionID != "" {
		body["subscriptionId"] = res.SubscriptionID
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

// HandleVerify reports the gateway status of a payment. It never creates a
// subscription.
func (pc *PaymentController) HandleVerify(c *fiber.Ctx) error {
	var req verifyPaymentRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c, req.timeout())
	defer cancel()

	rec, err := pc.engine.Verify(ctx, req.PaymentID, req.policy())
	if err != nil {
		return respondError(c, err)
	}

	approved := rec.IsApproved()
	message := "payment is " + rec.Status
	if approved {
		message = "payment approved"
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":    true,
		"payment":    paymentView(rec),
		"isApproved": approved,
		"message":    message,
	})
}

// HandleConfirm verifies a payment and activates the subscription when the
// gateway reports it approved.
func (pc *PaymentController) HandleConfirm(c *fiber.Ctx) error {
	var req confirmPaymentRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c, time.Minute)
	defer cancel()

	res, err := pc.engine.Reconcile(ctx, reconcile.Request{
		PaymentID: req.PaymentID,
		Source:    models.SubscriptionSourceVerify,
	})
	if err != nil {
		return respondError(c, err)
	}

	body := fiber.Map{
		"success":    true,
		"outcome":    res.Outcome,
		"isApproved": res.Approved(),
		"message":    res.Message,
	}
	if res.SubscriptionID != "" {
		body["subscriptionId"] = res.SubscriptionID
	}
	if res.Payment != nil {
		body["payment"] = paymentView(res.Payment)
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

// HandleCreatePix creates a PIX charge and returns the QR code.
func (pc *PaymentController) HandleCreatePix(c *fiber.Ctx) error {
	var req createPixRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	if !gateway.ValidTaxID(req.CPF) {
		return respondError(c, apperror.Validation("cpf", "must contain exactly 11 digits"))
	}

	var plan *subscription.Plan
	if id := strings.TrimSpace(req.PlanID); id != "" {
		p, ok := subscription.LookupPlan(id)
		if !ok {
			return respondError(c, apperror.NotFound("plan", id))
		}
		plan = &p
	}

	amount := decimal.Zero
	switch {
	case req.Amount.String() != "":
		parsed, err := decimal.NewFromString(req.Amount.String())
		if err != nil {
			return respondError(c, apperror.Validation("amount", "must be a number"))
		}
		amount = parsed
	case plan != nil:
		amount = plan.Price
	default:
		return respondError(c, apperror.Validation("amount", "is required"))
	}
	if plan != nil && !amount.Equal(plan.Price) {
		return respondError(c, apperror.Validation("amount", "must equal the "+plan.ID+" price "+plan.Price.StringFixed(2)))
	}

	in := gateway.PixPaymentRequest{
		Amount:      amount,
		PayerEmail:  strings.ToLower(strings.TrimSpace(req.Email)),
		PayerName:   req.Name,
		TaxID:       req.CPF,
		Description: req.Description,
	}
	if plan != nil {
		in.ExternalReference = "plan:" + plan.ID
		if strings.TrimSpace(in.Description) == "" {
			in.Description = "FanPass " + plan.Name
		}
	}

	ctx, cancel := requestContext(c, 0)
	defer cancel()

	pix, err := pc.pix.CreatePixPayment(ctx, in)
	if err != nil {
		return respondError(c, err)
	}

	logger.Component("payments").WithFields(logrus.Fields{
		"payment_id": pix.PaymentID,
		"email":      in.PayerEmail,
	}).Info("pix charge issued")

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":   true,
		"paymentId": pix.PaymentID,
		"pixData": fiber.Map{
			"qrCode":       pix.QRCode,
			"qrCodeBase64": pix.QRCodeImage,
			"ticketUrl":    pix.TicketURL,
		},
		"message": "PIX payment created",
	})
}

func paymentView(rec *gateway.PaymentRecord) fiber.Map {
	return fiber.Map{
		"id":       rec.ID,
		"status":   rec.Status,
		"amount":   rec.Amount.InexactFloat64(),
		"email":    rec.PayerEmail,
		"created":  formatTimePtr(rec.CreatedAt),
		"approved": formatTimePtr(rec.ApprovedAt),
	}
}

// formatTimePtr returns nil for a nil time, RFC3339 UTC otherwise.
func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
