package controllers

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/FanPass/internal/pkg/apperror"
	"github.com/ManuelReschke/FanPass/internal/pkg/gateway"
)

func TestFormatTimePtr(t *testing.T) {
	assert.Nil(t, formatTimePtr(nil))

	now := time.Date(2024, 5, 1, 12, 34, 56, 0, time.FixedZone("BRT", -3*3600))
	formatted := formatTimePtr(&now)
	assert.IsType(t, "", formatted)
	assert.Equal(t, "2024-05-01T15:34:56Z", formatted)
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", apperror.Validation("email", "is required"), "email: is required"},
		{"not found", apperror.NotFound("plan", "weekly"), `plan "weekly" not found`},
		{"configuration", &apperror.ConfigurationError{Setting: "MERCADOPAGO_ACCESS_TOKEN"}, "payment service is not configured"},
		{"retryable gateway", &apperror.GatewayError{Op: "get payment", StatusCode: 503, Retryable: true, Message: "upstream body"}, "payment gateway is temporarily unavailable, please try again later"},
		{"final gateway", &apperror.GatewayError{Op: "get payment", StatusCode: 400, Message: "invalid payer"}, "invalid payer"},
		{"final gateway without text", &apperror.GatewayError{Op: "get payment", StatusCode: 400}, "payment gateway rejected the request"},
		{"unknown", errors.New("dial tcp: connection refused"), "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, publicMessage(tt.err))
		})
	}
}

func TestVerifyRequestPolicy(t *testing.T) {
	assert.Equal(t, gateway.RetryPolicy{Delay: -1}, verifyPaymentRequest{}.policy())

	attempts, delay := 3, 250
	p := verifyPaymentRequest{MaxRetries: &attempts, DelayMs: &delay}.policy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.Delay)

	only := verifyPaymentRequest{MaxRetries: &attempts}.policy()
	assert.Equal(t, time.Duration(-1), only.Delay)
}

func TestPaymentView(t *testing.T) {
	created := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	view := paymentView(&gateway.PaymentRecord{
		ID:         "PAY1",
		Status:     "approved",
		Amount:     decimal.RequireFromString("99.90"),
		PayerEmail: "a@example.com",
		CreatedAt:  &created,
	})
	assert.Equal(t, "PAY1", view["id"])
	assert.Equal(t, 99.9, view["amount"])
	assert.Equal(t, "2025-03-10T15:00:00Z", view["created"])
	assert.Nil(t, view["approved"])
}
