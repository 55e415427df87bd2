package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/FanPass/internal/pkg/apperror"
	"github.com/ManuelReschke/FanPass/internal/pkg/env"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
)

const (
	defaultAPIBaseURL      = "https://api.mercadopago.com"
	defaultStatusAttempts  = 3
	defaultStatusDelay     = 2 * time.Second
	accessTokenSetting     = "MERCADOPAGO_ACCESS_TOKEN"
	paymentsPath           = "/v1/payments"
	maxResponseBodyBytes   = 1 << 20
	genericGatewayFailure  = "payment gateway request failed"
	paymentNotFoundMessage = "payment not found at the gateway"
)

// Client talks to the Mercado Pago payments API. Every call goes to the
// gateway; nothing is cached because a status can change between two calls.
type Client struct {
	AccessToken     string
	APIBaseURL      string
	NotificationURL string
	StatusRetry     RetryPolicy

	HTTPClient *http.Client

	// sleep waits between status attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClientFromEnv() *Client {
	return &Client{
		AccessToken:     strings.TrimSpace(env.GetEnv(accessTokenSetting, "")),
		APIBaseURL:      strings.TrimSpace(env.GetEnv("MERCADOPAGO_API_BASE_URL", defaultAPIBaseURL)),
		NotificationURL: strings.TrimSpace(env.GetEnv("MERCADOPAGO_NOTIFICATION_URL", "")),
		StatusRetry: RetryPolicy{
			MaxAttempts: env.GetInt("MERCADOPAGO_STATUS_MAX_RETRIES", defaultStatusAttempts),
			Delay:       time.Duration(env.GetInt("MERCADOPAGO_STATUS_RETRY_DELAY_MS", int(defaultStatusDelay/time.Millisecond))) * time.Millisecond,
		},
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// DefaultRetryPolicy is the policy used when callers pass a zero policy.
func (c *Client) DefaultRetryPolicy() RetryPolicy {
	return c.StatusRetry.normalized(RetryPolicy{MaxAttempts: defaultStatusAttempts, Delay: defaultStatusDelay})
}

// CreatePixPayment issues a PIX charge and returns the QR code data.
func (c *Client) CreatePixPayment(ctx context.Context, in PixPaymentRequest) (*PixPayment, error) {
	if strings.TrimSpace(c.AccessToken) == "" {
		return nil, &apperror.ConfigurationError{Setting: accessTokenSetting}
	}
	if !in.Amount.GreaterThan(decimal.Zero) {
		return nil, apperror.Validation("amount", "must be greater than zero")
	}
	taxID := NormalizeTaxID(in.TaxID)
	if len(taxID) != 11 {
		return nil, apperror.Validation("cpf", "must contain exactly 11 digits")
	}
	email := strings.TrimSpace(in.PayerEmail)
	if email == "" {
		return nil, apperror.Validation("email", "is required")
	}

	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = "FanPass subscription"
	}
	firstName, lastName := splitName(in.PayerName)

	payload := map[string]any{
		"transaction_amount": json.Number(in.Amount.StringFixed(2)),
		"description":        description,
		"payment_method_id":  "pix",
		"payer": map[string]any{
			"email":      email,
			"first_name": firstName,
			"last_name":  lastName,
			"identification": map[string]string{
				"type":   "CPF",
				"number": taxID,
			},
		},
	}
	if ref := strings.TrimSpace(in.ExternalReference); ref != "" {
		payload["external_reference"] = ref
	}
	if c.NotificationURL != "" {
		payload["notification_url"] = c.NotificationURL
	}

	status, body, err := c.doJSON(ctx, http.MethodPost, paymentsPath, payload, uuid.NewString())
	if err != nil {
		return nil, &apperror.GatewayError{Op: "create pix payment", Message: err.Error(), Retryable: true, Attempts: 1, Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &apperror.GatewayError{
			Op:         "create pix payment",
			StatusCode: status,
			Message:    providerMessage(body),
			Retryable:  isRetryableStatus(status),
			Attempts:   1,
		}
	}

	var out apiPayment
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &apperror.GatewayError{Op: "create pix payment", StatusCode: status, Message: "invalid gateway response", Err: err}
	}
	if strings.TrimSpace(string(out.ID)) == "" {
		return nil, &apperror.GatewayError{Op: "create pix payment", StatusCode: status, Message: "gateway response missing payment id"}
	}

	logger.Component("gateway").WithFields(logrus.Fields{
		"payment_id": string(out.ID),
		"status":     out.Status,
		"amount":     in.Amount.StringFixed(2),
	}).Info("pix payment created")

	td := out.PointOfInteraction.TransactionData
	return &PixPayment{
		PaymentID:   strings.TrimSpace(string(out.ID)),
		QRCode:      td.QRCode,
		QRCodeImage: td.QRCodeBase64,
		TicketURL:   td.TicketURL,
		Status:      NormalizeStatus(out.Status),
	}, nil
}

// GetPaymentStatus fetches the payment, retrying transient failures. The
// gateway is eventually consistent right after creation, so 404 counts as
// "not there yet" until the attempts run out. Other 4xx responses fail fast.
func (c *Client) GetPaymentStatus(ctx context.Context, paymentID string, policy RetryPolicy) (*PaymentRecord, error) {
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return nil, apperror.Validation("paymentId", "is required")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return nil, &apperror.ConfigurationError{Setting: accessTokenSetting}
	}
	policy = policy.normalized(c.DefaultRetryPolicy())
	log := logger.Component("gateway").WithField("payment_id", id)

	var lastErr *apperror.GatewayError
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		rec, gwErr := c.fetchPayment(ctx, id)
		fields := logrus.Fields{"attempt": attempt, "max_attempts": policy.MaxAttempts}
		if gwErr == nil {
			log.WithFields(fields).WithField("status", rec.Status).Info("payment status fetched")
			return rec, nil
		}

		lastErr = gwErr
		lastErr.Attempts = attempt
		log.WithFields(fields).WithFields(logrus.Fields{
			"http_status": gwErr.StatusCode,
			"retryable":   gwErr.Retryable,
		}).WithError(gwErr).Warn("payment status attempt failed")

		if !gwErr.Retryable || attempt == policy.MaxAttempts {
			break
		}
		if err := c.wait(ctx, policy.Delay); err != nil {
			return nil, &apperror.GatewayError{
				Op:         "get payment status",
				StatusCode: lastErr.StatusCode,
				Message:    "cancelled while waiting to retry",
				Retryable:  true,
				Attempts:   attempt,
				Err:        errors.Join(err, lastErr),
			}
		}
	}

	// Still unknown after every attempt: the id itself is wrong.
	if lastErr.StatusCode == http.StatusNotFound {
		lastErr.Retryable = false
		lastErr.Message = paymentNotFoundMessage
	}
	return nil, lastErr
}

func (c *Client) fetchPayment(ctx context.Context, id string) (*PaymentRecord, *apperror.GatewayError) {
	status, body, err := c.doJSON(ctx, http.MethodGet, paymentsPath+"/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, &apperror.GatewayError{Op: "get payment status", Message: err.Error(), Retryable: ctx.Err() == nil, Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &apperror.GatewayError{
			Op:         "get payment status",
			StatusCode: status,
			Message:    providerMessage(body),
			Retryable:  status == http.StatusNotFound || isRetryableStatus(status),
		}
	}

	var out apiPayment
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &apperror.GatewayError{Op: "get payment status", StatusCode: status, Message: "invalid gateway response", Err: err}
	}
	rec := out.toRecord(body)
	if rec.ID == "" {
		rec.ID = id
	}
	return rec, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, idempotencyKey string) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(buf)
	}

	base := strings.TrimRight(c.APIBaseURL, "/")
	if base == "" {
		base = defaultAPIBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read gateway response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// providerMessage extracts a human readable message from the gateway's error
// body, falling back to a generic text.
func providerMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil {
		return genericGatewayFailure
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	for _, cause := range e.Cause {
		if d := strings.TrimSpace(cause.Description); d != "" {
			return d
		}
	}
	if msg := strings.TrimSpace(e.Error); msg != "" {
		return msg
	}
	return genericGatewayFailure
}
