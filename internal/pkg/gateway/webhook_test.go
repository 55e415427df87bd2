package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification_Body(t *testing.T) {
	raw := []byte(`{
		"id": 12345,
		"live_mode": true,
		"type": "payment",
		"action": "payment.updated",
		"data": {"id": "PAY1"}
	}`)

	n, err := ParseNotification(raw, nil)
	require.NoError(t, err)
	assert.True(t, n.IsPayment())
	assert.Equal(t, "12345", n.EventID)
	assert.Equal(t, "PAY1", n.PaymentID)
	assert.Equal(t, "payment.updated", n.Action)
}

func TestParseNotification_NumericDataID(t *testing.T) {
	n, err := ParseNotification([]byte(`{"type": "payment", "data": {"id": 987654321}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "987654321", n.PaymentID)
	assert.Empty(t, n.EventID)
}

func TestParseNotification_QueryFallback(t *testing.T) {
	n, err := ParseNotification(nil, map[string]string{"topic": "payment", "id": "PAY9"})
	require.NoError(t, err)
	assert.True(t, n.IsPayment())
	assert.Equal(t, "PAY9", n.PaymentID)

	n, err = ParseNotification([]byte(`{}`), map[string]string{"type": "payment", "data.id": "PAY10"})
	require.NoError(t, err)
	assert.Equal(t, "PAY10", n.PaymentID)
}

func TestParseNotification_NonPayment(t *testing.T) {
	n, err := ParseNotification([]byte(`{"type": "merchant_order", "data": {"id": "1"}}`), nil)
	require.NoError(t, err)
	assert.False(t, n.IsPayment())
}

func TestParseNotification_Invalid(t *testing.T) {
	_, err := ParseNotification([]byte(`{not json`), nil)
	assert.Error(t, err)

	_, err = ParseNotification([]byte(`{"data": {"id": "1"}}`), nil)
	assert.Error(t, err)
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec-test"
	header := SignWebhook("PAY1", "req-1", "1700000000", secret)

	assert.True(t, VerifyWebhookSignature(header, "req-1", "PAY1", secret))
	assert.True(t, VerifyWebhookSignature(header, "req-1", "pay1", secret), "data id is lowercased in the manifest")
	assert.False(t, VerifyWebhookSignature(header, "req-2", "PAY1", secret))
	assert.False(t, VerifyWebhookSignature(header, "req-1", "PAY2", secret))
	assert.False(t, VerifyWebhookSignature(header, "req-1", "PAY1", "other-secret"))
	assert.False(t, VerifyWebhookSignature("ts=1700000000,v1=zz", "req-1", "PAY1", secret))
	assert.False(t, VerifyWebhookSignature("", "req-1", "PAY1", secret))
	assert.False(t, VerifyWebhookSignature(header, "req-1", "PAY1", ""))
}

func TestTaxIDHelpers(t *testing.T) {
	assert.Equal(t, "1234567890", NormalizeTaxID("123.456.789-0"))
	assert.Equal(t, "12345678901", NormalizeTaxID("123.456.789-01"))
	assert.False(t, ValidTaxID("123.456.789-0"))
	assert.True(t, ValidTaxID("123.456.789-01"))

	first, last := splitName("  Ana   Maria Souza ")
	assert.Equal(t, "Ana", first)
	assert.Equal(t, "Maria Souza", last)
}
