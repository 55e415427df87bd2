package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Notification is the normalized form of a gateway webhook delivery.
type Notification struct {
	EventID   string
	Type      string
	Action    string
	PaymentID string
}

// IsPayment reports whether the delivery concerns a payment.
func (n *Notification) IsPayment() bool {
	return n != nil && strings.EqualFold(strings.TrimSpace(n.Type), "payment")
}

// ParseNotification reads a webhook delivery. The JSON body is preferred; the
// older query-string form (?type=payment&data.id=… or ?topic=payment&id=…) is
// used as a fallback.
func ParseNotification(body []byte, query map[string]string) (*Notification, error) {
	type rawPayload struct {
		ID     flexibleID `json:"id"`
		Type   string     `json:"type"`
		Topic  string     `json:"topic"`
		Action string     `json:"action"`
		Data   struct {
			ID flexibleID `json:"id"`
		} `json:"data"`
	}

	out := &Notification{}
	if len(strings.TrimSpace(string(body))) > 0 {
		var raw rawPayload
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("invalid webhook payload: %w", err)
		}
		out.EventID = strings.TrimSpace(string(raw.ID))
		out.Type = strings.TrimSpace(raw.Type)
		if out.Type == "" {
			out.Type = strings.TrimSpace(raw.Topic)
		}
		out.Action = strings.TrimSpace(raw.Action)
		out.PaymentID = strings.TrimSpace(string(raw.Data.ID))
	}

	if out.Type == "" {
		out.Type = firstNonEmpty(query["type"], query["topic"])
	}
	if out.PaymentID == "" {
		out.PaymentID = firstNonEmpty(query["data.id"], query["id"])
	}
	if out.Type == "" {
		return nil, errors.New("webhook payload missing type")
	}
	return out, nil
}

// VerifyWebhookSignature checks the x-signature header ("ts=…,v1=…"). The
// signed manifest is "id:<data.id>;request-id:<x-request-id>;ts:<ts>;" where
// parts with an empty value are left out.
func VerifyWebhookSignature(signatureHeader, requestID, dataID, secret string) bool {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return false
	}
	ts, v1 := parseSignatureHeader(signatureHeader)
	if ts == "" || v1 == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.ToLower(v1))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureManifest(dataID, requestID, ts)))
	return hmac.Equal(mac.Sum(nil), expected)
}

// SignWebhook produces an x-signature header value; used by tests and the CLI
// replay command.
func SignWebhook(dataID, requestID, ts, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureManifest(dataID, requestID, ts)))
	return "ts=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func signatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if id := strings.ToLower(strings.TrimSpace(dataID)); id != "" {
		b.WriteString("id:" + id + ";")
	}
	if rid := strings.TrimSpace(requestID); rid != "" {
		b.WriteString("request-id:" + rid + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "ts":
			ts = strings.TrimSpace(v)
		case "v1":
			v1 = strings.TrimSpace(v)
		}
	}
	return ts, v1
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
