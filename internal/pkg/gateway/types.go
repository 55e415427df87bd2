package gateway

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses reported by the gateway. Values outside this list are kept
// verbatim and treated as "not approved".
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusInProcess = "in_process"
	StatusRefunded  = "refunded"
)

// PaymentRecord is the gateway's view of a payment. Read-only for us.
type PaymentRecord struct {
	ID                string
	Status            string
	StatusDetail      string
	PayerEmail        string
	Amount            decimal.Decimal
	PaymentMethod     string
	ExternalReference string
	CreatedAt         *time.Time
	ApprovedAt        *time.Time
	Raw               json.RawMessage
}

// IsApproved reports whether the payment can activate a subscription.
func (p *PaymentRecord) IsApproved() bool {
	return p != nil && NormalizeStatus(p.Status) == StatusApproved
}

// IsTerminalFailure is true for outcomes that will never turn into approved.
func IsTerminalFailure(status string) bool {
	switch NormalizeStatus(status) {
	case StatusRejected, StatusCancelled, StatusRefunded, "charged_back":
		return true
	default:
		return false
	}
}

// NormalizeStatus lowercases and folds the "canceled" spelling the gateway uses.
func NormalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "canceled" {
		return StatusCancelled
	}
	return s
}

// PixPaymentRequest is the input for a PIX charge.
type PixPaymentRequest struct {
	Amount            decimal.Decimal
	PayerEmail        string
	PayerName         string
	TaxID             string
	Description       string
	ExternalReference string
}

// PixPayment is what the payer needs to complete a PIX charge.
type PixPayment struct {
	PaymentID   string
	QRCode      string
	QRCodeImage string // base64 PNG
	TicketURL   string
	Status      string
}

// RetryPolicy bounds GetPaymentStatus. MaxAttempts counts every request,
// including the first one. A zero policy, a non-positive MaxAttempts or a
// negative Delay fall back to the client's defaults.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func (p RetryPolicy) normalized(def RetryPolicy) RetryPolicy {
	if p == (RetryPolicy{}) {
		p = def
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = def.Delay
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// flexibleID accepts ids encoded either as JSON numbers or strings.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	*f = flexibleID(strings.Trim(s, `"`))
	return nil
}

type apiPayment struct {
	ID                flexibleID       `json:"id"`
	Status            string           `json:"status"`
	StatusDetail      string           `json:"status_detail"`
	TransactionAmount *decimal.Decimal `json:"transaction_amount"`
	PaymentMethodID   string           `json:"payment_method_id"`
	ExternalReference string           `json:"external_reference"`
	DateCreated       string           `json:"date_created"`
	DateApproved      string           `json:"date_approved"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (p apiPayment) toRecord(raw []byte) *PaymentRecord {
	rec := &PaymentRecord{
		ID:                strings.TrimSpace(string(p.ID)),
		Status:            NormalizeStatus(p.Status),
		StatusDetail:      strings.TrimSpace(p.StatusDetail),
		PayerEmail:        strings.ToLower(strings.TrimSpace(p.Payer.Email)),
		PaymentMethod:     strings.TrimSpace(p.PaymentMethodID),
		ExternalReference: strings.TrimSpace(p.ExternalReference),
		CreatedAt:         parseGatewayTime(p.DateCreated),
		ApprovedAt:        parseGatewayTime(p.DateApproved),
		Raw:               append(json.RawMessage(nil), raw...),
	}
	if p.TransactionAmount != nil {
		rec.Amount = *p.TransactionAmount
	}
	return rec
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Cause   []struct {
		Code        json.RawMessage `json:"code"`
		Description string          `json:"description"`
	} `json:"cause"`
}

func parseGatewayTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
