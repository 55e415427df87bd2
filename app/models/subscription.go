package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

// Payment methods are informational only.
const (
	PaymentMethodPix       = "pix"
	PaymentMethodPayPal    = "paypal"
	PaymentMethodGooglePay = "google_pay"
	PaymentMethodCard      = "card"
	PaymentMethodManual    = "manual"
)

// Where an activation came from.
const (
	SubscriptionSourceWebhook   = "webhook"
	SubscriptionSourceVerify    = "verify"
	SubscriptionSourceAdmin     = "admin"
	SubscriptionSourceManualFix = "manual_fix"
	SubscriptionSourceCLI       = "cli"
)

// Subscription is one paid access window. PaymentID is the deduplication key:
// the unique index makes creation an insert-or-ignore.
type Subscription struct {
	ID            string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID        string          `gorm:"type:varchar(200);not null;index" json:"userId"`
	Email         string          `gorm:"type:varchar(200);not null;index" json:"email"`
	PlanID        string          `gorm:"type:varchar(50);not null" json:"planId"`
	PaymentID     string          `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_payment_id" json:"paymentId"`
	PaymentMethod string          `gorm:"type:varchar(32);not null;default:'pix'" json:"paymentMethod"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status        string          `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	Source        string          `gorm:"type:varchar(32);not null;default:''" json:"source"`
	StartDate     time.Time       `gorm:"type:datetime;not null" json:"startDate"`
	EndDate       time.Time       `gorm:"type:datetime;not null;index" json:"endDate"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
	return nil
}

// IsActiveAt derives activity from the date range; the stored status only
// matters for explicit cancellation.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	if s.Status == SubscriptionStatusCancelled {
		return false
	}
	return s.EndDate.After(now)
}

// EffectiveStatus is the status every read path should report.
func (s *Subscription) EffectiveStatus(now time.Time) string {
	switch {
	case s.Status == SubscriptionStatusCancelled:
		return SubscriptionStatusCancelled
	case s.EndDate.After(now):
		return SubscriptionStatusActive
	default:
		return SubscriptionStatusExpired
	}
}
