package models

import (
	"time"

	"gorm.io/datatypes"
)

const PaymentProviderMercadoPago = "mercadopago"

// PaymentWebhookEvent stores every gateway notification with deduplication
// metadata. Redeliveries bump Deliveries instead of inserting a new row.
type PaymentWebhookEvent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Provider        string         `gorm:"type:varchar(20);not null;index:ux_payment_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string         `gorm:"type:varchar(191);not null;default:'';index:ux_payment_webhook_events_provider_event,unique,priority:2" json:"providerEventId"`
	EventType       string         `gorm:"type:varchar(100);not null;index" json:"eventType"`
	PaymentID       string         `gorm:"type:varchar(191);not null;default:'';index" json:"paymentId"`
	PayloadJSON     datatypes.JSON `json:"payload"`
	SignatureValid  bool           `gorm:"default:false" json:"signatureValid"`
	Deliveries      int            `gorm:"not null;default:1" json:"deliveries"`
	ProcessedAt     *time.Time     `gorm:"type:timestamp;default:null" json:"processedAt,omitempty"`
	ProcessingError string         `gorm:"type:text" json:"processingError"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}
