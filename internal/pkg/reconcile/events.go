package reconcile

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/FanPass/app/models"
	"github.com/ManuelReschke/FanPass/internal/pkg/gateway"
)

// EventLog keeps an audit row per webhook delivery. Redeliveries of the same
// provider event bump the delivery counter of the existing row.
type EventLog struct {
	db *gorm.DB
}

func NewEventLog(db *gorm.DB) *EventLog {
	return &EventLog{db: db}
}

// eventKey identifies a delivery. Notifications from the query-string form
// carry no event id, so the payment id and action stand in for it.
func eventKey(n *gateway.Notification) string {
	if id := strings.TrimSpace(n.EventID); id != "" {
		return id
	}
	parts := []string{strings.ToLower(n.Type), n.PaymentID}
	if n.Action != "" {
		parts = append(parts, n.Action)
	}
	return strings.Join(parts, ":")
}

// Record stores the delivery and reports whether it is the first one.
func (l *EventLog) Record(ctx context.Context, n *gateway.Notification, payload []byte, signatureValid bool) (*models.PaymentWebhookEvent, bool, error) {
	eventType := n.Type
	if n.Action != "" {
		eventType = n.Action
	}
	if !json.Valid(payload) {
		payload = []byte("{}")
	}
	event := &models.PaymentWebhookEvent{
		Provider:        models.PaymentProviderMercadoPago,
		ProviderEventID: eventKey(n),
		EventType:       eventType,
		PaymentID:       n.PaymentID,
		PayloadJSON:     datatypes.JSON(payload),
		SignatureValid:  signatureValid,
		Deliveries:      1,
	}

	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"deliveries": gorm.Expr("deliveries + 1"),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(event).Error
	if err != nil {
		return nil, false, err
	}

	var stored models.PaymentWebhookEvent
	if err := l.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return nil, false, err
	}
	return &stored, stored.Deliveries == 1, nil
}

// MarkProcessed stamps the processing time and the error text, if any.
func (l *EventLog) MarkProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return l.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// Recent lists the latest deliveries for a payment.
func (l *EventLog) Recent(ctx context.Context, paymentID string, limit int) ([]models.PaymentWebhookEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var events []models.PaymentWebhookEvent
	err := l.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
