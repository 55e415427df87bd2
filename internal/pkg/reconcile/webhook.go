package reconcile

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/FanPass/app/models"
	"github.com/ManuelReschke/FanPass/internal/pkg/gateway"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
)

// Delivery is one webhook call as received.
type Delivery struct {
	Notification   *gateway.Notification
	Payload        []byte
	SignatureValid bool
}

// HandleDelivery records the delivery and reconciles its payment. Redeliveries
// run the full reconciliation again; idempotent creation makes that safe and
// lets a delivery that previously hit a gateway outage succeed.
func (e *Engine) HandleDelivery(ctx context.Context, d Delivery) (*Result, error) {
	n := d.Notification
	log := logger.Component("reconcile").WithFields(logrus.Fields{
		"event_type": n.Type,
		"payment_id": n.PaymentID,
	})

	var event *models.PaymentWebhookEvent
	if e.events != nil {
		ev, first, err := e.events.Record(ctx, n, d.Payload, d.SignatureValid)
		if err != nil {
			log.WithError(err).Warn("webhook event could not be recorded")
		} else {
			event = ev
			log = log.WithFields(logrus.Fields{"event_id": ev.ID, "deliveries": ev.Deliveries, "first_delivery": first})
		}
	}

	var (
		res *Result
		err error
	)
	switch {
	case !n.IsPayment():
		res = &Result{Outcome: OutcomeIgnored, Message: "not a payment event"}
		e.count(ctx, res, nil)
	case n.PaymentID == "":
		res = &Result{Outcome: OutcomeIgnored, Message: "payment event without payment id"}
		e.count(ctx, res, nil)
	default:
		res, err = e.Reconcile(ctx, Request{PaymentID: n.PaymentID, Source: models.SubscriptionSourceWebhook})
	}

	if event != nil {
		processingError := ""
		if err != nil {
			processingError = err.Error()
		}
		if markErr := e.events.MarkProcessed(ctx, event.ID, processingError); markErr != nil {
			log.WithError(markErr).Warn("webhook event could not be marked processed")
		}
	}

	if err != nil {
		log.WithError(err).Warn("webhook reconciliation failed")
		return nil, err
	}
	log.WithField("outcome", res.Outcome).Info("webhook handled")
	return res, nil
}
