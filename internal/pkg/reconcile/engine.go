// Package reconcile turns payment notifications of any origin into at most
// one subscription per payment.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/FanPass/app/models"
	"github.com/ManuelReschke/FanPass/internal/pkg/apperror"
	"github.com/ManuelReschke/FanPass/internal/pkg/gateway"
	"github.com/ManuelReschke/FanPass/internal/pkg/locks"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
	"github.com/ManuelReschke/FanPass/internal/pkg/receipts"
	"github.com/ManuelReschke/FanPass/internal/pkg/subscription"
)

// Outcome is the result class of a reconciliation. Only errors returned next
// to a Result are failures; every Outcome is a success.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomePending          Outcome = "pending"
	OutcomeRejected         Outcome = "rejected"
	OutcomeIgnored          Outcome = "ignored"
	// OutcomeUnderpaid is an approved payment below the price of the plan it
	// names. It needs a refund or a manual fix.
	OutcomeUnderpaid Outcome = "underpaid"
)

const inspectEventLimit = 5

// Gateway is the part of the payment gateway client the engine uses.
type Gateway interface {
	GetPaymentStatus(ctx context.Context, paymentID string, policy gateway.RetryPolicy) (*gateway.PaymentRecord, error)
}

// Profiles mirrors subscriptions onto subscriber profiles.
type Profiles interface {
	Record(ctx context.Context, sub models.Subscription) error
	Find(ctx context.Context, key string) ([]models.SubscriberProfile, error)
}

// OutcomeCounter tallies reconciliation outcomes across instances.
type OutcomeCounter interface {
	Add(ctx context.Context, field string) error
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// Request asks the engine to settle one payment.
type Request struct {
	PaymentID string
	Source    string
	// Retry overrides the gateway client's default status retry policy.
	Retry gateway.RetryPolicy
}

// Result describes what the engine did.
type Result struct {
	Outcome        Outcome                `json:"outcome"`
	SubscriptionID string                 `json:"subscriptionId,omitempty"`
	Payment        *gateway.PaymentRecord `json:"-"`
	Message        string                 `json:"message"`
}

// Approved reports whether the payment is known to be approved.
func (r *Result) Approved() bool {
	return r.Outcome == OutcomeCreated || r.Outcome == OutcomeAlreadyProcessed
}

// FixResult is returned by the trusted manual fix path.
type FixResult struct {
	Subscription *models.Subscription `json:"subscription"`
	Created      bool                 `json:"created"`
}

// Inspection is the raw state stored for one email.
type Inspection struct {
	Users         []models.SubscriberProfile   `json:"users"`
	Subscriptions []models.Subscription        `json:"subscriptions"`
	Events        []models.PaymentWebhookEvent `json:"events"`
}

// Statistics is the operational summary shown to administrators.
type Statistics struct {
	Subscriptions subscription.Stats `json:"subscriptions"`
	Outcomes      map[string]int64   `json:"outcomes"`
}

// Engine coordinates the gateway, the store and the side records.
type Engine struct {
	store    *subscription.Store
	gateway  Gateway
	profiles Profiles
	archiver receipts.Archiver
	locker   locks.Locker
	events   *EventLog
	counter  OutcomeCounter
}

type Option func(*Engine)

func WithProfiles(p Profiles) Option          { return func(e *Engine) { e.profiles = p } }
func WithArchiver(a receipts.Archiver) Option { return func(e *Engine) { e.archiver = a } }
func WithLocker(l locks.Locker) Option        { return func(e *Engine) { e.locker = l } }
func WithEventLog(l *EventLog) Option         { return func(e *Engine) { e.events = l } }
func WithCounter(c OutcomeCounter) Option     { return func(e *Engine) { e.counter = c } }

func New(store *subscription.Store, gw Gateway, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		gateway:  gw,
		archiver: receipts.Noop{},
		locker:   locks.Noop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the subscription store for read-only callers.
func (e *Engine) Store() *subscription.Store {
	return e.store
}

// Reconcile settles one payment id. A payment that already has a subscription
// is never re-verified. The gateway client owns retries; the engine calls it
// once per invocation.
func (e *Engine) Reconcile(ctx context.Context, req Request) (*Result, error) {
	res, err := e.reconcile(ctx, req)
	e.count(ctx, res, err)
	return res, err
}

func (e *Engine) reconcile(ctx context.Context, req Request) (*Result, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return nil, apperror.Validation("paymentId", "is required")
	}
	log := logger.Component("reconcile").WithFields(logrus.Fields{
		"payment_id": paymentID,
		"source":     req.Source,
	})

	if res, err := e.existing(ctx, paymentID); res != nil || err != nil {
		if res != nil {
			log.WithField("subscription_id", res.SubscriptionID).Info("payment already processed")
		}
		return res, err
	}

	release, err := e.locker.Acquire(ctx, "payment:"+paymentID)
	if err != nil {
		// the unique index still guards creation
		log.WithError(err).Warn("could not acquire payment lock, continuing")
		release = func() {}
	}
	defer release()

	// another request may have settled the payment while we waited
	if res, err := e.existing(ctx, paymentID); res != nil || err != nil {
		return res, err
	}

	rec, err := e.gateway.GetPaymentStatus(ctx, paymentID, req.Retry)
	if err != nil {
		log.WithError(err).Warn("payment status unavailable")
		return nil, err
	}
	log = log.WithField("status", rec.Status)

	if !rec.IsApproved() {
		res := &Result{Outcome: OutcomePending, Payment: rec, Message: fmt.Sprintf("payment is %s, try again later", rec.Status)}
		if gateway.IsTerminalFailure(rec.Status) {
			res.Outcome = OutcomeRejected
			res.Message = fmt.Sprintf("payment was %s, no subscription created", rec.Status)
		}
		log.Info("payment not approved")
		return res, nil
	}

	email := strings.ToLower(strings.TrimSpace(rec.PayerEmail))
	if email == "" {
		return nil, &apperror.GatewayError{Op: "reconcile payment", Message: "approved payment has no payer email"}
	}
	plan, paid := subscription.ResolvePlan(rec.ExternalReference, rec.Amount)
	if !paid {
		log.WithFields(logrus.Fields{"plan": plan.ID, "amount": rec.Amount.String(), "price": plan.Price.String()}).Warn("approved payment below plan price")
		return &Result{
			Outcome: OutcomeUnderpaid,
			Payment: rec,
			Message: fmt.Sprintf("paid %s, plan %s costs %s, no subscription created", rec.Amount.StringFixed(2), plan.ID, plan.Price.StringFixed(2)),
		}, nil
	}

	id, created, err := e.store.CreateSubscription(ctx, subscription.CreateInput{
		UserID:        email,
		Email:         email,
		PlanID:        plan.ID,
		PaymentID:     paymentID,
		PaymentMethod: paymentMethod(rec.PaymentMethod),
		Amount:        rec.Amount,
		Source:        req.Source,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return &Result{Outcome: OutcomeAlreadyProcessed, SubscriptionID: id, Payment: rec, Message: "subscription already exists for this payment"}, nil
	}

	e.afterCreate(ctx, paymentID, rec)
	log.WithFields(logrus.Fields{"subscription_id": id, "plan": plan.ID}).Info("subscription activated")
	return &Result{Outcome: OutcomeCreated, SubscriptionID: id, Payment: rec, Message: "subscription activated"}, nil
}

func (e *Engine) count(ctx context.Context, res *Result, err error) {
	if e.counter == nil {
		return
	}
	field := "error"
	if err == nil && res != nil {
		field = string(res.Outcome)
	}
	if cerr := e.counter.Add(ctx, field); cerr != nil {
		logger.Component("reconcile").WithError(cerr).Debug("outcome counter unavailable")
	}
}

func (e *Engine) existing(ctx context.Context, paymentID string) (*Result, error) {
	sub, err := e.store.GetSubscriptionByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}
	return &Result{
		Outcome:        OutcomeAlreadyProcessed,
		SubscriptionID: sub.ID,
		Message:        "subscription already exists for this payment",
	}, nil
}

// afterCreate updates the profile and archives the receipt. Both are
// best effort: the subscription row is already the source of truth.
func (e *Engine) afterCreate(ctx context.Context, paymentID string, rec *gateway.PaymentRecord) {
	log := logger.Component("reconcile").WithField("payment_id", paymentID)

	if e.profiles != nil {
		sub, err := e.store.GetSubscriptionByPaymentID(ctx, paymentID)
		if err == nil && sub != nil {
			err = e.profiles.Record(ctx, *sub)
		}
		if err != nil {
			log.WithError(err).Warn("subscriber profile update failed")
		}
	}
	if err := e.archiver.Archive(ctx, rec); err != nil {
		log.WithError(err).Warn("receipt archive failed")
	}
}

// Verify reports the gateway's view of a payment without creating anything.
func (e *Engine) Verify(ctx context.Context, paymentID string, policy gateway.RetryPolicy) (*gateway.PaymentRecord, error) {
	return e.gateway.GetPaymentStatus(ctx, paymentID, policy)
}

// ManualFix grants the email a fresh 30 day window without consulting the
// gateway. Callers must restrict it to administrators.
func (e *Engine) ManualFix(ctx context.Context, email string) (*FixResult, error) {
	sub, created, err := e.store.ApplyManualFix(ctx, email, subscription.ManualFixValidity)
	if err != nil {
		return nil, err
	}
	if e.profiles != nil {
		if err := e.profiles.Record(ctx, *sub); err != nil {
			logger.Component("reconcile").WithError(err).WithField("email", sub.Email).Warn("subscriber profile update failed")
		}
	}
	return &FixResult{Subscription: sub, Created: created}, nil
}

// Inspect returns the stored profile and subscription rows of an email.
func (e *Engine) Inspect(ctx context.Context, email string) (*Inspection, error) {
	identity := subscription.ByEmail(email)
	if identity.IsZero() {
		return nil, apperror.Validation("email", "is required")
	}
	subs, err := e.store.ListByIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	out := &Inspection{
		Subscriptions: subs,
		Users:         []models.SubscriberProfile{},
		Events:        []models.PaymentWebhookEvent{},
	}
	if e.profiles != nil {
		users, err := e.profiles.Find(ctx, identity.Value())
		if err != nil {
			return nil, err
		}
		out.Users = users
	}
	if e.events != nil {
		for _, sub := range subs {
			if subscription.IsManualFixPaymentID(sub.PaymentID) {
				continue
			}
			events, err := e.events.Recent(ctx, sub.PaymentID, inspectEventLimit)
			if err != nil {
				return nil, err
			}
			out.Events = append(out.Events, events...)
		}
	}
	return out, nil
}

// ExpireStale persists expiry for closed windows and refreshes the affected
// profiles. It returns how many rows changed.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	expired, err := e.store.ExpireStale(ctx)
	if err != nil {
		return 0, err
	}
	if e.profiles != nil {
		for _, sub := range expired {
			if err := e.profiles.Record(ctx, sub); err != nil {
				logger.Component("reconcile").WithError(err).WithField("subscription_id", sub.ID).Warn("subscriber profile refresh failed")
			}
		}
	}
	return len(expired), nil
}

// Stats combines table counts with the outcome totals. Outcomes are empty
// when no counter is configured.
func (e *Engine) Stats(ctx context.Context) (*Statistics, error) {
	subs, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &Statistics{Subscriptions: subs, Outcomes: map[string]int64{}}
	if e.counter != nil {
		snap, err := e.counter.Snapshot(ctx)
		if err != nil {
			logger.Component("reconcile").WithError(err).Warn("outcome counter unavailable")
		} else {
			out.Outcomes = snap
		}
	}
	return out, nil
}

func paymentMethod(gatewayMethod string) string {
	switch strings.ToLower(strings.TrimSpace(gatewayMethod)) {
	case "", "pix":
		return models.PaymentMethodPix
	default:
		return models.PaymentMethodCard
	}
}
