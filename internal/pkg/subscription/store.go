package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/FanPass/app/models"
	"github.com/ManuelReschke/FanPass/internal/pkg/apperror"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
)

// ManualFixValidity is the window granted by the admin fix path.
const ManualFixValidity = 30 * 24 * time.Hour

const manualFixPrefix = "manual-fix-"

// CreateInput describes a subscription to create from a confirmed payment.
type CreateInput struct {
	UserID        string
	Email         string
	PlanID        string
	PaymentID     string
	PaymentMethod string
	Amount        decimal.Decimal
	Source        string
}

// SubscriptionWithPlan is a row enriched with its catalog entry.
type SubscriptionWithPlan struct {
	models.Subscription
	Plan   *Plan `json:"plan,omitempty"`
	Active bool  `json:"active"`
}

// Stats summarizes the subscriptions table.
type Stats struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

// Store is the authoritative record of subscriptions.
type Store struct {
	repo Repository
	now  func() time.Time
}

func NewStore(repo Repository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Now is the store's current time.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// CreateSubscription creates the subscription for a payment unless one exists
// already. Both the first and every later call for the same payment id return
// the same subscription id; created reports whether this call wrote the row.
func (s *Store) CreateSubscription(ctx context.Context, in CreateInput) (string, bool, error) {
	paymentID := strings.TrimSpace(in.PaymentID)
	if paymentID == "" {
		return "", false, apperror.Validation("paymentId", "is required")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return "", false, apperror.Validation("email", "is required")
	}
	plan, ok := LookupPlan(in.PlanID)
	if !ok {
		return "", false, apperror.NotFound("plan", in.PlanID)
	}

	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		userID = email
	}
	method := strings.TrimSpace(in.PaymentMethod)
	if method == "" {
		method = models.PaymentMethodPix
	}

	start := s.Now()
	sub := &models.Subscription{
		UserID:        userID,
		Email:         email,
		PlanID:        plan.ID,
		PaymentID:     paymentID,
		PaymentMethod: method,
		Amount:        in.Amount,
		Status:        models.SubscriptionStatusActive,
		Source:        in.Source,
		StartDate:     start,
		EndDate:       start.Add(plan.Duration()),
	}

	created, stored, err := s.repo.CreateIfAbsent(ctx, sub)
	if err != nil {
		return "", false, fmt.Errorf("create subscription: %w", err)
	}

	log := logger.Component("subscription").WithFields(logrus.Fields{
		"payment_id":      paymentID,
		"subscription_id": stored.ID,
		"source":          in.Source,
	})
	if created {
		log.WithFields(logrus.Fields{"plan": plan.ID, "end_date": stored.EndDate}).Info("subscription created")
	} else {
		log.Info("subscription already exists for payment")
	}
	return stored.ID, created, nil
}

func (s *Store) GetSubscriptionByPaymentID(ctx context.Context, paymentID string) (*models.Subscription, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, apperror.Validation("paymentId", "is required")
	}
	return s.repo.GetByPaymentID(ctx, paymentID)
}

// HasActiveSubscription reports whether the subscriber has a row whose window
// is still open. The stored status is not trusted for expiry.
func (s *Store) HasActiveSubscription(ctx context.Context, identity SubscriberIdentity) (bool, error) {
	sub, err := s.GetActiveSubscription(ctx, identity)
	if err != nil {
		return false, err
	}
	return sub != nil, nil
}

// GetActiveSubscription returns the row with the latest end date when it is
// still active, nil otherwise.
func (s *Store) GetActiveSubscription(ctx context.Context, identity SubscriberIdentity) (*models.Subscription, error) {
	if identity.IsZero() {
		return nil, apperror.Validation("identity", "email or userId is required")
	}
	latest, err := s.repo.LatestByIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	if latest == nil || !latest.IsActiveAt(s.Now()) {
		return nil, nil
	}
	latest.Status = latest.EffectiveStatus(s.Now())
	return latest, nil
}

// ListByIdentity returns every historical row for the subscriber with the
// status adjusted to the date rule.
func (s *Store) ListByIdentity(ctx context.Context, identity SubscriberIdentity) ([]models.Subscription, error) {
	if identity.IsZero() {
		return nil, apperror.Validation("identity", "email or userId is required")
	}
	subs, err := s.repo.ListByIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	for i := range subs {
		subs[i].Status = subs[i].EffectiveStatus(now)
	}
	return subs, nil
}

func (s *Store) GetAllSubscriptions(ctx context.Context) ([]SubscriptionWithPlan, error) {
	subs, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	out := make([]SubscriptionWithPlan, 0, len(subs))
	for _, sub := range subs {
		item := SubscriptionWithPlan{Subscription: sub, Active: sub.IsActiveAt(now)}
		item.Status = sub.EffectiveStatus(now)
		if p, ok := LookupPlan(sub.PlanID); ok {
			item.Plan = &p
		}
		out = append(out, item)
	}
	return out, nil
}

// ApplyManualFix grants the email access until at least now+validity without
// asking the gateway. The latest row for the email is rewritten when one
// exists; a later paid end date is kept. Otherwise a synthetic manual-fix row
// is created.
func (s *Store) ApplyManualFix(ctx context.Context, email string, validity time.Duration) (*models.Subscription, bool, error) {
	identity := ByEmail(email)
	if identity.IsZero() {
		return nil, false, apperror.Validation("email", "is required")
	}
	if validity <= 0 {
		validity = ManualFixValidity
	}
	now := s.Now()
	end := now.Add(validity)
	log := logger.Component("subscription").WithField("email", identity.Value())

	subs, err := s.repo.ListByIdentity(ctx, identity)
	if err != nil {
		return nil, false, err
	}
	if len(subs) > 0 {
		latest := subs[0]
		start := now
		if latest.EndDate.After(end) {
			start, end = latest.StartDate, latest.EndDate
		}
		if err := s.repo.UpdateWindow(ctx, latest.ID, start, end, models.SubscriptionStatusActive); err != nil {
			return nil, false, fmt.Errorf("apply manual fix: %w", err)
		}
		latest.StartDate, latest.EndDate, latest.Status = start, end, models.SubscriptionStatusActive
		log.WithFields(logrus.Fields{"subscription_id": latest.ID, "end_date": end}).Warn("manual fix rewrote subscription window")
		return &latest, false, nil
	}

	plan, _ := LookupPlan(DefaultPlanID)
	sub := &models.Subscription{
		UserID:        identity.Value(),
		Email:         identity.Value(),
		PlanID:        plan.ID,
		PaymentID:     manualFixPaymentID(now),
		PaymentMethod: models.PaymentMethodManual,
		Amount:        decimal.Zero,
		Status:        models.SubscriptionStatusActive,
		Source:        models.SubscriptionSourceManualFix,
		StartDate:     now,
		EndDate:       end,
	}
	created, stored, err := s.repo.CreateIfAbsent(ctx, sub)
	if err != nil {
		return nil, false, fmt.Errorf("apply manual fix: %w", err)
	}
	if stored.Email != identity.Value() {
		return nil, false, fmt.Errorf("apply manual fix: payment id %s already belongs to %s", sub.PaymentID, stored.Email)
	}
	log.WithFields(logrus.Fields{"subscription_id": stored.ID, "payment_id": stored.PaymentID}).Warn("manual fix created subscription")
	return stored, created, nil
}

// manualFixPaymentID is manual-fix-<unix millis>-<random suffix>. The suffix
// keeps fixes for different emails in the same millisecond apart.
func manualFixPaymentID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", manualFixPrefix, now.UnixMilli(), uuid.NewString()[:8])
}

// IsManualFixPaymentID reports whether the id was synthesized by ApplyManualFix.
func IsManualFixPaymentID(paymentID string) bool {
	return strings.HasPrefix(paymentID, manualFixPrefix)
}

// ExpireStale persists the expiry that read paths already derive.
func (s *Store) ExpireStale(ctx context.Context) ([]models.Subscription, error) {
	expired, err := s.repo.ExpireBefore(ctx, s.Now())
	if err != nil {
		return nil, fmt.Errorf("expire stale subscriptions: %w", err)
	}
	if len(expired) > 0 {
		logger.Component("subscription").WithField("count", len(expired)).Info("stale subscriptions expired")
	}
	return expired, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	total, active, err := s.repo.Counts(ctx, s.Now())
	if err != nil {
		return Stats{}, fmt.Errorf("count subscriptions: %w", err)
	}
	return Stats{Total: total, Active: active}, nil
}
