package subscription

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/FanPass/app/models"
)

// Repository provides DB operations used by the subscription store.
type Repository interface {
	CreateIfAbsent(ctx context.Context, sub *models.Subscription) (bool, *models.Subscription, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*models.Subscription, error)
	ListByIdentity(ctx context.Context, identity SubscriberIdentity) ([]models.Subscription, error)
	LatestByIdentity(ctx context.Context, identity SubscriberIdentity) (*models.Subscription, error)
	ListAll(ctx context.Context) ([]models.Subscription, error)
	UpdateWindow(ctx context.Context, id string, start, end time.Time, status string) error
	ExpireBefore(ctx context.Context, now time.Time) ([]models.Subscription, error)
	Counts(ctx context.Context, now time.Time) (total int64, active int64, err error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateIfAbsent inserts the row unless one with the same payment id exists.
// It is a single INSERT … ON CONFLICT DO NOTHING, so two concurrent callers
// can never both create; the loser gets the stored row back.
func (r *gormRepository) CreateIfAbsent(ctx context.Context, sub *models.Subscription) (bool, *models.Subscription, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		DoNothing: true,
	}).Create(sub)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	stored, err := r.GetByPaymentID(ctx, sub.PaymentID)
	if err != nil {
		return false, nil, err
	}
	if stored == nil {
		return false, nil, errors.New("subscription vanished after insert")
	}
	return created, stored, nil
}

// GetByPaymentID returns nil, nil when no row matches.
func (r *gormRepository) GetByPaymentID(ctx context.Context, paymentID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("payment_id = ?", strings.TrimSpace(paymentID)).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) identityScope(identity SubscriberIdentity) func(*gorm.DB) *gorm.DB {
	value := identity.Value()
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("email = ? OR user_id = ?", strings.ToLower(value), value)
	}
}

// ListByIdentity returns every row for the subscriber, newest window first.
func (r *gormRepository) ListByIdentity(ctx context.Context, identity SubscriberIdentity) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Scopes(r.identityScope(identity)).
		Order("end_date DESC").
		Find(&subs).Error
	return subs, err
}

// LatestByIdentity returns the non-cancelled row with the latest end date.
func (r *gormRepository) LatestByIdentity(ctx context.Context, identity SubscriberIdentity) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Scopes(r.identityScope(identity)).
		Where("status <> ?", models.SubscriptionStatusCancelled).
		Order("end_date DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListAll(ctx context.Context) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) UpdateWindow(ctx context.Context, id string, start, end time.Time, status string) error {
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"start_date": start,
			"end_date":   end,
			"status":     status,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ExpireBefore flips stored "active" rows whose window has closed and returns
// the rows it changed.
func (r *gormRepository) ExpireBefore(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	var stale []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_date <= ?", models.SubscriptionStatusActive, now).
		Find(&stale).Error
	if err != nil || len(stale) == 0 {
		return nil, err
	}

	ids := make([]string, 0, len(stale))
	for _, s := range stale {
		ids = append(ids, s.ID)
	}
	err = r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id IN ? AND status = ?", ids, models.SubscriptionStatusActive).
		Update("status", models.SubscriptionStatusExpired).Error
	if err != nil {
		return nil, err
	}
	for i := range stale {
		stale[i].Status = models.SubscriptionStatusExpired
	}
	return stale, nil
}

// Counts returns the number of rows and of rows whose window is open at now.
func (r *gormRepository) Counts(ctx context.Context, now time.Time) (int64, int64, error) {
	var total, active int64
	if err := r.db.WithContext(ctx).Model(&models.Subscription{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status <> ? AND end_date > ?", models.SubscriptionStatusCancelled, now).
		Count(&active).Error
	if err != nil {
		return 0, 0, err
	}
	return total, active, nil
}
