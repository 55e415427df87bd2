// Package subscriber maintains the denormalized subscriber profile used for
// fast UI reads. Profiles mirror the subscriptions table and may lag behind it
// by up to the cache TTL; access decisions always go to the subscription store.
package subscriber

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/FanPass/app/models"
	"github.com/ManuelReschke/FanPass/internal/pkg/apperror"
	"github.com/ManuelReschke/FanPass/internal/pkg/cache"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
)

// DefaultCacheTTL is the documented staleness window of a cached profile.
const DefaultCacheTTL = 5 * time.Minute

// ProfileCache is the subset of cache.Store the directory needs.
type ProfileCache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Directory reads and writes subscriber profiles.
type Directory struct {
	db    *gorm.DB
	cache ProfileCache
	ttl   time.Duration
	now   func() time.Time
}

// NewDirectory builds a directory. A nil cache disables caching.
func NewDirectory(db *gorm.DB, c ProfileCache, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Directory{db: db, cache: c, ttl: ttl, now: time.Now}
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if strings.Contains(key, "@") {
		return strings.ToLower(key)
	}
	return key
}

// Record mirrors a subscription onto the profile of its email and, when it
// differs, of its user id.
func (d *Directory) Record(ctx context.Context, sub models.Subscription) error {
	end := sub.EndDate
	base := models.SubscriberProfile{
		Email:               strings.ToLower(sub.Email),
		UserID:              sub.UserID,
		IsSubscriber:        sub.IsActiveAt(d.now()),
		SubscriptionID:      sub.ID,
		SubscriptionEndDate: &end,
	}

	keys := []string{normalizeKey(sub.Email)}
	if uid := normalizeKey(sub.UserID); uid != "" && uid != keys[0] {
		keys = append(keys, uid)
	}

	for _, key := range keys {
		if key == "" {
			continue
		}
		var current models.SubscriberProfile
		err := d.db.WithContext(ctx).Where("`key` = ?", key).Limit(1).Find(&current).Error
		if err != nil {
			return err
		}
		// a newer subscription already owns this profile
		if current.ID != 0 && current.SubscriptionID != sub.ID &&
			current.SubscriptionEndDate != nil && current.SubscriptionEndDate.After(sub.EndDate) {
			continue
		}

		profile := base
		profile.Key = key
		err = d.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"email",
				"user_id",
				"is_subscriber",
				"subscription_id",
				"subscription_end_date",
				"updated_at",
			}),
		}).Create(&profile).Error
		if err != nil {
			return err
		}
	}

	d.invalidate(ctx, keys...)
	logger.Component("subscriber").WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"is_subscriber":   base.IsSubscriber,
	}).Debug("profile recorded")
	return nil
}

// Profile returns the cached profile for an email or user id, loading it from
// the database on a miss.
func (d *Directory) Profile(ctx context.Context, key string) (*models.SubscriberProfile, error) {
	key = normalizeKey(key)
	if key == "" {
		return nil, apperror.Validation("key", "email or userId is required")
	}

	if d.cache != nil {
		var cached models.SubscriberProfile
		err := d.cache.GetJSON(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			logger.Component("subscriber").WithError(err).Warn("profile cache read failed")
		}
	}

	var profile models.SubscriberProfile
	err := d.db.WithContext(ctx).Where("`key` = ?", key).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("subscriber profile", key)
	}
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		if err := d.cache.SetJSON(ctx, key, profile, d.ttl); err != nil {
			logger.Component("subscriber").WithError(err).Warn("profile cache write failed")
		}
	}
	return &profile, nil
}

// Find returns the raw profile rows matching an email or user id, bypassing
// the cache.
func (d *Directory) Find(ctx context.Context, key string) ([]models.SubscriberProfile, error) {
	key = normalizeKey(key)
	var rows []models.SubscriberProfile
	err := d.db.WithContext(ctx).
		Where("`key` = ? OR email = ? OR user_id = ?", key, key, key).
		Order("updated_at DESC").
		Find(&rows).Error
	return rows, err
}

func (d *Directory) invalidate(ctx context.Context, keys ...string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Delete(ctx, keys...); err != nil {
		logger.Component("subscriber").WithError(err).Warn("profile cache invalidation failed")
	}
}
