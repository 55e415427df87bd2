package models

import "time"

// SubscriberProfile is the denormalized per-user record read by the UI. It is
// refreshed whenever a subscription is written and may lag behind the
// subscriptions table; it never decides access.
type SubscriberProfile struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Key                 string     `gorm:"type:varchar(200);not null;uniqueIndex:ux_subscriber_profiles_key" json:"key"`
	Email               string     `gorm:"type:varchar(200);not null;default:'';index" json:"email"`
	UserID              string     `gorm:"type:varchar(200);not null;default:''" json:"userId"`
	IsSubscriber        bool       `gorm:"default:false" json:"isSubscriber"`
	SubscriptionID      string     `gorm:"type:varchar(36);not null;default:''" json:"subscriptionId"`
	SubscriptionEndDate *time.Time `gorm:"type:datetime;default:null" json:"subscriptionEndDate,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}
