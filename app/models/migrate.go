package models

// AutoMigrateModels lists the tables owned by the service.
func AutoMigrateModels() []interface{} {
	return []interface{}{
		&Subscription{},
		&SubscriberProfile{},
		&PaymentWebhookEvent{},
	}
}
