// Package bootstrap wires the long-lived services shared by the HTTP server
// and the operator CLI.
package bootstrap

import (
	"context"

	"github.com/ManuelReschke/FanPass/internal/pkg/cache"
	"github.com/ManuelReschke/FanPass/internal/pkg/database"
	"github.com/ManuelReschke/FanPass/internal/pkg/env"
	"github.com/ManuelReschke/FanPass/internal/pkg/gateway"
	"github.com/ManuelReschke/FanPass/internal/pkg/locks"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
	"github.com/ManuelReschke/FanPass/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/FanPass/internal/pkg/receipts"
	"github.com/ManuelReschke/FanPass/internal/pkg/reconcile"
	"github.com/ManuelReschke/FanPass/internal/pkg/subscriber"
	"github.com/ManuelReschke/FanPass/internal/pkg/subscription"
)

const (
	profileCachePrefix = "fanpass:subscriber:profile:"
	lockPrefix         = "fanpass:lock:"
	outcomeCounterKey  = "fanpass:reconcile:outcomes"
)

type Services struct {
	Gateway   *gateway.Client
	Store     *subscription.Store
	Directory *subscriber.Directory
	Engine    *reconcile.Engine
}

// Setup loads the environment, connects to MySQL and Redis and builds the
// reconciliation engine.
func Setup(ctx context.Context) *Services {
	env.SetupEnvFile()
	logger.Setup()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	rdb := cache.GetClient()

	gw := gateway.NewClientFromEnv()
	store := subscription.NewStore(subscription.NewRepository(db))
	directory := subscriber.NewDirectory(
		db,
		cache.NewStore(rdb, profileCachePrefix),
		env.GetDuration("SUBSCRIBER_CACHE_TTL", subscriber.DefaultCacheTTL),
	)

	engine := reconcile.New(store, gw,
		reconcile.WithProfiles(directory),
		reconcile.WithArchiver(receipts.NewFromEnv(ctx)),
		reconcile.WithLocker(locks.NewRedisLocker(rdb, lockPrefix)),
		reconcile.WithEventLog(reconcile.NewEventLog(db)),
		reconcile.WithCounter(counter.New(rdb, outcomeCounterKey)),
	)

	return &Services{
		Gateway:   gw,
		Store:     store,
		Directory: directory,
		Engine:    engine,
	}
}
