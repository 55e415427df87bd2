package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/FanPass/internal/pkg/env"
)

const isolatedTestRedisDB = 14

// NewRedis connects to the first reachable Redis on an isolated database or
// skips the test.
func NewRedis(t testing.TB) *redis.Client {
	t.Helper()

	hosts := []string{env.GetEnv("CACHE_HOST", ""), "cache", "localhost", "127.0.0.1"}
	port := env.GetEnv("CACHE_PORT", "6379")
	seen := map[string]struct{}{}

	var lastErr error
	for _, host := range hosts {
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}

		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", host, port),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			DB:       isolatedTestRedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			t.Cleanup(func() { _ = client.Close() })
			return client
		}
		_ = client.Close()
		lastErr = err
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}

// UniqueKey returns a key prefix that does not collide between test runs.
func UniqueKey(name string) string {
	return fmt.Sprintf("test:%s:%d:", name, time.Now().UnixNano())
}
