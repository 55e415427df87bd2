package counter

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Counter tallies named events in a single Redis hash so every instance adds
// to the same totals.
type Counter struct {
	rdb redis.UniversalClient
	key string
}

func New(rdb redis.UniversalClient, key string) *Counter {
	return &Counter{rdb: rdb, key: key}
}

// Add increments the field by one.
func (c *Counter) Add(ctx context.Context, field string) error {
	return c.rdb.HIncrBy(ctx, c.key, field, 1).Err()
}

// Snapshot returns the current totals. Malformed values are skipped.
func (c *Counter) Snapshot(ctx context.Context) (map[string]int64, error) {
	data, err := c.rdb.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for field, raw := range data {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}

// Reset removes every total.
func (c *Counter) Reset(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}
