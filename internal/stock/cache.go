package stock

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const overviewCacheKey = "stock:overview"

// Cache stores the stock overview snapshot in Redis with a TTL. A nil cache
// falls through to the loader.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// FetchOverview loads the cached overview or populates it using the loader.
func (c *Cache) FetchOverview(ctx context.Context, loader func(context.Context) ([]MaterialOverview, error)) ([]MaterialOverview, error) {
	if loader == nil {
		return nil, errors.New("stock: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	raw, err := c.client.Get(ctx, overviewCacheKey).Bytes()
	if err == nil {
		var cached []MaterialOverview
		if unmarshalErr := json.Unmarshal(raw, &cached); unmarshalErr == nil {
			return cached, nil
		}
		// Corrupt entry: fall through and rebuild.
	} else if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	overview, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(overview)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, overviewCacheKey, encoded, c.ttl).Err(); err != nil {
		return nil, err
	}
	return overview, nil
}

// Invalidate drops the cached snapshot after a stock mutation.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, overviewCacheKey).Err()
}
