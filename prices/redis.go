package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ledger_scanner/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const priceMapKey = "scanner:prices"

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context) (models.PriceMap, bool, error) {
	raw, err := c.client.Get(ctx, priceMapKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get price map: %w", err)
	}
	var stored map[string]decimal.Decimal
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal price map: %w", err)
	}
	return models.PriceMap(stored), true, nil
}

func (c *RedisCache) Set(ctx context.Context, prices models.PriceMap) error {
	data, err := json.Marshal(map[string]decimal.Decimal(prices))
	if err != nil {
		return fmt.Errorf("failed to marshal price map: %w", err)
	}
	if err := c.client.Set(ctx, priceMapKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set price map: %w", err)
	}
	return nil
}

// Ping reports whether the cache is reachable.
func (c *RedisCache) Ping(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}
