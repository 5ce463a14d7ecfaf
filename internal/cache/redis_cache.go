package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirinaja/poscore/internal/domain"
)

type RedisStockCache struct {
	client *redis.Client
}

func NewRedisStockCache(client *redis.Client) *RedisStockCache {
	return &RedisStockCache{client: client}
}

func (c *RedisStockCache) Get(ctx context.Context, outletID string) ([]domain.StockLedgerEntry, bool, error) {
	val, err := c.client.Get(ctx, stockKey(outletID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entries []domain.StockLedgerEntry
	if err := json.Unmarshal(val, &entries); err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

func (c *RedisStockCache) Set(ctx context.Context, outletID string, entries []domain.StockLedgerEntry, ttl time.Duration) error {
	if entries == nil {
		entries = []domain.StockLedgerEntry{}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, stockKey(outletID), payload, ttl).Err()
}

func (c *RedisStockCache) Invalidate(ctx context.Context, outletIDs ...string) error {
	if len(outletIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(outletIDs))
	for _, id := range outletIDs {
		keys = append(keys, stockKey(id))
	}
	return c.client.Del(ctx, keys...).Err()
}
