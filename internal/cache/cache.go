package cache

import (
	"context"
	"time"

	"kasirinaja/poscore/internal/domain"
)

// StockCache holds per-outlet stock snapshots. Misses are not errors.
type StockCache interface {
	Get(ctx context.Context, outletID string) ([]domain.StockLedgerEntry, bool, error)
	Set(ctx context.Context, outletID string, entries []domain.StockLedgerEntry, ttl time.Duration) error
	Invalidate(ctx context.Context, outletIDs ...string) error
}

type NoopStockCache struct{}

func (NoopStockCache) Get(_ context.Context, _ string) ([]domain.StockLedgerEntry, bool, error) {
	return nil, false, nil
}

func (NoopStockCache) Set(_ context.Context, _ string, _ []domain.StockLedgerEntry, _ time.Duration) error {
	return nil
}

func (NoopStockCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}

func stockKey(outletID string) string {
	return "stock:outlet:" + outletID
}
