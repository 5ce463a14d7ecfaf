package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
)

func (f *fixture) evaluate(t *testing.T, productID, outletID string) domain.LowStockResult {
	t.Helper()
	var result domain.LowStockResult
	err := f.inTx(t, func(ctx context.Context, tx store.Tx) error {
		r, err := f.svc.Evaluate(ctx, tx, productID, outletID, "test")
		result = r
		return err
	})
	require.NoError(t, err)
	return result
}

func (f *fixture) adjust(t *testing.T, productID string, delta int) domain.StockAdjustResponse {
	t.Helper()
	kind := domain.MovementIn
	if delta < 0 {
		kind = domain.MovementOut
	}
	resp, err := f.svc.AdjustStock(f.ctx, domain.StockAdjustRequest{ProductID: productID, OutletID: outletA, Delta: delta, Kind: kind})
	require.NoError(t, err)
	return resp
}

func TestLowStockDecisionTable(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, domain.LowStockUnchanged, f.adjust(t, pLow, 10).LowStock)

	assert.Equal(t, domain.LowStockTriggered, f.adjust(t, pLow, -6).LowStock, "4 <= 5 with no alert")
	assert.Equal(t, domain.LowStockUnchanged, f.adjust(t, pLow, -1).LowStock, "still low, alert open")

	alerts, err := f.svc.ListOpenAlerts(f.ctx, outletA)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	alertID := alerts[0].ID
	assert.Equal(t, 4, alerts[0].Quantity)

	f.advance(time.Hour)
	assert.Equal(t, domain.LowStockCleared, f.adjust(t, pLow, 10).LowStock, "13 > 5 with open alert")
	assert.Equal(t, domain.LowStockUnchanged, f.adjust(t, pLow, 1).LowStock, "already cleared")
	alerts, err = f.svc.ListOpenAlerts(f.ctx, outletA)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	assert.Equal(t, domain.LowStockTriggered, f.adjust(t, pLow, -10).LowStock, "same-day alert is reopened")
	alerts, err = f.svc.ListOpenAlerts(f.ctx, outletA)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, alertID, alerts[0].ID)
}

func TestLowStockDedupWithinDay(t *testing.T) {
	f := newFixture(t)
	f.adjust(t, pLow, 3)

	assert.Equal(t, domain.LowStockUnchanged, f.evaluate(t, pLow, outletA), "alert already raised by the adjustment")
	f.advance(2 * time.Hour)
	assert.Equal(t, domain.LowStockUnchanged, f.evaluate(t, pLow, outletA))

	alerts, err := f.svc.ListOpenAlerts(f.ctx, outletA)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	triggers := 0
	for _, a := range f.auditActions(t, outletA) {
		if a == domain.AuditLowStockTrigger {
			triggers++
		}
	}
	assert.Equal(t, 1, triggers)
}

func TestLowStockNewAlertEachLocalDay(t *testing.T) {
	f := newFixture(t)
	// 23:30 in Jakarta.
	f.now = time.Date(2026, 3, 10, 16, 30, 0, 0, time.UTC)
	f.adjust(t, pLow, 2)

	// One hour later is 00:30 local on the next day, still the 10th in UTC.
	f.advance(time.Hour)
	assert.Equal(t, domain.LowStockTriggered, f.evaluate(t, pLow, outletA))

	alerts, err := f.svc.ListOpenAlerts(f.ctx, outletA)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestLowStockDisabledWithoutThreshold(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 1)
	assert.Equal(t, domain.LowStockUnchanged, f.evaluate(t, p1, outletA))

	alerts, err := f.svc.ListOpenAlerts(f.ctx, outletA)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestLowStockMissingEntryCountsAsZero(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, domain.LowStockTriggered, f.evaluate(t, pLow, outletB))
}
