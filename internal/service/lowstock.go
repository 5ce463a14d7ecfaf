package service

import (
	"context"
	"errors"

	"kasirinaja/poscore/internal/apperr"
	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/xid"
)

type lowStockChange struct {
	productID string
	outletID  string
	quantity  int
	result    domain.LowStockResult
}

// Evaluate compares the current quantity against the product threshold and
// keeps at most one alert per product, outlet and local calendar day. It runs
// inside the caller's transaction so the outcome commits with the movement
// that caused it.
func (s *Service) Evaluate(ctx context.Context, tx store.Tx, productID, outletID, note string) (domain.LowStockResult, error) {
	change, err := s.evaluate(ctx, tx, productID, outletID, note)
	return change.result, err
}

func (s *Service) evaluate(ctx context.Context, tx store.Tx, productID, outletID, note string) (lowStockChange, error) {
	change := lowStockChange{productID: productID, outletID: outletID, result: domain.LowStockUnchanged}

	product, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return change, apperr.FromStore(err, "product not found")
	}
	if product.MinStock <= 0 {
		return change, nil
	}
	outlet, err := tx.GetOutlet(ctx, outletID)
	if err != nil {
		return change, apperr.FromStore(err, "outlet not found")
	}

	entry, err := tx.GetStockEntry(ctx, productID, outletID)
	switch {
	case err == nil:
		change.quantity = entry.Quantity
	case errors.Is(err, store.ErrNotFound):
	default:
		return change, apperr.FromStore(err, "read stock")
	}

	now := s.clock()
	from, to := dayBounds(now, s.location(outlet))
	alert, err := tx.LatestAlertBetween(ctx, productID, outletID, from, to)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return change, apperr.FromStore(err, "read low-stock alert")
	}
	if err != nil {
		alert = nil
	}

	if change.quantity <= product.MinStock {
		switch {
		case alert == nil:
			created := domain.LowStockAlert{
				ID:          xid.New("alert"),
				ProductID:   productID,
				OutletID:    outletID,
				Quantity:    change.quantity,
				MinStock:    product.MinStock,
				Note:        note,
				TriggeredAt: now,
			}
			if err := tx.InsertAlert(ctx, created); err != nil {
				return change, apperr.FromStore(err, "create low-stock alert")
			}
			alert = &created
		case !alert.Open():
			if err := tx.SetAlertCleared(ctx, alert.ID, nil); err != nil {
				return change, apperr.FromStore(err, "reopen low-stock alert")
			}
		default:
			return change, nil
		}
		change.result = domain.LowStockTriggered
		err := s.audit(ctx, tx, domain.AuditLowStockTrigger, outletID, "low_stock_alert", alert.ID, map[string]any{
			"product_id": productID,
			"quantity":   change.quantity,
			"min_stock":  product.MinStock,
			"note":       note,
		})
		return change, err
	}

	if alert != nil && alert.Open() {
		if err := tx.SetAlertCleared(ctx, alert.ID, &now); err != nil {
			return change, apperr.FromStore(err, "clear low-stock alert")
		}
		change.result = domain.LowStockCleared
	}
	return change, nil
}

func (s *Service) ListOpenAlerts(ctx context.Context, outletID string) ([]domain.LowStockAlert, error) {
	var out []domain.LowStockAlert
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetOutlet(ctx, outletID); err != nil {
			return apperr.FromStore(err, "outlet not found")
		}
		alerts, err := tx.ListOpenAlerts(ctx, outletID)
		out = alerts
		return err
	})
	if err != nil {
		return nil, apperr.FromStore(err, "list low-stock alerts")
	}
	return out, nil
}
