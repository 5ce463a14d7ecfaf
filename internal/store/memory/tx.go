package memory

import (
	"context"
	"sort"
	"time"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
)

type memTx struct {
	st       *state
	readOnly bool
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) writable() error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func (t *memTx) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) GetOutlet(_ context.Context, outletID string) (*domain.Outlet, error) {
	o, ok := t.st.outlets[outletID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (t *memTx) LockStockEntry(_ context.Context, productID string, outletID string) (*domain.StockLedgerEntry, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	key := stockKey{productID: productID, outletID: outletID}
	entry, ok := t.st.stock[key]
	if !ok {
		entry = domain.StockLedgerEntry{ProductID: productID, OutletID: outletID, Quantity: 0, UpdatedAt: time.Now().UTC()}
		t.st.stock[key] = entry
	}
	return &entry, nil
}

func (t *memTx) GetStockEntry(_ context.Context, productID string, outletID string) (*domain.StockLedgerEntry, error) {
	entry, ok := t.st.stock[stockKey{productID: productID, outletID: outletID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (t *memTx) SetStockQuantity(_ context.Context, productID string, outletID string, quantity int, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	if quantity < 0 {
		return store.ErrInsufficientStock
	}
	key := stockKey{productID: productID, outletID: outletID}
	entry, ok := t.st.stock[key]
	if !ok {
		entry = domain.StockLedgerEntry{ProductID: productID, OutletID: outletID}
	}
	entry.Quantity = quantity
	entry.UpdatedAt = at
	t.st.stock[key] = entry
	return nil
}

func (t *memTx) ListStockByOutlet(_ context.Context, outletID string) ([]domain.StockLedgerEntry, error) {
	out := make([]domain.StockLedgerEntry, 0, 16)
	for key, entry := range t.st.stock {
		if key.outletID == outletID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (t *memTx) InsertMovement(_ context.Context, movement domain.StockMovement) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.movements = append(t.st.movements, movement)
	return nil
}

func (t *memTx) ListMovements(_ context.Context, productID string, outletID string) ([]domain.StockMovement, error) {
	out := make([]domain.StockMovement, 0, 16)
	for _, m := range t.st.movements {
		if m.ProductID == productID && m.OutletID == outletID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *memTx) LatestAlertBetween(_ context.Context, productID string, outletID string, from time.Time, to time.Time) (*domain.LowStockAlert, error) {
	var latest *domain.LowStockAlert
	for i := range t.st.alerts {
		a := t.st.alerts[i]
		if a.ProductID != productID || a.OutletID != outletID {
			continue
		}
		if a.TriggeredAt.Before(from) || !a.TriggeredAt.Before(to) {
			continue
		}
		if latest == nil || a.TriggeredAt.After(latest.TriggeredAt) {
			found := cloneAlert(a)
			latest = &found
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (t *memTx) InsertAlert(_ context.Context, alert domain.LowStockAlert) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.alerts = append(t.st.alerts, cloneAlert(alert))
	return nil
}

func (t *memTx) SetAlertCleared(_ context.Context, alertID string, clearedAt *time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	for i := range t.st.alerts {
		if t.st.alerts[i].ID != alertID {
			continue
		}
		if clearedAt == nil {
			t.st.alerts[i].ClearedAt = nil
		} else {
			at := *clearedAt
			t.st.alerts[i].ClearedAt = &at
		}
		return nil
	}
	return store.ErrNotFound
}

func (t *memTx) ListOpenAlerts(_ context.Context, outletID string) ([]domain.LowStockAlert, error) {
	out := make([]domain.LowStockAlert, 0, 8)
	for _, a := range t.st.alerts {
		if a.OutletID == outletID && a.Open() {
			out = append(out, cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	return out, nil
}

func (t *memTx) ReceiptExists(_ context.Context, receiptNumber string) (bool, error) {
	_, ok := t.st.receipts[receiptNumber]
	return ok, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.st.receipts[sale.ReceiptNumber]; exists {
		return store.ErrConflict
	}
	if _, exists := t.st.sales[sale.ID]; exists {
		return store.ErrConflict
	}
	t.st.sales[sale.ID] = cloneSale(sale)
	t.st.receipts[sale.ReceiptNumber] = sale.ID
	return nil
}

func (t *memTx) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	sale, ok := t.st.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (t *memTx) LockSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	return t.GetSale(ctx, saleID)
}

func (t *memTx) UpdateSaleStatus(_ context.Context, saleID string, from domain.SaleStatus, to domain.SaleStatus, reason string, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	sale, ok := t.st.sales[saleID]
	if !ok {
		return store.ErrNotFound
	}
	if sale.Status != from {
		return store.ErrInvalidState
	}
	sale.Status = to
	stamp := at
	switch to {
	case domain.SaleVoided:
		sale.VoidReason = reason
		sale.VoidedAt = &stamp
	case domain.SaleRefunded:
		sale.RefundedAt = &stamp
	}
	t.st.sales[saleID] = sale
	return nil
}

func (t *memTx) InsertRefund(_ context.Context, refund domain.Refund) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.refunds = append(t.st.refunds, cloneRefund(refund))
	return nil
}

func (t *memTx) SumCashPayments(_ context.Context, outletID string, from time.Time, to time.Time) (int64, error) {
	var total int64
	for _, sale := range t.st.sales {
		if sale.OutletID != outletID || sale.Status != domain.SaleCompleted {
			continue
		}
		if sale.SoldAt.Before(from) || sale.SoldAt.After(to) {
			continue
		}
		for _, p := range sale.Payments {
			if p.Method == domain.PaymentCash {
				total += p.AmountCents
			}
		}
	}
	return total, nil
}

func (t *memTx) GetOpenCashSession(_ context.Context, outletID string) (*domain.CashSession, error) {
	for _, session := range t.st.sessions {
		if session.OutletID == outletID && session.Open() {
			out := cloneSession(session)
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) InsertCashSession(ctx context.Context, session domain.CashSession) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, err := t.GetOpenCashSession(ctx, session.OutletID); err == nil {
		return store.ErrConflict
	}
	t.st.sessions[session.ID] = cloneSession(session)
	return nil
}

func (t *memTx) LockCashSession(_ context.Context, sessionID string) (*domain.CashSession, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	session, ok := t.st.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSession(session)
	return &out, nil
}

func (t *memTx) CloseCashSession(_ context.Context, session domain.CashSession) error {
	if err := t.writable(); err != nil {
		return err
	}
	existing, ok := t.st.sessions[session.ID]
	if !ok {
		return store.ErrNotFound
	}
	if !existing.Open() {
		return store.ErrInvalidState
	}
	t.st.sessions[session.ID] = cloneSession(session)
	return nil
}

func (t *memTx) InsertAuditLog(_ context.Context, entry domain.AuditLog) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.auditLogs = append(t.st.auditLogs, entry)
	return nil
}

func (t *memTx) ListAuditLogs(_ context.Context, outletID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	out := make([]domain.AuditLog, 0, limit)
	for i := len(t.st.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := t.st.auditLogs[i]
		if outletID == "" || entry.OutletID == outletID {
			out = append(out, entry)
		}
	}
	return out, nil
}
