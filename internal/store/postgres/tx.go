package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
)

type tx struct {
	tx       *sqlx.Tx
	readOnly bool
}

var _ store.Tx = (*tx)(nil)

func (t *tx) writable() error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func (t *tx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := t.tx.GetContext(ctx, &p, `
		SELECT id, sku, name, price_cents, min_stock, active
		FROM products
		WHERE id = $1
	`, productID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (t *tx) GetOutlet(ctx context.Context, outletID string) (*domain.Outlet, error) {
	var o domain.Outlet
	err := t.tx.GetContext(ctx, &o, `
		SELECT id, name, code, timezone
		FROM outlets
		WHERE id = $1
	`, outletID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

const selectStock = `SELECT product_id, outlet_id, quantity, updated_at FROM stock_ledger`

func (t *tx) LockStockEntry(ctx context.Context, productID string, outletID string) (*domain.StockLedgerEntry, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_ledger (product_id, outlet_id, quantity, updated_at)
		VALUES ($1, $2, 0, now())
		ON CONFLICT (product_id, outlet_id) DO NOTHING
	`, productID, outletID)
	if err != nil {
		return nil, mapErr(err)
	}

	var entry domain.StockLedgerEntry
	err = t.tx.GetContext(ctx, &entry, selectStock+` WHERE product_id = $1 AND outlet_id = $2 FOR UPDATE`, productID, outletID)
	if err != nil {
		return nil, mapErr(err)
	}
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return &entry, nil
}

func (t *tx) GetStockEntry(ctx context.Context, productID string, outletID string) (*domain.StockLedgerEntry, error) {
	var entry domain.StockLedgerEntry
	err := t.tx.GetContext(ctx, &entry, selectStock+` WHERE product_id = $1 AND outlet_id = $2`, productID, outletID)
	if err != nil {
		return nil, mapErr(err)
	}
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return &entry, nil
}

func (t *tx) SetStockQuantity(ctx context.Context, productID string, outletID string, quantity int, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	if quantity < 0 {
		return store.ErrInsufficientStock
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_ledger (product_id, outlet_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, outlet_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
	`, productID, outletID, quantity, at)
	return mapErr(err)
}

func (t *tx) ListStockByOutlet(ctx context.Context, outletID string) ([]domain.StockLedgerEntry, error) {
	entries := make([]domain.StockLedgerEntry, 0, 32)
	if err := t.tx.SelectContext(ctx, &entries, selectStock+` WHERE outlet_id = $1 ORDER BY product_id`, outletID); err != nil {
		return nil, mapErr(err)
	}
	for i := range entries {
		entries[i].UpdatedAt = entries[i].UpdatedAt.UTC()
	}
	return entries, nil
}

func (t *tx) InsertMovement(ctx context.Context, movement domain.StockMovement) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO stock_movements (
			id, product_id, outlet_id, kind, delta, quantity_before, quantity_after,
			reference, note, actor_id, created_at
		)
		VALUES (
			:id, :product_id, :outlet_id, :kind, :delta, :quantity_before, :quantity_after,
			:reference, :note, :actor_id, :created_at
		)
	`, movement)
	return mapErr(err)
}

func (t *tx) ListMovements(ctx context.Context, productID string, outletID string) ([]domain.StockMovement, error) {
	movements := make([]domain.StockMovement, 0, 32)
	err := t.tx.SelectContext(ctx, &movements, `
		SELECT id, product_id, outlet_id, kind, delta, quantity_before, quantity_after,
			reference, note, actor_id, created_at
		FROM stock_movements
		WHERE product_id = $1 AND outlet_id = $2
		ORDER BY seq
	`, productID, outletID)
	if err != nil {
		return nil, mapErr(err)
	}
	for i := range movements {
		movements[i].CreatedAt = movements[i].CreatedAt.UTC()
	}
	return movements, nil
}

const selectAlert = `
	SELECT id, product_id, outlet_id, quantity, min_stock, note, triggered_at, cleared_at
	FROM low_stock_alerts`

func (t *tx) LatestAlertBetween(ctx context.Context, productID string, outletID string, from time.Time, to time.Time) (*domain.LowStockAlert, error) {
	var alert domain.LowStockAlert
	err := t.tx.GetContext(ctx, &alert, selectAlert+`
		WHERE product_id = $1 AND outlet_id = $2
			AND triggered_at >= $3 AND triggered_at < $4
		ORDER BY triggered_at DESC
		LIMIT 1
	`, productID, outletID, from, to)
	if err != nil {
		return nil, mapErr(err)
	}
	alert.TriggeredAt = alert.TriggeredAt.UTC()
	alert.ClearedAt = utcPtr(alert.ClearedAt)
	return &alert, nil
}

func (t *tx) InsertAlert(ctx context.Context, alert domain.LowStockAlert) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO low_stock_alerts (id, product_id, outlet_id, quantity, min_stock, note, triggered_at, cleared_at)
		VALUES (:id, :product_id, :outlet_id, :quantity, :min_stock, :note, :triggered_at, :cleared_at)
	`, alert)
	return mapErr(err)
}

func (t *tx) SetAlertCleared(ctx context.Context, alertID string, clearedAt *time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE low_stock_alerts SET cleared_at = $2 WHERE id = $1`, alertID, nullTime(clearedAt))
	if err != nil {
		return mapErr(err)
	}
	return requireAffected(res)
}

func (t *tx) ListOpenAlerts(ctx context.Context, outletID string) ([]domain.LowStockAlert, error) {
	alerts := make([]domain.LowStockAlert, 0, 8)
	err := t.tx.SelectContext(ctx, &alerts, selectAlert+`
		WHERE outlet_id = $1 AND cleared_at IS NULL
		ORDER BY triggered_at DESC
	`, outletID)
	if err != nil {
		return nil, mapErr(err)
	}
	for i := range alerts {
		alerts[i].TriggeredAt = alerts[i].TriggeredAt.UTC()
	}
	return alerts, nil
}

func (t *tx) ReceiptExists(ctx context.Context, receiptNumber string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM sales WHERE receipt_number = $1)`, receiptNumber)
	return exists, mapErr(err)
}

type saleRow struct {
	ID                string     `db:"id"`
	ReceiptNumber     string     `db:"receipt_number"`
	OutletID          string     `db:"outlet_id"`
	CashierID         string     `db:"cashier_id"`
	Status            string     `db:"status"`
	GrossCents        int64      `db:"gross_cents"`
	ItemDiscountCents int64      `db:"item_discount_cents"`
	DiscountCents     int64      `db:"discount_cents"`
	TaxMode           string     `db:"tax_mode"`
	TaxRatePercent    string     `db:"tax_rate_percent"`
	TaxCents          int64      `db:"tax_cents"`
	NetCents          int64      `db:"net_cents"`
	SoldAt            time.Time  `db:"sold_at"`
	VoidReason        string     `db:"void_reason"`
	VoidedAt          *time.Time `db:"voided_at"`
	RefundedAt        *time.Time `db:"refunded_at"`
}

func (r saleRow) toDomain() domain.Sale {
	return domain.Sale{
		ID:                r.ID,
		ReceiptNumber:     r.ReceiptNumber,
		OutletID:          r.OutletID,
		CashierID:         r.CashierID,
		Status:            domain.SaleStatus(r.Status),
		GrossCents:        r.GrossCents,
		ItemDiscountCents: r.ItemDiscountCents,
		DiscountCents:     r.DiscountCents,
		TaxMode:           domain.TaxMode(r.TaxMode),
		TaxRatePercent:    r.TaxRatePercent,
		TaxCents:          r.TaxCents,
		NetCents:          r.NetCents,
		SoldAt:            r.SoldAt.UTC(),
		VoidReason:        r.VoidReason,
		VoidedAt:          utcPtr(r.VoidedAt),
		RefundedAt:        utcPtr(r.RefundedAt),
	}
}

func (t *tx) InsertSale(ctx context.Context, sale domain.Sale) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, receipt_number, outlet_id, cashier_id, status,
			gross_cents, item_discount_cents, discount_cents,
			tax_mode, tax_rate_percent, tax_cents, net_cents, sold_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::text::numeric,$11,$12,$13)
	`, sale.ID, sale.ReceiptNumber, sale.OutletID, sale.CashierID, sale.Status,
		sale.GrossCents, sale.ItemDiscountCents, sale.DiscountCents,
		sale.TaxMode, taxRate(sale.TaxRatePercent), sale.TaxCents, sale.NetCents, sale.SoldAt)
	if err != nil {
		return mapErr(err)
	}

	for i, item := range sale.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, position, product_id, quantity, unit_price_cents, discount_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, item.ID, sale.ID, i, item.ProductID, item.Quantity, item.UnitPriceCents, item.DiscountCents, item.LineTotalCents)
		if err != nil {
			return mapErr(err)
		}
	}
	for i, p := range sale.Payments {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO payments (id, sale_id, position, method, amount_cents, reference)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, p.ID, sale.ID, i, p.Method, p.AmountCents, p.Reference)
		if err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func taxRate(v string) string {
	if v == "" {
		return "0"
	}
	return v
}

func (t *tx) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return t.loadSale(ctx, saleID, false)
}

func (t *tx) LockSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	return t.loadSale(ctx, saleID, true)
}

func (t *tx) loadSale(ctx context.Context, saleID string, forUpdate bool) (*domain.Sale, error) {
	query := `
		SELECT id, receipt_number, outlet_id, cashier_id, status,
			gross_cents, item_discount_cents, discount_cents,
			tax_mode, tax_rate_percent::text AS tax_rate_percent, tax_cents, net_cents,
			sold_at, void_reason, voided_at, refunded_at
		FROM sales
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row saleRow
	if err := t.tx.GetContext(ctx, &row, query, saleID); err != nil {
		return nil, mapErr(err)
	}
	sale := row.toDomain()

	sale.Items = make([]domain.SaleItem, 0, 8)
	err := t.tx.SelectContext(ctx, &sale.Items, `
		SELECT id, sale_id, product_id, quantity, unit_price_cents, discount_cents, line_total_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY position
	`, saleID)
	if err != nil {
		return nil, mapErr(err)
	}

	sale.Payments = make([]domain.Payment, 0, 2)
	err = t.tx.SelectContext(ctx, &sale.Payments, `
		SELECT id, sale_id, method, amount_cents, reference
		FROM payments
		WHERE sale_id = $1
		ORDER BY position
	`, saleID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &sale, nil
}

func (t *tx) UpdateSaleStatus(ctx context.Context, saleID string, from domain.SaleStatus, to domain.SaleStatus, reason string, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	query := `UPDATE sales SET status = $3 WHERE id = $1 AND status = $2`
	args := []any{saleID, from, to}
	switch to {
	case domain.SaleVoided:
		query = `UPDATE sales SET status = $3, void_reason = $4, voided_at = $5 WHERE id = $1 AND status = $2`
		args = append(args, reason, at)
	case domain.SaleRefunded:
		query = `UPDATE sales SET status = $3, refunded_at = $4 WHERE id = $1 AND status = $2`
		args = append(args, at)
	}

	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := t.tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1)`, saleID); err != nil {
		return mapErr(err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrInvalidState
}

func (t *tx) InsertRefund(ctx context.Context, refund domain.Refund) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO refunds (id, sale_id, amount_cents, reason, actor_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, refund.ID, refund.SaleID, refund.AmountCents, refund.Reason, refund.ActorID, refund.CreatedAt)
	if err != nil {
		return mapErr(err)
	}
	for _, item := range refund.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO refund_items (refund_id, sale_item_id, product_id, quantity)
			VALUES ($1,$2,$3,$4)
		`, refund.ID, item.SaleItemID, item.ProductID, item.Quantity)
		if err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (t *tx) SumCashPayments(ctx context.Context, outletID string, from time.Time, to time.Time) (int64, error) {
	var total int64
	err := t.tx.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(p.amount_cents), 0)
		FROM payments p
		JOIN sales s ON s.id = p.sale_id
		WHERE s.outlet_id = $1
			AND s.status = $2
			AND p.method = $3
			AND s.sold_at >= $4 AND s.sold_at <= $5
	`, outletID, domain.SaleCompleted, domain.PaymentCash, from, to)
	return total, mapErr(err)
}

const selectSession = `
	SELECT id, outlet_id, user_id, opening_cash_cents, closing_cash_cents, cash_sales_cents,
		expected_cash_cents, difference_cents, open_time, close_time
	FROM cash_sessions`

func normalizeSession(s *domain.CashSession) {
	s.OpenTime = s.OpenTime.UTC()
	s.CloseTime = utcPtr(s.CloseTime)
}

func (t *tx) GetOpenCashSession(ctx context.Context, outletID string) (*domain.CashSession, error) {
	var session domain.CashSession
	if err := t.tx.GetContext(ctx, &session, selectSession+` WHERE outlet_id = $1 AND close_time IS NULL`, outletID); err != nil {
		return nil, mapErr(err)
	}
	normalizeSession(&session)
	return &session, nil
}

func (t *tx) InsertCashSession(ctx context.Context, session domain.CashSession) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO cash_sessions (id, outlet_id, user_id, opening_cash_cents, open_time)
		VALUES (:id, :outlet_id, :user_id, :opening_cash_cents, :open_time)
	`, session)
	return mapErr(err)
}

func (t *tx) LockCashSession(ctx context.Context, sessionID string) (*domain.CashSession, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	var session domain.CashSession
	if err := t.tx.GetContext(ctx, &session, selectSession+` WHERE id = $1 FOR UPDATE`, sessionID); err != nil {
		return nil, mapErr(err)
	}
	normalizeSession(&session)
	return &session, nil
}

func (t *tx) CloseCashSession(ctx context.Context, session domain.CashSession) error {
	if err := t.writable(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE cash_sessions
		SET closing_cash_cents = $2, cash_sales_cents = $3, expected_cash_cents = $4,
			difference_cents = $5, close_time = $6
		WHERE id = $1 AND close_time IS NULL
	`, session.ID, nullInt64(session.ClosingCashCents), nullInt64(session.CashSalesCents),
		nullInt64(session.ExpectedCashCents), nullInt64(session.DifferenceCents), nullTime(session.CloseTime))
	if err != nil {
		return mapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := t.tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM cash_sessions WHERE id = $1)`, session.ID); err != nil {
		return mapErr(err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrInvalidState
}

type auditRow struct {
	ID        string    `db:"id"`
	Action    string    `db:"action"`
	UserID    string    `db:"user_id"`
	OutletID  string    `db:"outlet_id"`
	Entity    string    `db:"entity"`
	EntityID  string    `db:"entity_id"`
	Details   string    `db:"details"`
	CreatedAt time.Time `db:"created_at"`
}

func (t *tx) InsertAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if err := t.writable(); err != nil {
		return err
	}
	details := "{}"
	if len(entry.Details) > 0 && json.Valid(entry.Details) {
		details = string(entry.Details)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, user_id, outlet_id, entity, entity_id, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7::text::jsonb,$8)
	`, entry.ID, entry.Action, entry.UserID, entry.OutletID, entry.Entity, entry.EntityID, details, entry.CreatedAt)
	return mapErr(err)
}

func (t *tx) ListAuditLogs(ctx context.Context, outletID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows := make([]auditRow, 0, limit)
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT id, action, user_id, outlet_id, entity, entity_id, details::text AS details, created_at
		FROM audit_logs
		WHERE ($1 = '' OR outlet_id = $1)
		ORDER BY seq DESC
		LIMIT $2
	`, outletID, limit)
	if err != nil {
		return nil, mapErr(err)
	}

	out := make([]domain.AuditLog, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.AuditLog{
			ID:        r.ID,
			Action:    domain.AuditAction(r.Action),
			UserID:    r.UserID,
			OutletID:  r.OutletID,
			Entity:    r.Entity,
			EntityID:  r.EntityID,
			Details:   json.RawMessage(r.Details),
			CreatedAt: r.CreatedAt.UTC(),
		})
	}
	return out, nil
}
