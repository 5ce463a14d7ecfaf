package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"kasirinaja/poscore/internal/apperr"
	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/xid"
)

const minReasonLength = 3

var hundred = decimal.NewFromInt(100)

type taxPolicy struct {
	mode domain.TaxMode
	rate decimal.Decimal
}

func parseTax(cfg domain.TaxConfig) (taxPolicy, error) {
	mode := domain.TaxMode(strings.ToUpper(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = domain.TaxNone
	}
	switch mode {
	case domain.TaxNone:
		return taxPolicy{mode: domain.TaxNone, rate: decimal.Zero}, nil
	case domain.TaxExclusive, domain.TaxInclusive:
	default:
		return taxPolicy{}, validation("tax mode must be NONE, EXCLUSIVE or INCLUSIVE")
	}

	raw := strings.TrimSpace(cfg.RatePercent)
	if raw == "" {
		return taxPolicy{}, validation("tax rate is required")
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return taxPolicy{}, validation("tax rate must be a number")
	}
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return taxPolicy{}, validation("tax rate must be between 0 and 100")
	}
	return taxPolicy{mode: mode, rate: rate}, nil
}

type saleTotals struct {
	gross        int64
	itemDiscount int64
	discount     int64
	tax          int64
	net          int64
}

// computeTotals derives tax and net from the discounted base. Exclusive tax is
// added on top; inclusive tax is carved out of the base, which stays the net.
// Rounding is half away from zero on whole cents.
func computeTotals(gross, itemDiscount, discount int64, tax taxPolicy) (saleTotals, error) {
	t := saleTotals{gross: gross, itemDiscount: itemDiscount, discount: discount}
	base := gross - itemDiscount - discount
	if base < 0 {
		return saleTotals{}, validation("discounts exceed the sale total")
	}

	b := decimal.NewFromInt(base)
	switch tax.mode {
	case domain.TaxExclusive:
		t.tax = b.Mul(tax.rate).Div(hundred).Round(0).IntPart()
		if t.tax > math.MaxInt64-base {
			return saleTotals{}, validation("sale total is too large")
		}
		t.net = base + t.tax
	case domain.TaxInclusive:
		exTax := b.Mul(hundred).Div(hundred.Add(tax.rate)).Round(0).IntPart()
		t.tax = base - exTax
		t.net = base
	default:
		t.net = base
	}
	return t, nil
}

func validReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < minReasonLength {
		return "", validation(fmt.Sprintf("reason must be at least %d characters", minReasonLength))
	}
	return reason, nil
}

func receiptNumber(outlet *domain.Outlet, at time.Time, loc *time.Location) string {
	code := strings.ToUpper(strings.TrimSpace(outlet.Code))
	if code == "" {
		code = "POS"
	}
	return fmt.Sprintf("%s-%s-%s", code, at.In(loc).Format("20060102"), strings.ToUpper(xid.Short(6)))
}

func validateSaleRequest(req domain.RecordSaleRequest) error {
	if strings.TrimSpace(req.OutletID) == "" {
		return validation("outlet_id is required")
	}
	if len(req.Items) == 0 {
		return validation("sale needs at least one item")
	}
	if len(req.Payments) == 0 {
		return validation("sale needs at least one payment")
	}
	if req.DiscountCents < 0 {
		return validation("discount cannot be negative")
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return validation("product_id is required").WithDetails(map[string]any{"line": i})
		}
		if item.Quantity <= 0 {
			return validation("quantity must be positive").WithDetails(map[string]any{"line": i, "product_id": item.ProductID})
		}
		if (item.UnitPriceCents != nil && *item.UnitPriceCents < 0) || item.DiscountCents < 0 {
			return validation("price and discount cannot be negative").WithDetails(map[string]any{"line": i, "product_id": item.ProductID})
		}
	}
	for i, p := range req.Payments {
		if !p.Method.Valid() {
			return validation("unknown payment method").WithDetails(map[string]any{"payment": i, "method": p.Method})
		}
		if p.AmountCents <= 0 {
			return validation("payment amount must be positive").WithDetails(map[string]any{"payment": i})
		}
	}
	return nil
}

// RecordSale persists a completed sale, deducts every line from the outlet
// ledger and re-evaluates low stock, all in one transaction.
func (s *Service) RecordSale(ctx context.Context, req domain.RecordSaleRequest) (domain.SaleResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	req.OutletID = strings.TrimSpace(req.OutletID)
	if err := validateSaleRequest(req); err != nil {
		return domain.SaleResponse{}, err
	}
	tax, err := parseTax(req.Tax)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	var (
		sale    domain.Sale
		changes []lowStockChange
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		changes = changes[:0]
		outlet, err := tx.GetOutlet(ctx, req.OutletID)
		if err != nil {
			return apperr.FromStore(err, "outlet not found")
		}

		now := s.clock()
		receipt := strings.TrimSpace(req.ReceiptNumber)
		if receipt == "" {
			receipt = receiptNumber(outlet, now, s.location(outlet))
		}
		exists, err := tx.ReceiptExists(ctx, receipt)
		if err != nil {
			return apperr.FromStore(err, "check receipt number")
		}
		if exists {
			return apperr.New(apperr.CodeConflict, "receipt number already used").WithDetails(map[string]any{"receipt_number": receipt})
		}

		saleID := xid.New("sale")
		items := make([]domain.SaleItem, 0, len(req.Items))
		productIDs := make([]string, 0, len(req.Items))
		var gross, itemDiscount int64
		for i, in := range req.Items {
			product, err := tx.GetProduct(ctx, in.ProductID)
			if err != nil {
				return apperr.FromStore(err, "product not found")
			}
			if !product.Active {
				return validation("product is not active").WithDetails(map[string]any{"line": i, "product_id": product.ID})
			}
			unit := product.PriceCents
			if in.UnitPriceCents != nil {
				unit = *in.UnitPriceCents
			}
			if unit > 0 && int64(in.Quantity) > math.MaxInt64/unit {
				return validation("line total is too large").WithDetails(map[string]any{"line": i, "product_id": product.ID})
			}
			lineGross := unit * int64(in.Quantity)
			if gross > math.MaxInt64-lineGross {
				return validation("sale total is too large").WithDetails(map[string]any{"line": i, "product_id": product.ID})
			}
			if in.DiscountCents > lineGross {
				return validation("line discount exceeds line total").WithDetails(map[string]any{"line": i, "product_id": product.ID})
			}
			gross += lineGross
			itemDiscount += in.DiscountCents
			items = append(items, domain.SaleItem{
				ID:             xid.New("item"),
				SaleID:         saleID,
				ProductID:      product.ID,
				Quantity:       in.Quantity,
				UnitPriceCents: unit,
				DiscountCents:  in.DiscountCents,
				LineTotalCents: lineGross - in.DiscountCents,
			})
			productIDs = append(productIDs, product.ID)
		}

		totals, err := computeTotals(gross, itemDiscount, req.DiscountCents, tax)
		if err != nil {
			return err
		}

		payments := make([]domain.Payment, 0, len(req.Payments))
		var paid int64
		for _, in := range req.Payments {
			paid += in.AmountCents
			payments = append(payments, domain.Payment{
				ID:          xid.New("pay"),
				SaleID:      saleID,
				Method:      in.Method,
				AmountCents: in.AmountCents,
				Reference:   strings.TrimSpace(in.Reference),
			})
		}
		if paid != totals.net {
			return validation("payments must equal the sale total").WithDetails(map[string]any{
				"net_cents":  totals.net,
				"paid_cents": paid,
			})
		}

		sale = domain.Sale{
			ID:                saleID,
			ReceiptNumber:     receipt,
			OutletID:          outlet.ID,
			CashierID:         actor.UserID,
			Status:            domain.SaleCompleted,
			GrossCents:        totals.gross,
			ItemDiscountCents: totals.itemDiscount,
			DiscountCents:     totals.discount,
			TaxMode:           tax.mode,
			TaxRatePercent:    tax.rate.String(),
			TaxCents:          totals.tax,
			NetCents:          totals.net,
			SoldAt:            now,
			Items:             items,
			Payments:          payments,
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return apperr.FromStore(err, "create sale")
		}

		if err := lockEntries(ctx, tx, outlet.ID, productIDs); err != nil {
			return err
		}
		for _, item := range items {
			_, err := s.Adjust(ctx, tx, AdjustInput{
				ProductID: item.ProductID,
				OutletID:  outlet.ID,
				Delta:     -item.Quantity,
				Kind:      domain.MovementSale,
				ActorID:   actor.UserID,
				Note:      "sale " + receipt,
				Reference: saleID,
			})
			if err != nil {
				return err
			}
		}
		for _, id := range uniqueSorted(productIDs) {
			change, err := s.evaluate(ctx, tx, id, outlet.ID, "sale "+receipt)
			if err != nil {
				return err
			}
			changes = append(changes, change)
		}

		return s.audit(ctx, tx, domain.AuditSaleRecord, outlet.ID, "sale", saleID, map[string]any{
			"receipt_number": receipt,
			"items":          len(items),
			"quantity":       sale.TotalQuantity(),
			"net_cents":      sale.NetCents,
			"tax_cents":      sale.TaxCents,
		})
	})
	if err != nil {
		return domain.SaleResponse{}, apperr.FromStore(err, "record sale")
	}

	s.metrics.SaleRecorded(sale.OutletID, sale.NetCents)
	s.metrics.MovementsRecorded(string(domain.MovementSale), len(sale.Items))
	s.invalidateStock(ctx, sale.OutletID)
	s.publishLowStock(ctx, changes)
	lctx := s.log.WithFields(ctx, map[string]any{
		"sale_id":   sale.ID,
		"receipt":   sale.ReceiptNumber,
		"outlet_id": sale.OutletID,
		"net_cents": sale.NetCents,
	})
	s.log.Info(lctx, "sale.recorded")
	return domain.SaleResponse{Sale: sale}, nil
}

// restock books a positive movement for every sale line and re-evaluates each
// affected product.
func (s *Service) restock(ctx context.Context, tx store.Tx, sale *domain.Sale, kind domain.MovementKind, actorID, note string) (int, []lowStockChange, error) {
	productIDs := make([]string, 0, len(sale.Items))
	for _, item := range sale.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	if err := lockEntries(ctx, tx, sale.OutletID, productIDs); err != nil {
		return 0, nil, err
	}

	restocked := 0
	for _, item := range sale.Items {
		_, err := s.Adjust(ctx, tx, AdjustInput{
			ProductID: item.ProductID,
			OutletID:  sale.OutletID,
			Delta:     item.Quantity,
			Kind:      kind,
			ActorID:   actorID,
			Note:      note,
			Reference: sale.ID,
		})
		if err != nil {
			return 0, nil, err
		}
		restocked += item.Quantity
	}

	changes := make([]lowStockChange, 0, len(productIDs))
	for _, id := range uniqueSorted(productIDs) {
		change, err := s.evaluate(ctx, tx, id, sale.OutletID, note)
		if err != nil {
			return 0, nil, err
		}
		changes = append(changes, change)
	}
	return restocked, changes, nil
}

func lockCompletedSale(ctx context.Context, tx store.Tx, saleID string) (*domain.Sale, error) {
	sale, err := tx.LockSale(ctx, saleID)
	if err != nil {
		return nil, apperr.FromStore(err, "sale not found")
	}
	if sale.Status != domain.SaleCompleted {
		return nil, apperr.New(apperr.CodeStateConflict, "only completed sales can be reversed").WithDetails(map[string]any{
			"sale_id": sale.ID,
			"status":  sale.Status,
		})
	}
	return sale, nil
}

func (s *Service) VoidSale(ctx context.Context, saleID, reason string) (domain.VoidSaleResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.VoidSaleResponse{}, err
	}
	reason, err = validReason(reason)
	if err != nil {
		return domain.VoidSaleResponse{}, err
	}

	var (
		resp    domain.VoidSaleResponse
		outlet  string
		changes []lowStockChange
		lines   int
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := lockCompletedSale(ctx, tx, saleID)
		if err != nil {
			return err
		}
		now := s.clock()
		if err := tx.UpdateSaleStatus(ctx, sale.ID, domain.SaleCompleted, domain.SaleVoided, reason, now); err != nil {
			return apperr.FromStore(err, "void sale")
		}
		restocked, evaluated, err := s.restock(ctx, tx, sale, domain.MovementVoidRestock, actor.UserID, "void "+sale.ReceiptNumber)
		if err != nil {
			return err
		}
		resp = domain.VoidSaleResponse{SaleID: sale.ID, Status: domain.SaleVoided, RestockedQuantity: restocked, VoidedAt: now}
		outlet = sale.OutletID
		changes = evaluated
		lines = len(sale.Items)

		return s.audit(ctx, tx, domain.AuditSaleVoid, sale.OutletID, "sale", sale.ID, map[string]any{
			"reason":             reason,
			"receipt_number":     sale.ReceiptNumber,
			"restocked_quantity": restocked,
		})
	})
	if err != nil {
		return domain.VoidSaleResponse{}, apperr.FromStore(err, "void sale")
	}

	s.metrics.SaleReversed(outlet, "voided")
	s.metrics.MovementsRecorded(string(domain.MovementVoidRestock), lines)
	s.invalidateStock(ctx, outlet)
	s.publishLowStock(ctx, changes)
	lctx := s.log.WithFields(ctx, map[string]any{
		"sale_id":   resp.SaleID,
		"outlet_id": outlet,
		"restocked": resp.RestockedQuantity,
	})
	s.log.Info(lctx, "sale.voided")
	return resp, nil
}

// RefundSale refunds amount (the full net when nil) and restocks every line
// in full.
func (s *Service) RefundSale(ctx context.Context, saleID, reason string, amount *int64) (domain.RefundSaleResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.RefundSaleResponse{}, err
	}
	reason, err = validReason(reason)
	if err != nil {
		return domain.RefundSaleResponse{}, err
	}
	if amount != nil && *amount <= 0 {
		return domain.RefundSaleResponse{}, validation("refund amount must be positive")
	}

	var (
		resp    domain.RefundSaleResponse
		outlet  string
		changes []lowStockChange
		lines   int
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := lockCompletedSale(ctx, tx, saleID)
		if err != nil {
			return err
		}
		refundAmount := sale.NetCents
		if amount != nil {
			if *amount > sale.NetCents {
				return validation("refund amount exceeds sale total").WithDetails(map[string]any{
					"net_cents":    sale.NetCents,
					"amount_cents": *amount,
				})
			}
			refundAmount = *amount
		}

		now := s.clock()
		if err := tx.UpdateSaleStatus(ctx, sale.ID, domain.SaleCompleted, domain.SaleRefunded, reason, now); err != nil {
			return apperr.FromStore(err, "refund sale")
		}
		refund := domain.Refund{
			ID:          xid.New("rfd"),
			SaleID:      sale.ID,
			AmountCents: refundAmount,
			Reason:      reason,
			ActorID:     actor.UserID,
			Items:       make([]domain.RefundItem, 0, len(sale.Items)),
			CreatedAt:   now,
		}
		for _, item := range sale.Items {
			refund.Items = append(refund.Items, domain.RefundItem{SaleItemID: item.ID, ProductID: item.ProductID, Quantity: item.Quantity})
		}
		if err := tx.InsertRefund(ctx, refund); err != nil {
			return apperr.FromStore(err, "create refund")
		}

		restocked, evaluated, err := s.restock(ctx, tx, sale, domain.MovementRefundRestock, actor.UserID, "refund "+sale.ReceiptNumber)
		if err != nil {
			return err
		}
		resp = domain.RefundSaleResponse{
			SaleID:            sale.ID,
			Status:            domain.SaleRefunded,
			Refund:            refund,
			RestockedQuantity: restocked,
			AmountCents:       refundAmount,
		}
		outlet = sale.OutletID
		changes = evaluated
		lines = len(sale.Items)

		return s.audit(ctx, tx, domain.AuditSaleRefund, sale.OutletID, "sale", sale.ID, map[string]any{
			"reason":             reason,
			"refund_id":          refund.ID,
			"amount_cents":       refundAmount,
			"restocked_quantity": restocked,
		})
	})
	if err != nil {
		return domain.RefundSaleResponse{}, apperr.FromStore(err, "refund sale")
	}

	s.metrics.SaleReversed(outlet, "refunded")
	s.metrics.MovementsRecorded(string(domain.MovementRefundRestock), lines)
	s.invalidateStock(ctx, outlet)
	s.publishLowStock(ctx, changes)
	lctx := s.log.WithFields(ctx, map[string]any{
		"sale_id":      resp.SaleID,
		"outlet_id":    outlet,
		"amount_cents": resp.AmountCents,
		"restocked":    resp.RestockedQuantity,
	})
	s.log.Info(lctx, "sale.refunded")
	return resp, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	var out domain.Sale
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		out = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, apperr.FromStore(err, "sale not found")
	}
	return out, nil
}
