package service

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/poscore/internal/apperr"
	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
)

func cashSale(items []domain.SaleItemInput, amount int64) domain.RecordSaleRequest {
	return domain.RecordSaleRequest{
		OutletID: outletA,
		Items:    items,
		Payments: []domain.PaymentInput{{Method: domain.PaymentCash, AmountCents: amount}},
	}
}

func cents(v int64) *int64 { return &v }

func (f *fixture) recordTwoLineSale(t *testing.T) domain.Sale {
	t.Helper()
	resp, err := f.svc.RecordSale(f.ctx, cashSale([]domain.SaleItemInput{
		{ProductID: p1, Quantity: 2},
		{ProductID: p2, Quantity: 1},
	}, 25000))
	require.NoError(t, err)
	return resp.Sale
}

func TestComputeTotals(t *testing.T) {
	rate := func(v string) taxPolicy {
		p, err := parseTax(domain.TaxConfig{Mode: domain.TaxExclusive, RatePercent: v})
		require.NoError(t, err)
		return p
	}
	inclusive := func(v string) taxPolicy {
		p, err := parseTax(domain.TaxConfig{Mode: domain.TaxInclusive, RatePercent: v})
		require.NoError(t, err)
		return p
	}

	cases := []struct {
		name                          string
		gross, itemDiscount, discount int64
		tax                           taxPolicy
		wantTax, wantNet              int64
	}{
		{"no tax", 10000, 500, 500, taxPolicy{mode: domain.TaxNone}, 0, 9000},
		{"exclusive", 10000, 0, 0, rate("11"), 1100, 11100},
		{"exclusive rounds half up", 999, 0, 0, rate("11"), 110, 1109},
		{"exclusive after discounts", 12000, 1000, 1000, rate("10"), 1000, 11000},
		{"inclusive", 11100, 0, 0, inclusive("11"), 1100, 11100},
		{"inclusive fractional", 10000, 0, 0, inclusive("11"), 991, 10000},
		{"zero rate", 5000, 0, 0, rate("0"), 0, 5000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := computeTotals(tc.gross, tc.itemDiscount, tc.discount, tc.tax)
			require.NoError(t, err)
			assert.Equal(t, tc.wantTax, got.tax)
			assert.Equal(t, tc.wantNet, got.net)
		})
	}

	_, err := computeTotals(1000, 600, 600, taxPolicy{mode: domain.TaxNone})
	requireCode(t, err, apperr.CodeValidation)
}

func TestParseTaxRejectsBadInput(t *testing.T) {
	for _, cfg := range []domain.TaxConfig{
		{Mode: "VAT", RatePercent: "10"},
		{Mode: domain.TaxExclusive},
		{Mode: domain.TaxExclusive, RatePercent: "abc"},
		{Mode: domain.TaxInclusive, RatePercent: "100.5"},
		{Mode: domain.TaxExclusive, RatePercent: "-1"},
	} {
		_, err := parseTax(cfg)
		requireCode(t, err, apperr.CodeValidation)
	}

	p, err := parseTax(domain.TaxConfig{})
	require.NoError(t, err)
	assert.Equal(t, domain.TaxNone, p.mode)
}

func TestRecordSaleDeductsStockAndAudits(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 10)
	f.stockIn(t, p2, outletA, 10)

	sale := f.recordTwoLineSale(t)
	assert.Equal(t, domain.SaleCompleted, sale.Status)
	assert.Equal(t, int64(25000), sale.GrossCents)
	assert.Equal(t, int64(25000), sale.NetCents)
	assert.Equal(t, "cashier-1", sale.CashierID)
	assert.True(t, strings.HasPrefix(sale.ReceiptNumber, "OA-20260310-"), sale.ReceiptNumber)
	assert.Equal(t, 8, f.qty(t, p1, outletA))
	assert.Equal(t, 9, f.qty(t, p2, outletA))

	movements, err := f.svc.ListMovements(f.ctx, p1, outletA)
	require.NoError(t, err)
	last := movements[len(movements)-1]
	assert.Equal(t, domain.MovementSale, last.Kind)
	assert.Equal(t, -2, last.Delta)
	assert.Equal(t, sale.ID, last.Reference)

	assert.Contains(t, f.auditActions(t, outletA), domain.AuditSaleRecord)

	stored, err := f.svc.GetSale(f.ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)
	assert.Len(t, stored.Payments, 1)
}

func TestRecordSaleAppliesDiscountsAndTax(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 10)

	resp, err := f.svc.RecordSale(f.ctx, domain.RecordSaleRequest{
		OutletID:      outletA,
		ReceiptNumber: "R-TAX-1",
		Items:         []domain.SaleItemInput{{ProductID: p1, Quantity: 3, UnitPriceCents: cents(9000), DiscountCents: 2000}},
		DiscountCents: 1000,
		Tax:           domain.TaxConfig{Mode: domain.TaxExclusive, RatePercent: "11"},
		Payments: []domain.PaymentInput{
			{Method: domain.PaymentCash, AmountCents: 20000},
			{Method: domain.PaymentQRIS, AmountCents: 6640},
		},
	})
	require.NoError(t, err)
	sale := resp.Sale
	assert.Equal(t, int64(27000), sale.GrossCents)
	assert.Equal(t, int64(2000), sale.ItemDiscountCents)
	assert.Equal(t, int64(2640), sale.TaxCents)
	assert.Equal(t, int64(26640), sale.NetCents)
	assert.Equal(t, "R-TAX-1", sale.ReceiptNumber)
	assert.Equal(t, int64(25000), sale.Items[0].LineTotalCents)
}

func TestRecordSaleExplicitZeroPriceIsFreeLine(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 5)
	f.stockIn(t, p2, outletA, 5)

	resp, err := f.svc.RecordSale(f.ctx, cashSale([]domain.SaleItemInput{
		{ProductID: p1, Quantity: 1},
		{ProductID: p2, Quantity: 2, UnitPriceCents: cents(0)},
	}, 10000))
	require.NoError(t, err)
	assert.Equal(t, int64(10000), resp.Sale.NetCents)
	assert.Equal(t, int64(0), resp.Sale.Items[1].UnitPriceCents)
	assert.Equal(t, int64(0), resp.Sale.Items[1].LineTotalCents)
	assert.Equal(t, 3, f.qty(t, p2, outletA))
}

func TestRecordSaleRejectsOverflowingTotals(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 10)

	_, err := f.svc.RecordSale(f.ctx, cashSale([]domain.SaleItemInput{
		{ProductID: p1, Quantity: 3, UnitPriceCents: cents(math.MaxInt64 / 2)},
	}, 1))
	requireCode(t, err, apperr.CodeValidation)

	_, err = f.svc.RecordSale(f.ctx, cashSale([]domain.SaleItemInput{
		{ProductID: p1, Quantity: 1, UnitPriceCents: cents(math.MaxInt64 - 10)},
		{ProductID: p1, Quantity: 1, UnitPriceCents: cents(100)},
	}, 1))
	requireCode(t, err, apperr.CodeValidation)
	assert.Equal(t, 10, f.qty(t, p1, outletA))
}

func TestRecordSaleInsufficientStockCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 1)

	_, err := f.svc.RecordSale(f.ctx, domain.RecordSaleRequest{
		OutletID:      outletA,
		ReceiptNumber: "R-FAIL",
		Items:         []domain.SaleItemInput{{ProductID: p1, Quantity: 2}},
		Payments:      []domain.PaymentInput{{Method: domain.PaymentCash, AmountCents: 20000}},
	})
	requireCode(t, err, apperr.CodeInsufficientStock)
	assert.Equal(t, 1, f.qty(t, p1, outletA))

	require.NoError(t, f.st.View(f.ctx, func(ctx context.Context, tx store.Tx) error {
		exists, err := tx.ReceiptExists(ctx, "R-FAIL")
		require.NoError(t, err)
		assert.False(t, exists)
		return nil
	}))
	assert.NotContains(t, f.auditActions(t, outletA), domain.AuditSaleRecord)
}

func TestRecordSaleSecondLineShortLeavesFirstLineUntouched(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 5)
	f.stockIn(t, p2, outletA, 1)
	movementsBefore := len(f.movements(t, p1, outletA)) + len(f.movements(t, p2, outletA))

	_, err := f.svc.RecordSale(f.ctx, cashSale([]domain.SaleItemInput{
		{ProductID: p1, Quantity: 2},
		{ProductID: p2, Quantity: 3},
	}, 35000))
	requireCode(t, err, apperr.CodeInsufficientStock)

	assert.Equal(t, 5, f.qty(t, p1, outletA))
	assert.Equal(t, 1, f.qty(t, p2, outletA))
	assert.Equal(t, movementsBefore, len(f.movements(t, p1, outletA))+len(f.movements(t, p2, outletA)))
	assert.NotContains(t, f.auditActions(t, outletA), domain.AuditSaleRecord)
}

func TestRecordSaleValidation(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 10)
	f.st.PutProduct(domain.Product{ID: "prd-off", PriceCents: 100, Active: false})

	cases := []struct {
		name string
		req  domain.RecordSaleRequest
		code apperr.Code
	}{
		{"empty cart", domain.RecordSaleRequest{OutletID: outletA, Payments: []domain.PaymentInput{{Method: domain.PaymentCash, AmountCents: 1}}}, apperr.CodeValidation},
		{"no payment", domain.RecordSaleRequest{OutletID: outletA, Items: []domain.SaleItemInput{{ProductID: p1, Quantity: 1}}}, apperr.CodeValidation},
		{"zero quantity", cashSale([]domain.SaleItemInput{{ProductID: p1, Quantity: 0}}, 10000), apperr.CodeValidation},
		{"underpaid", cashSale([]domain.SaleItemInput{{ProductID: p1, Quantity: 1}}, 9000), apperr.CodeValidation},
		{"bad method", domain.RecordSaleRequest{OutletID: outletA, Items: []domain.SaleItemInput{{ProductID: p1, Quantity: 1}}, Payments: []domain.PaymentInput{{Method: "BARTER", AmountCents: 10000}}}, apperr.CodeValidation},
		{"line discount too big", cashSale([]domain.SaleItemInput{{ProductID: p1, Quantity: 1, DiscountCents: 10001}}, 1), apperr.CodeValidation},
		{"inactive product", cashSale([]domain.SaleItemInput{{ProductID: "prd-off", Quantity: 1}}, 100), apperr.CodeValidation},
		{"unknown product", cashSale([]domain.SaleItemInput{{ProductID: "nope", Quantity: 1}}, 100), apperr.CodeNotFound},
		{"unknown outlet", domain.RecordSaleRequest{OutletID: "nope", Items: []domain.SaleItemInput{{ProductID: p1, Quantity: 1}}, Payments: []domain.PaymentInput{{Method: domain.PaymentCash, AmountCents: 10000}}}, apperr.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RecordSale(f.ctx, tc.req)
			requireCode(t, err, tc.code)
		})
	}
	assert.Equal(t, 10, f.qty(t, p1, outletA))
}

func TestRecordSaleDuplicateReceiptConflicts(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 10)
	req := cashSale([]domain.SaleItemInput{{ProductID: p1, Quantity: 1}}, 10000)
	req.ReceiptNumber = "R-0001"

	_, err := f.svc.RecordSale(f.ctx, req)
	require.NoError(t, err)
	_, err = f.svc.RecordSale(f.ctx, req)
	requireCode(t, err, apperr.CodeConflict)
	assert.Equal(t, 9, f.qty(t, p1, outletA))
}

func TestVoidSaleRestocksEveryLine(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 10)
	f.stockIn(t, p2, outletA, 10)
	sale := f.recordTwoLineSale(t)

	f.advance(time.Minute)
	resp, err := f.svc.VoidSale(f.ctx, sale.ID, "salah input")
	require.NoError(t, err)
	assert.Equal(t, 3, resp.RestockedQuantity)
	assert.Equal(t, domain.SaleVoided, resp.Status)
	assert.Equal(t, 10, f.qty(t, p1, outletA))
	assert.Equal(t, 10, f.qty(t, p2, outletA))

	stored, err := f.svc.GetSale(f.ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleVoided, stored.Status)
	assert.Equal(t, "salah input", stored.VoidReason)
	require.NotNil(t, stored.VoidedAt)

	for _, id := range []string{p1, p2} {
		v, err := f.svc.VerifyLedger(f.ctx, id, outletA)
		require.NoError(t, err)
		assert.True(t, v.Consistent)
	}
	assert.Contains(t, f.auditActions(t, outletA), domain.AuditSaleVoid)
}

func TestReversedSalesAreTerminal(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 10)
	f.stockIn(t, p2, outletA, 10)
	voided := f.recordTwoLineSale(t)
	refunded := f.recordTwoLineSale(t)

	_, err := f.svc.VoidSale(f.ctx, voided.ID, "batal")
	require.NoError(t, err)
	_, err = f.svc.RefundSale(f.ctx, refunded.ID, "rusak", nil)
	require.NoError(t, err)

	_, err = f.svc.VoidSale(f.ctx, voided.ID, "lagi")
	requireCode(t, err, apperr.CodeStateConflict)
	_, err = f.svc.RefundSale(f.ctx, voided.ID, "lagi", nil)
	requireCode(t, err, apperr.CodeStateConflict)
	_, err = f.svc.VoidSale(f.ctx, refunded.ID, "lagi")
	requireCode(t, err, apperr.CodeStateConflict)

	assert.Equal(t, 10, f.qty(t, p1, outletA))
	v, _ := f.svc.GetSale(f.ctx, voided.ID)
	r, _ := f.svc.GetSale(f.ctx, refunded.ID)
	assert.Equal(t, domain.SaleVoided, v.Status)
	assert.Equal(t, domain.SaleRefunded, r.Status)
}

func TestVoidSaleGuards(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.VoidSale(f.ctx, "sale-missing", "salah input")
	requireCode(t, err, apperr.CodeNotFound)
	_, err = f.svc.VoidSale(f.ctx, "sale-missing", " ab ")
	requireCode(t, err, apperr.CodeValidation)
}

func TestRefundSaleAmounts(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 10)
	f.stockIn(t, p2, outletA, 10)

	full := f.recordTwoLineSale(t)
	resp, err := f.svc.RefundSale(f.ctx, full.ID, "pelanggan komplain", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(25000), resp.AmountCents)
	assert.Equal(t, 3, resp.RestockedQuantity)
	assert.Len(t, resp.Refund.Items, 2)

	partial := f.recordTwoLineSale(t)
	over := int64(25001)
	_, err = f.svc.RefundSale(f.ctx, partial.ID, "kelebihan", &over)
	requireCode(t, err, apperr.CodeValidation)
	stillOpen, err := f.svc.GetSale(f.ctx, partial.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCompleted, stillOpen.Status)

	zero := int64(0)
	_, err = f.svc.RefundSale(f.ctx, partial.ID, "nol", &zero)
	requireCode(t, err, apperr.CodeValidation)

	part := int64(1000)
	resp, err = f.svc.RefundSale(f.ctx, partial.ID, "sebagian", &part)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), resp.AmountCents)
	assert.Equal(t, 3, resp.RestockedQuantity)
	assert.Equal(t, 10, f.qty(t, p1, outletA))
	assert.Equal(t, 10, f.qty(t, p2, outletA))
	assert.Contains(t, f.auditActions(t, outletA), domain.AuditSaleRefund)
}

func TestSaleClearsLowStockOnVoid(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, pLow, outletA, 8)
	resp, err := f.svc.RecordSale(f.ctx, cashSale([]domain.SaleItemInput{{ProductID: pLow, Quantity: 4}}, 8000))
	require.NoError(t, err)

	alerts, err := f.svc.ListOpenAlerts(f.ctx, outletA)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	_, err = f.svc.VoidSale(f.ctx, resp.Sale.ID, "salah barang")
	require.NoError(t, err)
	alerts, err = f.svc.ListOpenAlerts(f.ctx, outletA)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}
