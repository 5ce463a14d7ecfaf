package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/poscore/internal/apperr"
	"kasirinaja/poscore/internal/domain"
)

func TestCloseShiftReconcilesCashDrawer(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 20)

	session, err := f.svc.OpenShift(f.ctx, domain.OpenShiftRequest{OutletID: outletA, OpeningCashCents: 100000})
	require.NoError(t, err)

	f.advance(10 * time.Minute)
	_, err = f.svc.RecordSale(f.ctx, cashSale([]domain.SaleItemInput{{ProductID: p1, Quantity: 5}}, 50000))
	require.NoError(t, err)
	f.advance(10 * time.Minute)
	_, err = f.svc.RecordSale(f.ctx, cashSale([]domain.SaleItemInput{{ProductID: p1, Quantity: 3}}, 30000))
	require.NoError(t, err)

	// Non-cash and reversed sales stay out of the drawer.
	_, err = f.svc.RecordSale(f.ctx, domain.RecordSaleRequest{
		OutletID: outletA,
		Items:    []domain.SaleItemInput{{ProductID: p1, Quantity: 1}},
		Payments: []domain.PaymentInput{{Method: domain.PaymentCard, AmountCents: 10000}},
	})
	require.NoError(t, err)
	voided, err := f.svc.RecordSale(f.ctx, cashSale([]domain.SaleItemInput{{ProductID: p1, Quantity: 1}}, 10000))
	require.NoError(t, err)
	_, err = f.svc.VoidSale(f.ctx, voided.Sale.ID, "salah input")
	require.NoError(t, err)

	f.advance(time.Hour)
	summary, err := f.svc.CloseShift(f.ctx, session.ID, 180000)
	require.NoError(t, err)
	assert.Equal(t, int64(80000), summary.CashSalesCents)
	assert.Equal(t, int64(180000), summary.ExpectedCashCents)
	assert.Equal(t, int64(0), summary.DifferenceCents)
	require.NotNil(t, summary.Session.CloseTime)
	assert.False(t, summary.Session.Open())

	actions := f.auditActions(t, outletA)
	assert.Contains(t, actions, domain.AuditShiftOpen)
	assert.Contains(t, actions, domain.AuditShiftClose)
}

func TestCloseShiftRecordsSignedDifference(t *testing.T) {
	f := newFixture(t)
	session, err := f.svc.OpenShift(f.ctx, domain.OpenShiftRequest{OutletID: outletA, OpeningCashCents: 50000})
	require.NoError(t, err)

	summary, err := f.svc.CloseShift(f.ctx, session.ID, 45000)
	require.NoError(t, err)
	assert.Equal(t, int64(-5000), summary.DifferenceCents)
}

func TestSalesOutsideShiftWindowAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, p1, outletA, 5)
	_, err := f.svc.RecordSale(f.ctx, cashSale([]domain.SaleItemInput{{ProductID: p1, Quantity: 1}}, 10000))
	require.NoError(t, err)

	f.advance(time.Minute)
	session, err := f.svc.OpenShift(f.ctx, domain.OpenShiftRequest{OutletID: outletA})
	require.NoError(t, err)
	summary, err := f.svc.CloseShift(f.ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.CashSalesCents)
}

func TestOpenShiftTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	first, err := f.svc.OpenShift(f.ctx, domain.OpenShiftRequest{OutletID: outletA, OpeningCashCents: 1000})
	require.NoError(t, err)

	other := WithActor(context.Background(), domain.Actor{UserID: "cashier-2", Role: domain.RoleCashier})
	_, err = f.svc.OpenShift(other, domain.OpenShiftRequest{OutletID: outletA})
	requireCode(t, err, apperr.CodeConflict)

	_, err = f.svc.OpenShift(other, domain.OpenShiftRequest{OutletID: outletB})
	require.NoError(t, err)

	_, err = f.svc.CloseShift(f.ctx, first.ID, 1000)
	require.NoError(t, err)
	_, err = f.svc.OpenShift(other, domain.OpenShiftRequest{OutletID: outletA})
	require.NoError(t, err)
}

func TestCloseShiftGuards(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CloseShift(f.ctx, "shift-missing", 0)
	requireCode(t, err, apperr.CodeNotFound)

	session, err := f.svc.OpenShift(f.ctx, domain.OpenShiftRequest{OutletID: outletA})
	require.NoError(t, err)
	_, err = f.svc.CloseShift(f.ctx, session.ID, -1)
	requireCode(t, err, apperr.CodeValidation)

	_, err = f.svc.CloseShift(f.ctx, session.ID, 0)
	require.NoError(t, err)
	_, err = f.svc.CloseShift(f.ctx, session.ID, 0)
	requireCode(t, err, apperr.CodeStateConflict)

	_, err = f.svc.OpenShift(f.ctx, domain.OpenShiftRequest{OutletID: "nowhere"})
	requireCode(t, err, apperr.CodeNotFound)
	_, err = f.svc.OpenShift(f.ctx, domain.OpenShiftRequest{OutletID: outletA, OpeningCashCents: -1})
	requireCode(t, err, apperr.CodeValidation)
}

func TestHasOpenShiftTracksHolder(t *testing.T) {
	f := newFixture(t)
	has, err := f.svc.HasOpenShift(f.ctx, outletA, "cashier-1")
	require.NoError(t, err)
	assert.False(t, has)

	session, err := f.svc.OpenShift(f.ctx, domain.OpenShiftRequest{OutletID: outletA})
	require.NoError(t, err)

	has, err = f.svc.HasOpenShift(f.ctx, outletA, "cashier-1")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = f.svc.HasOpenShift(f.ctx, outletA, "cashier-2")
	require.NoError(t, err)
	assert.False(t, has)

	active, err := f.svc.ActiveShift(f.ctx, outletA)
	require.NoError(t, err)
	assert.Equal(t, session.ID, active.ID)

	_, err = f.svc.CloseShift(f.ctx, session.ID, 0)
	require.NoError(t, err)
	_, err = f.svc.ActiveShift(f.ctx, outletA)
	requireCode(t, err, apperr.CodeNotFound)
}
