package service

import (
	"context"
	"errors"
	"strings"

	"kasirinaja/poscore/internal/apperr"
	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, req domain.OpenShiftRequest) (domain.CashSession, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashSession{}, err
	}
	req.OutletID = strings.TrimSpace(req.OutletID)
	if req.OutletID == "" {
		return domain.CashSession{}, validation("outlet_id is required")
	}
	if req.OpeningCashCents < 0 {
		return domain.CashSession{}, validation("opening cash cannot be negative")
	}

	var session domain.CashSession
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetOutlet(ctx, req.OutletID); err != nil {
			return apperr.FromStore(err, "outlet not found")
		}
		existing, err := tx.GetOpenCashSession(ctx, req.OutletID)
		if err == nil {
			return apperr.New(apperr.CodeConflict, "outlet already has an open shift").WithDetails(map[string]any{
				"session_id": existing.ID,
				"user_id":    existing.UserID,
			})
		}
		if !errors.Is(err, store.ErrNotFound) {
			return apperr.FromStore(err, "read open shift")
		}

		session = domain.CashSession{
			ID:               xid.New("shift"),
			OutletID:         req.OutletID,
			UserID:           actor.UserID,
			OpeningCashCents: req.OpeningCashCents,
			OpenTime:         s.clock(),
		}
		// The store enforces one open session per outlet for racing callers.
		if err := tx.InsertCashSession(ctx, session); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.Wrap(apperr.CodeConflict, err, "outlet already has an open shift")
			}
			return apperr.FromStore(err, "open shift")
		}
		return s.audit(ctx, tx, domain.AuditShiftOpen, req.OutletID, "cash_session", session.ID, map[string]any{
			"opening_cash_cents": req.OpeningCashCents,
		})
	})
	if err != nil {
		return domain.CashSession{}, apperr.FromStore(err, "open shift")
	}

	lctx := s.log.WithFields(ctx, map[string]any{
		"session_id": session.ID,
		"outlet_id":  session.OutletID,
		"opening":    session.OpeningCashCents,
	})
	s.log.Info(lctx, "shift.opened")
	return session, nil
}

// CloseShift reconciles the drawer against completed cash payments taken at
// the outlet between open time and now.
func (s *Service) CloseShift(ctx context.Context, sessionID string, closingCashCents int64) (domain.CashSessionSummary, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.CashSessionSummary{}, err
	}
	if closingCashCents < 0 {
		return domain.CashSessionSummary{}, validation("closing cash cannot be negative")
	}

	var summary domain.CashSessionSummary
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		session, err := tx.LockCashSession(ctx, sessionID)
		if err != nil {
			return apperr.FromStore(err, "shift not found")
		}
		if !session.Open() {
			return apperr.New(apperr.CodeStateConflict, "shift already closed").WithDetails(map[string]any{"session_id": session.ID})
		}

		now := s.clock()
		cashSales, err := tx.SumCashPayments(ctx, session.OutletID, session.OpenTime, now)
		if err != nil {
			return apperr.FromStore(err, "sum cash payments")
		}
		expected := session.OpeningCashCents + cashSales
		difference := closingCashCents - expected

		closing := closingCashCents
		session.ClosingCashCents = &closing
		session.CashSalesCents = &cashSales
		session.ExpectedCashCents = &expected
		session.DifferenceCents = &difference
		session.CloseTime = &now
		if err := tx.CloseCashSession(ctx, *session); err != nil {
			return apperr.FromStore(err, "close shift")
		}

		summary = domain.CashSessionSummary{
			Session:           *session,
			OpeningCashCents:  session.OpeningCashCents,
			CashSalesCents:    cashSales,
			ExpectedCashCents: expected,
			ClosingCashCents:  closing,
			DifferenceCents:   difference,
		}
		return s.audit(ctx, tx, domain.AuditShiftClose, session.OutletID, "cash_session", session.ID, map[string]any{
			"expected_cash_cents": expected,
			"closing_cash_cents":  closing,
			"difference_cents":    difference,
		})
	})
	if err != nil {
		return domain.CashSessionSummary{}, apperr.FromStore(err, "close shift")
	}

	s.metrics.ShiftClosed(summary.DifferenceCents)
	lctx := s.log.WithFields(ctx, map[string]any{
		"session_id": summary.Session.ID,
		"outlet_id":  summary.Session.OutletID,
		"expected":   summary.ExpectedCashCents,
		"difference": summary.DifferenceCents,
	})
	s.log.Info(lctx, "shift.closed")
	return summary, nil
}

func (s *Service) ActiveShift(ctx context.Context, outletID string) (domain.CashSession, error) {
	var out domain.CashSession
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		session, err := tx.GetOpenCashSession(ctx, outletID)
		if err != nil {
			return err
		}
		out = *session
		return nil
	})
	if err != nil {
		return domain.CashSession{}, apperr.FromStore(err, "no open shift")
	}
	return out, nil
}

// HasOpenShift reports whether userID holds the open session at outletID.
func (s *Service) HasOpenShift(ctx context.Context, outletID, userID string) (bool, error) {
	session, err := s.ActiveShift(ctx, outletID)
	if apperr.IsCode(err, apperr.CodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return session.UserID == userID, nil
}
