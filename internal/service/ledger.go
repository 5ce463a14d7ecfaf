package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"kasirinaja/poscore/internal/apperr"
	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/xid"
)

type AdjustInput struct {
	ProductID string
	OutletID  string
	Delta     int
	Kind      domain.MovementKind
	ActorID   string
	Note      string
	Reference string
}

// Adjust applies a signed delta to one ledger entry and books the movement.
// It never commits; the caller owns tx.
func (s *Service) Adjust(ctx context.Context, tx store.Tx, in AdjustInput) (int, error) {
	if !in.Kind.Valid() {
		return 0, validation("unknown movement kind").WithDetails(map[string]any{"kind": in.Kind})
	}
	if in.Delta == 0 {
		return 0, validation("delta must not be zero")
	}
	if in.Kind.IsDeduction() && in.Delta > 0 {
		return 0, validation("deduction must have a negative delta")
	}
	if in.Kind.IsRestock() && in.Delta < 0 {
		return 0, validation("restock must have a positive delta")
	}

	entry, err := tx.LockStockEntry(ctx, in.ProductID, in.OutletID)
	if err != nil {
		return 0, apperr.FromStore(err, "lock stock entry")
	}
	before := entry.Quantity
	after := before + in.Delta
	if after < 0 {
		if in.Kind == domain.MovementAdjustment {
			return 0, validation("counted quantity cannot be negative").WithDetails(map[string]any{
				"product_id": in.ProductID,
				"quantity":   before,
				"delta":      in.Delta,
			})
		}
		return 0, apperr.New(apperr.CodeInsufficientStock, "stok tidak mencukupi").WithDetails(map[string]any{
			"product_id": in.ProductID,
			"outlet_id":  in.OutletID,
			"available":  before,
			"requested":  -in.Delta,
		})
	}

	now := s.clock()
	if err := tx.SetStockQuantity(ctx, in.ProductID, in.OutletID, after, now); err != nil {
		return 0, apperr.FromStore(err, "write stock entry")
	}
	err = tx.InsertMovement(ctx, domain.StockMovement{
		ID:             xid.New("mov"),
		ProductID:      in.ProductID,
		OutletID:       in.OutletID,
		Kind:           in.Kind,
		Delta:          in.Delta,
		QuantityBefore: before,
		QuantityAfter:  after,
		Reference:      in.Reference,
		Note:           in.Note,
		ActorID:        in.ActorID,
		CreatedAt:      now,
	})
	if err != nil {
		return 0, apperr.FromStore(err, "write stock movement")
	}
	return after, nil
}

// SetCounted writes a counted quantity directly and books the difference as
// an ADJUSTMENT movement when it is non-zero. Returns the quantity before the
// write.
func (s *Service) SetCounted(ctx context.Context, tx store.Tx, productID, outletID string, counted int, actorID, note, reference string) (int, error) {
	if counted < 0 {
		return 0, validation("counted quantity cannot be negative").WithDetails(map[string]any{"product_id": productID})
	}
	entry, err := tx.LockStockEntry(ctx, productID, outletID)
	if err != nil {
		return 0, apperr.FromStore(err, "lock stock entry")
	}
	before := entry.Quantity
	delta := counted - before
	if delta == 0 {
		return before, nil
	}

	now := s.clock()
	if err := tx.SetStockQuantity(ctx, productID, outletID, counted, now); err != nil {
		return 0, apperr.FromStore(err, "write stock entry")
	}
	err = tx.InsertMovement(ctx, domain.StockMovement{
		ID:             xid.New("mov"),
		ProductID:      productID,
		OutletID:       outletID,
		Kind:           domain.MovementAdjustment,
		Delta:          delta,
		QuantityBefore: before,
		QuantityAfter:  counted,
		Reference:      reference,
		Note:           note,
		ActorID:        actorID,
		CreatedAt:      now,
	})
	if err != nil {
		return 0, apperr.FromStore(err, "write stock movement")
	}
	return before, nil
}

// lockEntries takes the ledger rows for one outlet in product order so
// concurrent multi-line writers cannot deadlock.
func lockEntries(ctx context.Context, tx store.Tx, outletID string, productIDs []string) error {
	ids := uniqueSorted(productIDs)
	for _, id := range ids {
		if _, err := tx.LockStockEntry(ctx, id, outletID); err != nil {
			return apperr.FromStore(err, "lock stock entry")
		}
	}
	return nil
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.StockAdjustResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.OutletID = strings.TrimSpace(req.OutletID)
	if req.ProductID == "" || req.OutletID == "" {
		return domain.StockAdjustResponse{}, validation("product_id and outlet_id are required")
	}
	switch req.Kind {
	case domain.MovementIn, domain.MovementOut, domain.MovementAdjustment:
	default:
		return domain.StockAdjustResponse{}, validation("kind must be IN, OUT or ADJUSTMENT")
	}

	resp := domain.StockAdjustResponse{ProductID: req.ProductID, OutletID: req.OutletID}
	var change lowStockChange
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetProduct(ctx, req.ProductID); err != nil {
			return apperr.FromStore(err, "product not found")
		}
		if _, err := tx.GetOutlet(ctx, req.OutletID); err != nil {
			return apperr.FromStore(err, "outlet not found")
		}
		qty, err := s.Adjust(ctx, tx, AdjustInput{
			ProductID: req.ProductID,
			OutletID:  req.OutletID,
			Delta:     req.Delta,
			Kind:      req.Kind,
			ActorID:   actor.UserID,
			Note:      strings.TrimSpace(req.Note),
			Reference: xid.New("adj"),
		})
		if err != nil {
			return err
		}
		resp.NewQuantity = qty
		change, err = s.evaluate(ctx, tx, req.ProductID, req.OutletID, "manual "+strings.ToLower(string(req.Kind)))
		return err
	})
	if err != nil {
		return domain.StockAdjustResponse{}, apperr.FromStore(err, "adjust stock")
	}
	resp.LowStock = change.result

	s.metrics.MovementsRecorded(string(req.Kind), 1)
	s.invalidateStock(ctx, req.OutletID)
	s.publishLowStock(ctx, []lowStockChange{change})
	lctx := s.log.WithFields(ctx, map[string]any{
		"product_id":   req.ProductID,
		"outlet_id":    req.OutletID,
		"kind":         string(req.Kind),
		"delta":        req.Delta,
		"new_quantity": resp.NewQuantity,
	})
	s.log.Info(lctx, "stock.adjusted")
	return resp, nil
}

func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.TransferResponse{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.FromOutletID = strings.TrimSpace(req.FromOutletID)
	req.ToOutletID = strings.TrimSpace(req.ToOutletID)
	if req.ProductID == "" || req.FromOutletID == "" || req.ToOutletID == "" {
		return domain.TransferResponse{}, validation("product_id, from_outlet_id and to_outlet_id are required")
	}
	if req.FromOutletID == req.ToOutletID {
		return domain.TransferResponse{}, validation("source and destination outlet must differ")
	}
	if req.Quantity <= 0 {
		return domain.TransferResponse{}, validation("quantity must be positive")
	}

	resp := domain.TransferResponse{
		Reference:    xid.New("trf"),
		ProductID:    req.ProductID,
		FromOutletID: req.FromOutletID,
		ToOutletID:   req.ToOutletID,
		Quantity:     req.Quantity,
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = fmt.Sprintf("transfer %s -> %s", req.FromOutletID, req.ToOutletID)
	}

	var changes []lowStockChange
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		changes = changes[:0]
		if _, err := tx.GetProduct(ctx, req.ProductID); err != nil {
			return apperr.FromStore(err, "product not found")
		}
		for _, id := range []string{req.FromOutletID, req.ToOutletID} {
			if _, err := tx.GetOutlet(ctx, id); err != nil {
				return apperr.FromStore(err, "outlet not found")
			}
		}
		// Lock both rows in outlet order regardless of direction.
		for _, id := range uniqueSorted([]string{req.FromOutletID, req.ToOutletID}) {
			if _, err := tx.LockStockEntry(ctx, req.ProductID, id); err != nil {
				return apperr.FromStore(err, "lock stock entry")
			}
		}

		from, err := s.Adjust(ctx, tx, AdjustInput{
			ProductID: req.ProductID,
			OutletID:  req.FromOutletID,
			Delta:     -req.Quantity,
			Kind:      domain.MovementTransferOut,
			ActorID:   actor.UserID,
			Note:      note,
			Reference: resp.Reference,
		})
		if err != nil {
			return err
		}
		to, err := s.Adjust(ctx, tx, AdjustInput{
			ProductID: req.ProductID,
			OutletID:  req.ToOutletID,
			Delta:     req.Quantity,
			Kind:      domain.MovementTransferIn,
			ActorID:   actor.UserID,
			Note:      note,
			Reference: resp.Reference,
		})
		if err != nil {
			return err
		}
		resp.FromNewQuantity = from
		resp.ToNewQuantity = to

		for _, id := range []string{req.FromOutletID, req.ToOutletID} {
			change, err := s.evaluate(ctx, tx, req.ProductID, id, note)
			if err != nil {
				return err
			}
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return domain.TransferResponse{}, apperr.FromStore(err, "transfer stock")
	}

	s.metrics.MovementsRecorded(string(domain.MovementTransferOut), 1)
	s.metrics.MovementsRecorded(string(domain.MovementTransferIn), 1)
	s.invalidateStock(ctx, req.FromOutletID, req.ToOutletID)
	s.publishLowStock(ctx, changes)
	lctx := s.log.WithFields(ctx, map[string]any{
		"reference":  resp.Reference,
		"product_id": req.ProductID,
		"from":       req.FromOutletID,
		"to":         req.ToOutletID,
		"quantity":   req.Quantity,
	})
	s.log.Info(lctx, "stock.transferred")
	return resp, nil
}

// Reconcile applies a physical count for one outlet. The whole count commits
// or none of it does; a second count on the same outlet is refused while one
// is running.
func (s *Service) Reconcile(ctx context.Context, req domain.OpnameRequest) (domain.OpnameResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.OpnameResponse{}, err
	}
	req.OutletID = strings.TrimSpace(req.OutletID)
	if req.OutletID == "" {
		return domain.OpnameResponse{}, validation("outlet_id is required")
	}
	if len(req.Entries) == 0 {
		return domain.OpnameResponse{}, validation("at least one entry is required")
	}
	seen := make(map[string]struct{}, len(req.Entries))
	for _, e := range req.Entries {
		if strings.TrimSpace(e.ProductID) == "" {
			return domain.OpnameResponse{}, validation("product_id is required")
		}
		if e.CountedQuantity < 0 {
			return domain.OpnameResponse{}, validation("counted quantity cannot be negative").WithDetails(map[string]any{"product_id": e.ProductID})
		}
		if _, dup := seen[e.ProductID]; dup {
			return domain.OpnameResponse{}, validation("duplicate product in count").WithDetails(map[string]any{"product_id": e.ProductID})
		}
		seen[e.ProductID] = struct{}{}
	}

	lease, ok, err := s.locker.Acquire(ctx, "opname:"+req.OutletID, s.lockTTL)
	if err != nil {
		return domain.OpnameResponse{}, apperr.Wrap(apperr.CodeDependency, err, "acquire stock count lock")
	}
	if !ok {
		return domain.OpnameResponse{}, apperr.New(apperr.CodeConflict, "stock count already running for outlet")
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn(ctx, "opname.lock_release_failed", err)
		}
	}()

	entries := append([]domain.OpnameEntry(nil), req.Entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].ProductID < entries[j].ProductID })

	resp := domain.OpnameResponse{Reference: xid.New("opn"), OutletID: req.OutletID}
	var changes []lowStockChange
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		resp.Lines = resp.Lines[:0]
		resp.Changed = 0
		changes = changes[:0]
		if _, err := tx.GetOutlet(ctx, req.OutletID); err != nil {
			return apperr.FromStore(err, "outlet not found")
		}
		for _, e := range entries {
			if _, err := tx.GetProduct(ctx, e.ProductID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return apperr.Wrap(apperr.CodeNotFound, err, "product not found").WithDetails(map[string]any{"product_id": e.ProductID})
				}
				return err
			}
			note := strings.TrimSpace(e.Note)
			if note == "" {
				note = "stock count"
			}
			before, err := s.SetCounted(ctx, tx, e.ProductID, req.OutletID, e.CountedQuantity, actor.UserID, note, resp.Reference)
			if err != nil {
				return err
			}
			line := domain.OpnameLine{
				ProductID:       e.ProductID,
				SystemQuantity:  before,
				CountedQuantity: e.CountedQuantity,
				Delta:           e.CountedQuantity - before,
			}
			if line.Delta != 0 {
				resp.Changed++
			}
			resp.Lines = append(resp.Lines, line)

			change, err := s.evaluate(ctx, tx, e.ProductID, req.OutletID, note)
			if err != nil {
				return err
			}
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return domain.OpnameResponse{}, apperr.FromStore(err, "reconcile stock")
	}
	resp.CountedAt = s.clock()

	s.metrics.MovementsRecorded(string(domain.MovementAdjustment), resp.Changed)
	s.invalidateStock(ctx, req.OutletID)
	s.publishLowStock(ctx, changes)
	lctx := s.log.WithFields(ctx, map[string]any{
		"reference": resp.Reference,
		"outlet_id": req.OutletID,
		"entries":   len(resp.Lines),
		"changed":   resp.Changed,
	})
	s.log.Info(lctx, "stock.reconciled")
	return resp, nil
}

func requirePair(ctx context.Context, tx store.Tx, productID, outletID string) error {
	if _, err := tx.GetProduct(ctx, productID); err != nil {
		return apperr.FromStore(err, "product not found")
	}
	if _, err := tx.GetOutlet(ctx, outletID); err != nil {
		return apperr.FromStore(err, "outlet not found")
	}
	return nil
}

// StockLevel returns the ledger entry, reporting zero for pairs that were
// never touched.
func (s *Service) StockLevel(ctx context.Context, productID, outletID string) (domain.StockLedgerEntry, error) {
	out := domain.StockLedgerEntry{ProductID: productID, OutletID: outletID}
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := requirePair(ctx, tx, productID, outletID); err != nil {
			return err
		}
		entry, err := tx.GetStockEntry(ctx, productID, outletID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = *entry
		return nil
	})
	if err != nil {
		return domain.StockLedgerEntry{}, apperr.FromStore(err, "read stock")
	}
	return out, nil
}

func (s *Service) ListOutletStock(ctx context.Context, outletID string) ([]domain.StockLedgerEntry, error) {
	if cached, ok, err := s.cache.Get(ctx, outletID); err != nil {
		s.log.Warn(ctx, "stock.cache_get_failed", err)
	} else if ok {
		return cached, nil
	}

	gen := s.stockGeneration(outletID)
	var out []domain.StockLedgerEntry
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetOutlet(ctx, outletID); err != nil {
			return apperr.FromStore(err, "outlet not found")
		}
		entries, err := tx.ListStockByOutlet(ctx, outletID)
		out = entries
		return err
	})
	if err != nil {
		return nil, apperr.FromStore(err, "list stock")
	}
	s.fillStockCache(ctx, outletID, gen, out)
	return out, nil
}

func (s *Service) ListMovements(ctx context.Context, productID, outletID string) ([]domain.StockMovement, error) {
	var out []domain.StockMovement
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := requirePair(ctx, tx, productID, outletID); err != nil {
			return err
		}
		movements, err := tx.ListMovements(ctx, productID, outletID)
		out = movements
		return err
	})
	if err != nil {
		return nil, apperr.FromStore(err, "list movements")
	}
	return out, nil
}

// VerifyLedger checks that the quantity of record equals the sum of its
// movements.
func (s *Service) VerifyLedger(ctx context.Context, productID, outletID string) (domain.LedgerVerification, error) {
	out := domain.LedgerVerification{ProductID: productID, OutletID: outletID}
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := requirePair(ctx, tx, productID, outletID); err != nil {
			return err
		}
		entry, err := tx.GetStockEntry(ctx, productID, outletID)
		switch {
		case err == nil:
			out.Quantity = entry.Quantity
		case errors.Is(err, store.ErrNotFound):
		default:
			return err
		}
		movements, err := tx.ListMovements(ctx, productID, outletID)
		if err != nil {
			return err
		}
		for _, m := range movements {
			out.MovementSum += m.Delta
		}
		out.MovementCount = len(movements)
		return nil
	})
	if err != nil {
		return domain.LedgerVerification{}, apperr.FromStore(err, "verify ledger")
	}
	out.Consistent = out.Quantity == out.MovementSum
	return out, nil
}
