package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"kasirinaja/poscore/internal/apperr"
	"kasirinaja/poscore/internal/cache"
	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/lock"
	"kasirinaja/poscore/internal/logger"
	"kasirinaja/poscore/internal/metrics"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// requireActor returns the authenticated actor; every mutating operation
// needs one.
func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.UserID) == "" {
		return domain.Actor{}, apperr.New(apperr.CodeUnauthorized, "actor required")
	}
	return actor, nil
}

type Options struct {
	Logger          *logger.Logger
	Metrics         *metrics.POS
	StockCache      cache.StockCache
	StockCacheTTL   time.Duration
	Locker          lock.Locker
	LockTTL         time.Duration
	Now             func() time.Time
	DefaultLocation *time.Location
}

type Service struct {
	store    store.Store
	log      *logger.Logger
	metrics  *metrics.POS
	cache    cache.StockCache
	cacheTTL time.Duration
	locker   lock.Locker
	lockTTL  time.Duration
	now      func() time.Time
	defLoc   *time.Location

	locMu     sync.Mutex
	locations map[string]*time.Location

	// stockGen counts invalidations per outlet; a snapshot read before a
	// bump is never written to the cache.
	stockMu  sync.Mutex
	stockGen map[string]uint64
}

func New(st store.Store, opts Options) *Service {
	svc := &Service{
		store:     st,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		cache:     opts.StockCache,
		cacheTTL:  opts.StockCacheTTL,
		locker:    opts.Locker,
		lockTTL:   opts.LockTTL,
		now:       opts.Now,
		defLoc:    opts.DefaultLocation,
		locations: make(map[string]*time.Location),
		stockGen:  make(map[string]uint64),
	}
	if svc.log == nil {
		svc.log = logger.Nop()
	}
	if svc.cache == nil {
		svc.cache = cache.NoopStockCache{}
	}
	if svc.cacheTTL <= 0 {
		svc.cacheTTL = 30 * time.Second
	}
	if svc.locker == nil {
		svc.locker = lock.NewLocalLocker()
	}
	if svc.lockTTL <= 0 {
		svc.lockTTL = 5 * time.Minute
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.defLoc == nil {
		svc.defLoc = time.UTC
	}
	return svc
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// location resolves the outlet's zone, falling back to the default when the
// outlet has none or names an unknown zone.
func (s *Service) location(outlet *domain.Outlet) *time.Location {
	if outlet == nil || strings.TrimSpace(outlet.Timezone) == "" {
		return s.defLoc
	}
	s.locMu.Lock()
	defer s.locMu.Unlock()
	if loc, ok := s.locations[outlet.Timezone]; ok {
		return loc
	}
	loc, err := time.LoadLocation(outlet.Timezone)
	if err != nil {
		loc = s.defLoc
	}
	s.locations[outlet.Timezone] = loc
	return loc
}

// dayBounds returns the UTC half-open interval covering the local calendar
// day that contains at.
func dayBounds(at time.Time, loc *time.Location) (time.Time, time.Time) {
	local := at.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

func (s *Service) audit(ctx context.Context, tx store.Tx, action domain.AuditAction, outletID, entity, entityID string, details map[string]any) error {
	userID := "system"
	if actor, ok := ActorFromContext(ctx); ok && actor.UserID != "" {
		userID = actor.UserID
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "encode audit details")
	}
	entry := domain.AuditLog{
		ID:        xid.New("audit"),
		Action:    action,
		UserID:    userID,
		OutletID:  outletID,
		Entity:    entity,
		EntityID:  entityID,
		Details:   payload,
		CreatedAt: s.clock(),
	}
	if err := tx.InsertAuditLog(ctx, entry); err != nil {
		return apperr.FromStore(err, "write audit log")
	}
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, outletID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []domain.AuditLog
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		logs, err := tx.ListAuditLogs(ctx, outletID, limit)
		out = logs
		return err
	})
	if err != nil {
		return nil, apperr.FromStore(err, "list audit logs")
	}
	return out, nil
}

// invalidateStock drops cached snapshots after a commit. Cache failures are
// logged and never fail the operation.
func (s *Service) invalidateStock(ctx context.Context, outletIDs ...string) {
	s.stockMu.Lock()
	defer s.stockMu.Unlock()
	for _, id := range outletIDs {
		s.stockGen[id]++
	}
	if err := s.cache.Invalidate(ctx, outletIDs...); err != nil {
		s.log.Warn(ctx, "stock.cache_invalidate_failed", err)
	}
}

func (s *Service) stockGeneration(outletID string) uint64 {
	s.stockMu.Lock()
	defer s.stockMu.Unlock()
	return s.stockGen[outletID]
}

// fillStockCache stores a snapshot read at generation gen, unless a write
// invalidated the outlet after the read started.
func (s *Service) fillStockCache(ctx context.Context, outletID string, gen uint64, entries []domain.StockLedgerEntry) {
	s.stockMu.Lock()
	defer s.stockMu.Unlock()
	if s.stockGen[outletID] != gen {
		return
	}
	if err := s.cache.Set(ctx, outletID, entries, s.cacheTTL); err != nil {
		s.log.Warn(ctx, "stock.cache_set_failed", err)
	}
}

// publishLowStock reports committed low-stock transitions.
func (s *Service) publishLowStock(ctx context.Context, changes []lowStockChange) {
	for _, c := range changes {
		if c.result == domain.LowStockUnchanged {
			continue
		}
		s.metrics.LowStockTransition(string(c.result))
		lctx := s.log.WithFields(ctx, map[string]any{
			"product_id": c.productID,
			"outlet_id":  c.outletID,
			"quantity":   c.quantity,
			"result":     string(c.result),
		})
		s.log.Info(lctx, "lowstock.transition")
	}
}

func validation(msg string) *apperr.Error {
	return apperr.New(apperr.CodeValidation, msg)
}
