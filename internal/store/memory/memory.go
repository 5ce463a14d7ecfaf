package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
)

type stockKey struct {
	productID string
	outletID  string
}

type state struct {
	products  map[string]domain.Product
	outlets   map[string]domain.Outlet
	stock     map[stockKey]domain.StockLedgerEntry
	movements []domain.StockMovement
	alerts    []domain.LowStockAlert
	sales     map[string]domain.Sale
	receipts  map[string]string
	refunds   []domain.Refund
	sessions  map[string]domain.CashSession
	auditLogs []domain.AuditLog
}

func newState() *state {
	return &state{
		products:  make(map[string]domain.Product),
		outlets:   make(map[string]domain.Outlet),
		stock:     make(map[stockKey]domain.StockLedgerEntry),
		movements: make([]domain.StockMovement, 0, 128),
		alerts:    make([]domain.LowStockAlert, 0, 16),
		sales:     make(map[string]domain.Sale),
		receipts:  make(map[string]string),
		refunds:   make([]domain.Refund, 0, 8),
		sessions:  make(map[string]domain.CashSession),
		auditLogs: make([]domain.AuditLog, 0, 128),
	}
}

func (s *state) clone() *state {
	out := &state{
		products:  make(map[string]domain.Product, len(s.products)),
		outlets:   make(map[string]domain.Outlet, len(s.outlets)),
		stock:     make(map[stockKey]domain.StockLedgerEntry, len(s.stock)),
		movements: append(make([]domain.StockMovement, 0, len(s.movements)+8), s.movements...),
		alerts:    make([]domain.LowStockAlert, 0, len(s.alerts)+2),
		sales:     make(map[string]domain.Sale, len(s.sales)),
		receipts:  make(map[string]string, len(s.receipts)),
		refunds:   make([]domain.Refund, 0, len(s.refunds)+1),
		sessions:  make(map[string]domain.CashSession, len(s.sessions)),
		auditLogs: append(make([]domain.AuditLog, 0, len(s.auditLogs)+4), s.auditLogs...),
	}
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.outlets {
		out.outlets[k] = v
	}
	for k, v := range s.stock {
		out.stock[k] = v
	}
	for _, a := range s.alerts {
		out.alerts = append(out.alerts, cloneAlert(a))
	}
	for k, v := range s.sales {
		out.sales[k] = cloneSale(v)
	}
	for k, v := range s.receipts {
		out.receipts[k] = v
	}
	for _, r := range s.refunds {
		out.refunds = append(out.refunds, cloneRefund(r))
	}
	for k, v := range s.sessions {
		out.sessions[k] = cloneSession(v)
	}
	return out
}

// Store keeps everything in process memory. Write transactions are serialized
// and run against a private copy that replaces the live state on success.
type Store struct {
	mu    sync.RWMutex
	state *state

	usersMu sync.RWMutex
	users   map[string]domain.UserAccount
}

var _ store.Store = (*Store)(nil)
var _ store.UserStore = (*Store)(nil)

func New() *Store {
	return &Store{state: newState(), users: make(map[string]domain.UserAccount)}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(ctx, &memTx{st: s.state, readOnly: true})
}

// PutProduct registers or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[product.ID] = product
}

func (s *Store) PutOutlet(outlet domain.Outlet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.outlets[outlet.ID] = outlet
}

// DefaultSeedCredentials reports whether the seeded accounts fall back to the
// built-in dev passwords.
func DefaultSeedCredentials() bool {
	return os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == ""
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, with
// dev defaults when unset.
func seedUsers() (map[string]domain.UserAccount, error) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
		{"cashier2", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a demo store with two outlets and a small catalogue.
// Opening stock is booked as IN movements so the ledger reconciles.
func NewSeeded() (*Store, error) {
	users, err := seedUsers()
	if err != nil {
		return nil, err
	}
	s := New()
	s.users = users

	outlets := []domain.Outlet{
		{ID: "outlet-pusat", Name: "Toko Pusat", Code: "PST", Timezone: "Asia/Jakarta"},
		{ID: "outlet-cabang", Name: "Cabang Denpasar", Code: "DPS", Timezone: "Asia/Makassar"},
	}
	products := []domain.Product{
		{ID: "prd-mie", SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", PriceCents: 3500, MinStock: 24, Active: true},
		{ID: "prd-telur", SKU: "SKU-TELUR-01", Name: "Telur 10 Butir", PriceCents: 26500, MinStock: 10, Active: true},
		{ID: "prd-susu", SKU: "SKU-SUSU-01", Name: "Susu UHT 1L", PriceCents: 18900, MinStock: 12, Active: true},
		{ID: "prd-roti", SKU: "SKU-ROTI-01", Name: "Roti Tawar", PriceCents: 17800, MinStock: 8, Active: true},
		{ID: "prd-kopi", SKU: "SKU-KOPI-01", Name: "Kopi Sachet", PriceCents: 2600, MinStock: 30, Active: true},
		{ID: "prd-gula", SKU: "SKU-GULA-01", Name: "Gula 1kg", PriceCents: 17400, MinStock: 0, Active: true},
	}

	now := time.Now().UTC()
	for _, o := range outlets {
		s.state.outlets[o.ID] = o
	}
	for _, p := range products {
		s.state.products[p.ID] = p
		for _, o := range outlets {
			key := stockKey{productID: p.ID, outletID: o.ID}
			s.state.stock[key] = domain.StockLedgerEntry{ProductID: p.ID, OutletID: o.ID, Quantity: 120, UpdatedAt: now}
			s.state.movements = append(s.state.movements, domain.StockMovement{
				ID:             "mov-seed-" + p.ID + "-" + o.ID,
				ProductID:      p.ID,
				OutletID:       o.ID,
				Kind:           domain.MovementIn,
				Delta:          120,
				QuantityBefore: 0,
				QuantityAfter:  120,
				Reference:      "seed",
				Note:           "opening stock",
				ActorID:        "system",
				CreatedAt:      now,
			})
		}
	}
	return s, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrNotFound
	}
	if _, exists := s.users[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	s.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	s.users[username] = u
	return nil
}

func cloneSale(in domain.Sale) domain.Sale {
	out := in
	out.Items = append([]domain.SaleItem(nil), in.Items...)
	out.Payments = append([]domain.Payment(nil), in.Payments...)
	if in.VoidedAt != nil {
		at := *in.VoidedAt
		out.VoidedAt = &at
	}
	if in.RefundedAt != nil {
		at := *in.RefundedAt
		out.RefundedAt = &at
	}
	return out
}

func cloneRefund(in domain.Refund) domain.Refund {
	out := in
	out.Items = append([]domain.RefundItem(nil), in.Items...)
	return out
}

func cloneAlert(in domain.LowStockAlert) domain.LowStockAlert {
	out := in
	if in.ClearedAt != nil {
		at := *in.ClearedAt
		out.ClearedAt = &at
	}
	return out
}

func cloneSession(in domain.CashSession) domain.CashSession {
	out := in
	out.ClosingCashCents = cloneInt64(in.ClosingCashCents)
	out.CashSalesCents = cloneInt64(in.CashSalesCents)
	out.ExpectedCashCents = cloneInt64(in.ExpectedCashCents)
	out.DifferenceCents = cloneInt64(in.DifferenceCents)
	if in.CloseTime != nil {
		at := *in.CloseTime
		out.CloseTime = &at
	}
	return out
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
