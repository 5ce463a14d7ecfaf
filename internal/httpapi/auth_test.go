package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"kasirinaja/poscore/internal/apperr"
	"kasirinaja/poscore/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func legacyAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	ctx := context.Background()
	store := legacyAdminStore()

	manager := NewAuthManager(ctx, "test-secret", time.Hour, testPIN, store)
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestLoginTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager(ctx, "test-secret", time.Hour, testPIN, legacyAdminStore())

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: " Admin ", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.UserID != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager(ctx, "another-secret", time.Hour, testPIN, nil)
	if _, err := other.ParseToken(resp.AccessToken); !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Fatalf("expected foreign-signed token to be rejected, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager(ctx, "test-secret", time.Hour, testPIN, legacyAdminStore())
	manager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	manager.now = time.Now
	if _, err := manager.ParseToken(resp.AccessToken); !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestInactiveAccountCannotLogin(t *testing.T) {
	ctx := context.Background()
	store := legacyAdminStore()
	user := store.users["admin"]
	user.Active = false
	store.users["admin"] = user

	manager := NewAuthManager(ctx, "test-secret", time.Hour, testPIN, store)
	_, err := manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "admin123"})
	if !apperr.IsCode(err, apperr.CodeForbidden) {
		t.Fatalf("expected forbidden for inactive account, got %v", err)
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	ctx := context.Background()
	store := legacyAdminStore()

	manager := NewAuthManager(ctx, "test-secret", time.Hour, testPIN, store)
	cashier, err := manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "KasirBaru", Password: "pass1234"})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Username != "kasirbaru" {
		t.Fatalf("unexpected username %s", cashier.Username)
	}

	saved, ok := store.users["kasirbaru"]
	if !ok {
		t.Fatalf("expected cashier to be saved")
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}

	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "kasirbaru", Password: "pass1234"}); err != nil {
		t.Fatalf("login with hashed cashier failed: %v", err)
	}

	_, err = manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "ab", Password: "pass1234"})
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("expected validation error for short username, got %v", err)
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "654321", &userStoreStub{})

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}
	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}
	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}

	disabled := NewAuthManager(context.Background(), "test-secret", time.Hour, "", nil)
	if disabled.ValidateManagerPIN("") || disabled.ValidateManagerPIN("654321") {
		t.Fatalf("expected empty manager pin to disable validation")
	}
}
