package store

import (
	"context"
	"errors"
	"time"

	"kasirinaja/poscore/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	ErrInvalidState      = errors.New("invalid state")
	ErrReadOnly          = errors.New("read-only transaction")
)

// Store hands out units of work. Writes made through a Tx become visible only
// when fn returns nil; any error discards all of them.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetOutlet(ctx context.Context, outletID string) (*domain.Outlet, error)

	// LockStockEntry returns the entry for update, creating it at quantity 0
	// when the pair has never moved.
	LockStockEntry(ctx context.Context, productID string, outletID string) (*domain.StockLedgerEntry, error)
	GetStockEntry(ctx context.Context, productID string, outletID string) (*domain.StockLedgerEntry, error)
	SetStockQuantity(ctx context.Context, productID string, outletID string, quantity int, at time.Time) error
	ListStockByOutlet(ctx context.Context, outletID string) ([]domain.StockLedgerEntry, error)
	InsertMovement(ctx context.Context, movement domain.StockMovement) error
	ListMovements(ctx context.Context, productID string, outletID string) ([]domain.StockMovement, error)

	LatestAlertBetween(ctx context.Context, productID string, outletID string, from time.Time, to time.Time) (*domain.LowStockAlert, error)
	InsertAlert(ctx context.Context, alert domain.LowStockAlert) error
	SetAlertCleared(ctx context.Context, alertID string, clearedAt *time.Time) error
	ListOpenAlerts(ctx context.Context, outletID string) ([]domain.LowStockAlert, error)

	ReceiptExists(ctx context.Context, receiptNumber string) (bool, error)
	InsertSale(ctx context.Context, sale domain.Sale) error
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	LockSale(ctx context.Context, saleID string) (*domain.Sale, error)
	// UpdateSaleStatus moves a sale out of from; ErrInvalidState when the row
	// is no longer in that status.
	UpdateSaleStatus(ctx context.Context, saleID string, from domain.SaleStatus, to domain.SaleStatus, reason string, at time.Time) error
	InsertRefund(ctx context.Context, refund domain.Refund) error
	SumCashPayments(ctx context.Context, outletID string, from time.Time, to time.Time) (int64, error)

	GetOpenCashSession(ctx context.Context, outletID string) (*domain.CashSession, error)
	InsertCashSession(ctx context.Context, session domain.CashSession) error
	LockCashSession(ctx context.Context, sessionID string) (*domain.CashSession, error)
	CloseCashSession(ctx context.Context, session domain.CashSession) error

	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, outletID string, limit int) ([]domain.AuditLog, error)
}

// UserStore backs the login surface.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
