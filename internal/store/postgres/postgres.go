package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/store/postgres/migrations"
)

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)
var _ store.UserStore = (*Store)(nil)

func New(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 8
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 30
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// WithinTx runs fn in a serializable transaction. Any error from fn or from
// commit rolls everything back.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(ctx, &tx{tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(); err != nil {
		return mapErr(err)
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(ctx, &tx{tx: pgTx, readOnly: true}); err != nil {
		return err
	}
	return mapErr(pgTx.Commit())
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrNotFound
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO app_users (username, password_hash, role, active, created_at, updated_at)
		VALUES (:username, :password_hash, :role, :active, :created_at, now())
	`, user)
	return mapErr(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	err := s.db.SelectContext(ctx, &users, `
		SELECT username, password_hash, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	for i := range users {
		users[i].CreatedAt = users[i].CreatedAt.UTC()
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrNotFound
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password_hash = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return mapErr(err)
	}
	return requireAffected(res)
}

// mapErr turns driver errors into store sentinels, keeping the original in
// the chain.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505", "40001", "40P01":
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	case "23503":
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	case "23514":
		if pgErr.ConstraintName == "stock_ledger_quantity_non_negative" {
			return fmt.Errorf("%w: %w", store.ErrInsufficientStock, err)
		}
	}
	return err
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func utcPtr(val *time.Time) *time.Time {
	if val == nil {
		return nil
	}
	at := val.UTC()
	return &at
}
