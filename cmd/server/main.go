package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"kasirinaja/poscore/internal/cache"
	"kasirinaja/poscore/internal/config"
	"kasirinaja/poscore/internal/httpapi"
	"kasirinaja/poscore/internal/lock"
	"kasirinaja/poscore/internal/logger"
	"kasirinaja/poscore/internal/metrics"
	"kasirinaja/poscore/internal/service"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/store/memory"
	pgstore "kasirinaja/poscore/internal/store/postgres"
)

type repository interface {
	store.Store
	store.UserStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{
		ServiceName: "poscore",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx := context.Background()

	if err := validateSecurityConfig(cfg); err != nil {
		logg.Error(ctx, "invalid security configuration", err)
		os.Exit(1)
	}
	if err := validateRepositoryConfig(cfg); err != nil {
		logg.Error(ctx, "invalid repository configuration", err)
		os.Exit(1)
	}
	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "server stopped with error", err)
		os.Exit(1)
	}
	logg.Info(ctx, "server stopped")
}

func run(ctx context.Context, cfg config.Config, logg *logger.Logger) (err error) {
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			err = multierr.Append(err, closeFn())
		}
	}()

	var (
		repo   repository
		health func(ctx context.Context) error
	)
	if cfg.DB.URL != "" {
		pg, err := pgstore.New(startCtx, cfg.DB.URL, pgstore.Options{
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.DB.AutoMigrate {
			if err := pg.Migrate(startCtx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		repo = pg
		health = pg.Ping
		logg.Info(ctx, "repository: postgres")
	} else {
		mem, err := memory.NewSeeded()
		if err != nil {
			return fmt.Errorf("seed memory store: %w", err)
		}
		if memory.DefaultSeedCredentials() {
			logg.Warn(ctx, "using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD", nil)
		}
		repo = mem
		logg.Info(ctx, "repository: in-memory")
	}

	var (
		stockCache cache.StockCache = cache.NoopStockCache{}
		locker     lock.Locker      = lock.NewLocalLocker()
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(startCtx).Err(); err != nil {
			logg.Warn(ctx, "redis unavailable, using noop cache and local locks", err)
			_ = client.Close()
		} else {
			stockCache = cache.NewRedisStockCache(client)
			locker = lock.NewRedisLocker(client)
			closers = append(closers, client.Close)
			logg.Info(ctx, "cache: redis")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	defaultLoc, err := time.LoadLocation(cfg.POS.DefaultTimezone)
	if err != nil {
		return fmt.Errorf("default timezone: %w", err)
	}

	svc := service.New(repo, service.Options{
		Logger:          logg,
		Metrics:         metrics.NewPOS(registry),
		StockCache:      stockCache,
		StockCacheTTL:   cfg.Redis.StockCacheTTL,
		Locker:          locker,
		LockTTL:         cfg.Redis.LockTTL,
		DefaultLocation: defaultLoc,
	})
	auth := httpapi.NewAuthManager(startCtx, cfg.Auth.Secret, cfg.Auth.AccessTokenTTL, cfg.Auth.ManagerPIN, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.App.AllowedOrigin,
		Logger:         logg,
		HTTPMetrics:    metrics.NewHTTP(registry),
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Health:         health,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", cfg.Address()), "POS core listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.Auth.Secret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.Auth.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.Auth.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validateRepositoryConfig keeps the seeded in-memory store to dev; every
// other environment needs DATABASE_URL.
func validateRepositoryConfig(cfg config.Config) error {
	if cfg.DB.URL == "" && !cfg.App.IsDev() {
		return fmt.Errorf("DATABASE_URL is required when APP_ENV=%q", cfg.App.Env)
	}
	return nil
}

// validatePINStrength rejects non-numeric PINs, a single repeated digit,
// strictly sequential runs and a short list of common choices.
func validatePINStrength(pin string) error {
	for _, c := range pin {
		if c < '0' || c > '9' {
			return fmt.Errorf("PIN must be numeric")
		}
	}

	known := map[string]bool{
		"123456": true, "654321": true, "121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
