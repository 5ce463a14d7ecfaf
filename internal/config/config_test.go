package config

import (
	"os"
	"testing"
	"time"
)

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.Secret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.Auth.Secret)
	}
	if cfg.Auth.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.Auth.ManagerPIN)
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "PORT")
	unsetEnv(t, "POS_DEFAULT_TIMEZONE")
	unsetEnv(t, "STOCK_CACHE_TTL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Address())
	}
	if cfg.POS.DefaultTimezone != "Asia/Jakarta" {
		t.Fatalf("expected Asia/Jakarta default, got %q", cfg.POS.DefaultTimezone)
	}
	if cfg.Redis.StockCacheTTL != 30*time.Second {
		t.Fatalf("expected 30s cache ttl, got %s", cfg.Redis.StockCacheTTL)
	}
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("POS_DEFAULT_TIMEZONE", "Mars/Olympus")

	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown timezone to be rejected")
	}
}

func TestLoadTrimsSecrets(t *testing.T) {
	t.Setenv("AUTH_SECRET", "  0123456789abcdef0123456789abcdef  ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.Secret != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("expected trimmed secret, got %q", cfg.Auth.Secret)
	}
}
