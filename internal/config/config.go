package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
	POS   POSConfig
}

type AppConfig struct {
	Env           string `envconfig:"APP_ENV" default:"dev"`
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json"`
	LogWarnStack  bool   `envconfig:"LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, "dev")
}

type DBConfig struct {
	URL             string        `envconfig:"DATABASE_URL"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"30"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"8"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	AutoMigrate     bool          `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

type RedisConfig struct {
	Addr          string        `envconfig:"REDIS_ADDR"`
	Password      string        `envconfig:"REDIS_PASSWORD"`
	DB            int           `envconfig:"REDIS_DB" default:"0"`
	StockCacheTTL time.Duration `envconfig:"STOCK_CACHE_TTL" default:"30s"`
	LockTTL       time.Duration `envconfig:"OPNAME_LOCK_TTL" default:"5m"`
}

type AuthConfig struct {
	Secret         string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	ManagerPIN     string        `envconfig:"MANAGER_PIN"`
}

type POSConfig struct {
	DefaultTimezone string `envconfig:"POS_DEFAULT_TIMEZONE" default:"Asia/Jakarta"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Auth.Secret = strings.TrimSpace(cfg.Auth.Secret)
	cfg.Auth.ManagerPIN = strings.TrimSpace(cfg.Auth.ManagerPIN)
	if _, err := time.LoadLocation(cfg.POS.DefaultTimezone); err != nil {
		return Config{}, fmt.Errorf("POS_DEFAULT_TIMEZONE %q: %w", cfg.POS.DefaultTimezone, err)
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.App.Port)
}
