package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wispberry-tech/wispy-lending/core"
	"github.com/wispberry-tech/wispy-lending/core/storage"
)

// Globals are flags shared by every command.
type Globals struct {
	Dev     bool
	Version string
}

// SetupLogger installs the default slog logger: text at debug level in
// development, JSON at info level otherwise.
func SetupLogger(dev bool) *slog.Logger {
	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// StorageFlags select and configure the database.
type StorageFlags struct {
	Driver     string `help:"database driver" default:"sqlite" enum:"sqlite,postgres" env:"LENDING_DB_DRIVER"`
	SQLitePath string `help:"SQLite database file" name:"sqlite-path" default:"lending.db" env:"LENDING_SQLITE_PATH"`

	PostgresURL     string        `help:"PostgreSQL connection string" env:"DATABASE_URL"`
	MaxConns        int32         `help:"maximum number of connections in pool" default:"20" env:"LENDING_DB_MAX_CONNS"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2" env:"LENDING_DB_MIN_CONNS"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	ConnectRetry time.Duration `help:"keep retrying the initial connection for this long" default:"30s" env:"LENDING_DB_CONNECT_RETRY"`
}

// Open connects to the configured database and applies migrations. Postgres
// connections are retried with exponential backoff for ConnectRetry.
func (f *StorageFlags) Open(ctx context.Context) (core.Storage, error) {
	switch f.Driver {
	case "postgres":
		if f.PostgresURL == "" {
			return nil, errors.New("PostgreSQL connection string is required (--postgres-url or DATABASE_URL)")
		}
		cfg := storage.PoolConfig{
			ConnString:      f.PostgresURL,
			MaxConns:        f.MaxConns,
			MinConns:        f.MinConns,
			MaxConnLifetime: f.MaxConnLifetime,
			MaxConnIdleTime: f.MaxConnIdleTime,
		}

		attempt := 0
		store, err := backoff.Retry(ctx, func() (*storage.PostgresStorage, error) {
			attempt++
			s, err := storage.NewPostgresStorage(ctx, cfg)
			if err != nil {
				slog.Warn("Database not ready", "attempt", attempt, "error", err)
			}
			return s, err
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(f.ConnectRetry))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		slog.Info("Using PostgreSQL storage", "max_conns", f.MaxConns)
		return store, nil

	default:
		store, err := storage.NewSQLiteStorage(ctx, f.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		slog.Info("Using SQLite storage", "path", f.SQLitePath)
		return store, nil
	}
}

// schemaDB exposes the handle SchemaManager needs.
type schemaDB interface {
	DB() *sql.DB
}

// SecurityFlags map onto core.SecurityConfig.
type SecurityFlags struct {
	AppURL           string        `help:"public URL of the web app, used in reset links" default:"http://localhost:3000" env:"LENDING_APP_URL"`
	AuthStrategy     string        `help:"session scheme" default:"session" enum:"session,signed" env:"LENDING_AUTH_STRATEGY"`
	SigningSecret    string        `help:"HMAC secret for signed sessions (at least 32 bytes)" env:"LENDING_SIGNING_SECRET"`
	SessionLifetime  time.Duration `help:"how long sessions stay valid" default:"120h" env:"LENDING_SESSION_LIFETIME"`
	SecureCookies    bool          `help:"set the Secure attribute on session cookies" env:"LENDING_SECURE_COOKIES"`
	CookieName       string        `help:"session cookie name" default:"session" env:"LENDING_COOKIE_NAME"`
	MinPassword      int           `help:"minimum password length" default:"6"`
	MaxLoginAttempts int           `help:"login attempts allowed per IP and window" default:"10"`
	LoginRateWindow  time.Duration `help:"login rate limit window" default:"1m"`
	ExposeResetLinks bool          `help:"return reset links in forgot-password responses (development only)" env:"LENDING_EXPOSE_RESET_LINKS"`
}

func (f *SecurityFlags) config() core.SecurityConfig {
	cfg := core.DefaultSecurityConfig()
	cfg.AppURL = f.AppURL
	cfg.AuthStrategy = f.AuthStrategy
	cfg.SessionLifetime = f.SessionLifetime
	cfg.SecureCookies = f.SecureCookies
	cfg.SessionCookieName = f.CookieName
	cfg.PasswordMinLength = f.MinPassword
	cfg.MaxLoginAttempts = f.MaxLoginAttempts
	cfg.LoginRateWindow = f.LoginRateWindow
	cfg.ExposeResetLinks = f.ExposeResetLinks
	if f.SigningSecret != "" {
		cfg.SigningSecret = []byte(f.SigningSecret)
	}
	return cfg
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
