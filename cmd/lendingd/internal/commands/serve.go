package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wispberry-tech/wispy-lending/core"
	"github.com/wispberry-tech/wispy-lending/httpapi"
	"github.com/wispberry-tech/wispy-lending/notify"
)

// ServeCmd runs the HTTP API.
type ServeCmd struct {
	Listen          string        `help:"HTTP listen address" default:"0.0.0.0:8080" env:"LENDING_LISTEN"`
	CORSOrigins     []string      `help:"allowed CORS origins" env:"LENDING_CORS_ORIGINS"`
	RequestTimeout  time.Duration `help:"per-request timeout" default:"30s"`
	ShutdownTimeout time.Duration `help:"graceful shutdown timeout" default:"15s"`
	SweepInterval   time.Duration `help:"interval between expired session sweeps, 0 disables" default:"1h" env:"LENDING_SWEEP_INTERVAL"`

	Storage  StorageFlags  `embed:""`
	Security SecurityFlags `embed:""`
	OAuth    OAuthFlags    `embed:"" prefix:"oauth-"`
	Mail     MailFlags     `embed:"" prefix:"mail-"`
}

// OAuthFlags configure third-party login. A provider is enabled when its
// client ID is set.
type OAuthFlags struct {
	GoogleClientID     string `help:"Google client ID" env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `help:"Google client secret" env:"GOOGLE_CLIENT_SECRET"`
	GithubClientID     string `help:"GitHub client ID" env:"GITHUB_CLIENT_ID"`
	GithubClientSecret string `help:"GitHub client secret" env:"GITHUB_CLIENT_SECRET"`
	CallbackBaseURL    string `help:"public API URL; callbacks are <url>/api/auth/oauth/<provider>/callback" default:"http://localhost:8080" env:"LENDING_OAUTH_CALLBACK_BASE_URL"`
}

func (f *OAuthFlags) providers() map[string]core.OAuthProviderConfig {
	providers := map[string]core.OAuthProviderConfig{}
	callback := func(name string) string {
		return f.CallbackBaseURL + "/api/auth/oauth/" + name + "/callback"
	}
	if f.GoogleClientID != "" {
		providers["google"] = core.NewGoogleOAuthProvider(f.GoogleClientID, f.GoogleClientSecret, callback("google"))
	}
	if f.GithubClientID != "" {
		providers["github"] = core.NewGitHubOAuthProvider(f.GithubClientID, f.GithubClientSecret, callback("github"))
	}
	return providers
}

// MailFlags configure password reset emails.
type MailFlags struct {
	Provider     string `help:"email provider" default:"log" enum:"log,resend" env:"LENDING_MAIL_PROVIDER"`
	ResendAPIKey string `help:"Resend API key" name:"resend-api-key" env:"RESEND_API_KEY"`
	From         string `help:"sender address" default:"noreply@example.com" env:"LENDING_MAIL_FROM"`
	AppName      string `help:"application name used in emails" default:"Wispy Lending"`
	SupportEmail string `help:"support address used in emails" default:"support@example.com"`
}

func (f *MailFlags) mailer() (*notify.Mailer, error) {
	tmpl := notify.DefaultResetTemplate()
	tmpl.FromEmail = f.From

	providerConfig := map[string]any{"logger": slog.Default()}
	if f.ResendAPIKey != "" {
		providerConfig["api_key"] = f.ResendAPIKey
	}

	return notify.NewMailer(notify.Config{
		AppName:        f.AppName,
		SupportEmail:   f.SupportEmail,
		ResetTemplate:  tmpl,
		UseHTML:        true,
		Provider:       f.Provider,
		ProviderConfig: providerConfig,
	})
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	slog.Info("Starting server", "version", globals.Version, "dev", globals.Dev)

	store, err := c.Storage.Open(ctx)
	if err != nil {
		return err
	}

	mailer, err := c.Mail.mailer()
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create mailer: %w", err)
	}
	defer mailer.Close()

	svc, err := core.NewService(core.Config{
		Storage:        store,
		SecurityConfig: c.Security.config(),
		OAuthProviders: c.OAuth.providers(),
		Mailer:         mailer,
	})
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	handler, err := httpapi.NewRouter(svc, httpapi.Options{
		AllowedOrigins: c.CORSOrigins,
		RequestTimeout: c.RequestTimeout,
		AccessLog:      true,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	if c.SweepInterval > 0 {
		sweeper := svc.StartSweeper(ctx, c.SweepInterval)
		defer sweeper.Stop()
		slog.Info("Session sweeper started", "interval", c.SweepInterval)
	}

	srv := configureHTTPServer(c.Listen, handler)
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", c.Listen, "auth_strategy", c.Security.AuthStrategy)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down", "timeout", c.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
