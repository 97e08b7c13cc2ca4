package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wispberry-tech/wispy-lending/core"
)

// Mailer sends account emails through a configured provider.
type Mailer struct {
	config         Config
	provider       EmailProvider
	templateEngine *TemplateEngine
}

var _ core.Mailer = (*Mailer)(nil)

// NewMailer creates a Mailer from config. Zero-valued fields fall back to DefaultConfig.
func NewMailer(config Config) (*Mailer, error) {
	defaults := DefaultConfig()
	if config.AppName == "" {
		config.AppName = defaults.AppName
	}
	if config.SupportEmail == "" {
		config.SupportEmail = defaults.SupportEmail
	}
	if config.ResetTemplate.Subject == "" {
		config.ResetTemplate = defaults.ResetTemplate
	}
	if config.Provider == "" {
		config.Provider = defaults.Provider
	}
	if config.ProviderConfig == nil {
		config.ProviderConfig = map[string]any{}
	}
	if !config.UseHTML {
		config.ResetTemplate.HTMLBody = ""
	}

	provider, err := GetEmailProvider(config.Provider, config.ProviderConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}

	slog.Info("Mailer initialized", "provider", provider.Name(), "app_name", config.AppName)

	return &Mailer{
		config:         config,
		provider:       provider,
		templateEngine: NewTemplateEngine(),
	}, nil
}

// Provider returns the email provider
func (m *Mailer) Provider() EmailProvider {
	return m.provider
}

// SendPasswordReset renders and sends the password reset email.
func (m *Mailer) SendPasswordReset(ctx context.Context, user *core.User, resetLink string, expiresAt time.Time) error {
	if user == nil || user.Email == "" {
		return fmt.Errorf("%w: recipient has no email address", ErrEmailSendFailed)
	}

	data := ResetData{
		User:         user,
		ResetURL:     resetLink,
		ExpiresAt:    expiresAt,
		AppName:      m.config.AppName,
		SupportEmail: m.config.SupportEmail,
	}

	message, err := m.templateEngine.Render(m.config.ResetTemplate, user.Email, data)
	if err != nil {
		return err
	}

	if err := m.provider.SendEmail(ctx, message); err != nil {
		slog.Error("Failed to send password reset email", "error", err, "provider", m.provider.Name(), "user_id", user.ID)
		return err
	}

	slog.Debug("Password reset email sent", "provider", m.provider.Name(), "user_id", user.ID)
	return nil
}

// Close shuts down the provider
func (m *Mailer) Close() error {
	return m.provider.Close()
}
