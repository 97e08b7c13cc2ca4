package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// EmailProvider delivers rendered messages
type EmailProvider interface {
	// Name returns the name of the provider
	Name() string

	// SendEmail sends an email message
	SendEmail(ctx context.Context, message *EmailMessage) error

	// Close cleans up any resources
	Close() error
}

// EmailProviderFactory creates email providers
type EmailProviderFactory func(config map[string]any) (EmailProvider, error)

var (
	providersMu    sync.RWMutex
	emailProviders = map[string]EmailProviderFactory{
		"log":    NewLogProvider,
		"resend": NewResendProvider,
	}
)

// RegisterEmailProvider registers a new email provider
func RegisterEmailProvider(name string, factory EmailProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	emailProviders[name] = factory
}

// GetEmailProvider creates a new instance of the specified email provider
func GetEmailProvider(name string, config map[string]any) (EmailProvider, error) {
	providersMu.RLock()
	factory, exists := emailProviders[name]
	providersMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	return factory(config)
}

// ListEmailProviders returns the registered provider names, sorted
func ListEmailProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(emailProviders))
	for name := range emailProviders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LogProvider writes emails to the structured log instead of sending them.
type LogProvider struct {
	logger *slog.Logger
}

// NewLogProvider creates a log provider. config["logger"] may hold a *slog.Logger.
func NewLogProvider(config map[string]any) (EmailProvider, error) {
	logger := slog.Default()
	if l, ok := config["logger"].(*slog.Logger); ok && l != nil {
		logger = l
	}
	return &LogProvider{logger: logger}, nil
}

// Name returns the provider name
func (p *LogProvider) Name() string {
	return "log"
}

// SendEmail logs the message
func (p *LogProvider) SendEmail(ctx context.Context, message *EmailMessage) error {
	p.logger.InfoContext(ctx, "Email not sent, log provider in use",
		"to", message.To,
		"from", message.FromEmail,
		"subject", message.Subject,
		"body", message.TextBody)
	return nil
}

// Close cleans up resources
func (p *LogProvider) Close() error {
	return nil
}
