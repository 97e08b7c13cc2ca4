package notify

import "errors"

// Errors returned by the notification module
var (
	// ErrProviderNotFound is returned when an email provider is not registered
	ErrProviderNotFound = errors.New("email provider not found")
	// ErrProviderConfig is returned when provider configuration is invalid
	ErrProviderConfig = errors.New("invalid provider configuration")
	// ErrEmailSendFailed is returned when email sending fails
	ErrEmailSendFailed = errors.New("failed to send email")
	// ErrTemplateRender is returned when template rendering fails
	ErrTemplateRender = errors.New("failed to render email template")
)
