package notify

import (
	"time"

	"github.com/wispberry-tech/wispy-lending/core"
)

// EmailTemplate holds the text/template sources for one kind of email.
type EmailTemplate struct {
	Subject   string `json:"subject"`
	TextBody  string `json:"text_body"`
	HTMLBody  string `json:"html_body"` // Optional
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

// ResetData is passed to the password reset template.
type ResetData struct {
	User         *core.User
	ResetURL     string
	ExpiresAt    time.Time
	AppName      string
	SupportEmail string
}

// EmailMessage is a rendered email ready to hand to a provider.
type EmailMessage struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	TextBody  string `json:"text_body"`
	HTMLBody  string `json:"html_body"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

// Config configures the Mailer.
type Config struct {
	AppName      string
	SupportEmail string

	ResetTemplate EmailTemplate
	// UseHTML renders HTMLBody in addition to the text body
	UseHTML bool

	Provider       string         // "log" or "resend"
	ProviderConfig map[string]any // Provider-specific settings
}

// DefaultConfig returns a configuration that logs emails instead of sending them.
func DefaultConfig() Config {
	return Config{
		AppName:        "Wispy Lending",
		SupportEmail:   "support@example.com",
		ResetTemplate:  DefaultResetTemplate(),
		UseHTML:        true,
		Provider:       "log",
		ProviderConfig: map[string]any{},
	}
}

// DefaultResetTemplate returns the built-in password reset email.
func DefaultResetTemplate() EmailTemplate {
	return EmailTemplate{
		Subject:   "Reset your {{.AppName}} password",
		FromEmail: "noreply@example.com",
		FromName:  "{{.AppName}}",
		TextBody: `Hi {{.User.Name}},

Someone asked to reset the password for your {{.AppName}} account.
Use the link below to choose a new one:

{{.ResetURL}}

This link expires at {{.ExpiresAt.UTC.Format "January 2, 2006 at 3:04 PM MST"}}.

If you did not ask for this, you can ignore this email.
Questions? Write to {{.SupportEmail}}.`,
		HTMLBody: `<p>Hi {{.User.Name}},</p>
<p>Someone asked to reset the password for your {{.AppName}} account.</p>
<p><a href="{{.ResetURL}}">Choose a new password</a></p>
<p>This link expires at {{.ExpiresAt.UTC.Format "January 2, 2006 at 3:04 PM MST"}}.</p>
<p>If you did not ask for this, you can ignore this email. Questions? Write to {{.SupportEmail}}.</p>`,
	}
}
