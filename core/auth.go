// Package core implements the community lending service: accounts and
// sessions, families, books, borrowings and admin moderation.
//
// Handlers are return-based. Each one takes the *http.Request and returns a
// response value carrying its HTTP status, an optional session cookie and the
// JSON body, so the service works with any router.
//
//	svc, err := core.NewService(core.Config{
//		Storage:        store,
//		SecurityConfig: core.DefaultSecurityConfig(),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	r.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
//		result := svc.LoginHandler(r)
//		if c := result.SessionCookie(); c != nil {
//			http.SetCookie(w, c)
//		}
//		w.WriteHeader(result.Status())
//		json.NewEncoder(w).Encode(result)
//	})
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// Errors returned by Storage implementations and the service.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidProvider    = errors.New("invalid OAuth provider")

	ErrFamilyExists     = errors.New("family already exists")
	ErrFamilyNotFound   = errors.New("family not found")
	ErrFamilyHasMembers = errors.New("family still has members")

	ErrBookNotFound    = errors.New("book not found")
	ErrBookUnavailable = errors.New("book is not available")

	ErrBorrowingNotFound = errors.New("borrowing not found")
	ErrActiveBorrowing   = errors.New("borrower already has an active borrowing for this book")
	ErrInvalidTransition = errors.New("invalid borrowing status transition")

	ErrResetTokenUsed = errors.New("password reset token already used")
)

// Authentication strategies selectable through SecurityConfig.AuthStrategy.
const (
	StrategySession = "session"
	StrategySigned  = "signed"
)

// SecurityConfig defines security-related configuration options
type SecurityConfig struct {
	PasswordMinLength int

	SessionLifetime    time.Duration // How long sessions remain valid
	ResetTokenLifetime time.Duration // How long password reset links remain valid
	OAuthStateLifetime time.Duration

	SessionCookieName string
	SecureCookies     bool // Set the Secure attribute on session cookies

	// AuthStrategy selects the session scheme: "session" stores hashed
	// opaque tokens, "signed" issues HS256 tokens checked against a
	// revocation list.
	AuthStrategy  string
	SigningSecret []byte

	// Login throttling per client IP
	MaxLoginAttempts int
	LoginRateWindow  time.Duration

	// AppURL is the public base URL used to build password reset links.
	AppURL string
	// ExposeResetLinks returns the reset link in the forgot-password
	// response. Only meant for development.
	ExposeResetLinks bool
}

// DefaultSecurityConfig returns the default configuration
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		PasswordMinLength:  6,
		SessionLifetime:    DefaultSessionLifetime,
		ResetTokenLifetime: time.Hour,
		OAuthStateLifetime: 15 * time.Minute,
		SessionCookieName:  DefaultSessionCookieName,
		AuthStrategy:       StrategySession,
		MaxLoginAttempts:   10,
		LoginRateWindow:    time.Minute,
		AppURL:             "http://localhost:3000",
	}
}

// withDefaults fills zero fields from DefaultSecurityConfig.
func (c SecurityConfig) withDefaults() SecurityConfig {
	d := DefaultSecurityConfig()
	if c.PasswordMinLength == 0 {
		c.PasswordMinLength = d.PasswordMinLength
	}
	if c.SessionLifetime == 0 {
		c.SessionLifetime = d.SessionLifetime
	}
	if c.ResetTokenLifetime == 0 {
		c.ResetTokenLifetime = d.ResetTokenLifetime
	}
	if c.OAuthStateLifetime == 0 {
		c.OAuthStateLifetime = d.OAuthStateLifetime
	}
	if c.SessionCookieName == "" {
		c.SessionCookieName = d.SessionCookieName
	}
	if c.AuthStrategy == "" {
		c.AuthStrategy = d.AuthStrategy
	}
	if c.MaxLoginAttempts == 0 {
		c.MaxLoginAttempts = d.MaxLoginAttempts
	}
	if c.LoginRateWindow == 0 {
		c.LoginRateWindow = d.LoginRateWindow
	}
	if c.AppURL == "" {
		c.AppURL = d.AppURL
	}
	return c
}

// OAuthProviderConfig defines the configuration for an OAuth2 provider.
type OAuthProviderConfig struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURL  string   `json:"redirect_url"` // Callback URL registered with provider
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`

	// Profile endpoints. EmailsURL is only used by GitHub, whose profile
	// endpoint may omit the email address.
	UserInfoURL string `json:"user_info_url"`
	EmailsURL   string `json:"emails_url,omitempty"`
}

// NewGoogleOAuthProvider creates a Google OAuth provider configuration with defaults
func NewGoogleOAuthProvider(clientID, clientSecret, redirectURL string) OAuthProviderConfig {
	return OAuthProviderConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      google.Endpoint.AuthURL,
		TokenURL:     google.Endpoint.TokenURL,
		Scopes:       []string{"https://www.googleapis.com/auth/userinfo.email", "https://www.googleapis.com/auth/userinfo.profile"},
		UserInfoURL:  "https://www.googleapis.com/oauth2/v2/userinfo",
	}
}

// NewGitHubOAuthProvider creates a GitHub OAuth provider configuration with defaults
func NewGitHubOAuthProvider(clientID, clientSecret, redirectURL string) OAuthProviderConfig {
	return OAuthProviderConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      github.Endpoint.AuthURL,
		TokenURL:     github.Endpoint.TokenURL,
		Scopes:       []string{"user:email", "read:user"},
		UserInfoURL:  "https://api.github.com/user",
		EmailsURL:    "https://api.github.com/user/emails",
	}
}

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, user *User, resetLink string, expiresAt time.Time) error
}

// Config contains the configuration for the Service
type Config struct {
	Storage        Storage // Storage implementation (required)
	SecurityConfig SecurityConfig
	OAuthProviders map[string]OAuthProviderConfig
	Mailer         Mailer // Optional; reset links are only logged when nil

	// Authenticator overrides the strategy selected by SecurityConfig.
	Authenticator Authenticator
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service handles account, library and moderation operations.
type Service struct {
	storage        Storage
	authenticator  Authenticator
	oauthConfigs   map[string]*oauth2.Config
	oauthProviders map[string]OAuthProviderConfig
	securityConfig SecurityConfig
	validator      *validator.Validate
	mailer         Mailer
	loginLimiter   *RateLimiter
	now            func() time.Time
}

// NewService creates a new lending service
func NewService(cfg Config) (*Service, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	// Test storage connection
	if err := cfg.Storage.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}

	securityConfig := cfg.SecurityConfig.withDefaults()

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	authenticator := cfg.Authenticator
	if authenticator == nil {
		var err error
		authenticator, err = newAuthenticator(cfg.Storage, securityConfig, now)
		if err != nil {
			return nil, err
		}
	}

	// Convert OAuth provider configs to oauth2.Config
	oauthConfigs := make(map[string]*oauth2.Config)
	for provider, providerCfg := range cfg.OAuthProviders {
		oauthConfigs[provider] = &oauth2.Config{
			ClientID:     providerCfg.ClientID,
			ClientSecret: providerCfg.ClientSecret,
			RedirectURL:  providerCfg.RedirectURL,
			Scopes:       providerCfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  providerCfg.AuthURL,
				TokenURL: providerCfg.TokenURL,
			},
		}
	}

	return &Service{
		storage:        cfg.Storage,
		authenticator:  authenticator,
		oauthConfigs:   oauthConfigs,
		oauthProviders: cfg.OAuthProviders,
		securityConfig: securityConfig,
		validator:      validator.New(),
		mailer:         cfg.Mailer,
		loginLimiter:   NewRateLimiter(securityConfig.MaxLoginAttempts, securityConfig.LoginRateWindow),
		now:            now,
	}, nil
}

func newAuthenticator(store Storage, cfg SecurityConfig, now func() time.Time) (Authenticator, error) {
	switch cfg.AuthStrategy {
	case StrategySession:
		m := NewSessionManager(store, cfg.SessionLifetime)
		m.now = now
		return m, nil
	case StrategySigned:
		a, err := NewSignedTokenAuthenticator(store, cfg.SigningSecret, cfg.SessionLifetime)
		if err != nil {
			return nil, err
		}
		a.now = now
		return a, nil
	default:
		return nil, fmt.Errorf("unknown auth strategy %q", cfg.AuthStrategy)
	}
}

// Authenticator returns the session scheme in use.
func (s *Service) Authenticator() Authenticator {
	return s.authenticator
}

// SecurityConfig returns the effective security configuration.
func (s *Service) SecurityConfig() SecurityConfig {
	return s.securityConfig
}

// logAdminAction records a moderation action. Failures are logged and do not
// fail the request.
func (s *Service) logAdminAction(ctx context.Context, audit *AdminAudit) {
	audit.CreatedAt = s.now()
	if err := s.storage.CreateAdminAudit(ctx, audit); err != nil {
		slog.Error("Failed to log admin action",
			"action", audit.Action,
			"actor_user_id", audit.ActorUserID,
			"error", err)
	}
}

// Close closes the service and its storage
func (s *Service) Close() error {
	return s.storage.Close()
}
