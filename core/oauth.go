package core

import (
	"errors"
	"time"
)

// OAuthUser represents user information from OAuth providers
type OAuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ValidateOAuthState checks if the OAuth state is usable for provider at now.
func ValidateOAuthState(s *OAuthState, provider string, now time.Time) error {
	if s == nil || s.State == "" {
		return errors.New("empty state")
	}

	if s.Provider != provider {
		return errors.New("state issued for another provider")
	}

	if !s.ExpiresAt.After(now) {
		return errors.New("state expired")
	}

	return nil
}
