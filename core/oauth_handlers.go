package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// OAuthResponse represents the response for OAuth operations
type OAuthResponse struct {
	Result
	URL         string `json:"url,omitempty"`         // Authorization URL (init)
	User        *User  `json:"user,omitempty"`        // Signed-in user (callback)
	RedirectURL string `json:"redirectUrl,omitempty"` // Where the client asked to land after login
}

// OAuthInitHandler initiates OAuth flow for a given provider
func (s *Service) OAuthInitHandler(r *http.Request, provider string) OAuthResponse {
	oauthConfig, exists := s.oauthConfigs[provider]
	if !exists {
		slog.Debug("Unsupported OAuth provider", "provider", provider)
		return OAuthResponse{Result: errorResult(http.StatusBadRequest, "Unsupported OAuth provider")}
	}

	stateToken, err := generateSecureToken(32)
	if err != nil {
		slog.Error("Failed to generate state token", "error", err)
		return OAuthResponse{Result: internalError()}
	}

	now := s.now()
	oauthState := &OAuthState{
		State:       stateToken,
		Provider:    provider,
		RedirectURL: r.URL.Query().Get("redirect_url"),
		ExpiresAt:   now.Add(s.securityConfig.OAuthStateLifetime),
		CreatedAt:   now,
	}

	if err := s.storage.StoreOAuthState(r.Context(), oauthState); err != nil {
		slog.Error("Failed to store OAuth state", "error", err)
		return OAuthResponse{Result: internalError()}
	}

	slog.Debug("OAuth flow initiated", "provider", provider)

	return OAuthResponse{
		Result: Result{StatusCode: http.StatusOK},
		URL:    oauthConfig.AuthCodeURL(stateToken),
	}
}

// OAuthCallbackHandler completes the OAuth flow. Only existing, active members
// can sign in this way: a new account needs a family, which the provider
// cannot supply.
func (s *Service) OAuthCallbackHandler(r *http.Request, provider string) OAuthResponse {
	oauthConfig, exists := s.oauthConfigs[provider]
	if !exists {
		slog.Debug("Unsupported OAuth provider", "provider", provider)
		return OAuthResponse{Result: errorResult(http.StatusBadRequest, "Unsupported OAuth provider")}
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		slog.Debug("Missing state or code in OAuth callback")
		return OAuthResponse{Result: errorResult(http.StatusBadRequest, "Missing state or code parameter")}
	}

	ctx := r.Context()

	storedState, err := s.storage.GetOAuthState(ctx, state)
	if err != nil {
		slog.Error("Failed to get OAuth state", "error", err)
		return OAuthResponse{Result: internalError()}
	}

	// States are single use
	if storedState != nil {
		if err := s.storage.DeleteOAuthState(ctx, state); err != nil {
			slog.Error("Failed to delete OAuth state", "error", err)
		}
	}

	if err := ValidateOAuthState(storedState, provider, s.now()); err != nil {
		slog.Debug("Invalid OAuth state", "provider", provider, "error", err)
		return OAuthResponse{Result: errorResult(http.StatusBadRequest, "Invalid state parameter")}
	}

	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		slog.Error("Failed to exchange OAuth code", "error", err)
		return OAuthResponse{Result: errorResult(http.StatusBadGateway, "Failed to exchange authorization code")}
	}

	oauthUser, err := s.fetchOAuthUserInfo(ctx, provider, token.AccessToken)
	if err != nil {
		slog.Error("Failed to fetch OAuth user info", "error", err)
		return OAuthResponse{Result: errorResult(http.StatusBadGateway, "Failed to fetch user information")}
	}

	if oauthUser.Email == "" {
		slog.Debug("OAuth user has no email", "provider", provider, "provider_id", oauthUser.ID)
		return OAuthResponse{Result: errorResult(http.StatusBadRequest, "Email is required from OAuth provider")}
	}

	user, err := s.storage.GetUserByEmail(ctx, normalizeEmail(oauthUser.Email))
	if err != nil {
		slog.Error("Failed to get user by email", "error", err)
		return OAuthResponse{Result: internalError()}
	}
	if user == nil || !user.IsActive {
		slog.Debug("No active member for OAuth login", "provider", provider)
		return OAuthResponse{Result: errorResult(http.StatusNotFound, "No active account for this email. Register with a family first.")}
	}

	if user.Provider != provider || user.ProviderID != oauthUser.ID {
		user.Provider = provider
		user.ProviderID = oauthUser.ID
		user.UpdatedAt = s.now()
		if err := s.storage.UpdateUser(ctx, user); err != nil {
			slog.Error("Failed to link OAuth account", "user_id", user.ID, "error", err)
			return OAuthResponse{Result: internalError()}
		}
	}

	issued, err := s.authenticator.CreateSession(ctx, user.ID)
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		return OAuthResponse{Result: internalError()}
	}

	slog.Info("OAuth authentication successful", "user_id", user.ID, "provider", provider)

	return OAuthResponse{
		Result:      Result{StatusCode: http.StatusOK, Cookie: s.sessionCookie(issued)},
		User:        user,
		RedirectURL: storedState.RedirectURL,
	}
}

var oauthHTTPClient = &http.Client{Timeout: 10 * time.Second}

// fetchOAuthUserInfo fetches the profile of the signed-in provider account
func (s *Service) fetchOAuthUserInfo(ctx context.Context, provider, accessToken string) (*OAuthUser, error) {
	cfg, ok := s.oauthProviders[provider]
	if !ok || cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProvider, provider)
	}

	switch provider {
	case "google":
		var googleUser struct {
			ID    string `json:"id"`
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := getProviderJSON(ctx, cfg.UserInfoURL, accessToken, &googleUser); err != nil {
			return nil, fmt.Errorf("failed to fetch Google user: %w", err)
		}
		return &OAuthUser{ID: googleUser.ID, Email: googleUser.Email, Name: googleUser.Name}, nil

	case "github":
		var githubUser struct {
			ID    int64  `json:"id"`
			Login string `json:"login"`
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := getProviderJSON(ctx, cfg.UserInfoURL, accessToken, &githubUser); err != nil {
			return nil, fmt.Errorf("failed to fetch GitHub user: %w", err)
		}

		// GitHub might not return email in the user endpoint
		if githubUser.Email == "" && cfg.EmailsURL != "" {
			email, err := fetchGitHubUserEmail(ctx, cfg.EmailsURL, accessToken)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch GitHub user email: %w", err)
			}
			githubUser.Email = email
		}

		name := githubUser.Name
		if name == "" {
			name = githubUser.Login
		}
		return &OAuthUser{ID: strconv.FormatInt(githubUser.ID, 10), Email: githubUser.Email, Name: name}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProvider, provider)
	}
}

// fetchGitHubUserEmail returns the primary verified email, or any verified one
func fetchGitHubUserEmail(ctx context.Context, emailsURL, accessToken string) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getProviderJSON(ctx, emailsURL, accessToken, &emails); err != nil {
		return "", err
	}

	for _, email := range emails {
		if email.Primary && email.Verified {
			return email.Email, nil
		}
	}
	for _, email := range emails {
		if email.Verified {
			return email.Email, nil
		}
	}

	return "", fmt.Errorf("no verified email found")
}

func getProviderJSON(ctx context.Context, url, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := oauthHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
