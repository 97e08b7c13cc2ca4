package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	minSigningSecretBytes = 32
	// exp is encoded in whole seconds.
	minSignedLifetime = time.Second
)

// SessionClaims are the claims of a signed session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	// IssuedAtNano is compared against User.SessionsValidAfter. The
	// registered iat claim only has second precision.
	IssuedAtNano int64 `json:"ian"`
}

// SignedTokenAuthenticator issues HS256 session tokens. Nothing is stored at
// login; logout records the token ID in a revocation list and "log out
// everywhere" moves the user's cutoff forward.
type SignedTokenAuthenticator struct {
	store    RevocationStore
	secret   []byte
	lifetime time.Duration
	issuer   string
	now      func() time.Time
}

var _ Authenticator = (*SignedTokenAuthenticator)(nil)

// NewSignedTokenAuthenticator returns a SignedTokenAuthenticator. The secret
// must be at least 32 bytes and a non-default lifetime at least one second.
func NewSignedTokenAuthenticator(store RevocationStore, secret []byte, lifetime time.Duration) (*SignedTokenAuthenticator, error) {
	if len(secret) < minSigningSecretBytes {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", minSigningSecretBytes)
	}
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	if lifetime < minSignedLifetime {
		return nil, fmt.Errorf("signed session lifetime must be at least %s, got %s", minSignedLifetime, lifetime)
	}
	return &SignedTokenAuthenticator{
		store:    store,
		secret:   secret,
		lifetime: lifetime,
		issuer:   "wispy-lending",
		now:      time.Now,
	}, nil
}

// WithClock returns a copy of a that reads the time from now.
func (a *SignedTokenAuthenticator) WithClock(now func() time.Time) *SignedTokenAuthenticator {
	c := *a
	c.now = now
	return &c
}

// CreateSession signs a token for userID.
func (a *SignedTokenAuthenticator) CreateSession(ctx context.Context, userID string) (*IssuedSession, error) {
	now := a.now()
	expiresAt := now.Add(a.lifetime)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    a.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		IssuedAtNano: now.UnixNano(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &IssuedSession{
		Token:     token,
		UserID:    userID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// parse verifies signature, issuer and expiry.
func (a *SignedTokenAuthenticator) parse(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.ID == "" || claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ResolveSession verifies token and checks it against the revocation list,
// the owner's cutoff and the owner's active flag.
func (a *SignedTokenAuthenticator) ResolveSession(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, nil
	}

	claims, err := a.parse(token)
	if err != nil {
		slog.Debug("Rejected signed session", "error", err)
		return nil, nil
	}

	revoked, err := a.store.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}
	if revoked {
		return nil, nil
	}

	user, err := a.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, nil
	}

	if user.SessionsValidAfter != nil && time.Unix(0, claims.IssuedAtNano).Before(*user.SessionsValidAfter) {
		slog.Debug("Signed session issued before cutoff", "user_id", user.ID)
		return nil, nil
	}

	return user.Identity(), nil
}

// RevokeSession adds the token to the revocation list until it expires.
// Tokens that fail verification are ignored.
func (a *SignedTokenAuthenticator) RevokeSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	claims, err := a.parse(token)
	if err != nil {
		return nil
	}

	revoked := &RevokedToken{
		TokenID:   claims.ID,
		UserID:    claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
		RevokedAt: a.now(),
	}
	if err := a.store.RevokeToken(ctx, revoked); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// RevokeAllSessionsForUser invalidates every token issued to userID so far.
func (a *SignedTokenAuthenticator) RevokeAllSessionsForUser(ctx context.Context, userID string) error {
	if err := a.store.SetSessionsValidAfter(ctx, userID, a.now()); err != nil {
		return fmt.Errorf("failed to set session cutoff: %w", err)
	}
	return nil
}

// DeleteExpired drops revocation entries for tokens that have expired.
func (a *SignedTokenAuthenticator) DeleteExpired(ctx context.Context) (int, error) {
	n, err := a.store.DeleteExpiredRevocations(ctx, a.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired revocations: %w", err)
	}
	return n, nil
}
