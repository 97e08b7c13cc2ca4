package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultSessionLifetime is how long a session stays valid after login.
	DefaultSessionLifetime = 5 * 24 * time.Hour

	sessionSecretBytes = 32
)

// IssuedSession is handed to the client once, when a session is created.
// Token is the only copy of the bearer secret.
type IssuedSession struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// Authenticator issues, resolves and revokes login sessions.
//
// ResolveSession reports every authentication failure (unknown, expired or
// revoked token, inactive user) as (nil, nil). An error means the backing
// store failed.
type Authenticator interface {
	CreateSession(ctx context.Context, userID string) (*IssuedSession, error)
	ResolveSession(ctx context.Context, token string) (*Identity, error)
	RevokeSession(ctx context.Context, token string) error
	RevokeAllSessionsForUser(ctx context.Context, userID string) error
	// DeleteExpired removes bookkeeping rows that can no longer matter.
	DeleteExpired(ctx context.Context) (int, error)
}

// SessionManager stores opaque session secrets as SHA-256 hashes.
type SessionManager struct {
	store    SessionStore
	lifetime time.Duration
	now      func() time.Time
}

var _ Authenticator = (*SessionManager)(nil)

// NewSessionManager returns a SessionManager. A non-positive lifetime selects
// DefaultSessionLifetime.
func NewSessionManager(store SessionStore, lifetime time.Duration) *SessionManager {
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	return &SessionManager{
		store:    store,
		lifetime: lifetime,
		now:      time.Now,
	}
}

// WithClock returns a copy of m that reads the time from now.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	c := *m
	c.now = now
	return &c
}

// CreateSession persists a new session for userID and returns its secret.
func (m *SessionManager) CreateSession(ctx context.Context, userID string) (*IssuedSession, error) {
	token, err := generateSecretHex(sessionSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := m.now()
	session := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(m.lifetime),
		CreatedAt: now,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &IssuedSession{
		Token:     token,
		UserID:    userID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// ResolveSession returns the identity owning token, or nil when the token
// does not name a live session of an active user.
func (m *SessionManager) ResolveSession(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, nil
	}

	session, err := m.store.FindSession(ctx, hashToken(token))
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.User == nil {
		return nil, nil
	}

	if !session.ExpiresAt.After(m.now()) {
		slog.Debug("Session expired", "session_id", session.ID)
		return nil, nil
	}

	if !session.User.IsActive {
		slog.Debug("Session owner is inactive", "user_id", session.UserID)
		return nil, nil
	}

	return session.User.Identity(), nil
}

// RevokeSession deletes the session named by token. Unknown tokens are ignored.
func (m *SessionManager) RevokeSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.DeleteSessionsByHash(ctx, hashToken(token)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// RevokeAllSessionsForUser deletes every session of userID.
func (m *SessionManager) RevokeAllSessionsForUser(ctx context.Context, userID string) error {
	n, err := m.store.DeleteUserSessions(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	slog.Debug("Revoked user sessions", "user_id", userID, "count", n)
	return nil
}

// DeleteExpired removes sessions whose expiry has passed.
func (m *SessionManager) DeleteExpired(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpiredSessions(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return n, nil
}

// hashToken returns the hex SHA-256 digest stored in place of a secret.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// generateSecretHex returns n random bytes, hex-encoded.
func generateSecretHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
