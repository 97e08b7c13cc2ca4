package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/wispberry-tech/wispy-lending/core"
)

// Session operations
func (s *sqlStore) CreateSession(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	query := `INSERT INTO sessions (id, user_id, token_hash, expires_at, user_agent, ip_address, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, s.db, query,
		session.ID, session.UserID, session.TokenHash, session.ExpiresAt,
		session.UserAgent, session.IPAddress, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *sqlStore) FindSession(ctx context.Context, tokenHash string) (*Session, error) {
	session := &Session{}
	user := &User{}
	query := `SELECT s.id, s.user_id, s.token_hash, s.expires_at, s.user_agent, s.ip_address, s.created_at,
			  ` + userColumns + `
			  FROM sessions s JOIN users u ON u.id = s.user_id
			  WHERE s.token_hash = ?`

	targets := append([]any{
		&session.ID, &session.UserID, &session.TokenHash, scanTime(&session.ExpiresAt),
		&session.UserAgent, &session.IPAddress, scanTime(&session.CreatedAt),
	}, userScanTargets(user)...)

	if err := s.queryRow(ctx, s.db, query, tokenHash).Scan(targets...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session.User = user
	return session, nil
}

func (s *sqlStore) DeleteSessionsByHash(ctx context.Context, tokenHash string) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *sqlStore) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return affected(res)
}

func (s *sqlStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return affected(res)
}

// Revocation operations
func (s *sqlStore) RevokeToken(ctx context.Context, token *RevokedToken) error {
	if token.RevokedAt.IsZero() {
		token.RevokedAt = time.Now()
	}

	query := `INSERT INTO revoked_tokens (token_id, user_id, expires_at, revoked_at)
			  VALUES (?, ?, ?, ?)
			  ON CONFLICT (token_id) DO NOTHING`

	_, err := s.exec(ctx, s.db, query, token.TokenID, token.UserID, token.ExpiresAt, token.RevokedAt)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func (s *sqlStore) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.countRows(ctx, s.db, `SELECT COUNT(*) FROM revoked_tokens WHERE token_id = ?`, tokenID)
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return n > 0, nil
}

func (s *sqlStore) DeleteExpiredRevocations(ctx context.Context, now time.Time) (int, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM revoked_tokens WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired revocations: %w", err)
	}
	return affected(res)
}
