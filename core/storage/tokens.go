package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/wispberry-tech/wispy-lending/core"
)

// Password reset operations
func (s *sqlStore) ReplacePasswordResetToken(ctx context.Context, token *PasswordResetToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `DELETE FROM password_reset_tokens WHERE user_id = ? AND used_at IS NULL`, token.UserID); err != nil {
			return fmt.Errorf("failed to delete previous reset tokens: %w", err)
		}

		query := `INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, created_at)
				  VALUES (?, ?, ?, ?, ?)`
		if _, err := s.exec(ctx, tx, query, token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt); err != nil {
			return fmt.Errorf("failed to create reset token: %w", err)
		}
		return nil
	})
}

func (s *sqlStore) FindPasswordResetToken(ctx context.Context, tokenHash string) (*PasswordResetToken, error) {
	token := &PasswordResetToken{}
	query := `SELECT id, user_id, token_hash, expires_at, used_at, created_at
			  FROM password_reset_tokens WHERE token_hash = ?`

	err := s.queryRow(ctx, s.db, query, tokenHash).Scan(
		&token.ID, &token.UserID, &token.TokenHash, scanTime(&token.ExpiresAt),
		scanNullTime(&token.UsedAt), scanTime(&token.CreatedAt))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find reset token: %w", err)
	}
	return token, nil
}

func (s *sqlStore) CompletePasswordReset(ctx context.Context, tokenID, userID, passwordHash string, usedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `UPDATE password_reset_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`, usedAt, tokenID)
		if err != nil {
			return fmt.Errorf("failed to mark reset token used: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrResetTokenUsed
		}

		res, err = s.exec(ctx, tx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, passwordHash, usedAt, userID)
		if err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		if n, err = affected(res); err != nil {
			return err
		}
		if n == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

func (s *sqlStore) DeleteExpiredPasswordResetTokens(ctx context.Context, now time.Time) (int, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM password_reset_tokens WHERE expires_at <= ? OR used_at IS NOT NULL`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired reset tokens: %w", err)
	}
	return affected(res)
}

// OAuth state operations
func (s *sqlStore) StoreOAuthState(ctx context.Context, state *OAuthState) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now()
	}

	query := `INSERT INTO oauth_states (state, provider, redirect_url, expires_at, created_at)
			  VALUES (?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, s.db, query, state.State, state.Provider, state.RedirectURL, state.ExpiresAt, state.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store OAuth state: %w", err)
	}
	return nil
}

func (s *sqlStore) GetOAuthState(ctx context.Context, state string) (*OAuthState, error) {
	oauthState := &OAuthState{}
	query := `SELECT state, provider, redirect_url, expires_at, created_at
			  FROM oauth_states WHERE state = ?`

	err := s.queryRow(ctx, s.db, query, state).Scan(
		&oauthState.State, &oauthState.Provider, &oauthState.RedirectURL,
		scanTime(&oauthState.ExpiresAt), scanTime(&oauthState.CreatedAt))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get OAuth state: %w", err)
	}
	return oauthState, nil
}

func (s *sqlStore) DeleteOAuthState(ctx context.Context, state string) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM oauth_states WHERE state = ?`, state); err != nil {
		return fmt.Errorf("failed to delete OAuth state: %w", err)
	}
	return nil
}

func (s *sqlStore) DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM oauth_states WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired OAuth states: %w", err)
	}
	return affected(res)
}
