package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/wispberry-tech/wispy-lending/core"
)

const userColumns = `u.id, u.email, u.name, u.password_hash, u.role, u.is_active, u.family_id,
	u.provider, u.provider_id, u.sessions_valid_after, u.created_at, u.updated_at`

const userSelect = `SELECT ` + userColumns + `, f.id, f.name
	FROM users u LEFT JOIN families f ON f.id = u.family_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func userScanTargets(u *User) []any {
	return []any{
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.IsActive, &u.FamilyID,
		&u.Provider, &u.ProviderID, scanNullTime(&u.SessionsValidAfter),
		scanTime(&u.CreatedAt), scanTime(&u.UpdatedAt),
	}
}

func scanUser(row rowScanner) (*User, error) {
	user := &User{}
	var familyID, familyName sql.NullString
	if err := row.Scan(append(userScanTargets(user), &familyID, &familyName)...); err != nil {
		return nil, err
	}
	if familyID.Valid {
		user.Family = &Family{ID: familyID.String, Name: familyName.String}
	}
	return user, nil
}

func prepareUser(user *User) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	if user.Role == "" {
		user.Role = RoleMember
	}
	if user.Provider == "" {
		user.Provider = "email"
	}
}

func (s *sqlStore) insertUser(ctx context.Context, q querier, user *User) error {
	prepareUser(user)
	query := `INSERT INTO users (id, email, name, password_hash, role, is_active, family_id,
			  provider, provider_id, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, q, query,
		user.ID, user.Email, user.Name, user.PasswordHash, user.Role, user.IsActive, user.FamilyID,
		user.Provider, user.ProviderID, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// User operations
func (s *sqlStore) CreateUser(ctx context.Context, user *User) error {
	return s.insertUser(ctx, s.db, user)
}

func (s *sqlStore) CreateUserWithFamily(ctx context.Context, user *User, family *Family) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertFamily(ctx, tx, family); err != nil {
			return err
		}
		user.FamilyID = family.ID
		return s.insertUser(ctx, tx, user)
	})
}

func (s *sqlStore) getUser(ctx context.Context, q querier, where string, arg any) (*User, error) {
	user, err := scanUser(s.queryRow(ctx, q, userSelect+` WHERE `+where, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *sqlStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, s.db, `u.id = ?`, id)
}

func (s *sqlStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, s.db, `u.email = ?`, email)
}

func (s *sqlStore) UpdateUser(ctx context.Context, user *User) error {
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now()
	}
	query := `UPDATE users SET email = ?, name = ?, password_hash = ?, role = ?, is_active = ?,
			  family_id = ?, provider = ?, provider_id = ?, updated_at = ?
			  WHERE id = ?`

	res, err := s.exec(ctx, s.db, query,
		user.Email, user.Name, user.PasswordHash, user.Role, user.IsActive,
		user.FamilyID, user.Provider, user.ProviderID, user.UpdatedAt,
		user.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *sqlStore) SetSessionsValidAfter(ctx context.Context, userID string, t time.Time) error {
	res, err := s.exec(ctx, s.db, `UPDATE users SET sessions_valid_after = ? WHERE id = ?`, t, userID)
	if err != nil {
		return fmt.Errorf("failed to set session cutoff: %w", err)
	}

	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *sqlStore) ListUsers(ctx context.Context, filter UserFilter) ([]*User, error) {
	var (
		where []string
		args  []any
	)
	if filter.Search != "" {
		where = append(where, `(`+s.matches(`u.name`)+` OR `+s.matches(`u.email`)+`)`)
		pattern := s.likePattern(filter.Search)
		args = append(args, pattern, pattern)
	}
	if filter.Role != "" {
		where = append(where, `u.role = ?`)
		args = append(args, filter.Role)
	}
	if filter.IsActive != nil {
		where = append(where, `u.is_active = ?`)
		args = append(args, *filter.IsActive)
	}

	query := userSelect + whereClause(where) + ` ORDER BY u.created_at DESC`
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

func (s *sqlStore) ListFamilyMembers(ctx context.Context, familyID string) ([]*User, error) {
	rows, err := s.query(ctx, s.db, userSelect+` WHERE u.family_id = ? ORDER BY u.name`, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list family members: %w", err)
	}
	defer rows.Close()

	members, err := collectUsers(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		m.Family = nil
	}
	return members, nil
}

func collectUsers(rows *sql.Rows) ([]*User, error) {
	users := []*User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
