package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/wispberry-tech/wispy-lending/core"
)

const familySelect = `SELECT f.id, f.name, f.address, f.latitude, f.longitude, f.phone, f.email,
	f.created_at, f.updated_at,
	(SELECT COUNT(*) FROM users u WHERE u.family_id = f.id),
	(SELECT COUNT(*) FROM books b WHERE b.family_id = f.id),
	(SELECT COUNT(*) FROM books b WHERE b.family_id = f.id AND b.is_available = TRUE)
	FROM families f`

func scanFamily(row rowScanner) (*Family, error) {
	family := &Family{}
	var lat, lng sql.NullFloat64
	err := row.Scan(
		&family.ID, &family.Name, &family.Address, &lat, &lng, &family.Phone, &family.Email,
		scanTime(&family.CreatedAt), scanTime(&family.UpdatedAt),
		&family.MemberCount, &family.BookCount, &family.AvailableBookCount)
	if err != nil {
		return nil, err
	}
	if lat.Valid {
		family.Latitude = &lat.Float64
	}
	if lng.Valid {
		family.Longitude = &lng.Float64
	}
	return family, nil
}

func (s *sqlStore) insertFamily(ctx context.Context, q querier, family *Family) error {
	if family.ID == "" {
		family.ID = uuid.NewString()
	}
	if family.CreatedAt.IsZero() {
		family.CreatedAt = time.Now()
	}
	if family.UpdatedAt.IsZero() {
		family.UpdatedAt = family.CreatedAt
	}

	query := `INSERT INTO families (id, name, address, latitude, longitude, phone, email, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, q, query,
		family.ID, family.Name, family.Address, family.Latitude, family.Longitude,
		family.Phone, family.Email, family.CreatedAt, family.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create family: %w", err)
	}
	return nil
}

// Family operations
func (s *sqlStore) CreateFamily(ctx context.Context, family *Family) error {
	return s.insertFamily(ctx, s.db, family)
}

func (s *sqlStore) getFamily(ctx context.Context, where string, arg any) (*Family, error) {
	family, err := scanFamily(s.queryRow(ctx, s.db, familySelect+` WHERE `+where, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get family: %w", err)
	}
	return family, nil
}

func (s *sqlStore) GetFamilyByID(ctx context.Context, id string) (*Family, error) {
	return s.getFamily(ctx, `f.id = ?`, id)
}

func (s *sqlStore) GetFamilyByName(ctx context.Context, name string) (*Family, error) {
	return s.getFamily(ctx, `f.name = ?`, name)
}

func (s *sqlStore) ListFamilies(ctx context.Context, filter FamilyFilter) ([]*Family, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Search != "" {
		where = append(where, `(`+s.matches(`f.name`)+` OR `+s.matches(`f.address`)+`)`)
		pattern := s.likePattern(filter.Search)
		args = append(args, pattern, pattern)
	}
	if filter.EmptyOnly {
		where = append(where, `NOT EXISTS (SELECT 1 FROM users u WHERE u.family_id = f.id)`)
	}

	total, err := s.countRows(ctx, s.db, `SELECT COUNT(*) FROM families f`+whereClause(where), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count families: %w", err)
	}

	limit, limitArgs := limitClause(filter.Page)
	query := familySelect + whereClause(where) + ` ORDER BY f.name` + limit
	rows, err := s.query(ctx, s.db, query, append(args, limitArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list families: %w", err)
	}
	defer rows.Close()

	families := []*Family{}
	for rows.Next() {
		family, err := scanFamily(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan family: %w", err)
		}
		families = append(families, family)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate families: %w", err)
	}

	return families, total, nil
}

func (s *sqlStore) DeleteEmptyFamily(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var found string
		err := s.queryRow(ctx, tx, `SELECT id FROM families WHERE id = ?`+s.dialect.lockRow, id).Scan(&found)
		if err == sql.ErrNoRows {
			return ErrFamilyNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get family: %w", err)
		}

		members, err := s.countRows(ctx, tx, `SELECT COUNT(*) FROM users WHERE family_id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to count family members: %w", err)
		}
		if members > 0 {
			return ErrFamilyHasMembers
		}

		if _, err := s.exec(ctx, tx, `DELETE FROM borrowings WHERE book_id IN (SELECT id FROM books WHERE family_id = ?)`, id); err != nil {
			return fmt.Errorf("failed to delete family borrowings: %w", err)
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM books WHERE family_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete family books: %w", err)
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM families WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete family: %w", err)
		}
		return nil
	})
}
