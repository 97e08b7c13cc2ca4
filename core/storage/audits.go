package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/wispberry-tech/wispy-lending/core"
)

// Audit operations
func (s *sqlStore) CreateAdminAudit(ctx context.Context, audit *AdminAudit) error {
	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	var metadata any
	if len(audit.Metadata) > 0 {
		raw, err := json.Marshal(audit.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = string(raw)
	}

	query := `INSERT INTO admin_audits (id, actor_user_id, action, target_user_id, target_family_id,
			  target_book_id, metadata, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, s.db, query,
		audit.ID, audit.ActorUserID, audit.Action, audit.TargetUserID, audit.TargetFamilyID,
		audit.TargetBookID, metadata, audit.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create admin audit: %w", err)
	}
	return nil
}

// ListAdminAudits returns the newest entries first, with the acting user.
func (s *sqlStore) ListAdminAudits(ctx context.Context, limit int) ([]*AdminAudit, error) {
	query := `SELECT a.id, a.actor_user_id, a.action, a.target_user_id, a.target_family_id,
			  a.target_book_id, a.metadata, a.created_at, u.name, u.email
			  FROM admin_audits a JOIN users u ON u.id = a.actor_user_id
			  ORDER BY a.created_at DESC, a.id
			  LIMIT ?`

	rows, err := s.query(ctx, s.db, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin audits: %w", err)
	}
	defer rows.Close()

	audits := []*AdminAudit{}
	for rows.Next() {
		audit := &AdminAudit{Actor: &User{}}
		var metadata sql.NullString
		err := rows.Scan(
			&audit.ID, &audit.ActorUserID, &audit.Action, &audit.TargetUserID, &audit.TargetFamilyID,
			&audit.TargetBookID, &metadata, scanTime(&audit.CreatedAt), &audit.Actor.Name, &audit.Actor.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to scan admin audit: %w", err)
		}
		audit.Actor.ID = audit.ActorUserID

		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &audit.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		audits = append(audits, audit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate admin audits: %w", err)
	}

	return audits, nil
}

// Stats counts users, families and books, and users created since the cutoff.
func (s *sqlStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{}
	query := `SELECT
			  (SELECT COUNT(*) FROM users),
			  (SELECT COUNT(*) FROM families),
			  (SELECT COUNT(*) FROM books),
			  (SELECT COUNT(*) FROM users WHERE created_at >= ?)`

	err := s.queryRow(ctx, s.db, query, since).Scan(&stats.Users, &stats.Families, &stats.Books, &stats.NewUsersLast24h)
	if err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}
	return stats, nil
}
