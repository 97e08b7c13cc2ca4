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

const borrowingSelect = `SELECT br.id, br.book_id, br.borrower_id, br.status, br.requested_at,
	br.due_date, br.returned_at,
	bk.title, bk.author, bk.isbn, bk.condition, bk.is_available, bk.family_id,
	u.name, u.email, u.role, u.is_active, u.family_id
	FROM borrowings br
	JOIN books bk ON bk.id = br.book_id
	JOIN users u ON u.id = br.borrower_id`

func scanBorrowing(row rowScanner) (*Borrowing, error) {
	b := &Borrowing{Book: &Book{}, Borrower: &User{}}
	err := row.Scan(
		&b.ID, &b.BookID, &b.BorrowerID, &b.Status, scanTime(&b.RequestedAt),
		scanTime(&b.DueDate), scanNullTime(&b.ReturnedAt),
		&b.Book.Title, &b.Book.Author, &b.Book.ISBN, &b.Book.Condition, &b.Book.IsAvailable, &b.Book.FamilyID,
		&b.Borrower.Name, &b.Borrower.Email, &b.Borrower.Role, &b.Borrower.IsActive, &b.Borrower.FamilyID)
	if err != nil {
		return nil, err
	}
	b.Book.ID = b.BookID
	b.Borrower.ID = b.BorrowerID
	return b, nil
}

func statusArgs(statuses []BorrowingStatus) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	return args
}

func activeStatusArgs() []any  { return statusArgs(ActiveStatuses) }
func holdingStatusArgs() []any { return statusArgs(HoldingStatuses) }

func placeholderList(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

var (
	activeStatusList  = placeholderList(len(ActiveStatuses))
	holdingStatusList = placeholderList(len(HoldingStatuses))
)

// Borrowing operations
func (s *sqlStore) CreateBorrowing(ctx context.Context, borrowing *Borrowing) error {
	if borrowing.ID == "" {
		borrowing.ID = uuid.NewString()
	}
	if borrowing.RequestedAt.IsZero() {
		borrowing.RequestedAt = time.Now()
	}
	borrowing.Status = StatusRequested
	borrowing.ReturnedAt = nil

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var available bool
		err := s.queryRow(ctx, tx, `SELECT is_available FROM books WHERE id = ?`+s.dialect.lockRow, borrowing.BookID).Scan(&available)
		if err == sql.ErrNoRows {
			return ErrBookNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check book availability: %w", err)
		}
		if !available {
			return ErrBookUnavailable
		}

		args := append([]any{borrowing.BookID, borrowing.BorrowerID}, activeStatusArgs()...)
		active, err := s.countRows(ctx, tx,
			`SELECT COUNT(*) FROM borrowings WHERE book_id = ? AND borrower_id = ? AND status IN `+activeStatusList,
			args...)
		if err != nil {
			return fmt.Errorf("failed to check active borrowings: %w", err)
		}
		if active > 0 {
			return ErrActiveBorrowing
		}

		query := `INSERT INTO borrowings (id, book_id, borrower_id, status, requested_at, due_date)
				  VALUES (?, ?, ?, ?, ?, ?)`
		_, err = s.exec(ctx, tx, query,
			borrowing.ID, borrowing.BookID, borrowing.BorrowerID, borrowing.Status,
			borrowing.RequestedAt, borrowing.DueDate)
		if err != nil {
			return fmt.Errorf("failed to create borrowing: %w", err)
		}
		return nil
	})
}

func (s *sqlStore) getBorrowing(ctx context.Context, q querier, id string) (*Borrowing, error) {
	borrowing, err := scanBorrowing(s.queryRow(ctx, q, borrowingSelect+` WHERE br.id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get borrowing: %w", err)
	}
	return borrowing, nil
}

func (s *sqlStore) GetBorrowingByID(ctx context.Context, id string) (*Borrowing, error) {
	return s.getBorrowing(ctx, s.db, id)
}

func (s *sqlStore) ListBorrowings(ctx context.Context, filter BorrowingFilter) ([]*Borrowing, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.BookID != "" {
		where = append(where, `br.book_id = ?`)
		args = append(args, filter.BookID)
	}
	if filter.BorrowerID != "" {
		where = append(where, `br.borrower_id = ?`)
		args = append(args, filter.BorrowerID)
	}
	if filter.Status != "" {
		where = append(where, `br.status = ?`)
		args = append(args, filter.Status)
	}
	if filter.ActiveOnly {
		where = append(where, `br.status IN `+activeStatusList)
		args = append(args, activeStatusArgs()...)
	}

	total, err := s.countRows(ctx, s.db, `SELECT COUNT(*) FROM borrowings br`+whereClause(where), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count borrowings: %w", err)
	}

	limit, limitArgs := limitClause(filter.Page)
	query := borrowingSelect + whereClause(where) + ` ORDER BY br.requested_at DESC, br.id` + limit
	rows, err := s.query(ctx, s.db, query, append(args, limitArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list borrowings: %w", err)
	}
	defer rows.Close()

	borrowings := []*Borrowing{}
	for rows.Next() {
		borrowing, err := scanBorrowing(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan borrowing: %w", err)
		}
		borrowings = append(borrowings, borrowing)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate borrowings: %w", err)
	}

	return borrowings, total, nil
}

func (s *sqlStore) TransitionBorrowing(ctx context.Context, id string, to BorrowingStatus, at time.Time) (*Borrowing, error) {
	var updated *Borrowing
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			current BorrowingStatus
			bookID  string
		)
		err := s.queryRow(ctx, tx, `SELECT status, book_id FROM borrowings WHERE id = ?`+s.dialect.lockRow, id).Scan(&current, &bookID)
		if err == sql.ErrNoRows {
			return ErrBorrowingNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get borrowing: %w", err)
		}

		if !current.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, to)
		}

		var available bool
		err = s.queryRow(ctx, tx, `SELECT is_available FROM books WHERE id = ?`+s.dialect.lockRow, bookID).Scan(&available)
		if err != nil {
			return fmt.Errorf("failed to check book availability: %w", err)
		}
		if to.HoldsBook() && !current.HoldsBook() && !available {
			return ErrBookUnavailable
		}

		var returnedAt *time.Time
		if to == StatusReturned {
			returnedAt = &at
		}

		// Compare-and-set on the status read above
		res, err := s.exec(ctx, tx, `UPDATE borrowings SET status = ?, returned_at = ? WHERE id = ? AND status = ?`,
			to, returnedAt, id, current)
		if err != nil {
			return fmt.Errorf("failed to update borrowing: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
		}

		if to.HoldsBook() {
			available = false
		} else {
			// Returned: free the book unless another borrower still holds it
			args := append([]any{bookID}, holdingStatusArgs()...)
			holders, err := s.countRows(ctx, tx,
				`SELECT COUNT(*) FROM borrowings WHERE book_id = ? AND status IN `+holdingStatusList,
				args...)
			if err != nil {
				return fmt.Errorf("failed to check book holders: %w", err)
			}
			available = holders == 0
		}

		_, err = s.exec(ctx, tx, `UPDATE books SET is_available = ?, updated_at = ? WHERE id = ?`,
			available, at, bookID)
		if err != nil {
			return fmt.Errorf("failed to update book availability: %w", err)
		}

		updated, err = s.getBorrowing(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
