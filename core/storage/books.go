package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/wispberry-tech/wispy-lending/core"
)

const bookColumns = `bk.id, bk.title, bk.author, bk.isbn, bk.language, bk.description, bk.cover_image,
	bk.condition, bk.is_available, bk.family_id, bk.created_at, bk.updated_at`

const bookSelect = `SELECT ` + bookColumns + `, f.name
	FROM books bk JOIN families f ON f.id = bk.family_id`

func bookScanTargets(b *Book) []any {
	return []any{
		&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Language, &b.Description, &b.CoverImage,
		&b.Condition, &b.IsAvailable, &b.FamilyID, scanTime(&b.CreatedAt), scanTime(&b.UpdatedAt),
	}
}

func scanBook(row rowScanner) (*Book, error) {
	book := &Book{}
	var familyName string
	if err := row.Scan(append(bookScanTargets(book), &familyName)...); err != nil {
		return nil, err
	}
	book.Family = &Family{ID: book.FamilyID, Name: familyName}
	return book, nil
}

// Book operations
func (s *sqlStore) CreateBook(ctx context.Context, book *Book) error {
	if book.ID == "" {
		book.ID = uuid.NewString()
	}
	if book.CreatedAt.IsZero() {
		book.CreatedAt = time.Now()
	}
	if book.UpdatedAt.IsZero() {
		book.UpdatedAt = book.CreatedAt
	}
	if book.Condition == "" {
		book.Condition = ConditionGood
	}

	query := `INSERT INTO books (id, title, author, isbn, language, description, cover_image,
			  condition, is_available, family_id, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, s.db, query,
		book.ID, book.Title, book.Author, book.ISBN, book.Language, book.Description, book.CoverImage,
		book.Condition, book.IsAvailable, book.FamilyID, book.CreatedAt, book.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create book: %w", err)
	}
	return nil
}

func (s *sqlStore) GetBookByID(ctx context.Context, id string) (*Book, error) {
	book, err := scanBook(s.queryRow(ctx, s.db, bookSelect+` WHERE bk.id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

// UpdateBook writes the descriptive fields. Availability is owned by the
// borrowing workflow and is left untouched.
func (s *sqlStore) UpdateBook(ctx context.Context, book *Book) error {
	if book.UpdatedAt.IsZero() {
		book.UpdatedAt = time.Now()
	}
	query := `UPDATE books SET title = ?, author = ?, isbn = ?, language = ?, description = ?,
			  cover_image = ?, condition = ?, updated_at = ?
			  WHERE id = ?`

	res, err := s.exec(ctx, s.db, query,
		book.Title, book.Author, book.ISBN, book.Language, book.Description,
		book.CoverImage, book.Condition, book.UpdatedAt,
		book.ID)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}

	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBookNotFound
	}
	return nil
}

func (s *sqlStore) DeleteBook(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `DELETE FROM borrowings WHERE book_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete book borrowings: %w", err)
		}

		res, err := s.exec(ctx, tx, `DELETE FROM books WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete book: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrBookNotFound
		}
		return nil
	})
}

func (s *sqlStore) ListBooks(ctx context.Context, filter BookFilter) ([]*Book, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Search != "" {
		where = append(where, `(`+s.matches(`bk.title`)+` OR `+s.matches(`bk.author`)+
			` OR `+s.matches(`bk.description`)+` OR `+s.matches(`bk.isbn`)+`)`)
		pattern := s.likePattern(filter.Search)
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if filter.FamilyID != "" {
		where = append(where, `bk.family_id = ?`)
		args = append(args, filter.FamilyID)
	}
	if filter.Available != nil {
		where = append(where, `bk.is_available = ?`)
		args = append(args, *filter.Available)
	}

	total, err := s.countRows(ctx, s.db, `SELECT COUNT(*) FROM books bk`+whereClause(where), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count books: %w", err)
	}

	limit, limitArgs := limitClause(filter.Page)
	query := bookSelect + whereClause(where) + ` ORDER BY bk.created_at DESC, bk.id` + limit
	rows, err := s.query(ctx, s.db, query, append(args, limitArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	books := []*Book{}
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate books: %w", err)
	}

	return books, total, nil
}
