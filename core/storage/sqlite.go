package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	. "github.com/wispberry-tech/wispy-lending/core"
)

// SQLiteStorage is a SQLite storage implementation, used for single-node
// deployments and tests
type SQLiteStorage struct {
	*sqlStore
}

// NewSQLiteStorage opens (creating if needed) the database file at dbPath
func NewSQLiteStorage(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(wal)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return NewSQLiteStorageFromDB(ctx, db)
}

// NewSQLiteStorageFromDB creates a new SQLite storage from an existing database connection
func NewSQLiteStorageFromDB(ctx context.Context, db *sql.DB) (*SQLiteStorage, error) {
	// Enable foreign keys
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStorage{
		sqlStore: &sqlStore{
			db: db,
			dialect: dialect{
				name:     DatabaseSQLite,
				like:     "LIKE",
				mapError: mapSQLiteError,
			},
		},
	}

	if err := NewSchemaManager(db, DatabaseSQLite).Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return s, nil
}

// NewInMemorySQLiteStorage creates a new in-memory SQLite storage instance for testing
func NewInMemorySQLiteStorage() (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory SQLite database: %w", err)
	}

	// Every connection would get its own empty database
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	return NewSQLiteStorageFromDB(context.Background(), db)
}

// mapSQLiteError maps constraint failures to sentinel errors
func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "users.email"):
			return ErrUserExists
		case strings.Contains(msg, "families.name"):
			return ErrFamilyExists
		}
		return fmt.Errorf("unique constraint violation: %w", err)
	}

	if errors.Is(err, sqlite3.CONSTRAINT_FOREIGNKEY) {
		return fmt.Errorf("foreign key violation: %w", err)
	}

	return err
}
