// Package storage provides the SQL implementations of core.Storage for
// PostgreSQL and SQLite. Both share one set of queries written with "?"
// placeholders; the dialect rebinds them and maps driver errors onto the
// sentinel errors of package core.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	. "github.com/wispberry-tech/wispy-lending/core"
)

// sqliteTimeFormat is fixed width so stored timestamps compare and sort as text.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

type dialect struct {
	name string
	// numbered rewrites "?" placeholders to "$1", "$2", ...
	numbered bool
	// like is the case-insensitive pattern operator.
	like string
	// lockRow is appended to SELECTs that guard a write in a transaction.
	lockRow  string
	mapError func(error) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlStore implements Storage on database/sql.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

var _ Storage = (*sqlStore)(nil)

// DB exposes the underlying handle, for schema inspection.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

func (s *sqlStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	res, err := q.ExecContext(ctx, s.rebind(query), s.bindArgs(args)...)
	return res, s.dialect.mapError(err)
}

func (s *sqlStore) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), s.bindArgs(args)...)
}

func (s *sqlStore) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), s.bindArgs(args)...)
}

// bindArgs normalises timestamps to UTC. SQLite stores them as fixed width text.
func (s *sqlStore) bindArgs(args []any) []any {
	for i, arg := range args {
		switch v := arg.(type) {
		case time.Time:
			args[i] = s.bindTime(v)
		case *time.Time:
			if v == nil {
				args[i] = nil
			} else {
				args[i] = s.bindTime(*v)
			}
		}
	}
	return args
}

func (s *sqlStore) bindTime(t time.Time) any {
	if s.dialect.numbered {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeFormat)
}

// withTx runs fn in a transaction, committing when it returns nil.
func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", s.dialect.mapError(err))
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern matches search anywhere in a column, with wildcards in search
// taken literally.
func (s *sqlStore) likePattern(search string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(search)) + "%"
}

// matches builds a case-insensitive substring condition on column for a
// likePattern argument.
func (s *sqlStore) matches(column string) string {
	return column + " " + s.dialect.like + ` ? ESCAPE '\'`
}

// countRows runs a COUNT(*) query.
func (s *sqlStore) countRows(ctx context.Context, q querier, query string, args ...any) (int, error) {
	var n int
	if err := s.queryRow(ctx, q, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

func limitClause(p Page) (string, []any) {
	if p.Limit <= 0 {
		return "", nil
	}
	return " LIMIT ? OFFSET ?", []any{p.Limit, p.Offset()}
}

// Ping checks the database connection
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// timeValue scans a timestamp stored natively or as text.
type timeValue struct {
	t     *time.Time
	valid bool
}

func (v *timeValue) Scan(src any) error {
	v.valid = false
	switch x := src.(type) {
	case nil:
		return nil
	case time.Time:
		*v.t = x
	case string:
		return v.parse(x)
	case []byte:
		return v.parse(string(x))
	default:
		return fmt.Errorf("cannot scan %T into time.Time", src)
	}
	v.valid = true
	return nil
}

func (v *timeValue) parse(s string) error {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			*v.t = t
			v.valid = true
			return nil
		}
	}
	return fmt.Errorf("cannot parse %q as time.Time", s)
}

func scanTime(t *time.Time) *timeValue {
	return &timeValue{t: t}
}

// nullTime scans a nullable timestamp into a *time.Time field.
type nullTime struct {
	dst **time.Time
	t   time.Time
}

func (n *nullTime) Scan(src any) error {
	v := timeValue{t: &n.t}
	if err := v.Scan(src); err != nil {
		return err
	}
	if v.valid {
		t := n.t
		*n.dst = &t
	} else {
		*n.dst = nil
	}
	return nil
}

func scanNullTime(dst **time.Time) *nullTime {
	return &nullTime{dst: dst}
}
