package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// dialect selects placeholder style and column types.
type dialect int

const (
	dialectLibSQL dialect = iota
	dialectPostgres
)

// rebind rewrites "?" placeholders to "$n" for Postgres.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

// SQLStore implements Store over database/sql for libSQL and Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	// uniqueViolation reports whether err is a unique-constraint failure
	// for the underlying driver.
	uniqueViolation func(err error) bool
}

var _ Store = (*SQLStore)(nil)

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, s.dialect)
}

func (s *SQLStore) q(query string) string { return s.dialect.rebind(query) }

func (s *SQLStore) boolArg(b bool) any {
	if s.dialect == dialectPostgres {
		return b
	}
	if b {
		return 1
	}
	return 0
}

// queryer is the subset of *sql.DB and *sql.Tx used by shared helpers.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeConflict(resource, id, current string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeConflict, "%s %q changed concurrently", resource, id).
		WithDetails(map[string]any{"current_status": current})
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

// checkGuarded turns a zero-row guarded write into NOT_FOUND or CONFLICT,
// reading the row's current status to tell the two apart.
func (s *SQLStore) checkGuarded(ctx context.Context, res sql.Result, table, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var current string
	err = s.db.QueryRowContext(ctx, s.q(`SELECT status FROM `+table+` WHERE id = ?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return storeNotFound(resource, id)
	}
	if err != nil {
		return err
	}
	return storeConflict(resource, id, current)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func marshalMapOrDefault(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMap(raw string) (map[string]any, error) {
	m := map[string]any{}
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// marshalPtr encodes v as JSON text, or returns SQL NULL for a nil pointer.
func marshalPtr[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
