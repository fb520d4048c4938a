package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// NewPostgresStore connects to PostgreSQL using a lib/pq DSN or URL.
func NewPostgresStore(ctx context.Context, databaseURL string) (*SQLStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &SQLStore{db: db, dialect: dialectPostgres, uniqueViolation: isPostgresUniqueViolation}, nil
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Open picks a backend from the URL scheme: postgres:// and postgresql://
// go to Postgres, anything else is treated as a libSQL path.
func Open(ctx context.Context, databaseURL string) (*SQLStore, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgresStore(ctx, databaseURL)
	case strings.HasPrefix(databaseURL, "file:"), strings.HasPrefix(databaseURL, "libsql://"):
		return NewLibSQLStore(databaseURL)
	default:
		return NewLibSQLStore("file:" + databaseURL)
	}
}
