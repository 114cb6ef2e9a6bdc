package db

import (
	"context"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Queryable is the statement surface shared by *pgxpool.Pool and pgx.Tx.
type Queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Conn returns the transaction on ctx when there is one, else the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// ValidSchema reports whether name is safe to interpolate as a schema identifier.
func ValidSchema(name string) bool {
	return schemaPattern.MatchString(name)
}

// EnsureSchema creates schema when missing and, if migrations is non-nil,
// applies pending migrations to it.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string, migrations fs.FS) (int, error) {
	if !schemaPattern.MatchString(schema) {
		return 0, fmt.Errorf("invalid schema name: %s", schema)
	}

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return 0, fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrations == nil {
		return 0, nil
	}
	count, err := NewMigrator(pool, migrations).Up(ctx, schema)
	if err != nil {
		return count, fmt.Errorf("run migrations for %s: %w", schema, err)
	}
	return count, nil
}
