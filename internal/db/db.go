// Package db provides PostgreSQL access for accounts, sessions, linked
// credentials and the JSONB profile documents.
package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique constraint rejects a write,
	// e.g. a credential already linked to another user.
	ErrDuplicate = errors.New("already exists")
)

// uniqueViolation is the SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

//go:embed schema.sql
var schema string

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Migrate creates any missing tables. The schema is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool for advanced operations.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Users returns a UserRepository.
func (db *DB) Users() *UserRepository {
	return &UserRepository{pool: db.pool}
}

// Sessions returns a SessionRepository.
func (db *DB) Sessions() *SessionRepository {
	return &SessionRepository{pool: db.pool}
}

// Credentials returns a CredentialRepository.
func (db *DB) Credentials() *CredentialRepository {
	return &CredentialRepository{pool: db.pool}
}

// Documents returns a DocumentRepository.
func (db *DB) Documents() *DocumentRepository {
	return &DocumentRepository{pool: db.pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
