package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles user database operations.
type UserRepository struct {
	pool *pgxpool.Pool
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, anonymous, display_name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	now := time.Now()
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Anonymous,
		user.DisplayName,
		user.Email,
		now,
		now,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, anonymous, display_name, email, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var user User
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Anonymous,
		&user.DisplayName,
		&user.Email,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &user, nil
}
