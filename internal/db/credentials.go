package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CredentialRepository handles linked sign-in methods.
type CredentialRepository struct {
	pool *pgxpool.Pool
}

// Find returns the credential for an external identity.
func (r *CredentialRepository) Find(ctx context.Context, provider, subject string) (*Credential, error) {
	query := `
		SELECT provider, subject, user_id, password_hash, created_at
		FROM credentials
		WHERE provider = $1 AND subject = $2
	`
	var c Credential
	err := r.pool.QueryRow(ctx, query, provider, subject).Scan(
		&c.Provider,
		&c.Subject,
		&c.UserID,
		&c.PasswordHash,
		&c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return &c, nil
}

// Link attaches cred to its user and applies the account update in one
// transaction. It returns ErrDuplicate when the identity is already linked.
func (r *CredentialRepository) Link(ctx context.Context, cred *Credential, user *User) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	credQuery := `
		INSERT INTO credentials (provider, subject, user_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, credQuery,
		cred.Provider,
		cred.Subject,
		cred.UserID,
		cred.PasswordHash,
	).Scan(&cred.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}

	userQuery := `
		UPDATE users
		SET anonymous = $2, display_name = $3, email = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = tx.QueryRow(ctx, userQuery,
		user.ID,
		user.Anonymous,
		user.DisplayName,
		user.Email,
	).Scan(&user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("updating linked user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListForUser returns every credential linked to a user.
func (r *CredentialRepository) ListForUser(ctx context.Context, userID string) ([]Credential, error) {
	query := `
		SELECT provider, subject, user_id, password_hash, created_at
		FROM credentials
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.Provider, &c.Subject, &c.UserID, &c.PasswordHash, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}
