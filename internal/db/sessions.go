package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository stores device sign-in sessions.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// Create inserts session. LastSeenAt starts at CreatedAt.
func (r *SessionRepository) Create(ctx context.Context, session *Session) error {
	session.LastSeenAt = session.CreatedAt
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, created_at, last_seen_at, expires_at)
		VALUES ($1, $2, $3, $3, $4)
	`, session.ID, session.UserID, session.CreatedAt, session.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", session.ID, err)
	}
	return nil
}

// Touch marks a live session as seen and returns it. Expired or unknown
// sessions report ErrNotFound.
func (r *SessionRepository) Touch(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := r.pool.QueryRow(ctx, `
		UPDATE sessions SET last_seen_at = NOW()
		WHERE id = $1 AND expires_at > NOW()
		RETURNING id, user_id, created_at, last_seen_at, expires_at
	`, id).Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.LastSeenAt, &s.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("touching session: %w", err)
	}
	return &s, nil
}

// Delete ends a session. Unknown ids are not an error.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpired prunes sessions past their expiry and reports how many went.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
