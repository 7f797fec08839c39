package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Document path components for per-user preference documents:
// users/{uid}/preferences/{docID}.
const (
	UsersCollection       = "users"
	PreferencesCollection = "preferences"
)

// UpdatedAtField is the server timestamp every merge writes into the document.
const UpdatedAtField = "updatedAt"

// DocumentRepository stores JSONB documents under users/{uid}/preferences.
// Writes are always shallow merges; there is no whole-document replace.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// Get returns the top-level fields of a document and whether it exists.
func (r *DocumentRepository) Get(ctx context.Context, uid, docID string) (map[string]json.RawMessage, bool, error) {
	query := `
		SELECT data
		FROM documents
		WHERE collection = $1 AND owner_id = $2 AND subcollection = $3 AND doc_id = $4
	`
	var data []byte
	err := r.pool.QueryRow(ctx, query, UsersCollection, uid, PreferencesCollection, docID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying document %s: %w", docID, err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false, fmt.Errorf("decoding document %s: %w", docID, err)
	}
	return fields, true, nil
}

// Merge creates the document or overwrites only the given top-level fields,
// and stamps updatedAt with the server time.
func (r *DocumentRepository) Merge(ctx context.Context, uid, docID string, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", docID, err)
	}

	query := `
		INSERT INTO documents (collection, owner_id, subcollection, doc_id, data, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb || jsonb_build_object($6::text, NOW()), NOW())
		ON CONFLICT (collection, owner_id, subcollection, doc_id) DO UPDATE SET
			data = documents.data || EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		UsersCollection,
		uid,
		PreferencesCollection,
		docID,
		string(data),
		UpdatedAtField,
	)
	if err != nil {
		return fmt.Errorf("merging document %s: %w", docID, err)
	}
	return nil
}
