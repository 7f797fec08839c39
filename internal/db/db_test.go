package db

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// openTestDB connects to DATABASE_URL and applies the schema. Tests are
// skipped when no database is configured.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	database, err := New(ctx, url)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(database.Close)

	if err := database.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return database
}

func decodeStamp(t *testing.T, fields map[string]json.RawMessage) time.Time {
	t.Helper()
	var stamp time.Time
	if err := json.Unmarshal(fields[UpdatedAtField], &stamp); err != nil {
		t.Fatalf("decoding %s: %v", UpdatedAtField, err)
	}
	return stamp
}

func TestDocumentRepository_Merge(t *testing.T) {
	database := openTestDB(t)
	docs := database.Documents()
	ctx := context.Background()
	uid := uuid.NewString()
	t.Cleanup(func() {
		database.Pool().Exec(context.Background(), `DELETE FROM documents WHERE owner_id = $1`, uid)
	})

	if _, found, err := docs.Get(ctx, uid, "profile"); err != nil || found {
		t.Fatalf("Get() before write = %v, %v", found, err)
	}

	if err := docs.Merge(ctx, uid, "profile", map[string]any{
		"moods":     []string{"dark"},
		"favorites": []string{"27205"},
	}); err != nil {
		t.Fatalf("Merge() create error = %v", err)
	}
	first, found, err := docs.Get(ctx, uid, "profile")
	if err != nil || !found {
		t.Fatalf("Get() after create = %v, %v", found, err)
	}
	created := decodeStamp(t, first)

	time.Sleep(10 * time.Millisecond)
	if err := docs.Merge(ctx, uid, "profile", map[string]any{"moods": []string{"cozy"}}); err != nil {
		t.Fatalf("Merge() update error = %v", err)
	}
	second, _, err := docs.Get(ctx, uid, "profile")
	if err != nil {
		t.Fatalf("Get() after update error = %v", err)
	}

	tests := []struct {
		field string
		want  string
	}{
		{"moods", `["cozy"]`},
		{"favorites", `["27205"]`},
	}
	for _, tt := range tests {
		if got := string(second[tt.field]); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.field, got, tt.want)
		}
	}
	if updated := decodeStamp(t, second); !updated.After(created) {
		t.Errorf("%s = %v, want after %v", UpdatedAtField, updated, created)
	}

	if _, found, _ := docs.Get(ctx, uid, "lists"); found {
		t.Error("merge into profile created the lists document")
	}
}

func TestSessionRepository_Lifetime(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	uid := uuid.NewString()
	t.Cleanup(func() {
		database.Pool().Exec(context.Background(), `DELETE FROM users WHERE id = $1`, uid)
	})

	if err := database.Users().Create(ctx, &User{ID: uid, Anonymous: true}); err != nil {
		t.Fatalf("Users().Create() error = %v", err)
	}

	sessions := database.Sessions()
	now := time.Now()
	live := &Session{ID: uuid.NewString(), UserID: uid, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	expired := &Session{ID: uuid.NewString(), UserID: uid, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	for _, s := range []*Session{live, expired} {
		if err := sessions.Create(ctx, s); err != nil {
			t.Fatalf("Create(%s) error = %v", s.ID, err)
		}
	}
	if err := sessions.Create(ctx, live); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Create() duplicate error = %v, want ErrDuplicate", err)
	}

	got, err := sessions.Touch(ctx, live.ID)
	if err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if got.UserID != uid || got.LastSeenAt.Before(got.CreatedAt) {
		t.Errorf("Touch() = %+v", got)
	}
	if _, err := sessions.Touch(ctx, expired.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch(expired) error = %v, want ErrNotFound", err)
	}

	n, err := sessions.DeleteExpired(ctx)
	if err != nil || n < 1 {
		t.Errorf("DeleteExpired() = %d, %v, want at least 1", n, err)
	}
	if err := sessions.Delete(ctx, live.ID); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	if _, err := sessions.Touch(ctx, live.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch() after Delete error = %v, want ErrNotFound", err)
	}
}
