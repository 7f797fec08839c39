package web

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Ehm-Ehs/project-nexus/internal/auth"
	"github.com/Ehm-Ehs/project-nexus/internal/localstore"
)

func newTestRegistry(t *testing.T, accounts auth.AccountStore) (*ClientRegistry, *time.Time) {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewClientRegistry(ClientDeps{
		Accounts:    accounts,
		KV:          localstore.NewMemoryKV(),
		Recommender: fakeRecs{},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, time.Hour)
	r.now = func() time.Time { return now }
	t.Cleanup(r.Close)
	return r, &now
}

func TestClientRegistry_GetReusesClient(t *testing.T) {
	r, _ := newTestRegistry(t, auth.NewMemoryAccounts())
	ctx := context.Background()

	a := r.Get(ctx, "device-a", "")
	if a != r.Get(ctx, "device-a", "") {
		t.Error("Get() returned a different client for the same device")
	}
	if a == r.Get(ctx, "device-b", "") {
		t.Error("Get() shared a client between devices")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
	if st := a.Auth.State(); st != auth.SignedOut {
		t.Errorf("state = %s, want signed-out for an empty session", st)
	}
}

func TestClientRegistry_RestoresSession(t *testing.T) {
	accounts := auth.NewMemoryAccounts()
	r, _ := newTestRegistry(t, accounts)
	ctx := context.Background()

	first := r.Get(ctx, "device-a", "")
	id, err := first.Auth.EnsureAnonymous(ctx)
	if err != nil {
		t.Fatalf("EnsureAnonymous() error = %v", err)
	}
	sid := first.Auth.SessionID()

	// A new device presenting the same session cookie resumes the identity.
	second := r.Get(ctx, "device-b", sid)
	got, ok := second.Auth.Current()
	if !ok || got.UID != id.UID {
		t.Errorf("restored identity = %+v, %v; want %s", got, ok, id.UID)
	}
}

func TestClientRegistry_Sweep(t *testing.T) {
	r, now := newTestRegistry(t, auth.NewMemoryAccounts())
	ctx := context.Background()

	r.Get(ctx, "idle", "")
	*now = now.Add(45 * time.Minute)
	r.Get(ctx, "active", "")
	*now = now.Add(30 * time.Minute)

	if n := r.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	r.Get(ctx, "active", "")
	*now = now.Add(2 * time.Hour)
	if n := r.Sweep(); n != 1 || r.Len() != 0 {
		t.Errorf("Sweep() = %d, Len() = %d; want 1, 0", n, r.Len())
	}
}

func TestClientRegistry_ConcurrentGet(t *testing.T) {
	r, _ := newTestRegistry(t, auth.NewMemoryAccounts())
	ctx := context.Background()

	var wg sync.WaitGroup
	clients := make([]*Client, 20)
	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clients[i] = r.Get(ctx, "shared", "")
		}()
	}
	wg.Wait()

	for _, c := range clients[1:] {
		if c != clients[0] {
			t.Fatal("concurrent Get() created more than one client")
		}
	}
}

func TestDeviceIDCookie(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		reuse  bool
	}{
		{"missing", "", false},
		{"malformed", "not-a-uuid", false},
		{"valid", uuid.NewString(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: deviceCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()

			got := deviceID(w, req)
			issued := len(w.Result().Cookies()) > 0

			if tt.reuse && (got != tt.cookie || issued) {
				t.Errorf("deviceID() = %q, issued = %v; want reuse of %q", got, issued, tt.cookie)
			}
			if !tt.reuse {
				if _, err := uuid.Parse(got); err != nil || !issued {
					t.Errorf("deviceID() = %q, issued = %v; want a new uuid cookie", got, issued)
				}
			}
		})
	}
}
