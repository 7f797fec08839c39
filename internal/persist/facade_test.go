package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Ehm-Ehs/project-nexus/internal/auth"
	"github.com/Ehm-Ehs/project-nexus/internal/db"
	"github.com/Ehm-Ehs/project-nexus/internal/localstore"
	"github.com/Ehm-Ehs/project-nexus/internal/movies"
)

type staticSession struct {
	id      auth.Identity
	present bool
}

func (s *staticSession) Current() (auth.Identity, bool) { return s.id, s.present }

// flakyRemote wraps MemoryRemote and fails on demand.
type flakyRemote struct {
	*MemoryRemote
	getErr   error
	mergeErr error
	merges   atomic.Int32
}

func (f *flakyRemote) Get(ctx context.Context, uid, docID string) (map[string]json.RawMessage, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	return f.MemoryRemote.Get(ctx, uid, docID)
}

func (f *flakyRemote) Merge(ctx context.Context, uid, docID string, fields map[string]any) error {
	f.merges.Add(1)
	if f.mergeErr != nil {
		return f.mergeErr
	}
	return f.MemoryRemote.Merge(ctx, uid, docID, fields)
}

type fixture struct {
	facade  *Facade
	local   *localstore.Store
	remote  *flakyRemote
	session *staticSession
}

func newFixture(t *testing.T, present bool) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	local := localstore.NewStore(localstore.NewMemoryKV(), "dev-1", logger)
	remote := &flakyRemote{MemoryRemote: NewMemoryRemote()}
	session := &staticSession{id: auth.Identity{UID: "u-1", Anonymous: true}, present: present}
	return &fixture{
		facade:  New(local, remote, session, WithLogger(logger)),
		local:   local,
		remote:  remote,
		session: session,
	}
}

var (
	inception = movies.Movie{TMDBID: 27205, Title: "Inception"}
	heat      = movies.Movie{IMDbID: "tt0113277", Title: "Heat"}
)

func TestFacade_NoSessionUsesLocal(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	if err := f.facade.SaveFavorites(ctx, []movies.Movie{inception}); err != nil {
		t.Fatalf("SaveFavorites() error = %v", err)
	}
	if f.remote.merges.Load() != 0 {
		t.Error("remote written without a session")
	}
	if got := f.local.Favorites(ctx); len(got) != 1 {
		t.Errorf("local favorites = %v", got)
	}
	if got := f.facade.Favorites(ctx); len(got) != 1 || got[0].Key() != "27205" {
		t.Errorf("Favorites() = %v", got)
	}
}

func TestFacade_EmptyDefaults(t *testing.T) {
	for _, present := range []bool{false, true} {
		t.Run(fmt.Sprintf("session=%v", present), func(t *testing.T) {
			f := newFixture(t, present)
			ctx := context.Background()

			if got := f.facade.Favorites(ctx); got == nil || len(got) != 0 {
				t.Errorf("Favorites() = %#v, want empty non-nil", got)
			}
			if got := f.facade.Lists(ctx); got == nil || len(got) != 0 {
				t.Errorf("Lists() = %#v, want empty non-nil", got)
			}
			if _, ok := f.facade.Preferences(ctx); ok {
				t.Error("Preferences() reported data on empty stores")
			}
		})
	}
}

func TestFacade_SessionWritesRemote(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	if err := f.facade.SaveFavorites(ctx, []movies.Movie{inception, heat}); err != nil {
		t.Fatalf("SaveFavorites() error = %v", err)
	}
	if got := f.local.Favorites(ctx); got != nil {
		t.Errorf("local favorites written alongside remote: %v", got)
	}

	doc, found, _ := f.remote.MemoryRemote.Get(ctx, "u-1", ProfileDoc)
	if !found {
		t.Fatal("profile document not created")
	}
	if _, ok := doc[db.UpdatedAtField]; !ok {
		t.Error("updatedAt not stamped")
	}
	if got := f.facade.Favorites(ctx); len(got) != 2 {
		t.Errorf("Favorites() = %v", got)
	}
}

func TestFacade_MergePreservesUnrelatedFields(t *testing.T) {
	f := newFixture(t, true)
	f.session.id = auth.Identity{UID: "u-1", Email: "ada@example.com", DisplayName: "Ada"}
	ctx := context.Background()

	prefs := movies.UserPreferences{Moods: []string{"dark"}, LikedMovies: []string{"27205"}}
	if err := f.facade.SavePreferences(ctx, prefs); err != nil {
		t.Fatalf("SavePreferences() error = %v", err)
	}
	if err := f.facade.SaveFavorites(ctx, []movies.Movie{heat}); err != nil {
		t.Fatalf("SaveFavorites() error = %v", err)
	}

	profile, found, err := f.facade.Profile(ctx, "u-1")
	if err != nil || !found {
		t.Fatalf("Profile() = %v, %v", found, err)
	}
	if len(profile.Moods) != 1 || profile.Moods[0] != "dark" {
		t.Errorf("moods lost after favorites write: %+v", profile.UserPreferences)
	}
	if len(profile.Favorites) != 1 || profile.Favorites[0].Title != "Heat" {
		t.Errorf("favorites = %+v", profile.Favorites)
	}
	if profile.Email != "ada@example.com" || profile.DisplayName != "Ada" {
		t.Errorf("account fields = %q %q", profile.Email, profile.DisplayName)
	}
	if profile.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not decoded")
	}
}

func TestFacade_AnonymousPreferencesOmitAccountFields(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.facade.SavePreferences(ctx, movies.UserPreferences{Moods: []string{"cozy"}})
	doc, _, _ := f.remote.MemoryRemote.Get(ctx, "u-1", ProfileDoc)
	if _, ok := doc["email"]; ok {
		t.Error("anonymous profile carries email field")
	}
}

func TestFacade_RemoteWriteFailureFallsBackToLocal(t *testing.T) {
	f := newFixture(t, true)
	f.remote.mergeErr = &pgconn.PgError{Code: "42501", Message: "permission denied"}
	ctx := context.Background()

	prefs := movies.UserPreferences{Moods: []string{"intense"}, FamiliarityLevel: 80}
	if err := f.facade.SavePreferences(ctx, prefs); err != nil {
		t.Fatalf("SavePreferences() error = %v", err)
	}
	got, ok := f.local.Preferences(ctx)
	if !ok || got.Moods[0] != "intense" || got.FamiliarityLevel != 80 {
		t.Errorf("local preferences = %+v, %v", got, ok)
	}

	f.facade.SaveLists(ctx, []movies.MovieList{movies.NewList("Weekend", "", false, nil, time.Now())})
	if lists := f.local.Lists(ctx); len(lists) != 1 {
		t.Errorf("local lists = %v", lists)
	}
}

func TestFacade_RemoteReadFailureFallsBackToLocal(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.local.SetFavorites(ctx, []movies.Movie{heat})
	f.remote.getErr = &net.OpError{Op: "dial", Err: errors.New("connection refused")}

	if got := f.facade.Favorites(ctx); len(got) != 1 || got[0].Title != "Heat" {
		t.Errorf("Favorites() = %v, want local fallback", got)
	}
}

func TestFacade_RemoteDocumentIsAuthoritative(t *testing.T) {
	tests := []struct {
		name      string
		seed      func(ctx context.Context, r *MemoryRemote)
		wantFavs  int
		wantLists int
	}{
		{
			name: "missing documents fall back to local",
			seed: func(context.Context, *MemoryRemote) {},

			wantFavs:  1,
			wantLists: 1,
		},
		{
			name: "documents without the fields read empty",
			seed: func(ctx context.Context, r *MemoryRemote) {
				r.Merge(ctx, "u-1", ProfileDoc, map[string]any{"moods": []string{"cozy"}})
				r.Merge(ctx, "u-1", ListsDoc, map[string]any{"owner": "u-1"})
			},
		},
		{
			name: "null fields read empty",
			seed: func(ctx context.Context, r *MemoryRemote) {
				r.Merge(ctx, "u-1", ProfileDoc, map[string]any{"favorites": nil})
				r.Merge(ctx, "u-1", ListsDoc, map[string]any{"lists": nil})
			},
		},
		{
			name: "malformed fields read empty",
			seed: func(ctx context.Context, r *MemoryRemote) {
				r.Merge(ctx, "u-1", ProfileDoc, map[string]any{"favorites": "not a list"})
				r.Merge(ctx, "u-1", ListsDoc, map[string]any{"lists": 42})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			ctx := context.Background()
			f.local.SetFavorites(ctx, []movies.Movie{heat})
			f.local.SetLists(ctx, []movies.MovieList{movies.NewList("Device", "", false, nil, time.Now())})
			tt.seed(ctx, f.remote.MemoryRemote)

			favs := f.facade.Favorites(ctx)
			if favs == nil || len(favs) != tt.wantFavs {
				t.Errorf("Favorites() = %v, want %d entries", favs, tt.wantFavs)
			}
			lists := f.facade.Lists(ctx)
			if lists == nil || len(lists) != tt.wantLists {
				t.Errorf("Lists() = %v, want %d entries", lists, tt.wantLists)
			}
		})
	}
}

func TestFacade_SwitchingAccountsDoesNotInheritDeviceFavorites(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// The previous account's profile was cached on this device.
	f.session.id = auth.Identity{UID: "user-b"}
	f.remote.MemoryRemote.Merge(ctx, "user-b", ProfileDoc, map[string]any{
		"favorites": []movies.Movie{heat},
	})
	profile, found, err := f.facade.Profile(ctx, "user-b")
	if err != nil || !found {
		t.Fatalf("Profile(user-b) = %v, %v", found, err)
	}
	if err := f.facade.HydrateFromProfile(ctx, profile); err != nil {
		t.Fatalf("HydrateFromProfile() error = %v", err)
	}

	f.session.id = auth.Identity{UID: "user-c"}
	f.remote.MemoryRemote.Merge(ctx, "user-c", ProfileDoc, map[string]any{"moods": []string{"cozy"}})

	favs := f.facade.Favorites(ctx)
	if len(favs) != 0 {
		t.Fatalf("Favorites() for user-c = %v, want none", favs)
	}

	if err := f.facade.SaveFavorites(ctx, append(favs, inception)); err != nil {
		t.Fatalf("SaveFavorites() error = %v", err)
	}
	fields, _, _ := f.remote.MemoryRemote.Get(ctx, "user-c", ProfileDoc)
	var stored []movies.Movie
	if err := json.Unmarshal(fields["favorites"], &stored); err != nil {
		t.Fatalf("decoding stored favorites: %v", err)
	}
	if len(stored) != 1 || stored[0].Title != "Inception" {
		t.Errorf("user-c remote favorites = %v, want only Inception", stored)
	}
}

func TestFacade_FavoritesOnlyProfileCountsAsPreferences(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.local.SetPreferences(ctx, movies.UserPreferences{Moods: []string{"happy"}})
	f.remote.MemoryRemote.Merge(ctx, "u-1", ProfileDoc, map[string]any{
		"favorites": []movies.Movie{heat},
	})

	prefs, ok := f.facade.Preferences(ctx)
	if !ok {
		t.Fatal("Preferences() found = false, want true")
	}
	if len(prefs.Moods) != 0 {
		t.Errorf("Preferences() = %+v, want the remote profile's empty preferences", prefs)
	}
}

func TestFacade_ProfileErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"offline", &net.OpError{Op: "dial", Err: errors.New("no route")}, ErrOffline},
		{"deadline", context.DeadlineExceeded, ErrOffline},
		{"permission", &pgconn.PgError{Code: "42501"}, ErrPermission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.remote.getErr = tt.err
			_, _, err := f.facade.Profile(context.Background(), "u-1")
			if !errors.Is(err, tt.want) {
				t.Errorf("Profile() error = %v, want %v", err, tt.want)
			}
		})
	}

	generic := errors.New("boom")
	if got := Classify(generic); got != generic {
		t.Errorf("Classify(generic) = %v", got)
	}
	if IsOffline(generic) {
		t.Error("generic error classified offline")
	}
}

func TestFacade_MigrateLocalToRemote(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	// Anonymous, remote unavailable at the time: favorites land locally.
	f.facade.SaveFavorites(ctx, []movies.Movie{inception, heat})
	before := f.facade.Favorites(ctx)

	// Remote already holds stale favorites; migration replaces them wholesale.
	f.remote.MemoryRemote.Merge(ctx, "u-1", ProfileDoc, map[string]any{
		"favorites": []movies.Movie{{TMDBID: 1, Title: "Stale"}},
		"moods":     []string{"cozy"},
	})

	f.session.present = true
	f.session.id.Anonymous = false
	if err := f.facade.MigrateLocalToRemote(ctx); err != nil {
		t.Fatalf("MigrateLocalToRemote() error = %v", err)
	}

	after := f.facade.Favorites(ctx)
	if len(after) != len(before) {
		t.Fatalf("Favorites() after migration = %v, want %v", after, before)
	}
	for i := range before {
		if after[i].Key() != before[i].Key() {
			t.Errorf("favorite %d = %s, want %s", i, after[i].Key(), before[i].Key())
		}
	}
	if got := f.local.Favorites(ctx); got != nil {
		t.Errorf("local favorites still present: %v", got)
	}
	prefs, ok := f.facade.Preferences(ctx)
	if !ok || prefs.Moods[0] != "cozy" {
		t.Error("migration clobbered unrelated profile fields")
	}
}

func TestFacade_MigrateEdgeCases(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		f := newFixture(t, false)
		if err := f.facade.MigrateLocalToRemote(context.Background()); !errors.Is(err, ErrNoSession) {
			t.Errorf("error = %v, want ErrNoSession", err)
		}
	})

	t.Run("nothing local", func(t *testing.T) {
		f := newFixture(t, true)
		if err := f.facade.MigrateLocalToRemote(context.Background()); err != nil {
			t.Errorf("error = %v", err)
		}
		if f.remote.merges.Load() != 0 {
			t.Error("remote written with nothing to migrate")
		}
	})

	t.Run("remote failure keeps local", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()
		f.local.SetFavorites(ctx, []movies.Movie{heat})
		f.remote.mergeErr = &net.OpError{Op: "write", Err: errors.New("reset")}

		if err := f.facade.MigrateLocalToRemote(ctx); !errors.Is(err, ErrOffline) {
			t.Errorf("error = %v, want ErrOffline", err)
		}
		if got := f.local.Favorites(ctx); len(got) != 1 {
			t.Error("local favorites removed after failed migration")
		}
	})
}

func TestFacade_HydrateFromProfile(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.local.SetPreferences(ctx, movies.UserPreferences{Moods: []string{"happy"}})

	profile := movies.Profile{
		UserPreferences: movies.UserPreferences{Moods: []string{"dark"}, LikedMovies: []string{"27205"}},
		Favorites:       []movies.Movie{inception},
	}
	if err := f.facade.HydrateFromProfile(ctx, profile); err != nil {
		t.Fatalf("HydrateFromProfile() error = %v", err)
	}

	prefs, ok := f.local.Preferences(ctx)
	if !ok || len(prefs.Moods) != 1 || prefs.Moods[0] != "dark" || prefs.LikedMovies[0] != "27205" {
		t.Errorf("local preferences = %+v", prefs)
	}
	if favs := f.local.Favorites(ctx); len(favs) != 1 || favs[0].Key() != "27205" {
		t.Errorf("local favorites = %v", favs)
	}
	if !f.facade.OnboardingComplete(ctx) {
		t.Error("onboarding flag not set")
	}
}

func TestFacade_NilRemote(t *testing.T) {
	local := localstore.NewStore(localstore.NewMemoryKV(), "d", nil)
	f := New(local, nil, &staticSession{id: auth.Identity{UID: "u"}, present: true})
	ctx := context.Background()

	f.SaveLists(ctx, []movies.MovieList{movies.NewList("A", "", true, nil, time.Now())})
	if len(local.Lists(ctx)) != 1 {
		t.Error("lists not stored locally without a remote")
	}
	if _, found, err := f.Profile(ctx, "u"); found || err != nil {
		t.Errorf("Profile() without remote = %v, %v", found, err)
	}
}
