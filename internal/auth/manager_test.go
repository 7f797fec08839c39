package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ehm-Ehs/project-nexus/internal/db"
)

func newTestManager(t *testing.T, accounts AccountStore) *Manager {
	t.Helper()
	m := NewManager(accounts, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(m.Close)
	return m
}

func settledAnonymous(t *testing.T, accounts AccountStore) *Manager {
	t.Helper()
	m := newTestManager(t, accounts)
	if err := m.Restore(context.Background(), ""); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, err := m.EnsureAnonymous(context.Background()); err != nil {
		t.Fatalf("EnsureAnonymous() error = %v", err)
	}
	return m
}

func TestManager_RestoreWithoutSession(t *testing.T) {
	m := newTestManager(t, NewMemoryAccounts())
	if m.State() != Uninitialized {
		t.Fatalf("initial state = %v", m.State())
	}

	if err := m.Restore(context.Background(), "missing"); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if m.State() != SignedOut {
		t.Errorf("state = %v, want signed-out", m.State())
	}
	if _, ok := m.Current(); ok {
		t.Error("Current() reported identity after empty restore")
	}

	id, ok, err := m.Await(context.Background())
	if err != nil || ok || id.UID != "" {
		t.Errorf("Await() = %+v, %v, %v", id, ok, err)
	}
}

func TestManager_RestoreExistingSession(t *testing.T) {
	accounts := NewMemoryAccounts()
	first := settledAnonymous(t, accounts)
	want, _ := first.Current()

	second := newTestManager(t, accounts)
	if err := second.Restore(context.Background(), first.SessionID()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got, ok := second.Current()
	if !ok || got.UID != want.UID || !got.Anonymous {
		t.Errorf("restored identity = %+v, %v, want uid %s", got, ok, want.UID)
	}
	if second.State() != Anonymous {
		t.Errorf("state = %v, want anonymous", second.State())
	}
}

func TestManager_RestoreRunsOnce(t *testing.T) {
	accounts := NewMemoryAccounts()
	m := settledAnonymous(t, accounts)
	uid, _ := m.Current()

	if err := m.Restore(context.Background(), "other"); err != nil {
		t.Fatalf("second Restore() error = %v", err)
	}
	if got, _ := m.Current(); got.UID != uid.UID {
		t.Error("second Restore() changed identity")
	}
}

func TestManager_AwaitBlocksUntilSettled(t *testing.T) {
	m := newTestManager(t, NewMemoryAccounts())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := m.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await() before restore error = %v, want deadline", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, _, err := m.Await(context.Background()); err != nil {
			t.Errorf("Await() error = %v", err)
		}
	}()
	m.Restore(context.Background(), "")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Await() did not return after Restore()")
	}
}

func TestManager_EnsureAnonymousIsIdempotent(t *testing.T) {
	m := settledAnonymous(t, NewMemoryAccounts())
	first, _ := m.Current()

	again, err := m.EnsureAnonymous(context.Background())
	if err != nil {
		t.Fatalf("EnsureAnonymous() error = %v", err)
	}
	if again.UID != first.UID {
		t.Errorf("EnsureAnonymous() created a second identity: %s != %s", again.UID, first.UID)
	}
}

func TestManager_LinkProviderPreservesUID(t *testing.T) {
	accounts := NewMemoryAccounts()
	m := settledAnonymous(t, accounts)
	anon, _ := m.Current()
	sid := m.SessionID()

	var hookCalls atomic.Int32
	m.OnUpgrade(func(ctx context.Context, id Identity) error {
		hookCalls.Add(1)
		if id.UID != anon.UID || id.Anonymous {
			t.Errorf("hook identity = %+v", id)
		}
		return nil
	})

	id, err := m.SignInWithProvider(context.Background(), ExternalIdentity{
		Provider: ProviderGoogle, Subject: "g-1", Email: "ada@example.com", DisplayName: "Ada",
	})
	if err != nil {
		t.Fatalf("SignInWithProvider() error = %v", err)
	}
	if id.UID != anon.UID {
		t.Errorf("linked uid = %s, want %s", id.UID, anon.UID)
	}
	if id.Anonymous || id.Email != "ada@example.com" || id.DisplayName != "Ada" {
		t.Errorf("linked identity = %+v", id)
	}
	if m.State() != Authenticated {
		t.Errorf("state = %v, want authenticated", m.State())
	}
	if m.SessionID() != sid {
		t.Error("linking replaced the session")
	}
	if hookCalls.Load() != 1 {
		t.Errorf("upgrade hook calls = %d, want 1", hookCalls.Load())
	}

	user, err := accounts.User(context.Background(), anon.UID)
	if err != nil || user.Anonymous {
		t.Errorf("stored user = %+v, %v", user, err)
	}
}

func TestManager_LinkFailureKeepsAnonymous(t *testing.T) {
	accounts := NewMemoryAccounts()

	owner := settledAnonymous(t, accounts)
	if _, err := owner.SignInWithProvider(context.Background(), ExternalIdentity{Provider: ProviderGoogle, Subject: "taken"}); err != nil {
		t.Fatalf("linking owner: %v", err)
	}

	m := settledAnonymous(t, accounts)
	before, _ := m.Current()
	var hookCalls atomic.Int32
	m.OnUpgrade(func(context.Context, Identity) error { hookCalls.Add(1); return nil })

	_, err := m.SignInWithProvider(context.Background(), ExternalIdentity{Provider: ProviderGoogle, Subject: "taken"})
	if !errors.Is(err, ErrCredentialInUse) {
		t.Fatalf("SignInWithProvider() error = %v, want ErrCredentialInUse", err)
	}
	after, ok := m.Current()
	if !ok || after != before || m.State() != Anonymous {
		t.Errorf("identity after failed link = %+v (%v), want unchanged %+v", after, m.State(), before)
	}
	if hookCalls.Load() != 0 {
		t.Error("upgrade hook ran after failed link")
	}
}

func TestManager_SignInSwitchesIdentity(t *testing.T) {
	accounts := NewMemoryAccounts()

	alice := settledAnonymous(t, accounts)
	aliceID, _ := alice.SignInWithProvider(context.Background(), ExternalIdentity{Provider: ProviderSpotify, Subject: "alice"})

	m := settledAnonymous(t, accounts)
	bobID, err := m.SignInWithProvider(context.Background(), ExternalIdentity{Provider: ProviderGoogle, Subject: "bob"})
	if err != nil {
		t.Fatalf("linking bob: %v", err)
	}
	oldSession := m.SessionID()

	// Already authenticated: ordinary sign-in, no merge.
	got, err := m.SignInWithProvider(context.Background(), ExternalIdentity{Provider: ProviderSpotify, Subject: "alice"})
	if err != nil {
		t.Fatalf("SignInWithProvider() error = %v", err)
	}
	if got.UID != aliceID.UID || got.UID == bobID.UID {
		t.Errorf("signed in as %s, want alice %s", got.UID, aliceID.UID)
	}
	if m.SessionID() == oldSession {
		t.Error("sign-in kept the previous session")
	}
	if _, err := accounts.Session(context.Background(), oldSession); !errors.Is(err, db.ErrNotFound) {
		t.Error("previous session not deleted")
	}
}

func TestManager_SignInWithoutSessionCreatesAccount(t *testing.T) {
	m := newTestManager(t, NewMemoryAccounts())
	m.Restore(context.Background(), "")

	id, err := m.SignInWithProvider(context.Background(), ExternalIdentity{Provider: ProviderGoogle, Subject: "new", Email: "n@example.com"})
	if err != nil {
		t.Fatalf("SignInWithProvider() error = %v", err)
	}
	if id.Anonymous || id.UID == "" || id.Email != "n@example.com" {
		t.Errorf("identity = %+v", id)
	}
	if m.State() != Authenticated {
		t.Errorf("state = %v", m.State())
	}
}

func TestManager_LinkEmailPassword(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		m := newTestManager(t, NewMemoryAccounts())
		m.Restore(context.Background(), "")
		if _, err := m.LinkEmailPassword(context.Background(), "a@example.com", "secret1"); !errors.Is(err, ErrNoSession) {
			t.Errorf("error = %v, want ErrNoSession", err)
		}
	})

	t.Run("validation", func(t *testing.T) {
		m := settledAnonymous(t, NewMemoryAccounts())
		if _, err := m.LinkEmailPassword(context.Background(), "not-an-email", "secret1"); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("bad email error = %v", err)
		}
		if _, err := m.LinkEmailPassword(context.Background(), "a@example.com", "123"); !errors.Is(err, ErrWeakPassword) {
			t.Errorf("short password error = %v", err)
		}
		if m.State() != Anonymous {
			t.Error("failed link changed state")
		}
	})

	t.Run("link then sign in elsewhere", func(t *testing.T) {
		accounts := NewMemoryAccounts()
		m := settledAnonymous(t, accounts)
		anon, _ := m.Current()

		id, err := m.LinkEmailPassword(context.Background(), "  Ada@Example.com ", "correct horse")
		if err != nil {
			t.Fatalf("LinkEmailPassword() error = %v", err)
		}
		if id.UID != anon.UID || id.Anonymous || id.Email != "ada@example.com" {
			t.Errorf("identity = %+v", id)
		}
		if _, err := m.LinkEmailPassword(context.Background(), "other@example.com", "another one"); !errors.Is(err, ErrAlreadyLinked) {
			t.Errorf("second link error = %v, want ErrAlreadyLinked", err)
		}

		other := newTestManager(t, accounts)
		other.Restore(context.Background(), "")
		if _, err := other.SignInWithPassword(context.Background(), "ada@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("wrong password error = %v", err)
		}
		got, err := other.SignInWithPassword(context.Background(), "ADA@example.com", "correct horse")
		if err != nil {
			t.Fatalf("SignInWithPassword() error = %v", err)
		}
		if got.UID != anon.UID {
			t.Errorf("signed in uid = %s, want %s", got.UID, anon.UID)
		}
	})

	t.Run("email in use", func(t *testing.T) {
		accounts := NewMemoryAccounts()
		settled := settledAnonymous(t, accounts)
		settled.LinkEmailPassword(context.Background(), "dup@example.com", "secret1")

		m := settledAnonymous(t, accounts)
		if _, err := m.LinkEmailPassword(context.Background(), "dup@example.com", "secret2"); !errors.Is(err, ErrCredentialInUse) {
			t.Errorf("error = %v, want ErrCredentialInUse", err)
		}
	})
}

func TestManager_SignOut(t *testing.T) {
	accounts := NewMemoryAccounts()
	m := settledAnonymous(t, accounts)
	sid := m.SessionID()

	if err := m.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if _, ok := m.Current(); ok {
		t.Error("identity present after sign-out")
	}
	if m.State() != SignedOut {
		t.Errorf("state = %v", m.State())
	}
	if _, err := accounts.Session(context.Background(), sid); !errors.Is(err, db.ErrNotFound) {
		t.Error("session survived sign-out")
	}

	// Not automatic: a new identity only appears on request.
	id, err := m.EnsureAnonymous(context.Background())
	if err != nil || !id.Anonymous {
		t.Errorf("EnsureAnonymous() after sign-out = %+v, %v", id, err)
	}
}

func TestManager_SubscribeReceivesChanges(t *testing.T) {
	m := newTestManager(t, NewMemoryAccounts())
	events, cancel := m.Subscribe()
	defer cancel()

	m.Restore(context.Background(), "")
	m.EnsureAnonymous(context.Background())
	m.SignOut(context.Background())

	want := []State{SignedOut, Anonymous, SignedOut}
	for i, w := range want {
		select {
		case ev := <-events:
			if ev.State != w {
				t.Errorf("event %d state = %v, want %v", i, ev.State, w)
			}
			if ev.Present != (w == Anonymous) {
				t.Errorf("event %d Present = %v", i, ev.Present)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestManager_SlowSubscriberGetsLatest(t *testing.T) {
	m := newTestManager(t, NewMemoryAccounts())
	events, cancel := m.Subscribe()
	defer cancel()

	m.Restore(context.Background(), "")
	for range eventBuffer + 3 {
		m.EnsureAnonymous(context.Background())
		m.SignOut(context.Background())
	}
	m.EnsureAnonymous(context.Background())

	var last Event
	for len(events) > 0 {
		last = <-events
	}
	if last.State != Anonymous {
		t.Errorf("latest event state = %v, want anonymous", last.State)
	}
}

func TestManager_UnsubscribeAndClose(t *testing.T) {
	m := NewManager(NewMemoryAccounts())
	events, cancel := m.Subscribe()
	cancel()
	cancel()
	if _, ok := <-events; ok {
		t.Error("channel open after unsubscribe")
	}

	other, _ := m.Subscribe()
	m.Close()
	if _, ok := <-other; ok {
		t.Error("channel open after Close")
	}
	late, _ := m.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscription after Close is open")
	}
}

type failingAccounts struct {
	*MemoryAccounts
	err error
}

func (f failingAccounts) Session(context.Context, string) (*db.Session, error) {
	return nil, f.err
}

func (f failingAccounts) Link(context.Context, *db.Credential, *db.User) error {
	return f.err
}

func TestManager_StoreFailures(t *testing.T) {
	boom := errors.New("db down")
	accounts := failingAccounts{MemoryAccounts: NewMemoryAccounts(), err: boom}

	m := newTestManager(t, accounts)
	if err := m.Restore(context.Background(), "some-session"); !errors.Is(err, boom) {
		t.Errorf("Restore() error = %v, want wrapped store error", err)
	}
	if m.State() != SignedOut {
		t.Errorf("state after failed restore = %v, want signed-out", m.State())
	}

	m.EnsureAnonymous(context.Background())
	before, _ := m.Current()
	if _, err := m.SignInWithProvider(context.Background(), ExternalIdentity{Provider: ProviderGoogle, Subject: "x"}); !errors.Is(err, boom) {
		t.Errorf("SignInWithProvider() error = %v", err)
	}
	if after, _ := m.Current(); after != before {
		t.Error("failed link changed identity")
	}
}

func TestMemoryAccounts_SessionLifetime(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start

	accounts := NewMemoryAccounts()
	accounts.now = func() time.Time { return now }

	if err := accounts.CreateUser(ctx, &db.User{ID: "u1", Anonymous: true}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	session := &db.Session{ID: "s1", UserID: "u1", CreatedAt: start, ExpiresAt: start.Add(time.Hour)}
	if err := accounts.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	now = start.Add(10 * time.Minute)
	got, err := accounts.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if !got.LastSeenAt.Equal(now) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, now)
	}

	now = start.Add(time.Hour)
	if _, err := accounts.Session(ctx, "s1"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Session() after expiry error = %v, want ErrNotFound", err)
	}

	if err := accounts.CreateSession(ctx, &db.Session{ID: "s2", UserID: "missing"}); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("CreateSession() for unknown user error = %v, want ErrNotFound", err)
	}
}
