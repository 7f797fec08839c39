package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ehm-Ehs/project-nexus/internal/db"
)

// DefaultSessionTTL is how long a session stays valid without sign-out.
const DefaultSessionTTL = 30 * 24 * time.Hour

// eventBuffer is the per-subscriber event channel capacity.
const eventBuffer = 8

// UpgradeHook runs after an anonymous identity has been linked to a
// credential. The identity keeps its uid.
type UpgradeHook func(ctx context.Context, id Identity) error

// Manager tracks the identity of one client.
//
// The manager starts Uninitialized. Restore settles it exactly once, to
// Anonymous, Authenticated or SignedOut. Every later identity change is
// published to subscribers.
type Manager struct {
	accounts   AccountStore
	sessionTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time

	// ops serializes identity-changing operations.
	ops sync.Mutex

	mu        sync.RWMutex
	state     State
	identity  Identity
	sessionID string
	subs      map[int]chan Event
	nextSub   int
	closed    bool
	hooks     []UpgradeHook

	settled    chan struct{}
	settleOnce sync.Once
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSessionTTL sets the lifetime of sessions the manager creates.
func WithSessionTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.sessionTTL = d
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock overrides the time source for session expiry.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager on accounts.
func NewManager(accounts AccountStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		accounts:   accounts,
		sessionTTL: DefaultSessionTTL,
		logger:     slog.Default(),
		now:        time.Now,
		subs:       make(map[int]chan Event),
		settled:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Current returns the current identity, if any.
func (m *Manager) Current() (Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity, m.sessionID != ""
}

// SessionID returns the id of the current session, or "".
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// OnUpgrade registers a hook run after an anonymous identity is linked.
func (m *Manager) OnUpgrade(hook UpgradeHook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, hook)
	m.mu.Unlock()
}

// Subscribe returns a channel of identity changes and a function that ends
// the subscription. When a subscriber falls behind, the oldest pending event
// is dropped so the latest state is always delivered.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Event, eventBuffer)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Close ends every subscription. The manager must not be used afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

// Restore settles the manager from a stored session id. It runs once; later
// calls are no-ops. An unknown or expired session settles to SignedOut and the
// caller is expected to call EnsureAnonymous. Store failures also settle to
// SignedOut and are returned.
func (m *Manager) Restore(ctx context.Context, sessionID string) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.Lock()
	if m.state != Uninitialized {
		m.mu.Unlock()
		return nil
	}
	m.state = Initializing
	m.mu.Unlock()

	user, err := m.lookup(ctx, sessionID)
	if err != nil {
		m.logger.Warn("restoring session", "error", err)
		m.settle(SignedOut, Identity{}, "")
		return fmt.Errorf("restoring session: %w", err)
	}
	if user == nil {
		m.settle(SignedOut, Identity{}, "")
		return nil
	}

	id := identityOf(user)
	m.settle(stateOf(id), id, sessionID)
	return nil
}

// Await blocks until the manager has settled and returns the identity.
func (m *Manager) Await(ctx context.Context) (Identity, bool, error) {
	select {
	case <-m.settled:
		id, ok := m.Current()
		return id, ok, nil
	case <-ctx.Done():
		return Identity{}, false, ctx.Err()
	}
}

// EnsureAnonymous creates an anonymous identity unless one already exists.
func (m *Manager) EnsureAnonymous(ctx context.Context) (Identity, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	if id, ok := m.Current(); ok {
		return id, nil
	}

	user := &db.User{ID: uuid.NewString(), Anonymous: true}
	if err := m.accounts.CreateUser(ctx, user); err != nil {
		return Identity{}, fmt.Errorf("creating anonymous user: %w", err)
	}
	sid, err := m.newSession(ctx, user.ID)
	if err != nil {
		return Identity{}, err
	}

	id := identityOf(user)
	m.settle(Anonymous, id, sid)
	m.logger.Info("created anonymous session", "uid", id.UID)
	return id, nil
}

// SignInWithProvider signs in with an identity asserted by a provider.
//
// An anonymous identity is linked in place and keeps its uid; if the external
// identity already belongs to another account the link fails with
// ErrCredentialInUse and the session stays anonymous. Without a session, or
// with a non-anonymous one, this is an ordinary sign-in that switches identity.
func (m *Manager) SignInWithProvider(ctx context.Context, ext ExternalIdentity) (Identity, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	cred, err := m.credential(ctx, ext.Provider, ext.Subject)
	if err != nil {
		return Identity{}, err
	}

	if cur, ok := m.Current(); ok && cur.Anonymous {
		if cred != nil {
			return Identity{}, ErrCredentialInUse
		}
		return m.link(ctx, cur, &db.Credential{
			Provider: ext.Provider,
			Subject:  ext.Subject,
			UserID:   cur.UID,
		}, ext.Email, ext.DisplayName)
	}

	var user *db.User
	if cred != nil {
		user, err = m.accounts.User(ctx, cred.UserID)
		if err != nil {
			return Identity{}, fmt.Errorf("loading linked user: %w", err)
		}
	} else {
		user = &db.User{ID: uuid.NewString(), Email: ext.Email, DisplayName: ext.DisplayName}
		if err := m.accounts.CreateUser(ctx, user); err != nil {
			return Identity{}, fmt.Errorf("creating user: %w", err)
		}
		newCred := &db.Credential{Provider: ext.Provider, Subject: ext.Subject, UserID: user.ID}
		if err := m.accounts.Link(ctx, newCred, user); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				return Identity{}, ErrCredentialInUse
			}
			return Identity{}, fmt.Errorf("linking credential: %w", err)
		}
	}
	return m.switchTo(ctx, user)
}

// LinkEmailPassword attaches an email/password credential to the current
// identity. It fails with ErrNoSession when there is none.
func (m *Manager) LinkEmailPassword(ctx context.Context, email, password string) (Identity, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	cur, ok := m.Current()
	if !ok {
		return Identity{}, ErrNoSession
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return Identity{}, err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return Identity{}, err
	}

	creds, err := m.accounts.Credentials(ctx, cur.UID)
	if err != nil {
		return Identity{}, fmt.Errorf("listing credentials: %w", err)
	}
	for _, c := range creds {
		if c.Provider == ProviderPassword {
			return Identity{}, ErrAlreadyLinked
		}
	}
	existing, err := m.credential(ctx, ProviderPassword, email)
	if err != nil {
		return Identity{}, err
	}
	if existing != nil {
		return Identity{}, ErrCredentialInUse
	}

	return m.link(ctx, cur, &db.Credential{
		Provider:     ProviderPassword,
		Subject:      email,
		UserID:       cur.UID,
		PasswordHash: hash,
	}, email, "")
}

// SignInWithPassword signs in with an email/password credential, switching
// identity.
func (m *Manager) SignInWithPassword(ctx context.Context, email, password string) (Identity, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	email, err := normalizeEmail(email)
	if err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	cred, err := m.credential(ctx, ProviderPassword, email)
	if err != nil {
		return Identity{}, err
	}
	if cred == nil {
		return Identity{}, ErrInvalidCredentials
	}
	if err := checkPassword(cred.PasswordHash, password); err != nil {
		return Identity{}, err
	}

	user, err := m.accounts.User(ctx, cred.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("loading user: %w", err)
	}
	return m.switchTo(ctx, user)
}

// SignOut ends the current session. It does not create a new anonymous
// session; callers do that when they need an identity again.
func (m *Manager) SignOut(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	sid := m.SessionID()
	var err error
	if sid != "" {
		if err = m.accounts.DeleteSession(ctx, sid); err != nil {
			m.logger.Warn("deleting session on sign-out", "error", err)
			err = fmt.Errorf("deleting session: %w", err)
		}
	}
	m.settle(SignedOut, Identity{}, "")
	return err
}

// link attaches cred to the current user and marks it non-anonymous.
// Existing email and display name are kept.
func (m *Manager) link(ctx context.Context, cur Identity, cred *db.Credential, email, displayName string) (Identity, error) {
	user := &db.User{
		ID:          cur.UID,
		Anonymous:   false,
		Email:       firstNonEmpty(cur.Email, email),
		DisplayName: firstNonEmpty(cur.DisplayName, displayName),
	}
	if err := m.accounts.Link(ctx, cred, user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return Identity{}, ErrCredentialInUse
		}
		return Identity{}, fmt.Errorf("linking %s credential: %w", cred.Provider, err)
	}

	id := identityOf(user)
	m.settle(Authenticated, id, m.SessionID())
	m.logger.Info("linked credential", "uid", id.UID, "provider", cred.Provider)

	if cur.Anonymous {
		m.runUpgradeHooks(ctx, id)
	}
	return id, nil
}

// switchTo replaces the current session with a new one for user.
func (m *Manager) switchTo(ctx context.Context, user *db.User) (Identity, error) {
	sid, err := m.newSession(ctx, user.ID)
	if err != nil {
		return Identity{}, err
	}
	if old := m.SessionID(); old != "" {
		if err := m.accounts.DeleteSession(ctx, old); err != nil {
			m.logger.Warn("deleting replaced session", "error", err)
		}
	}

	id := identityOf(user)
	m.settle(stateOf(id), id, sid)
	m.logger.Info("signed in", "uid", id.UID)
	return id, nil
}

func (m *Manager) runUpgradeHooks(ctx context.Context, id Identity) {
	m.mu.RLock()
	hooks := append([]UpgradeHook(nil), m.hooks...)
	m.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, id); err != nil {
			m.logger.Error("upgrade hook failed", "uid", id.UID, "error", err)
		}
	}
}

func (m *Manager) newSession(ctx context.Context, uid string) (string, error) {
	sid, err := generateSessionID()
	if err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	now := m.now()
	session := &db.Session{
		ID:        sid,
		UserID:    uid,
		CreatedAt: now,
		ExpiresAt: now.Add(m.sessionTTL),
	}
	if err := m.accounts.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return sid, nil
}

// lookup resolves a session id to its user. Unknown sessions yield nil.
func (m *Manager) lookup(ctx context.Context, sessionID string) (*db.User, error) {
	if sessionID == "" {
		return nil, nil
	}
	session, err := m.accounts.Session(ctx, sessionID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user, err := m.accounts.User(ctx, session.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return user, err
}

// credential returns the credential for an external identity, or nil.
func (m *Manager) credential(ctx context.Context, provider, subject string) (*db.Credential, error) {
	cred, err := m.accounts.Credential(ctx, provider, subject)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up %s credential: %w", provider, err)
	}
	return cred, nil
}

// settle records a new identity and publishes it.
func (m *Manager) settle(state State, id Identity, sessionID string) {
	m.mu.Lock()
	m.state = state
	m.identity = id
	m.sessionID = sessionID
	ev := Event{State: state, Identity: id, Present: sessionID != ""}
	if !m.closed {
		for _, ch := range m.subs {
			publish(ch, ev)
		}
	}
	m.mu.Unlock()

	m.settleOnce.Do(func() { close(m.settled) })
}

func publish(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	// Full: drop the oldest pending event.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

func identityOf(u *db.User) Identity {
	return Identity{
		UID:         u.ID,
		Anonymous:   u.Anonymous,
		Email:       u.Email,
		DisplayName: u.DisplayName,
	}
}

func stateOf(id Identity) State {
	if id.Anonymous {
		return Anonymous
	}
	return Authenticated
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// generateSessionID creates a cryptographically random session ID.
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
