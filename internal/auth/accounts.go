package auth

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Ehm-Ehs/project-nexus/internal/db"
)

// AccountStore persists users, sessions and linked credentials.
// Missing records are reported as db.ErrNotFound and unique conflicts as
// db.ErrDuplicate.
type AccountStore interface {
	CreateUser(ctx context.Context, user *db.User) error
	User(ctx context.Context, id string) (*db.User, error)

	CreateSession(ctx context.Context, session *db.Session) error
	Session(ctx context.Context, id string) (*db.Session, error)
	DeleteSession(ctx context.Context, id string) error

	Credential(ctx context.Context, provider, subject string) (*db.Credential, error)
	Credentials(ctx context.Context, userID string) ([]db.Credential, error)
	// Link stores cred and writes user in one step.
	Link(ctx context.Context, cred *db.Credential, user *db.User) error
}

// ============================================================================
// Database-Backed Account Store
// ============================================================================

// DBAccounts implements AccountStore on PostgreSQL.
type DBAccounts struct {
	database *db.DB
}

// NewDBAccounts creates a database-backed account store.
func NewDBAccounts(database *db.DB) *DBAccounts {
	return &DBAccounts{database: database}
}

func (s *DBAccounts) CreateUser(ctx context.Context, user *db.User) error {
	return s.database.Users().Create(ctx, user)
}

func (s *DBAccounts) User(ctx context.Context, id string) (*db.User, error) {
	return s.database.Users().Get(ctx, id)
}

func (s *DBAccounts) CreateSession(ctx context.Context, session *db.Session) error {
	return s.database.Sessions().Create(ctx, session)
}

func (s *DBAccounts) Session(ctx context.Context, id string) (*db.Session, error) {
	return s.database.Sessions().Touch(ctx, id)
}

// PruneSessions deletes expired sessions.
func (s *DBAccounts) PruneSessions(ctx context.Context) (int64, error) {
	return s.database.Sessions().DeleteExpired(ctx)
}

func (s *DBAccounts) DeleteSession(ctx context.Context, id string) error {
	return s.database.Sessions().Delete(ctx, id)
}

func (s *DBAccounts) Credential(ctx context.Context, provider, subject string) (*db.Credential, error) {
	return s.database.Credentials().Find(ctx, provider, subject)
}

func (s *DBAccounts) Credentials(ctx context.Context, userID string) ([]db.Credential, error) {
	return s.database.Credentials().ListForUser(ctx, userID)
}

func (s *DBAccounts) Link(ctx context.Context, cred *db.Credential, user *db.User) error {
	return s.database.Credentials().Link(ctx, cred, user)
}

// ============================================================================
// In-Memory Account Store (for development/testing)
// ============================================================================

type credentialKey struct {
	provider string
	subject  string
}

// MemoryAccounts implements AccountStore in memory.
type MemoryAccounts struct {
	mu          sync.RWMutex
	users       map[string]db.User
	sessions    map[string]db.Session
	credentials map[credentialKey]db.Credential
	now         func() time.Time
}

// NewMemoryAccounts creates an empty in-memory account store.
func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{
		users:       make(map[string]db.User),
		sessions:    make(map[string]db.Session),
		credentials: make(map[credentialKey]db.Credential),
		now:         time.Now,
	}
}

func (s *MemoryAccounts) CreateUser(_ context.Context, user *db.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return db.ErrDuplicate
	}
	now := s.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryAccounts) User(_ context.Context, id string) (*db.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &user, nil
}

func (s *MemoryAccounts) CreateSession(_ context.Context, session *db.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[session.UserID]; !ok {
		return db.ErrNotFound
	}
	session.LastSeenAt = session.CreatedAt
	s.sessions[session.ID] = *session
	return nil
}

func (s *MemoryAccounts) Session(_ context.Context, id string) (*db.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	session, ok := s.sessions[id]
	if !ok || !now.Before(session.ExpiresAt) {
		return nil, db.ErrNotFound
	}
	session.LastSeenAt = now
	s.sessions[id] = session
	return &session, nil
}

func (s *MemoryAccounts) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryAccounts) Credential(_ context.Context, provider, subject string) (*db.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[credentialKey{provider, subject}]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &cred, nil
}

func (s *MemoryAccounts) Credentials(_ context.Context, userID string) ([]db.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var creds []db.Credential
	for _, c := range s.credentials {
		if c.UserID == userID {
			creds = append(creds, c)
		}
	}
	slices.SortFunc(creds, func(a, b db.Credential) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return creds, nil
}

func (s *MemoryAccounts) Link(_ context.Context, cred *db.Credential, user *db.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := credentialKey{cred.Provider, cred.Subject}
	if _, ok := s.credentials[key]; ok {
		return db.ErrDuplicate
	}
	existing, ok := s.users[user.ID]
	if !ok {
		return db.ErrNotFound
	}

	now := s.now()
	cred.CreatedAt = now
	s.credentials[key] = *cred

	existing.Anonymous = user.Anonymous
	existing.DisplayName = user.DisplayName
	existing.Email = user.Email
	existing.UpdatedAt = now
	s.users[user.ID] = existing
	*user = existing
	return nil
}

// Ensure both stores implement AccountStore.
var (
	_ AccountStore = (*DBAccounts)(nil)
	_ AccountStore = (*MemoryAccounts)(nil)
)
