package db

import "time"

// User is an account. Anonymous accounts have no linked credential yet.
type User struct {
	ID          string
	Anonymous   bool
	DisplayName string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session binds a browser session cookie to a user.
type Session struct {
	ID         string
	UserID     string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

// Credential is a sign-in method linked to a user.
type Credential struct {
	Provider     string
	Subject      string
	UserID       string
	PasswordHash []byte // nil for OAuth providers
	CreatedAt    time.Time
}
