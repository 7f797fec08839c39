// Package auth manages the identity of one client: anonymous sessions,
// provider sign-in and account linking, email/password credentials and
// sign-out, with a subscribable stream of identity changes.
package auth

import "errors"

// Errors reported by the session manager and providers.
var (
	// ErrNoSession is returned by operations that need a current identity.
	ErrNoSession = errors.New("no current session")

	// ErrCancelled is returned when the user declined the provider's consent screen.
	ErrCancelled = errors.New("sign-in cancelled by user")

	// ErrCredentialInUse is returned when linking an identity that already
	// belongs to another account.
	ErrCredentialInUse = errors.New("credential already linked to another account")

	// ErrAlreadyLinked is returned when the account already has a credential
	// of that kind.
	ErrAlreadyLinked = errors.New("account already has this sign-in method")

	// ErrInvalidCredentials is returned for a wrong email or password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidEmail is returned for malformed email addresses.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("password too short")

	// ErrStateMismatch is returned when the OAuth state parameter doesn't match.
	ErrStateMismatch = errors.New("OAuth state mismatch")

	// ErrUnknownProvider is returned for provider names with no configuration.
	ErrUnknownProvider = errors.New("unknown identity provider")
)

// Identity is the current user of a client.
type Identity struct {
	UID         string `json:"uid"`
	Anonymous   bool   `json:"anonymous"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// State is the session manager's lifecycle state.
type State int

// Manager states. SignedOut means settled with no identity, whether after an
// explicit sign-out or because no session could be restored.
const (
	Uninitialized State = iota
	Initializing
	Anonymous
	Authenticated
	SignedOut
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case SignedOut:
		return "signed-out"
	default:
		return "unknown"
	}
}

// Settled reports whether the state carries a definitive identity answer.
func (s State) Settled() bool {
	return s >= Anonymous
}

// Event announces an identity change. Present is false when there is no identity.
type Event struct {
	State    State
	Identity Identity
	Present  bool
}

// ExternalIdentity is a user as asserted by an identity provider.
type ExternalIdentity struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
}
