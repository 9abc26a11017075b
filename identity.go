package session

import (
	"context"
	"time"
)

// Claims are the decoded token fields the session cares about.
type Claims struct {
	Subject           string    `json:"sub"`
	PreferredUsername string    `json:"preferred_username"`
	Email             string    `json:"email"`
	EmailVerified     bool      `json:"email_verified"`
	GivenName         string    `json:"given_name,omitempty"`
	FamilyName        string    `json:"family_name,omitempty"`
	RealmRoles        []string  `json:"realm_roles"`
	Issuer            string    `json:"iss,omitempty"`
	SessionState      string    `json:"session_state,omitempty"`
	IssuedAt          time.Time `json:"iat"`
	ExpiresAt         time.Time `json:"exp"`
}

// Callbacks are the side channels an IdentityAdapter reports through.
// Nil fields are allowed.
type Callbacks struct {
	OnReady              func(authenticated bool)
	OnAuthSuccess        func()
	OnAuthError          func(err error)
	OnAuthRefreshSuccess func()
	OnAuthRefreshError   func(err error)
	OnAuthLogout         func()
	OnTokenExpired       func()
}

// InitOptions configure the provider handshake.
type InitOptions struct {
	// RefreshToken seeds a silent handshake (offline or remembered token).
	RefreshToken string
	RedirectURI  string
	Scope        string
}

// LoginOptions mirror the provider login parameters.
type LoginOptions struct {
	RedirectURI string
	LoginHint   string
	IDPHint     string
	Scope       string
	Locale      string
	Prompt      string
}

// LogoutOptions mirror the provider logout parameters.
type LogoutOptions struct {
	RedirectURI string
}

// RegisterOptions mirror the provider registration parameters.
type RegisterOptions struct {
	RedirectURI string
	Locale      string
}

// IdentityAdapter wraps the identity-provider protocol. The session service
// never talks to the provider except through this contract.
type IdentityAdapter interface {
	// SetCallbacks attaches the side channels. It is called before Init.
	SetCallbacks(cb Callbacks)
	Init(ctx context.Context, opts InitOptions) (bool, error)
	Login(ctx context.Context, opts LoginOptions) error
	Logout(ctx context.Context, opts LogoutOptions) error
	Register(ctx context.Context, opts RegisterOptions) error
	// UpdateToken refreshes when the token is valid for less than
	// minValiditySeconds. -1 forces a refresh.
	UpdateToken(ctx context.Context, minValiditySeconds int) (bool, error)

	Token() string
	RefreshToken() string
	RefreshExpiry() time.Time
	Claims() *Claims
	Authenticated() bool
	HasRealmRole(role string) bool
}

// ForceRefresh is the minValiditySeconds value that always forces a round-trip.
const ForceRefresh = -1

// TokenInfo is derived from the adapter on demand and never persisted.
type TokenInfo struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}

// IdentitySnapshot is the input of Store.ApplyIdentitySnapshot.
type IdentitySnapshot struct {
	Authenticated bool
	AccessToken   string
	RefreshToken  string
	Claims        *Claims
	Err           *Error
}

// SnapshotFromAdapter reads the adapter's current view into a snapshot.
func SnapshotFromAdapter(a IdentityAdapter) IdentitySnapshot {
	if a == nil {
		return IdentitySnapshot{}
	}
	return IdentitySnapshot{
		Authenticated: a.Authenticated(),
		AccessToken:   a.Token(),
		RefreshToken:  a.RefreshToken(),
		Claims:        a.Claims(),
	}
}

func (s IdentitySnapshot) complete() bool {
	return s.Authenticated &&
		s.AccessToken != "" &&
		s.Claims != nil &&
		!s.Claims.ExpiresAt.IsZero()
}
