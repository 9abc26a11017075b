package session

import "time"

// State is the single source of truth owned by Store. Values handed out by
// the store are copies; mutating them has no effect on the store.
type State struct {
	IsAuthenticated bool      `json:"is_authenticated"`
	IsInitialized   bool      `json:"is_initialized"`
	IsLoading       bool      `json:"is_loading"`
	AccessToken     string    `json:"-"`
	RefreshToken    string    `json:"-"`
	TokenExpiry     time.Time `json:"token_expiry,omitempty"`
	User            *User     `json:"user"`
	LastError       *Error    `json:"last_error"`
}

// DefaultState is the unauthenticated boot state.
func DefaultState() State {
	return State{IsLoading: true}
}

// TokenExpiryMillis returns the expiry as epoch milliseconds, false if unknown.
func (s State) TokenExpiryMillis() (int64, bool) {
	if s.TokenExpiry.IsZero() {
		return 0, false
	}
	return s.TokenExpiry.UnixMilli(), true
}

func (s State) clone() State {
	c := s
	c.User = s.User.clone()
	c.LastError = s.LastError.clone()
	return c
}

// consistent reports whether the authentication invariant holds.
func (s State) consistent() bool {
	if !s.IsAuthenticated {
		return true
	}
	return s.User != nil && s.AccessToken != "" && !s.TokenExpiry.IsZero()
}

// stateFromSnapshot builds the full tuple written by ApplyIdentitySnapshot.
func stateFromSnapshot(snap IdentitySnapshot) State {
	if !snap.complete() {
		return State{
			IsInitialized: true,
			LastError:     snap.Err.clone(),
		}
	}

	return State{
		IsAuthenticated: true,
		IsInitialized:   true,
		AccessToken:     snap.AccessToken,
		RefreshToken:    snap.RefreshToken,
		TokenExpiry:     snap.Claims.ExpiresAt,
		User:            UserFromClaims(snap.Claims),
		LastError:       snap.Err.clone(),
	}
}
