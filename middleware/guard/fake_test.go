package guard_test

import (
	"context"
	"testing"
	"time"

	session "github.com/goliatone/go-session"
	"github.com/stretchr/testify/require"
)

// staticAdapter reports a fixed identity and never talks to a provider.
type staticAdapter struct {
	token  string
	claims *session.Claims
}

func (a *staticAdapter) SetCallbacks(session.Callbacks) {}

func (a *staticAdapter) Init(context.Context, session.InitOptions) (bool, error) {
	return a.Authenticated(), nil
}

func (a *staticAdapter) Login(context.Context, session.LoginOptions) error       { return nil }
func (a *staticAdapter) Logout(context.Context, session.LogoutOptions) error     { return nil }
func (a *staticAdapter) Register(context.Context, session.RegisterOptions) error { return nil }

func (a *staticAdapter) UpdateToken(context.Context, int) (bool, error) { return false, nil }
func (a *staticAdapter) Token() string                                  { return a.token }
func (a *staticAdapter) RefreshToken() string                           { return "" }
func (a *staticAdapter) RefreshExpiry() time.Time                       { return time.Time{} }
func (a *staticAdapter) Claims() *session.Claims                        { return a.claims }
func (a *staticAdapter) Authenticated() bool                            { return a.token != "" }

func (a *staticAdapter) HasRealmRole(role string) bool {
	return a.claims != nil && session.NewRoleSet(a.claims.RealmRoles...).Has(role)
}

func newFacade(t *testing.T, ttl time.Duration, roles ...string) *session.Facade {
	t.Helper()

	adapter := &staticAdapter{}
	if ttl != 0 {
		adapter.token = "T1"
		adapter.claims = &session.Claims{
			Subject:           "user-1",
			PreferredUsername: "jdoe",
			RealmRoles:        roles,
			ExpiresAt:         time.Now().Add(ttl),
		}
	}

	svc, err := session.NewService(adapter, session.WithLogger(session.NoopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	require.NoError(t, svc.Initialize(context.Background()))

	return session.NewFacade(svc)
}
