package guard

import (
	"context"
	"net/http"

	session "github.com/goliatone/go-session"
)

// DefaultContextKey is where the session view is stored in request locals.
const DefaultContextKey = "session"

// Policy is the framework independent part of a guard.
type Policy struct {
	// Facade is required.
	Facade *session.Facade

	// AnyRoles passes when the user has at least one of them.
	AnyRoles []string

	// AllRoles passes when the user has every one of them.
	AllRoles []string

	// RequireFreshToken makes the guard obtain a fresh token, refreshing when
	// the current one is about to expire.
	RequireFreshToken bool
}

// Check returns the current view when the session satisfies p. Failures are
// session.ErrUnauthorized or session.ErrForbidden clones.
func (p Policy) Check(ctx context.Context) (session.View, error) {
	view := p.Facade.View()

	authenticated := view.IsAuthenticated
	if authenticated && p.RequireFreshToken {
		_, authenticated = p.Facade.GetFreshToken(ctx)
	}
	if !authenticated {
		return view, session.ErrUnauthorized.Clone()
	}

	if len(p.AnyRoles) > 0 && !p.Facade.HasAnyRole(p.AnyRoles...) {
		return view, forbidden("any", p.AnyRoles)
	}
	if len(p.AllRoles) > 0 && !p.Facade.HasAllRoles(p.AllRoles...) {
		return view, forbidden("all", p.AllRoles)
	}
	return view, nil
}

func (p Policy) mustValidate() {
	if p.Facade == nil {
		panic("SESSION: guard configuration: Facade is required")
	}
}

// StatusFor maps session error codes to HTTP statuses.
func StatusFor(err error) int {
	switch session.CodeOf(err) {
	case session.CodeUnauthorized, session.CodeSessionExpired:
		return http.StatusUnauthorized
	case session.CodeForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func isUnauthenticated(err error) bool {
	return session.CodeOf(err) == session.CodeUnauthorized
}

func forbidden(mode string, roles []string) error {
	return session.ErrForbidden.Clone().WithMetadata(map[string]any{
		"match": mode,
		"roles": roles,
	})
}
