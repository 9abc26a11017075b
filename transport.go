package session

import (
	"net/http"
)

// Transport is an http.RoundTripper that adds the session bearer token to
// outbound requests. Requests go out without a header when no fresh token is
// available, unless RequireToken is set.
type Transport struct {
	Facade *Facade
	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper
	// RequireToken fails requests that would go out unauthenticated.
	RequireToken bool
}

// NewTransport wraps base with the facade's authorization header.
func NewTransport(facade *Facade, base http.RoundTripper) *Transport {
	return &Transport{Facade: facade, Base: base}
}

// Client returns an http.Client using t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	header, ok := t.Facade.GetAuthorizationHeader(req.Context())
	if !ok {
		if t.RequireToken {
			return nil, ErrUnauthorized.Clone().WithMetadata(map[string]any{
				"url": req.URL.Redacted(),
			})
		}
		return base.RoundTrip(req)
	}

	// RoundTrippers must not modify the caller's request.
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", header)
	return base.RoundTrip(out)
}
