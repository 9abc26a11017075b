// Package keycloak implements session.IdentityAdapter for a Keycloak realm:
// authorization code login with PKCE, refresh token grants, back channel
// logout and optional JWKS signature verification of access tokens.
package keycloak
