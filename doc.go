// Package session keeps an OIDC-style login session and its tokens valid for
// the lifetime of a process, behind a small surface that route guards and
// outbound API clients can depend on.
//
// Components:
//   - Token clock helpers (ExpiresInSeconds, IsExpired, IsExpiringSoon,
//     DeriveTokenStatus) are pure functions of token, expiry, now and a
//     threshold. They are evaluated on every read and never cached.
//   - Store is the single writer of State. Every mutation replaces the whole
//     state, so IsAuthenticated, User, AccessToken and TokenExpiry always
//     agree. Only {isAuthenticated, user} reaches durable Storage; tokens stay
//     in memory.
//   - Service drives the lifecycle against an IdentityAdapter: a one-time
//     Initialize handshake, login/logout/register delegation, coalesced token
//     refreshes, the auto refresh timer and lifecycle events.
//   - Facade is the consumer surface: View, GetFreshToken and
//     GetAuthorizationHeader. Transport plugs the latter into net/http.
//
// Adapters:
//   - IdentityAdapter abstracts the provider protocol. provider/keycloak ships a
//     Keycloak realm implementation (authorization code + PKCE, refresh grant,
//     JWKS verified claims).
//   - storage holds file, SQL (bun) and Redis backends for the persisted
//     projection.
//
// Failures never panic the host application. A failed handshake leaves the
// session anonymous with LastError set to INIT_FAILED, and a failed refresh
// keeps the user signed in with TOKEN_REFRESH_FAILED until the provider itself
// reports the session as terminated.
package session
