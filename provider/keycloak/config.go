package keycloak

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/golang-jwt/jwt/v5"
	session "github.com/goliatone/go-session"
)

// Config holds the Keycloak realm and client settings.
type Config struct {
	// BaseURL is the Keycloak server root (e.g., "https://sso.example.com").
	BaseURL string

	// Realm is the realm name.
	Realm string

	// ClientID is the public or confidential client identifier.
	ClientID string

	// ClientSecret is only set for confidential clients.
	ClientSecret string

	// RedirectURI is the default callback URL.
	RedirectURI string

	// Scopes requested on login.
	// Default: openid, profile, email.
	Scopes []string

	// Endpoint overrides. Defaults are derived from BaseURL and Realm.
	AuthURL          string
	TokenURL         string
	LogoutURL        string
	RegistrationsURL string
	JWKSURL          string

	// VerifySignatures fetches the realm JWKS and verifies access tokens.
	// Default: false (claims are decoded without verification).
	VerifySignatures bool

	// KeyFunc overrides the JWKS lookup used when VerifySignatures is set.
	KeyFunc jwt.Keyfunc

	// JWKSRefreshInterval is how often the JWKS is refreshed in the background.
	// Default: 1 hour.
	JWKSRefreshInterval time.Duration

	// Opener receives login and registration URLs.
	// Default: logs the URL.
	Opener Opener

	HTTPClient *http.Client
	Logger     session.Logger
	Now        func() time.Time
}

// DefaultScopes returns the default OIDC scopes.
func DefaultScopes() []string {
	return []string{"openid", "profile", "email"}
}

// Validate checks the minimum settings needed to talk to a realm.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Realm, validation.Required),
		validation.Field(&c.ClientID, validation.Required),
		validation.Field(&c.RedirectURI, is.URL),
	)
}

func (c Config) realmURL() string {
	base := strings.TrimSuffix(strings.TrimSpace(c.BaseURL), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return fmt.Sprintf("%s/realms/%s", base, c.Realm)
}

// Issuer is the expected iss claim of realm tokens.
func (c Config) Issuer() string {
	return c.realmURL()
}

func (c Config) endpoint(override, path string) string {
	if override != "" {
		return override
	}
	return c.realmURL() + "/protocol/openid-connect/" + path
}

func (c Config) authURL() string          { return c.endpoint(c.AuthURL, "auth") }
func (c Config) tokenURL() string         { return c.endpoint(c.TokenURL, "token") }
func (c Config) logoutURL() string        { return c.endpoint(c.LogoutURL, "logout") }
func (c Config) registrationsURL() string { return c.endpoint(c.RegistrationsURL, "registrations") }
func (c Config) jwksURL() string          { return c.endpoint(c.JWKSURL, "certs") }

func (c Config) withDefaults() Config {
	if len(c.Scopes) == 0 {
		c.Scopes = DefaultScopes()
	}
	if c.JWKSRefreshInterval <= 0 {
		c.JWKSRefreshInterval = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = session.NoopLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Opener == nil {
		c.Opener = logOpener{logger: c.Logger}
	}
	return c
}
