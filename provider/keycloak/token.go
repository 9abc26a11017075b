package keycloak

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	session "github.com/goliatone/go-session"
)

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	IDToken          string `json:"id_token"`
	Scope            string `json:"scope"`
	SessionState     string `json:"session_state"`
	Error            string `json:"error"`
	ErrorDesc        string `json:"error_description"`
}

// accessClaims mirrors the Keycloak access token layout.
type accessClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	SessionState      string `json:"session_state"`
	SID               string `json:"sid"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

func (c *accessClaims) toSession() *session.Claims {
	out := &session.Claims{
		Subject:           c.Subject,
		PreferredUsername: c.PreferredUsername,
		Email:             c.Email,
		EmailVerified:     c.EmailVerified,
		GivenName:         c.GivenName,
		FamilyName:        c.FamilyName,
		RealmRoles:        append([]string(nil), c.RealmAccess.Roles...),
		Issuer:            c.Issuer,
		SessionState:      c.SessionState,
	}
	if out.SessionState == "" {
		out.SessionState = c.SID
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}

// parseAccessToken decodes raw. With a keyfunc the signature is verified;
// expiry is left to the session clock so a stale token still yields claims.
func parseAccessToken(raw string, keyFunc jwt.Keyfunc, issuer string) (*session.Claims, error) {
	claims := &accessClaims{}

	if keyFunc != nil {
		parser := jwt.NewParser(jwt.WithoutClaimsValidation())
		if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
			return nil, err
		}
		if issuer != "" && claims.Issuer != issuer {
			return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return nil, err
		}
	}

	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("access token has no exp claim")
	}
	return claims.toSession(), nil
}

func decodeTokenResponse(operation string, resp *http.Response) (*tokenResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			msg := strings.TrimSpace(string(body))
			if msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
			return nil, providerError(operation, resp.StatusCode, "", msg, nil)
		}
		return nil, providerError(operation, resp.StatusCode, "invalid_response", "failed to decode token response", err)
	}

	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return nil, providerError(operation, resp.StatusCode, out.Error, out.ErrorDesc, nil)
	}
	if out.AccessToken == "" {
		return nil, providerError(operation, resp.StatusCode, "missing_access_token", "missing access token", nil)
	}
	return &out, nil
}

func expiresAfter(now time.Time, seconds int) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(seconds) * time.Second)
}

func generateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func computeCodeChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
