package keycloak

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testRealm = "test"

// fakeRealm is a minimal Keycloak realm serving the token, logout and certs
// endpoints.
type fakeRealm struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	refreshTokens map[string]bool
	codes         map[string]string // code -> expected verifier challenge
	tokenCalls    int
	logoutCalls   int
	lastForm      url.Values
	ttl           time.Duration
	roles         []string
	signingKey    *rsa.PrivateKey
	jwksKey       *rsa.PublicKey
	tokenStatus   int
	// hold, when set, runs before a successful token response is written.
	hold func()
}

func newFakeRealm(t *testing.T) *fakeRealm {
	t.Helper()
	r := &fakeRealm{
		t:             t,
		refreshTokens: map[string]bool{},
		codes:         map[string]string{},
		ttl:           5 * time.Minute,
		roles:         []string{"admin", "user"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/realms/"+testRealm+"/protocol/openid-connect/token", r.handleToken)
	mux.HandleFunc("/realms/"+testRealm+"/protocol/openid-connect/logout", r.handleLogout)
	mux.HandleFunc("/realms/"+testRealm+"/protocol/openid-connect/certs", r.handleCerts)

	r.server = httptest.NewServer(mux)
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRealm) config() Config {
	return Config{
		BaseURL:     r.server.URL,
		Realm:       testRealm,
		ClientID:    "web",
		RedirectURI: "http://localhost:8080/callback",
		HTTPClient:  r.server.Client(),
	}
}

func (r *fakeRealm) issuer() string {
	return r.server.URL + "/realms/" + testRealm
}

// issueRefreshToken registers a refresh token the realm will accept.
func (r *fakeRealm) issueRefreshToken() string {
	token := "rt-" + uuid.NewString()
	r.mu.Lock()
	r.refreshTokens[token] = true
	r.mu.Unlock()
	return token
}

func (r *fakeRealm) expectCode(code, challenge string) {
	r.mu.Lock()
	r.codes[code] = challenge
	r.mu.Unlock()
}

func (r *fakeRealm) revokeAll() {
	r.mu.Lock()
	r.refreshTokens = map[string]bool{}
	r.mu.Unlock()
}

// holdNextToken parks the next token response until the returned release
// func is called. entered is closed once the request reaches the realm.
func (r *fakeRealm) holdNextToken() (entered <-chan struct{}, release func()) {
	in := make(chan struct{})
	out := make(chan struct{})
	var once sync.Once
	r.mu.Lock()
	r.hold = func() {
		close(in)
		<-out
	}
	r.mu.Unlock()
	return in, func() { once.Do(func() { close(out) }) }
}

func (r *fakeRealm) counts() (token, logout int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokenCalls, r.logoutCalls
}

func (r *fakeRealm) form() url.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastForm
}

func (r *fakeRealm) accessToken(ttl time.Duration) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":                "user-1",
		"iss":                r.issuer(),
		"iat":                now.Unix(),
		"exp":                now.Add(ttl).Unix(),
		"preferred_username": "jdoe",
		"email":              "jdoe@example.com",
		"email_verified":     true,
		"given_name":         "Jane",
		"family_name":        "Doe",
		"session_state":      "sess-1",
		"realm_access":       map[string]any{"roles": r.roles},
	}

	if r.signingKey != nil {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = "k1"
		signed, err := token.SignedString(r.signingKey)
		if err != nil {
			r.t.Fatalf("sign access token: %v", err)
		}
		return signed
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("unverified"))
	if err != nil {
		r.t.Fatalf("sign access token: %v", err)
	}
	return signed
}

func (r *fakeRealm) handleToken(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	r.tokenCalls++
	r.lastForm = req.PostForm
	status := r.tokenStatus
	r.mu.Unlock()

	if status != 0 {
		http.Error(w, "upstream failure", status)
		return
	}

	switch req.PostForm.Get("grant_type") {
	case "refresh_token":
		rt := req.PostForm.Get("refresh_token")
		r.mu.Lock()
		ok := r.refreshTokens[rt]
		delete(r.refreshTokens, rt)
		r.mu.Unlock()
		if !ok {
			r.writeError(w, "invalid_grant", "Token is not active")
			return
		}
	case "authorization_code":
		code := req.PostForm.Get("code")
		r.mu.Lock()
		challenge, ok := r.codes[code]
		delete(r.codes, code)
		r.mu.Unlock()
		if !ok || computeCodeChallenge(req.PostForm.Get("code_verifier")) != challenge {
			r.writeError(w, "invalid_grant", "Code not valid")
			return
		}
	default:
		r.writeError(w, "unsupported_grant_type", "")
		return
	}

	r.mu.Lock()
	hold := r.hold
	r.hold = nil
	r.mu.Unlock()
	if hold != nil {
		hold()
	}

	r.writeJSON(w, http.StatusOK, map[string]any{
		"access_token":       r.accessToken(r.ttl),
		"token_type":         "Bearer",
		"expires_in":         int(r.ttl / time.Second),
		"refresh_token":      r.issueRefreshToken(),
		"refresh_expires_in": 1800,
		"id_token":           "id-token",
		"scope":              "openid profile email",
	})
}

func (r *fakeRealm) handleLogout(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	r.logoutCalls++
	r.lastForm = req.PostForm
	delete(r.refreshTokens, req.PostForm.Get("refresh_token"))
	r.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (r *fakeRealm) handleCerts(w http.ResponseWriter, _ *http.Request) {
	if r.jwksKey == nil {
		r.writeJSON(w, http.StatusOK, map[string]any{"keys": []any{}})
		return
	}
	r.writeJSON(w, http.StatusOK, map[string]any{
		"keys": []any{map[string]any{
			"kty": "RSA",
			"kid": "k1",
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(r.jwksKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(r.jwksKey.E)).Bytes()),
		}},
	})
}

func (r *fakeRealm) writeError(w http.ResponseWriter, code, description string) {
	r.writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":             code,
		"error_description": description,
	})
}

func (r *fakeRealm) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
