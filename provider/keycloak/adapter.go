package keycloak

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	session "github.com/goliatone/go-session"
	"github.com/google/uuid"
)

// pendingTTL bounds how long a login state stays redeemable.
const pendingTTL = 10 * time.Minute

// Opener hands a login, registration or logout URL to the user agent.
type Opener interface {
	Open(ctx context.Context, target string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, target string) error

func (f OpenerFunc) Open(ctx context.Context, target string) error {
	return f(ctx, target)
}

type logOpener struct {
	logger session.Logger
}

func (o logOpener) Open(_ context.Context, target string) error {
	o.logger.Info("keycloak: open %s to continue", target)
	return nil
}

type pendingLogin struct {
	verifier    string
	redirectURI string
	issuedAt    time.Time
}

// Adapter implements session.IdentityAdapter against a Keycloak realm using
// the authorization code flow with PKCE.
type Adapter struct {
	cfg Config

	mu            sync.RWMutex
	callbacks     session.Callbacks
	accessToken   string
	refreshToken  string
	idToken       string
	claims        *session.Claims
	refreshExpiry time.Time
	pending       map[string]pendingLogin
	expiryTimer   *time.Timer
	// epoch is bumped whenever the local session is cleared. Token responses
	// requested under an older epoch are dropped.
	epoch uint64

	keyMu   sync.Mutex
	keyFunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
}

var _ session.IdentityAdapter = (*Adapter)(nil)

// New validates cfg and builds an adapter.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	return &Adapter{
		cfg:     cfg,
		pending: map[string]pendingLogin{},
		keyFunc: cfg.KeyFunc,
	}, nil
}

func (a *Adapter) SetCallbacks(cb session.Callbacks) {
	a.mu.Lock()
	a.callbacks = cb
	a.mu.Unlock()
}

// Init restores a session from opts.RefreshToken when one is given. A refresh
// token the realm no longer accepts is not an error; the session just starts
// anonymous.
func (a *Adapter) Init(ctx context.Context, opts session.InitOptions) (bool, error) {
	if err := a.ensureKeyFunc(ctx); err != nil {
		return false, wrapProviderError(session.ErrInitFailed, "jwks", err)
	}

	if opts.RefreshToken == "" {
		a.fireReady(false)
		return false, nil
	}

	epoch := a.currentEpoch()
	resp, err := a.tokenRequest(ctx, "init", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {opts.RefreshToken},
	})
	if err != nil {
		if IsInvalidGrant(err) {
			a.cfg.Logger.Info("keycloak: remembered refresh token rejected, starting anonymous")
			a.fireReady(false)
			return false, nil
		}
		return false, wrapProviderError(session.ErrInitFailed, "init", err)
	}

	if err := a.applyTokens(resp, epoch); err != nil {
		if isSuperseded(err) {
			a.fireReady(false)
			return false, nil
		}
		return false, wrapProviderError(session.ErrInitFailed, "init", err)
	}

	cb := a.currentCallbacks()
	if cb.OnAuthSuccess != nil {
		cb.OnAuthSuccess()
	}
	a.fireReady(true)
	return true, nil
}

// Login sends the user agent to the realm login page.
func (a *Adapter) Login(ctx context.Context, opts session.LoginOptions) error {
	target, err := a.LoginURL(opts)
	if err != nil {
		return err
	}
	return a.cfg.Opener.Open(ctx, target)
}

// Register sends the user agent to the realm registration page.
func (a *Adapter) Register(ctx context.Context, opts session.RegisterOptions) error {
	target, err := a.authorizeURL(a.cfg.registrationsURL(), opts.RedirectURI, func(params url.Values) {
		setIf(params, "ui_locales", opts.Locale)
	})
	if err != nil {
		return err
	}
	return a.cfg.Opener.Open(ctx, target)
}

// LoginURL builds the authorization URL and remembers its PKCE verifier
// until HandleCallback redeems it.
func (a *Adapter) LoginURL(opts session.LoginOptions) (string, error) {
	return a.authorizeURL(a.cfg.authURL(), opts.RedirectURI, func(params url.Values) {
		if opts.Scope != "" {
			params.Set("scope", opts.Scope)
		}
		setIf(params, "login_hint", opts.LoginHint)
		setIf(params, "kc_idp_hint", opts.IDPHint)
		setIf(params, "ui_locales", opts.Locale)
		setIf(params, "prompt", opts.Prompt)
	})
}

func (a *Adapter) authorizeURL(endpoint, redirectURI string, extra func(url.Values)) (string, error) {
	verifier, err := generateCodeVerifier()
	if err != nil {
		return "", err
	}
	if redirectURI == "" {
		redirectURI = a.cfg.RedirectURI
	}

	state := uuid.NewString()
	params := url.Values{
		"client_id":             {a.cfg.ClientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"response_mode":         {"query"},
		"scope":                 {strings.Join(a.cfg.Scopes, " ")},
		"state":                 {state},
		"nonce":                 {uuid.NewString()},
		"code_challenge":        {computeCodeChallenge(verifier)},
		"code_challenge_method": {"S256"},
	}
	if extra != nil {
		extra(params)
	}

	now := a.cfg.Now()
	a.mu.Lock()
	a.prunePending(now)
	a.pending[state] = pendingLogin{verifier: verifier, redirectURI: redirectURI, issuedAt: now}
	a.mu.Unlock()

	return endpoint + "?" + params.Encode(), nil
}

// HandleCallback completes a login from the redirect query parameters.
func (a *Adapter) HandleCallback(ctx context.Context, query url.Values) error {
	state := query.Get("state")

	a.mu.Lock()
	a.prunePending(a.cfg.Now())
	login, ok := a.pending[state]
	delete(a.pending, state)
	epoch := a.epoch
	a.mu.Unlock()

	if !ok {
		err := ErrUnknownState.Clone()
		a.fireAuthError(err)
		return err
	}

	if code := query.Get("error"); code != "" {
		err := wrapProviderError(session.ErrLoginFailed, "callback",
			providerError("callback", 0, code, query.Get("error_description"), nil))
		a.fireAuthError(err)
		return err
	}

	resp, err := a.tokenRequest(ctx, "exchange", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {query.Get("code")},
		"redirect_uri":  {login.redirectURI},
		"code_verifier": {login.verifier},
	})
	if err != nil {
		err = wrapProviderError(session.ErrLoginFailed, "exchange", err)
		a.fireAuthError(err)
		return err
	}

	if err := a.applyTokens(resp, epoch); err != nil {
		a.fireAuthError(err)
		return err
	}

	cb := a.currentCallbacks()
	if cb.OnAuthSuccess != nil {
		cb.OnAuthSuccess()
	}
	return nil
}

// Logout ends the realm session with the refresh token and drops local
// tokens. With a RedirectURI the front channel logout URL is opened too.
func (a *Adapter) Logout(ctx context.Context, opts session.LogoutOptions) error {
	a.mu.Lock()
	refreshToken, idToken := a.refreshToken, a.idToken
	a.clearLocked()
	a.mu.Unlock()

	if refreshToken != "" {
		if err := a.revoke(ctx, refreshToken); err != nil {
			return wrapProviderError(session.ErrLogoutFailed, "logout", err)
		}
	}

	if opts.RedirectURI == "" {
		return nil
	}

	params := url.Values{
		"client_id":                {a.cfg.ClientID},
		"post_logout_redirect_uri": {opts.RedirectURI},
	}
	setIf(params, "id_token_hint", idToken)
	return a.cfg.Opener.Open(ctx, a.cfg.logoutURL()+"?"+params.Encode())
}

func (a *Adapter) revoke(ctx context.Context, refreshToken string) error {
	form := a.clientForm(url.Values{"refresh_token": {refreshToken}})
	resp, err := a.post(ctx, a.cfg.logoutURL(), form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}
	_, err = decodeTokenResponse("logout", resp)
	if err == nil {
		err = providerError("logout", resp.StatusCode, "", http.StatusText(resp.StatusCode), nil)
	}
	return err
}

// UpdateToken refreshes when the access token expires within
// minValiditySeconds, or always when it is session.ForceRefresh.
func (a *Adapter) UpdateToken(ctx context.Context, minValiditySeconds int) (bool, error) {
	a.mu.RLock()
	refreshToken, claims, epoch := a.refreshToken, a.claims, a.epoch
	a.mu.RUnlock()

	if refreshToken == "" {
		err := ErrNoRefreshToken.Clone()
		a.fireRefreshError(err)
		return false, err
	}

	if minValiditySeconds >= 0 && claims != nil {
		if secs, ok := session.ExpiresInSeconds(claims.ExpiresAt, a.cfg.Now()); ok && secs >= int64(minValiditySeconds) {
			return false, nil
		}
	}

	resp, err := a.tokenRequest(ctx, "refresh", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
	if err != nil {
		if a.currentEpoch() != epoch {
			return false, nil
		}
		if IsInvalidGrant(err) {
			a.clearEpoch(epoch)
			wrapped := wrapProviderError(session.ErrSessionExpired, "refresh", err)
			a.fireRefreshError(wrapped)
			cb := a.currentCallbacks()
			if cb.OnAuthLogout != nil {
				cb.OnAuthLogout()
			}
			return false, wrapped
		}
		wrapped := wrapProviderError(session.ErrTokenRefreshFailed, "refresh", err)
		a.fireRefreshError(wrapped)
		return false, wrapped
	}

	if err := a.applyTokens(resp, epoch); err != nil {
		if isSuperseded(err) {
			a.cfg.Logger.Debug("keycloak: refresh finished after the session ended, tokens dropped")
			return false, nil
		}
		a.fireRefreshError(err)
		return false, err
	}

	cb := a.currentCallbacks()
	if cb.OnAuthRefreshSuccess != nil {
		cb.OnAuthRefreshSuccess()
	}
	return true, nil
}

func (a *Adapter) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.accessToken
}

func (a *Adapter) RefreshToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.refreshToken
}

func (a *Adapter) RefreshExpiry() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.refreshExpiry
}

func (a *Adapter) Claims() *session.Claims {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.claims == nil {
		return nil
	}
	c := *a.claims
	c.RealmRoles = append([]string(nil), a.claims.RealmRoles...)
	return &c
}

func (a *Adapter) Authenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.accessToken != "" && a.claims != nil
}

func (a *Adapter) HasRealmRole(role string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.claims == nil {
		return false
	}
	for _, r := range a.claims.RealmRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Close stops the expiry timer and the JWKS background refresh.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.expiryTimer != nil {
		a.expiryTimer.Stop()
		a.expiryTimer = nil
	}
	a.mu.Unlock()

	a.keyMu.Lock()
	if a.jwks != nil {
		a.jwks.EndBackground()
		a.jwks = nil
	}
	a.keyMu.Unlock()
}

func (a *Adapter) ensureKeyFunc(ctx context.Context) error {
	if !a.cfg.VerifySignatures {
		return nil
	}

	a.keyMu.Lock()
	defer a.keyMu.Unlock()
	if a.keyFunc != nil {
		return nil
	}

	jwks, err := keyfunc.Get(a.cfg.jwksURL(), keyfunc.Options{
		Ctx:    context.WithoutCancel(ctx),
		Client: a.cfg.HTTPClient,
		RefreshErrorHandler: func(err error) {
			a.cfg.Logger.Error("keycloak: failed to refresh JWKS: %v", err)
		},
		RefreshInterval:   a.cfg.JWKSRefreshInterval,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return err
	}

	a.jwks = jwks
	a.keyFunc = jwks.Keyfunc
	return nil
}

func (a *Adapter) currentKeyFunc() jwt.Keyfunc {
	a.keyMu.Lock()
	defer a.keyMu.Unlock()
	return a.keyFunc
}

func (a *Adapter) currentEpoch() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.epoch
}

// applyTokens stores resp unless the session was cleared after epoch was
// read, in which case ErrSessionSuperseded is returned and nothing changes.
func (a *Adapter) applyTokens(resp *tokenResponse, epoch uint64) error {
	var issuer string
	if a.cfg.VerifySignatures {
		issuer = a.cfg.Issuer()
	}

	claims, err := parseAccessToken(resp.AccessToken, a.currentKeyFunc(), issuer)
	if err != nil {
		return ErrInvalidToken.Clone().WithMetadata(map[string]any{"error": err.Error()})
	}

	now := a.cfg.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.epoch != epoch {
		return ErrSessionSuperseded.Clone()
	}

	a.accessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		a.refreshToken = resp.RefreshToken
		a.refreshExpiry = expiresAfter(now, resp.RefreshExpiresIn)
	}
	if resp.IDToken != "" {
		a.idToken = resp.IDToken
	}
	a.claims = claims
	a.scheduleExpiry(resp.AccessToken, claims.ExpiresAt.Sub(now))
	return nil
}

// scheduleExpiry must be called with a.mu held.
func (a *Adapter) scheduleExpiry(token string, in time.Duration) {
	if a.expiryTimer != nil {
		a.expiryTimer.Stop()
	}
	if in < 0 {
		in = 0
	}
	a.expiryTimer = time.AfterFunc(in, func() {
		a.mu.RLock()
		current := a.accessToken
		cb := a.callbacks.OnTokenExpired
		a.mu.RUnlock()

		if current == token && cb != nil {
			cb()
		}
	})
}

// clearEpoch drops the local session unless it was already cleared after
// epoch was read.
func (a *Adapter) clearEpoch(epoch uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epoch == epoch {
		a.clearLocked()
	}
}

// clearLocked must be called with a.mu held.
func (a *Adapter) clearLocked() {
	a.epoch++
	a.accessToken = ""
	a.refreshToken = ""
	a.idToken = ""
	a.claims = nil
	a.refreshExpiry = time.Time{}
	if a.expiryTimer != nil {
		a.expiryTimer.Stop()
		a.expiryTimer = nil
	}
}

func (a *Adapter) prunePending(now time.Time) {
	for state, login := range a.pending {
		if now.Sub(login.issuedAt) > pendingTTL {
			delete(a.pending, state)
		}
	}
}

func (a *Adapter) tokenRequest(ctx context.Context, operation string, form url.Values) (*tokenResponse, error) {
	resp, err := a.post(ctx, a.cfg.tokenURL(), a.clientForm(form))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeTokenResponse(operation, resp)
}

func (a *Adapter) clientForm(form url.Values) url.Values {
	form.Set("client_id", a.cfg.ClientID)
	if a.cfg.ClientSecret != "" {
		form.Set("client_secret", a.cfg.ClientSecret)
	}
	return form
}

func (a *Adapter) post(ctx context.Context, endpoint string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return a.cfg.HTTPClient.Do(req)
}

func (a *Adapter) currentCallbacks() session.Callbacks {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.callbacks
}

func (a *Adapter) fireReady(authenticated bool) {
	if cb := a.currentCallbacks(); cb.OnReady != nil {
		cb.OnReady(authenticated)
	}
}

func (a *Adapter) fireAuthError(err error) {
	if cb := a.currentCallbacks(); cb.OnAuthError != nil {
		cb.OnAuthError(err)
	}
}

func (a *Adapter) fireRefreshError(err error) {
	if cb := a.currentCallbacks(); cb.OnAuthRefreshError != nil {
		cb.OnAuthRefreshError(err)
	}
}

func setIf(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}
