package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	session "github.com/goliatone/go-session"
	"github.com/stretchr/testify/mock"
)

// FakeAdapter is a scriptable session.IdentityAdapter.
type FakeAdapter struct {
	mu            sync.Mutex
	callbacks     session.Callbacks
	authenticated bool
	token         string
	refreshToken  string
	claims        *session.Claims

	InitFn    func(ctx context.Context, opts session.InitOptions) (bool, error)
	UpdateFn  func(ctx context.Context, minValidity int) (bool, error)
	LoginErr  error
	LogoutErr error

	initCalls   atomic.Int32
	updateCalls atomic.Int32
	loginCalls  atomic.Int32
	logoutCalls atomic.Int32

	callbacksSetBeforeInit atomic.Bool
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{}
}

// SignIn sets the adapter view to an authenticated session.
func (f *FakeAdapter) SignIn(token string, exp time.Time, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authenticated = true
	f.token = token
	f.refreshToken = "refresh-" + token
	f.claims = &session.Claims{
		Subject:           "user-1",
		PreferredUsername: "jdoe",
		Email:             "jdoe@example.com",
		EmailVerified:     true,
		GivenName:         "Jane",
		FamilyName:        "Doe",
		RealmRoles:        roles,
		ExpiresAt:         exp,
	}
}

func (f *FakeAdapter) SignOut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authenticated = false
	f.token = ""
	f.refreshToken = ""
	f.claims = nil
}

func (f *FakeAdapter) Callbacks() session.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbacks
}

func (f *FakeAdapter) InitCalls() int   { return int(f.initCalls.Load()) }
func (f *FakeAdapter) UpdateCalls() int { return int(f.updateCalls.Load()) }
func (f *FakeAdapter) LoginCalls() int  { return int(f.loginCalls.Load()) }
func (f *FakeAdapter) LogoutCalls() int { return int(f.logoutCalls.Load()) }

func (f *FakeAdapter) SetCallbacks(cb session.Callbacks) {
	f.mu.Lock()
	f.callbacks = cb
	f.mu.Unlock()
	if f.initCalls.Load() == 0 {
		f.callbacksSetBeforeInit.Store(true)
	}
}

func (f *FakeAdapter) Init(ctx context.Context, opts session.InitOptions) (bool, error) {
	f.initCalls.Add(1)
	if f.InitFn != nil {
		return f.InitFn(ctx, opts)
	}
	authenticated := f.Authenticated()
	if cb := f.Callbacks(); cb.OnReady != nil {
		cb.OnReady(authenticated)
	}
	return authenticated, nil
}

func (f *FakeAdapter) Login(context.Context, session.LoginOptions) error {
	f.loginCalls.Add(1)
	return f.LoginErr
}

func (f *FakeAdapter) Logout(context.Context, session.LogoutOptions) error {
	f.logoutCalls.Add(1)
	f.SignOut()
	return f.LogoutErr
}

func (f *FakeAdapter) Register(context.Context, session.RegisterOptions) error {
	f.loginCalls.Add(1)
	return f.LoginErr
}

func (f *FakeAdapter) UpdateToken(ctx context.Context, minValidity int) (bool, error) {
	f.updateCalls.Add(1)
	if f.UpdateFn != nil {
		return f.UpdateFn(ctx, minValidity)
	}
	return false, nil
}

func (f *FakeAdapter) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *FakeAdapter) RefreshToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshToken
}

func (f *FakeAdapter) RefreshExpiry() time.Time {
	return time.Time{}
}

func (f *FakeAdapter) Claims() *session.Claims {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claims == nil {
		return nil
	}
	c := *f.claims
	return &c
}

func (f *FakeAdapter) Authenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated
}

func (f *FakeAdapter) HasRealmRole(role string) bool {
	c := f.Claims()
	if c == nil {
		return false
	}
	return session.NewRoleSet(c.RealmRoles...).Has(role)
}

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// MockStorage implements session.Storage.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Load(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockStorage) Save(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

// MockMetrics implements session.Metrics.
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RefreshCompleted(outcome string, took time.Duration) {
	m.Called(outcome, took)
}

func (m *MockMetrics) RefreshCoalesced() {
	m.Called()
}

func (m *MockMetrics) EventEmitted(name session.EventName) {
	m.Called(name)
}

func (m *MockMetrics) HandlerFailed(name session.EventName) {
	m.Called(name)
}

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(adapter session.IdentityAdapter, opts ...session.Option) (*session.Service, error) {
	base := []session.Option{
		session.WithLogger(session.NoopLogger()),
		session.WithStore(session.NewStore(session.WithStoreLogger(session.NoopLogger()))),
	}
	return session.NewService(adapter, append(base, opts...)...)
}
