package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshInterval is how often the auto refresh timer checks the token.
	DefaultRefreshInterval = 10 * time.Second
	// DefaultRefreshThreshold is how long before expiry a token counts as expiring soon.
	DefaultRefreshThreshold = 30 * time.Second
)

// Option customizes Service construction.
type Option func(*Service)

// WithLogger overrides the service logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRefreshThreshold sets the expiring-soon threshold.
func WithRefreshThreshold(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.threshold = d
		}
	}
}

// WithRefreshInterval sets the default auto refresh interval.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithStore uses a pre-built store, e.g. one backed by durable storage.
func WithStore(store *Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		s.metrics = normalizeMetrics(m)
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithInitOptions sets the options passed to the adapter handshake.
func WithInitOptions(opts InitOptions) Option {
	return func(s *Service) {
		s.initOpts = opts
	}
}

// Service orchestrates the session lifecycle against an IdentityAdapter and
// writes every outcome into its Store.
type Service struct {
	adapter  IdentityAdapter
	store    *Store
	events   *EventBus
	phase    *phaseMachine
	logger   Logger
	metrics  Metrics
	tracer   trace.Tracer
	now      func() time.Time
	initOpts InitOptions

	threshold time.Duration
	interval  time.Duration

	initMu      sync.Mutex
	initStarted bool
	initDone    chan struct{}
	initClose   sync.Once
	ready       atomic.Bool

	refreshGroup singleflight.Group
	refreshing   atomic.Bool

	timerMu   sync.Mutex
	timerStop chan struct{}
	timerDone chan struct{}

	bgMu   sync.Mutex
	bg     sync.WaitGroup
	closed bool
}

// NewService wires a service around adapter.
func NewService(adapter IdentityAdapter, opts ...Option) (*Service, error) {
	if adapter == nil {
		return nil, ErrAdapterRequired
	}

	s := &Service{
		adapter:   adapter,
		logger:    defLogger{},
		metrics:   noopMetrics{},
		tracer:    defaultTracer(),
		now:       time.Now,
		threshold: DefaultRefreshThreshold,
		interval:  DefaultRefreshInterval,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.store == nil {
		s.store = NewStore(WithStoreLogger(s.logger))
	}
	s.events = NewEventBus(s.logger, s.metrics, s.now)
	s.phase = newPhaseMachine(s.logger)

	return s, nil
}

// Initialize runs the provider handshake exactly once per Service. Later or
// concurrent calls wait for that handshake and return. Handshake failures are
// recorded as INIT_FAILED and never returned: the session just stays anonymous.
func (s *Service) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	if s.initStarted {
		done := s.initDone
		s.initMu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.initStarted = true
	s.initDone = make(chan struct{})
	s.initMu.Unlock()

	defer s.releaseInitWaiters()

	ctx, span := startSpan(ctx, s.tracer, "session.initialize")

	s.phase.transition(PhaseInitializing)
	s.adapter.SetCallbacks(s.callbacks())

	authenticated, err := s.adapter.Init(ctx, s.initOpts)
	if err != nil {
		e := errorFrom(CodeInitFailed, err)
		s.logger.Error("session initialization failed: %v", err)
		s.ready.Store(true)
		s.store.ApplyIdentitySnapshot(IdentitySnapshot{Err: e})
		s.phase.transition(PhaseAnonymous)
		s.releaseInitWaiters()
		s.events.Emit(ctx, EventInitError, map[string]any{
			"error":     e,
			"retryable": e.Retryable,
		})
		endSpan(span, err)
		return nil
	}

	s.handleReady(authenticated)
	span.SetAttributes(attribute.Bool("session.authenticated", s.store.IsAuthenticated()))
	endSpan(span, nil)
	return nil
}

// releaseInitWaiters unblocks callers waiting in Initialize. It runs before
// the ready and init error events so their handlers may call Initialize.
func (s *Service) releaseInitWaiters() {
	s.initMu.Lock()
	done := s.initDone
	s.initMu.Unlock()
	if done == nil {
		return
	}
	s.initClose.Do(func() { close(done) })
}

// Login delegates to the adapter. Failures are recorded and returned.
func (s *Service) Login(ctx context.Context, opts LoginOptions) error {
	ctx, span := startSpan(ctx, s.tracer, "session.login")
	err := s.detached(ctx, func(ctx context.Context) error {
		return s.delegate(ctx, "login", CodeLoginFailed, func(ctx context.Context) error {
			return s.adapter.Login(ctx, opts)
		})
	})
	endSpan(span, err)
	return err
}

// Register delegates to the adapter. Failures are recorded and returned.
func (s *Service) Register(ctx context.Context, opts RegisterOptions) error {
	ctx, span := startSpan(ctx, s.tracer, "session.register")
	err := s.detached(ctx, func(ctx context.Context) error {
		return s.delegate(ctx, "register", CodeLoginFailed, func(ctx context.Context) error {
			return s.adapter.Register(ctx, opts)
		})
	})
	endSpan(span, err)
	return err
}

// Logout stops the refresh timer and resets the store before delegating, so
// a slow or failing provider logout never leaves the session authenticated.
func (s *Service) Logout(ctx context.Context, opts LogoutOptions) error {
	ctx, span := startSpan(ctx, s.tracer, "session.logout")

	wasAuthenticated := s.store.IsAuthenticated()
	s.StopAutoRefresh()
	s.store.Reset()
	s.phase.signedOut()
	s.events.Emit(ctx, EventAuthLogout, map[string]any{
		"reason":            "user",
		"was_authenticated": wasAuthenticated,
	})

	err := s.detached(ctx, func(ctx context.Context) error {
		return s.delegate(ctx, "logout", CodeLogoutFailed, func(ctx context.Context) error {
			return s.adapter.Logout(ctx, opts)
		})
	})
	endSpan(span, err)
	return err
}

// HasRole is false when unauthenticated.
func (s *Service) HasRole(role string) bool {
	roles, ok := s.roles()
	return ok && roles.Has(role)
}

// HasAnyRole is false when unauthenticated or roles is empty.
func (s *Service) HasAnyRole(roles ...string) bool {
	set, ok := s.roles()
	return ok && set.HasAny(roles...)
}

// HasAllRoles is false when unauthenticated.
func (s *Service) HasAllRoles(roles ...string) bool {
	set, ok := s.roles()
	return ok && set.HasAll(roles...)
}

func (s *Service) roles() (RoleSet, bool) {
	st := s.store.Snapshot()
	if !st.IsAuthenticated || st.User == nil {
		return nil, false
	}
	return st.User.Roles, true
}

// On subscribes handler to the named lifecycle event.
func (s *Service) On(name EventName, handler EventHandler) func() {
	return s.events.On(name, handler)
}

// State returns a consistent snapshot of the session.
func (s *Service) State() State {
	return s.store.Snapshot()
}

// Store exposes the underlying store for read-only consumers.
func (s *Service) Store() *Store {
	return s.store
}

// Phase returns the coarse state machine position.
func (s *Service) Phase() Phase {
	return s.phase.Current()
}

// Restored returns the projection persisted by a previous process.
func (s *Service) Restored() (PersistedSession, bool) {
	return s.store.Restored()
}

// Threshold is the expiring-soon threshold used by refresh checks.
func (s *Service) Threshold() time.Duration {
	return s.threshold
}

// Now reads the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// TokenInfo derives token details from the adapter. It is never persisted.
func (s *Service) TokenInfo() (TokenInfo, bool) {
	if !s.adapter.Authenticated() {
		return TokenInfo{}, false
	}
	info := TokenInfo{
		AccessToken:      s.adapter.Token(),
		RefreshToken:     s.adapter.RefreshToken(),
		RefreshExpiresAt: s.adapter.RefreshExpiry(),
	}
	if c := s.adapter.Claims(); c != nil {
		info.ExpiresAt = c.ExpiresAt
	}
	return info, true
}

// Close stops the refresh timer and waits for background work to finish.
func (s *Service) Close() error {
	s.bgMu.Lock()
	s.closed = true
	s.bgMu.Unlock()

	s.StopAutoRefresh()
	s.bg.Wait()
	return nil
}

func (s *Service) delegate(ctx context.Context, operation string, code ErrorCode, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		e := errorFrom(code, err)
		s.store.SetError(e)
		s.logger.Error("session %s failed: %v", operation, err)
		s.events.Emit(ctx, EventAuthError, map[string]any{
			"operation": operation,
			"error":     e,
		})
		return wrapError(sentinelByCode[code], err, map[string]any{"operation": operation})
	}
	s.store.SetError(nil)
	return nil
}

// detached runs fn to completion even if ctx is cancelled; the caller may
// stop waiting but the store still receives the outcome.
func (s *Service) detached(ctx context.Context, fn func(context.Context) error) error {
	result := make(chan error, 1)
	runCtx := context.WithoutCancel(ctx)
	go func() {
		result <- fn(runCtx)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) isClosed() bool {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	return s.closed
}

func (s *Service) goBackground(fn func()) {
	s.bgMu.Lock()
	if s.closed {
		s.bgMu.Unlock()
		return
	}
	s.bg.Add(1)
	s.bgMu.Unlock()

	go func() {
		defer s.bg.Done()
		fn()
	}()
}
