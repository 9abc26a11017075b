package session

import "context"

// View is the consumer read model. Token freshness is derived on every read.
type View struct {
	IsAuthenticated bool        `json:"is_authenticated"`
	IsInitialized   bool        `json:"is_initialized"`
	IsLoading       bool        `json:"is_loading"`
	User            *User       `json:"user,omitempty"`
	LastError       *Error      `json:"last_error,omitempty"`
	Token           TokenStatus `json:"token"`
}

// FacadeOption customizes a Facade.
type FacadeOption func(*Facade)

// WithFacadeAutoRefresh makes View trigger a background refresh when it sees
// a token that is expiring soon.
func WithFacadeAutoRefresh() FacadeOption {
	return func(f *Facade) {
		f.autoRefresh = true
	}
}

// Facade is the read/action surface for route guards, API clients and UIs.
type Facade struct {
	service     *Service
	autoRefresh bool
}

// NewFacade wraps service.
func NewFacade(service *Service, opts ...FacadeOption) *Facade {
	f := &Facade{service: service}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// View returns the current read model.
func (f *Facade) View() View {
	st := f.service.State()
	view := View{
		IsAuthenticated: st.IsAuthenticated,
		IsInitialized:   st.IsInitialized,
		IsLoading:       st.IsLoading,
		User:            st.User,
		LastError:       st.LastError,
		Token:           f.status(st),
	}

	if f.autoRefresh {
		f.maybeRefresh(context.Background(), st.IsAuthenticated, view.Token)
	}

	return view
}

// TokenStatus derives freshness from the current state.
func (f *Facade) TokenStatus() TokenStatus {
	return f.status(f.service.State())
}

// GetFreshToken returns a token that is valid beyond the refresh threshold,
// refreshing first when needed. Every outbound authenticated request should
// get its token here.
func (f *Facade) GetFreshToken(ctx context.Context) (string, bool) {
	st := f.service.State()
	if !st.IsAuthenticated {
		return "", false
	}

	status := f.status(st)
	if status.IsExpired || status.IsExpiringSoon {
		if !f.service.RefreshToken(ctx, f.service.thresholdSeconds()) {
			return "", false
		}
		st = f.service.State()
		if !st.IsAuthenticated {
			return "", false
		}
	}

	if !IsValid(st.AccessToken, st.TokenExpiry, f.service.Now()) {
		return "", false
	}
	return st.AccessToken, true
}

// GetAuthorizationHeader returns "Bearer <token>" built from GetFreshToken.
func (f *Facade) GetAuthorizationHeader(ctx context.Context) (string, bool) {
	token, ok := f.GetFreshToken(ctx)
	if !ok {
		return "", false
	}
	return "Bearer " + token, true
}

// MaybeRefresh starts a background refresh when the token is expiring soon but
// not yet expired. It joins any refresh already in flight.
func (f *Facade) MaybeRefresh(ctx context.Context) bool {
	st := f.service.State()
	return f.maybeRefresh(ctx, st.IsAuthenticated, f.status(st))
}

func (f *Facade) maybeRefresh(ctx context.Context, authenticated bool, status TokenStatus) bool {
	if !authenticated || !status.IsExpiringSoon || status.IsExpired {
		return false
	}
	runCtx := context.WithoutCancel(ctx)
	f.service.goBackground(func() {
		f.service.RefreshToken(runCtx, f.service.thresholdSeconds())
	})
	return true
}

func (f *Facade) status(st State) TokenStatus {
	return DeriveTokenStatus(st.AccessToken, st.TokenExpiry, f.service.Now(), f.service.Threshold())
}

func (f *Facade) Login(ctx context.Context, opts LoginOptions) error {
	return f.service.Login(ctx, opts)
}

func (f *Facade) Logout(ctx context.Context, opts LogoutOptions) error {
	return f.service.Logout(ctx, opts)
}

func (f *Facade) Register(ctx context.Context, opts RegisterOptions) error {
	return f.service.Register(ctx, opts)
}

func (f *Facade) RefreshToken(ctx context.Context, minValiditySeconds int) bool {
	return f.service.RefreshToken(ctx, minValiditySeconds)
}

func (f *Facade) HasRole(role string) bool {
	return f.service.HasRole(role)
}

func (f *Facade) HasAnyRole(roles ...string) bool {
	return f.service.HasAnyRole(roles...)
}

func (f *Facade) HasAllRoles(roles ...string) bool {
	return f.service.HasAllRoles(roles...)
}
