package session

import "context"

func (s *Service) callbacks() Callbacks {
	return Callbacks{
		OnReady:              s.handleReady,
		OnAuthSuccess:        s.handleAuthSuccess,
		OnAuthError:          s.handleAuthError,
		OnAuthRefreshSuccess: s.handleAuthRefreshSuccess,
		OnAuthRefreshError:   s.handleAuthRefreshError,
		OnAuthLogout:         s.handleAuthLogout,
		OnTokenExpired:       s.handleTokenExpired,
	}
}

// handleReady runs once per service, whether the adapter reports readiness
// itself or Initialize does it after the handshake returns.
func (s *Service) handleReady(authenticated bool) {
	if !s.ready.CompareAndSwap(false, true) {
		return
	}

	s.store.ApplyIdentitySnapshot(SnapshotFromAdapter(s.adapter))
	if s.store.IsAuthenticated() {
		s.phase.transition(PhaseAuthenticated)
		s.StartAutoRefresh(s.interval)
	} else {
		if authenticated {
			s.logger.Error("session adapter reported authenticated without a complete token, treating as anonymous")
		}
		s.phase.transition(PhaseAnonymous)
	}

	s.releaseInitWaiters()

	st := s.store.Snapshot()
	s.events.Emit(context.Background(), EventReady, map[string]any{
		"authenticated": st.IsAuthenticated,
		"user":          st.User,
	})
}

func (s *Service) handleAuthSuccess() {
	s.store.ApplyIdentitySnapshot(SnapshotFromAdapter(s.adapter))
	if !s.store.IsAuthenticated() {
		s.logger.Error("session adapter reported success without a complete token")
		return
	}

	s.phase.transition(PhaseAuthenticated)
	s.StartAutoRefresh(s.interval)
	s.events.Emit(context.Background(), EventAuthSuccess, map[string]any{
		"user": s.store.User(),
	})
}

func (s *Service) handleAuthError(err error) {
	e := errorFrom(CodeLoginFailed, err)
	s.store.SetError(e)
	s.events.Emit(context.Background(), EventAuthError, map[string]any{
		"operation": "login",
		"error":     e,
	})
}

// Refreshes started by the service report their own outcome; these handlers
// only cover refreshes the adapter performs on its own.
func (s *Service) handleAuthRefreshSuccess() {
	if s.refreshing.Load() {
		return
	}
	s.store.ApplyIdentitySnapshot(SnapshotFromAdapter(s.adapter))
	if s.store.IsAuthenticated() {
		s.StartAutoRefresh(s.interval)
	}
	s.events.Emit(context.Background(), EventAuthRefreshSuccess, map[string]any{
		"expires_at": s.store.Snapshot().TokenExpiry,
	})
}

func (s *Service) handleAuthRefreshError(err error) {
	if s.refreshing.Load() {
		return
	}
	e := errorFrom(CodeTokenRefreshFailed, err)
	s.store.SetError(e)
	s.events.Emit(context.Background(), EventAuthRefreshError, map[string]any{
		"error":     e,
		"retryable": e.Retryable,
	})
}

// handleAuthLogout covers provider-driven logout, e.g. a terminated SSO session.
func (s *Service) handleAuthLogout() {
	s.StopAutoRefresh()
	s.store.Reset()
	s.phase.signedOut()
	s.events.Emit(context.Background(), EventAuthLogout, map[string]any{
		"reason": "provider",
	})
}

func (s *Service) handleTokenExpired() {
	s.events.Emit(context.Background(), EventTokenExpired, map[string]any{
		"expired_at": s.store.Snapshot().TokenExpiry,
	})
	s.goBackground(func() {
		s.RefreshToken(context.Background(), s.thresholdSeconds())
	})
}
