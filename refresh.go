package session

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

const refreshKey = "refresh"

// RefreshToken asks the adapter to make sure the access token stays valid for
// at least minValiditySeconds (ForceRefresh forces a round-trip). Concurrent
// callers share a single in-flight refresh. It reports whether the session
// holds a usable token afterwards. Failures are recorded in the store and
// emitted, and never log the user out.
func (s *Service) RefreshToken(ctx context.Context, minValiditySeconds int) bool {
	if !s.store.IsAuthenticated() {
		s.metrics.RefreshCompleted(RefreshOutcomeSkipped, 0)
		return false
	}

	if s.refreshing.Load() {
		s.metrics.RefreshCoalesced()
	}

	runCtx := context.WithoutCancel(ctx)
	ch := s.refreshGroup.DoChan(refreshKey, func() (any, error) {
		return s.refresh(runCtx, minValiditySeconds), nil
	})

	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		return false
	}
}

// ForceRefreshToken always performs a refresh round-trip.
func (s *Service) ForceRefreshToken(ctx context.Context) bool {
	return s.RefreshToken(ctx, ForceRefresh)
}

func (s *Service) refresh(ctx context.Context, minValiditySeconds int) bool {
	gen := s.store.Generation()
	if !s.store.IsAuthenticated() {
		s.metrics.RefreshCompleted(RefreshOutcomeSkipped, 0)
		return false
	}

	ctx, span := startSpan(ctx, s.tracer, "session.refresh",
		attribute.Int("session.min_validity_seconds", minValiditySeconds),
	)

	s.refreshing.Store(true)
	defer s.refreshing.Store(false)

	s.phase.transition(PhaseRefreshing)
	start := time.Now()

	refreshed, err := s.adapter.UpdateToken(ctx, minValiditySeconds)
	took := time.Since(start)

	if err != nil {
		e := errorFrom(CodeTokenRefreshFailed, err)
		if s.store.setErrorAt(gen, e) {
			s.phase.transition(PhaseAuthenticated)
			s.logger.Error("session token refresh failed: %v", err)
		} else {
			s.logger.Debug("session token refresh failed after reset: %v", err)
		}
		s.metrics.RefreshCompleted(RefreshOutcomeFailed, took)
		s.events.Emit(ctx, EventAuthRefreshError, map[string]any{
			"error":     e,
			"retryable": e.Retryable,
		})
		endSpan(span, err)
		return false
	}

	if !refreshed {
		if s.store.setErrorAt(gen, nil) {
			s.phase.transition(PhaseAuthenticated)
		}
		s.metrics.RefreshCompleted(RefreshOutcomeStillValid, took)
		span.SetAttributes(attribute.Bool("session.refreshed", false))
		endSpan(span, nil)
		return s.store.IsAuthenticated()
	}

	if !s.store.applyIdentitySnapshotAt(gen, SnapshotFromAdapter(s.adapter)) {
		s.logger.Debug("session token refresh result discarded after reset")
		s.metrics.RefreshCompleted(RefreshOutcomeStale, took)
		endSpan(span, nil)
		return false
	}

	authenticated := s.store.IsAuthenticated()
	if authenticated {
		s.phase.transition(PhaseAuthenticated)
	} else {
		s.phase.signedOut()
	}

	s.metrics.RefreshCompleted(RefreshOutcomeRefreshed, took)
	s.events.Emit(ctx, EventAuthRefreshSuccess, map[string]any{
		"expires_at": s.store.Snapshot().TokenExpiry,
	})
	span.SetAttributes(attribute.Bool("session.refreshed", true))
	endSpan(span, nil)
	return authenticated
}

// StartAutoRefresh starts the periodic expiry check. A non-positive interval
// uses the configured default. Calling it while running is a no-op.
func (s *Service) StartAutoRefresh(interval time.Duration) {
	if interval <= 0 {
		interval = s.interval
	}
	if s.isClosed() {
		return
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timerStop != nil {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.timerStop = stop
	s.timerDone = done

	go s.runAutoRefresh(interval, stop, done)
}

// StopAutoRefresh stops the periodic check. Once it returns no new tick will
// start a refresh. It is idempotent.
func (s *Service) StopAutoRefresh() {
	s.timerMu.Lock()
	stop, done := s.timerStop, s.timerDone
	s.timerStop, s.timerDone = nil, nil
	s.timerMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// AutoRefreshRunning reports whether the periodic check is active.
func (s *Service) AutoRefreshRunning() bool {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	return s.timerStop != nil
}

// runAutoRefresh only decides; refreshes run on their own goroutines so the
// loop never blocks on the adapter or on event handlers.
func (s *Service) runAutoRefresh(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			if s.needsRefresh() {
				s.goBackground(func() {
					s.RefreshToken(context.Background(), s.thresholdSeconds())
				})
			}
		}
	}
}

func (s *Service) needsRefresh() bool {
	st := s.store.Snapshot()
	if !st.IsAuthenticated {
		return false
	}
	status := DeriveTokenStatus(st.AccessToken, st.TokenExpiry, s.now(), s.threshold)
	return status.IsExpiringSoon || status.IsExpired
}

func (s *Service) thresholdSeconds() int {
	return int(s.threshold / time.Second)
}
