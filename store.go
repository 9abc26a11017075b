package session

import (
	"context"
	"sync"
	"time"
)

// StoreOption customizes Store construction.
type StoreOption func(*Store)

// WithStorage sets the durable backend for the persisted projection.
func WithStorage(storage Storage) StoreOption {
	return func(s *Store) {
		s.storage = storage
	}
}

// WithStorageKey overrides DefaultStorageKey.
func WithStorageKey(key string) StoreOption {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithStoreLogger overrides the logger used for persistence failures.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPersistTimeout bounds each storage read/write.
func WithPersistTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// Store holds the session State. All mutations are serialized and each one
// replaces the whole state, so readers only ever see committed snapshots.
type Store struct {
	mu         sync.RWMutex
	state      State
	seq        uint64
	generation uint64

	storage        Storage
	key            string
	persistTimeout time.Duration
	persistMu      sync.Mutex
	persistedSeq   uint64

	restored    PersistedSession
	hasRestored bool

	logger Logger

	subMu   sync.Mutex
	subs    map[uint64]func(State)
	nextSub uint64

	// notifyQ holds committed snapshots in commit order until delivered.
	notifyMu  sync.Mutex
	notifyQ   []State
	notifying bool
}

// NewStore builds a store with default state and reads the persisted
// projection once. Read failures are treated as no prior session.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		state:          DefaultState(),
		storage:        NewMemoryStorage(),
		key:            DefaultStorageKey,
		persistTimeout: 2 * time.Second,
		logger:         defLogger{},
		subs:           map[uint64]func(State){},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.load()
	return s
}

func (s *Store) load() {
	if s.storage == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	data, err := s.storage.Load(ctx, s.key)
	if err != nil {
		s.logger.Error("session store could not read %q, starting without prior session: %v", s.key, err)
		return
	}

	if p, ok := decodeProjection(data); ok {
		s.restored = p
		s.hasRestored = true
	} else if len(data) > 0 {
		s.logger.Error("session store found a corrupt blob under %q, ignoring it", s.key)
	}
}

// Restored returns the projection read at construction. It is a hint about
// the previous process (e.g. who was signed in), not an authenticated session:
// tokens always come from the identity adapter.
func (s *Store) Restored() (PersistedSession, bool) {
	return PersistedSession{
		IsAuthenticated: s.restored.IsAuthenticated,
		User:            s.restored.User.clone(),
	}, s.hasRestored
}

// Snapshot returns a consistent copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsAuthenticated
}

func (s *Store) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.User.clone()
}

func (s *Store) LastError() *Error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LastError.clone()
}

// Generation changes every time the store is reset. Work started under an
// older generation must not write its results back.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// SetAuthenticated flips the flag. Turning it on is only allowed when user and
// token fields are already populated.
func (s *Store) SetAuthenticated(v bool) error {
	return s.mutate(func(st *State) error {
		if !v {
			*st = s.unauthenticated(st)
			return nil
		}
		st.IsAuthenticated = true
		return nil
	})
}

// SetUser replaces the user. Clearing it while authenticated is rejected.
func (s *Store) SetUser(u *User) error {
	return s.mutate(func(st *State) error {
		st.User = u.clone()
		return nil
	})
}

func (s *Store) SetLoading(v bool) {
	_ = s.mutate(func(st *State) error {
		st.IsLoading = v
		return nil
	})
}

// SetError replaces the active error; nil clears it.
func (s *Store) SetError(e *Error) {
	_ = s.mutate(func(st *State) error {
		st.LastError = e.clone()
		return nil
	})
}

// SetInitialized always ends loading. Initialization is monotonic, so false
// is ignored once the flag is set.
func (s *Store) SetInitialized(v bool) {
	_ = s.mutate(func(st *State) error {
		st.IsInitialized = st.IsInitialized || v
		st.IsLoading = false
		return nil
	})
}

// Reset restores the default state, keeping IsInitialized.
func (s *Store) Reset() {
	_ = s.mutate(func(st *State) error {
		*st = s.unauthenticated(st)
		s.generation++
		return nil
	})
}

// ApplyIdentitySnapshot replaces the whole authentication tuple in one step.
// Incomplete authenticated snapshots are applied as unauthenticated.
func (s *Store) ApplyIdentitySnapshot(snap IdentitySnapshot) {
	_ = s.mutate(func(st *State) error {
		*st = stateFromSnapshot(snap)
		return nil
	})
}

// applyIdentitySnapshotAt applies snap only when no reset happened since gen.
func (s *Store) applyIdentitySnapshotAt(gen uint64, snap IdentitySnapshot) bool {
	applied := false
	_ = s.mutate(func(st *State) error {
		if s.generation != gen {
			return errStaleGeneration
		}
		*st = stateFromSnapshot(snap)
		applied = true
		return nil
	})
	return applied
}

// setErrorAt records e only when no reset happened since gen.
func (s *Store) setErrorAt(gen uint64, e *Error) bool {
	applied := false
	_ = s.mutate(func(st *State) error {
		if s.generation != gen {
			return errStaleGeneration
		}
		st.LastError = e.clone()
		applied = true
		return nil
	})
	return applied
}

// Subscribe registers fn to receive a snapshot after every committed mutation.
// Snapshots are delivered one at a time in commit order. When mutations race,
// a snapshot may be delivered by whichever goroutine is already draining the
// queue, after the mutating call has returned.
func (s *Store) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) unauthenticated(current *State) State {
	initialized := current.IsInitialized
	return State{
		IsInitialized: initialized,
		IsLoading:     !initialized,
	}
}

func (s *Store) mutate(fn func(st *State) error) error {
	s.mu.Lock()
	next := s.state.clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	if !next.consistent() {
		s.mu.Unlock()
		return ErrInvalidStateMutation.Clone().WithMetadata(map[string]any{
			"reason": "authenticated state requires user, access token and expiry",
		})
	}
	s.state = next
	s.seq++
	seq := s.seq
	committed := next.clone()
	s.enqueue(committed)
	s.mu.Unlock()

	s.persist(seq, committed)
	s.drain()
	return nil
}

// enqueue must be called with s.mu held so the queue follows commit order.
func (s *Store) enqueue(st State) {
	s.notifyMu.Lock()
	s.notifyQ = append(s.notifyQ, st)
	s.notifyMu.Unlock()
}

// drain delivers queued snapshots unless another goroutine is already doing
// so. Subscribers that mutate the store only append to the queue.
func (s *Store) drain() {
	s.notifyMu.Lock()
	if s.notifying {
		s.notifyMu.Unlock()
		return
	}
	s.notifying = true

	for len(s.notifyQ) > 0 {
		st := s.notifyQ[0]
		s.notifyQ[0] = State{}
		s.notifyQ = s.notifyQ[1:]
		s.notifyMu.Unlock()

		s.notify(st)

		s.notifyMu.Lock()
	}

	s.notifying = false
	s.notifyMu.Unlock()
}

func (s *Store) persist(seq uint64, st State) {
	if s.storage == nil {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if seq <= s.persistedSeq {
		return
	}
	s.persistedSeq = seq

	data, err := encodeProjection(projectionOf(st))
	if err != nil {
		s.logger.Error("session store could not encode projection: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	if err := s.storage.Save(ctx, s.key, data); err != nil {
		s.logger.Error("session store could not persist %q: %v", s.key, err)
	}
}

func (s *Store) notify(st State) {
	s.subMu.Lock()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		s.safeNotify(fn, st.clone())
	}
}

func (s *Store) safeNotify(fn func(State), st State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session store subscriber panicked: %v", r)
		}
	}()
	fn(st)
}
