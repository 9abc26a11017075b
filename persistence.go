package session

import (
	"context"
	"encoding/json"
	"sync"
)

// DefaultStorageKey is the durable key the persisted projection is stored under.
const DefaultStorageKey = "auth-storage"

// Storage reads and writes named blobs. Implementations live in the storage
// package; MemoryStorage is the default.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// PersistedSession is the only part of the session that survives a reload.
// Tokens are never part of it.
type PersistedSession struct {
	IsAuthenticated bool  `json:"isAuthenticated"`
	User            *User `json:"user"`
}

func projectionOf(s State) PersistedSession {
	return PersistedSession{
		IsAuthenticated: s.IsAuthenticated,
		User:            s.User.clone(),
	}
}

func encodeProjection(p PersistedSession) ([]byte, error) {
	return json.Marshal(p)
}

// decodeProjection treats empty or corrupt blobs as no prior session.
func decodeProjection(data []byte) (PersistedSession, bool) {
	if len(data) == 0 {
		return PersistedSession{}, false
	}
	var p PersistedSession
	if err := json.Unmarshal(data, &p); err != nil {
		return PersistedSession{}, false
	}
	if p.IsAuthenticated && p.User == nil {
		return PersistedSession{}, false
	}
	return p, true
}

// MemoryStorage keeps blobs in process memory.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: map[string][]byte{}}
}

func (m *MemoryStorage) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryStorage) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[key] = buf
	return nil
}
