package storage

import (
	"context"
	"errors"
	"time"

	session "github.com/goliatone/go-session"
	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps the projection under Prefix+key.
type RedisStorage struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

var _ session.Storage = (*RedisStorage)(nil)

// RedisOption customizes RedisStorage.
type RedisOption func(*RedisStorage)

// WithKeyPrefix namespaces keys, e.g. per application.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStorage) {
		s.prefix = prefix
	}
}

// WithTTL expires the blob when it is not rewritten in time. Zero keeps it.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStorage) {
		s.ttl = ttl
	}
}

// NewRedisStorage wraps any go-redis client (single node, cluster or ring).
func NewRedisStorage(client redis.Cmdable, opts ...RedisOption) *RedisStorage {
	s := &RedisStorage{client: client, prefix: "session:"}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStorage) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (s *RedisStorage) Save(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, s.prefix+key, data, s.ttl).Err()
}
