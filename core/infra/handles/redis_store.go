package handles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	defaultTTL      = 2 * time.Minute
	opTimeout       = 2 * time.Second
	handlePrefix    = "hnd:"
	typePrefix      = "hnd:type:"
)

// RedisStore implements Store using Redis. The TTL is a backstop only:
// the normal lifecycle is a single Take shortly after Put.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a handle store backed by Redis. A ttl of zero
// selects the default backstop.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	if url == "" {
		url = defaultRedisURL
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key := handlePrefix + uuid.NewString()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	if contentType != "" {
		pipe.Set(ctx, typePrefix+key, contentType, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return PointerForKey(key), nil
}

func (s *RedisStore) Take(ctx context.Context, ptr string) ([]byte, string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := KeyFromPointer(ptr)
	if err != nil {
		return nil, "", err
	}
	data, err := s.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	contentType, err := s.client.GetDel(ctx, typePrefix+key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, "", err
	}
	return data, contentType, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
