package storage

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/kimhsiao/gatesync/internal/errors"
)

// RedisStore keeps keys in Redis under a prefix, so several gate lanes can share one
// session and one offline queue.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// Connect initializes a Redis client from a redis:// URL or a host:port address.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalid, "parse redis url", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Persistence("ping redis", err)
	}
	return client, nil
}

// NewRedisStore wraps client. Keys are stored as prefix+key; an empty prefix defaults to "gatesync:".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gatesync:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Persistence("redis get "+key, err)
	}
	return raw, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return errors.Persistence("redis set "+key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return errors.Persistence("redis del "+key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
