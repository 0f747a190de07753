package blu

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisOpTimeout     = 3 * time.Second
	defaultRedisPrefix = "blu:"
)

// RedisStore is a Store backed by Redis, for deployments where several
// client instances share session state. Key changes are published on a
// pub/sub channel, so Subscribe also observes writes from other processes.
//
// The Store contract is synchronous and error-free; Redis failures are
// logged and reads degrade to "absent".
type RedisStore struct {
	rdb     *redis.Client
	prefix  string
	channel string
	logger  *slog.Logger
}

type RedisStoreOption func(*RedisStore)

// WithRedisPrefix overrides the key prefix (default "blu:").
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
		s.channel = prefix + "changes"
	}
}

// WithRedisLogger attaches a logger for degraded-mode diagnostics.
func WithRedisLogger(logger *slog.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(rdb *redis.Client, opts ...RedisStoreOption) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	s := &RedisStore{
		rdb:     rdb,
		prefix:  defaultRedisPrefix,
		channel: defaultRedisPrefix + "changes",
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RedisStore) Get(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	v, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("redis get failed", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

func (s *RedisStore) Set(key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		s.logger.Warn("redis set failed", "key", key, "error", err)
		return
	}
	s.publish(ctx, key)
}

func (s *RedisStore) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		s.logger.Warn("redis del failed", "key", key, "error", err)
		return
	}
	s.publish(ctx, key)
}

// Subscribe listens on the change channel. The callback fires for writes
// from this process and from any other process sharing the prefix.
func (s *RedisStore) Subscribe(fn func(key string)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.rdb.Subscribe(ctx, s.channel)

	go func() {
		ch := pubsub.Channel()
		for msg := range ch {
			fn(msg.Payload)
		}
	}()

	return func() {
		cancel()
		if err := pubsub.Close(); err != nil {
			s.logger.Warn("redis unsubscribe failed", "error", err)
		}
	}
}

func (s *RedisStore) publish(ctx context.Context, key string) {
	if err := s.rdb.Publish(ctx, s.channel, key).Err(); err != nil {
		s.logger.Warn("redis publish failed", "key", key, "error", err)
	}
}
