package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RedisConfig configures the redis-backed coordination store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Per-call timeout applied to every store operation.
	OpTimeout time.Duration

	// Pattern deletes are chunked; ScanCount keys per SCAN page,
	// DeleteRate pages per second.
	ScanCount  int64
	DeleteRate rate.Limit
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:       "127.0.0.1:6379",
		OpTimeout:  2 * time.Second,
		ScanCount:  500,
		DeleteRate: rate.Limit(20),
	}
}

// RedisStore is the production Store backed by a redis instance shared by
// all workers.
type RedisStore struct {
	logger  *zap.Logger
	client  redis.UniversalClient
	config  RedisConfig
	limiter *rate.Limiter
}

// releaseScript deletes the lock key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// NewRedisStore creates a redis-backed coordination store.
func NewRedisStore(logger *zap.Logger, config RedisConfig) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.OpTimeout == 0 {
		config.OpTimeout = DefaultRedisConfig().OpTimeout
	}
	if config.ScanCount == 0 {
		config.ScanCount = DefaultRedisConfig().ScanCount
	}
	if config.DeleteRate == 0 {
		config.DeleteRate = DefaultRedisConfig().DeleteRate
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		ReadTimeout:  config.OpTimeout,
		WriteTimeout: config.OpTimeout,
	})

	return &RedisStore{
		logger:  logger,
		client:  client,
		config:  config,
		limiter: rate.NewLimiter(config.DeleteRate, 1),
	}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.OpTimeout)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.Del(ctx, keys...).Err()
}

// DeletePattern scans for matching keys and deletes them page by page. The
// rate limiter keeps a huge match set from monopolising the store.
func (s *RedisStore) DeletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		scanCtx, cancel := s.opCtx(ctx)
		keys, next, err := s.client.Scan(scanCtx, cursor, pattern, s.config.ScanCount).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("scan %q: %w", pattern, err)
		}

		if len(keys) > 0 {
			delCtx, cancel := s.opCtx(ctx)
			err = s.client.Del(delCtx, keys...).Err()
			cancel()
			if err != nil {
				return fmt.Errorf("delete %d keys for %q: %w", len(keys), pattern, err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.TTL(ctx, key).Result()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.ZRem(ctx, key, args...).Err()
}

func (s *RedisStore) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.ZCount(ctx, key, formatScore(min), formatScore(max)).Result()
}

func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err()
}

// Lock implements the advisory named lock with a bounded wait. The lock
// value is a per-acquisition token so a release can never drop a lock that
// expired and was re-acquired by another worker.
func (s *RedisStore) Lock(ctx context.Context, key string, ttl, wait time.Duration) (func(context.Context), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := s.SetNX(ctx, key, token, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			release := func(ctx context.Context) {
				ctx, cancel := s.opCtx(ctx)
				defer cancel()
				if err := releaseScript.Run(ctx, s.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
					s.logger.Warn("lock release failed", zap.String("key", key), zap.Error(err))
				}
			}
			return release, nil
		}

		if time.Now().Add(DefaultLockBackoff).After(deadline) {
			return nil, fmt.Errorf("lock %q: %w", key, ErrLockContended)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(DefaultLockBackoff):
		}
	}
}

func formatScore(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}
