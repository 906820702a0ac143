package redisstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rzbill/flojobs/internal/store"
	"github.com/rzbill/flojobs/pkg/log"
)

// Options configures a Redis-backed store.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	PoolSize int
	// DialTimeout defaults to 5s.
	DialTimeout time.Duration
	// MaxTxRetries bounds optimistic WATCH retries. Defaults to 16.
	MaxTxRetries int
	// Observer receives per-command timings. Optional.
	Observer CommandObserver
	Logger   log.Logger
}

// Store implements store.Store on a go-redis client.
type Store struct {
	client     redis.UniversalClient
	maxRetries int
	logger     log.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to Redis and verifies the connection with PING.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Addr == "" {
		return nil, store.InvalidArgument("addr", "must not be empty")
	}
	dial := opts.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Username:    opts.Username,
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: dial,
	})
	s := New(client, opts)
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: connect %s: %w", opts.Addr, err)
	}
	s.logger.Info("connected to redis", log.Str("addr", opts.Addr), log.Int("db", opts.DB))
	return s, nil
}

// New wraps an existing client. Only Options.MaxTxRetries, Observer and
// Logger are used.
func New(client redis.UniversalClient, opts Options) *Store {
	retries := opts.MaxTxRetries
	if retries <= 0 {
		retries = 16
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.WarnLevel))
	}
	if opts.Observer != nil {
		client.AddHook(newObserverHook(opts.Observer))
	}
	return &Store{client: client, maxRetries: retries, logger: logger.WithComponent("redisstore")}
}

// Client exposes the underlying client.
func (s *Store) Client() redis.UniversalClient { return s.client }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *Store) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	return s.compareAnd(ctx, key, expected, func(p redis.Pipeliner) {
		p.Del(ctx, key)
	})
}

func (s *Store) CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	return s.compareAnd(ctx, key, expected, func(p redis.Pipeliner) {
		p.PExpire(ctx, key, ttl)
	})
}

// compareAnd applies op inside MULTI only if key still holds expected when
// EXEC runs.
func (s *Store) compareAnd(ctx context.Context, key, expected string, op func(redis.Pipeliner)) (bool, error) {
	var applied bool
	txf := func(tx *redis.Tx) error {
		applied = false
		v, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if v != expected {
			return nil
		}
		if _, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			op(p)
			return nil
		}); err != nil {
			return err
		}
		applied = true
		return nil
	}
	return applied, s.watch(ctx, txf, key)
}

func (s *Store) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return store.Canceled(ctx)
		}
	}
	return store.ErrTxConflict
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// -1 (no expiry) and -2 (missing) are both reported raw by go-redis.
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.PExpire(ctx, key, ttl).Err()
}

func (s *Store) RightPopLeftPush(ctx context.Context, src, dst string) (string, bool, error) {
	v, err := s.client.RPopLPush(ctx, src, dst).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *Store) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) HashSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return s.client.HSet(ctx, key, hashArgs(values)).Err()
}

func (s *Store) HashSetIfExists(ctx context.Context, key string, values map[string]string) (bool, error) {
	var applied bool
	txf := func(tx *redis.Tx) error {
		applied = false
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, hashArgs(values))
			return nil
		}); err != nil {
			return err
		}
		applied = true
		return nil
	}
	return applied, s.watch(ctx, txf, key)
}

func (s *Store) HashLen(ctx context.Context, key string) (int64, error) {
	return s.client.HLen(ctx, key).Result()
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

func (s *Store) SetCard(ctx context.Context, key string) (int64, error) {
	return s.client.SCard(ctx, key).Result()
}

func (s *Store) SortedSetRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.ZRange(ctx, key, start, stop).Result()
}

func (s *Store) SortedSetRangeByScore(ctx context.Context, key string, min, max float64, offset, count int64) ([]string, error) {
	by := &redis.ZRangeBy{Min: formatScore(min), Max: formatScore(max)}
	if count > 0 {
		by.Offset = offset
		by.Count = count
	}
	return s.client.ZRangeByScore(ctx, key, by).Result()
}

func (s *Store) SortedSetCard(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, key).Result()
}

func (s *Store) Publish(ctx context.Context, channel, message string) error {
	return s.client.Publish(ctx, channel, message).Err()
}

func hashArgs(values map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func formatScore(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
