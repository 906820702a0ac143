package store

import (
	"context"
	"time"
)

// Store is the set of key-value primitives the job storage is built on.
// Implementations must make every method atomic with respect to the keys it
// touches. Missing keys read as empty values, never as errors.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	// Get returns the string value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetNX sets key to value with the given expiry only if key is absent.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only if it currently holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// CompareAndExpire resets the expiry of key only if it holds expected.
	CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	// TTL returns the remaining time to live. Missing keys and keys without
	// an expiry both report zero.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// RightPopLeftPush pops the tail of src and pushes it onto the head of
	// dst as one operation. ok is false when src is empty.
	RightPopLeftPush(ctx context.Context, src, dst string) (value string, ok bool, err error)
	// ListRange uses inclusive, possibly negative, indices.
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ListLen(ctx context.Context, key string) (int64, error)

	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashGet(ctx context.Context, key, field string) (string, bool, error)
	HashSet(ctx context.Context, key string, values map[string]string) error
	// HashSetIfExists writes values only when the hash already exists.
	HashSetIfExists(ctx context.Context, key string, values map[string]string) (bool, error)
	HashLen(ctx context.Context, key string) (int64, error)

	SetMembers(ctx context.Context, key string) ([]string, error)
	SetCard(ctx context.Context, key string) (int64, error)

	// SortedSetRange returns members by rank, lowest score first.
	SortedSetRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// SortedSetRangeByScore returns members with min <= score <= max. A
	// count <= 0 means no limit.
	SortedSetRangeByScore(ctx context.Context, key string, min, max float64, offset, count int64) ([]string, error)
	SortedSetCard(ctx context.Context, key string) (int64, error)

	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Tx runs fn to collect mutations and commits them as one atomic unit.
	// Nothing is applied if fn returns an error.
	Tx(ctx context.Context, fn func(Tx) error) error
}

// Tx collects mutations for a single atomic commit. Reads are not available
// inside a transaction.
type Tx interface {
	HashSet(key string, values map[string]string)
	HashDelete(key string, fields ...string)
	ListLeftPush(key string, values ...string)
	ListRightPush(key string, values ...string)
	// ListRemove removes up to count occurrences of value: count > 0 from
	// the head, count < 0 from the tail, 0 for all.
	ListRemove(key string, count int64, value string)
	ListTrim(key string, start, stop int64)
	SetAdd(key string, members ...string)
	SetRemove(key string, members ...string)
	SortedSetAdd(key string, score float64, member string)
	SortedSetRemove(key string, members ...string)
	IncrBy(key string, delta int64)
	Delete(keys ...string)
	Expire(key string, ttl time.Duration)
	Persist(key string)
	// Publish is delivered once the transaction has committed.
	Publish(channel, message string)
}

// Subscription delivers messages published on one channel.
type Subscription interface {
	Messages() <-chan string
	Close() error
}
