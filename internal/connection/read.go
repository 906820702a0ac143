package connection

import (
	"context"
	"time"

	"github.com/rzbill/flojobs/internal/store"
)

// The accessors below take facade key names, which are scoped under the
// namespace prefix. Missing keys read as empty values. "Sets" are sorted
// sets ordered by score.

func (c *Connection) GetAllItemsFromSet(ctx context.Context, key string) ([]string, error) {
	if key == "" {
		return nil, store.InvalidArgument("key", "must not be empty")
	}
	return c.store.SortedSetRange(ctx, c.keys.Key(key), 0, -1)
}

// GetRangeFromSet returns members by rank; start and end are inclusive.
func (c *Connection) GetRangeFromSet(ctx context.Context, key string, start, end int64) ([]string, error) {
	if key == "" {
		return nil, store.InvalidArgument("key", "must not be empty")
	}
	return c.store.SortedSetRange(ctx, c.keys.Key(key), start, end)
}

// GetFirstByLowestScoreFromSet returns the lowest scored member with a
// score in [from, to], or "" when there is none.
func (c *Connection) GetFirstByLowestScoreFromSet(ctx context.Context, key string, from, to float64) (string, error) {
	items, err := c.GetFirstNByLowestScoreFromSet(ctx, key, from, to, 1)
	if err != nil || len(items) == 0 {
		return "", err
	}
	return items[0], nil
}

// GetFirstNByLowestScoreFromSet is GetFirstByLowestScoreFromSet for up to
// count members.
func (c *Connection) GetFirstNByLowestScoreFromSet(ctx context.Context, key string, from, to float64, count int64) ([]string, error) {
	if key == "" {
		return nil, store.InvalidArgument("key", "must not be empty")
	}
	if count <= 0 {
		return nil, store.InvalidArgument("count", "must be positive")
	}
	if from > to {
		return nil, store.InvalidArgument("from", "must not exceed to")
	}
	return c.store.SortedSetRangeByScore(ctx, c.keys.Key(key), from, to, 0, count)
}

func (c *Connection) GetSetCount(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, store.InvalidArgument("key", "must not be empty")
	}
	return c.store.SortedSetCard(ctx, c.keys.Key(key))
}

func (c *Connection) GetSetTTL(ctx context.Context, key string) (time.Duration, error) {
	return c.ttl(ctx, key)
}

func (c *Connection) GetAllEntriesFromHash(ctx context.Context, key string) (map[string]string, error) {
	if key == "" {
		return nil, store.InvalidArgument("key", "must not be empty")
	}
	return c.store.HashGetAll(ctx, c.keys.Key(key))
}

func (c *Connection) GetValueFromHash(ctx context.Context, key, name string) (string, error) {
	if key == "" {
		return "", store.InvalidArgument("key", "must not be empty")
	}
	if name == "" {
		return "", store.InvalidArgument("name", "must not be empty")
	}
	v, _, err := c.store.HashGet(ctx, c.keys.Key(key), name)
	return v, err
}

func (c *Connection) GetHashCount(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, store.InvalidArgument("key", "must not be empty")
	}
	return c.store.HashLen(ctx, c.keys.Key(key))
}

func (c *Connection) GetHashTTL(ctx context.Context, key string) (time.Duration, error) {
	return c.ttl(ctx, key)
}

func (c *Connection) GetAllItemsFromList(ctx context.Context, key string) ([]string, error) {
	return c.GetRangeFromList(ctx, key, 0, -1)
}

// GetRangeFromList returns items from the head; start and end are
// inclusive.
func (c *Connection) GetRangeFromList(ctx context.Context, key string, start, end int64) ([]string, error) {
	if key == "" {
		return nil, store.InvalidArgument("key", "must not be empty")
	}
	return c.store.ListRange(ctx, c.keys.Key(key), start, end)
}

func (c *Connection) GetListCount(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, store.InvalidArgument("key", "must not be empty")
	}
	return c.store.ListLen(ctx, c.keys.Key(key))
}

func (c *Connection) GetListTTL(ctx context.Context, key string) (time.Duration, error) {
	return c.ttl(ctx, key)
}

// ttl reports zero for missing keys and keys without expiry.
func (c *Connection) ttl(ctx context.Context, key string) (time.Duration, error) {
	if key == "" {
		return 0, store.InvalidArgument("key", "must not be empty")
	}
	d, err := c.store.TTL(ctx, c.keys.Key(key))
	if err != nil || d < 0 {
		return 0, err
	}
	return d, nil
}
