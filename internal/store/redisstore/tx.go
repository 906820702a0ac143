package redisstore

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rzbill/flojobs/internal/store"
)

// tx queues commands and replays them inside MULTI/EXEC.
type tx struct {
	ctx context.Context
	ops []func(redis.Pipeliner)
}

func (t *tx) HashSet(key string, values map[string]string) {
	if len(values) == 0 {
		return
	}
	args := hashArgs(values)
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.HSet(t.ctx, key, args) })
}

func (t *tx) HashDelete(key string, fields ...string) {
	if len(fields) == 0 {
		return
	}
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.HDel(t.ctx, key, fields...) })
}

func (t *tx) ListLeftPush(key string, values ...string) {
	if len(values) == 0 {
		return
	}
	args := toArgs(values)
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.LPush(t.ctx, key, args...) })
}

func (t *tx) ListRightPush(key string, values ...string) {
	if len(values) == 0 {
		return
	}
	args := toArgs(values)
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.RPush(t.ctx, key, args...) })
}

func (t *tx) ListRemove(key string, count int64, value string) {
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.LRem(t.ctx, key, count, value) })
}

func (t *tx) ListTrim(key string, start, stop int64) {
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.LTrim(t.ctx, key, start, stop) })
}

func (t *tx) SetAdd(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := toArgs(members)
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.SAdd(t.ctx, key, args...) })
}

func (t *tx) SetRemove(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := toArgs(members)
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.SRem(t.ctx, key, args...) })
}

func (t *tx) SortedSetAdd(key string, score float64, member string) {
	t.ops = append(t.ops, func(p redis.Pipeliner) {
		p.ZAdd(t.ctx, key, &redis.Z{Score: score, Member: member})
	})
}

func (t *tx) SortedSetRemove(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := toArgs(members)
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.ZRem(t.ctx, key, args...) })
}

func (t *tx) IncrBy(key string, delta int64) {
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.IncrBy(t.ctx, key, delta) })
}

func (t *tx) Delete(keys ...string) {
	if len(keys) == 0 {
		return
	}
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.Del(t.ctx, keys...) })
}

func (t *tx) Expire(key string, ttl time.Duration) {
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.PExpire(t.ctx, key, ttl) })
}

func (t *tx) Persist(key string) {
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.Persist(t.ctx, key) })
}

func (t *tx) Publish(channel, message string) {
	t.ops = append(t.ops, func(p redis.Pipeliner) { p.Publish(t.ctx, channel, message) })
}

// Tx commits the collected commands with MULTI/EXEC.
func (s *Store) Tx(ctx context.Context, fn func(store.Tx) error) error {
	t := &tx{ctx: ctx}
	if err := fn(t); err != nil {
		return err
	}
	if len(t.ops) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, op := range t.ops {
			op(p)
		}
		return nil
	})
	return err
}

func toArgs(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
