package pebblekv

import (
	"context"
	"time"

	"github.com/rzbill/flojobs/internal/store"
)

// tx records mutations and replays them against one view. Unlike Redis
// MULTI, a failing mutation (wrong type) aborts the whole transaction.
type tx struct {
	ops []func(v *view) error
}

func (t *tx) add(op func(v *view) error) { t.ops = append(t.ops, op) }

func (t *tx) HashSet(key string, values map[string]string) {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	t.add(func(v *view) error { return v.hashSet(key, cp) })
}

func (t *tx) HashDelete(key string, fields ...string) {
	t.add(func(v *view) error { return v.hashDelete(key, fields) })
}

func (t *tx) ListLeftPush(key string, values ...string) {
	t.add(func(v *view) error { return v.listPush(key, values, true) })
}

func (t *tx) ListRightPush(key string, values ...string) {
	t.add(func(v *view) error { return v.listPush(key, values, false) })
}

func (t *tx) ListRemove(key string, count int64, value string) {
	t.add(func(v *view) error { return v.listRemove(key, count, value) })
}

func (t *tx) ListTrim(key string, start, stop int64) {
	t.add(func(v *view) error { return v.listTrim(key, start, stop) })
}

func (t *tx) SetAdd(key string, members ...string) {
	t.add(func(v *view) error { return v.setAdd(key, members) })
}

func (t *tx) SetRemove(key string, members ...string) {
	t.add(func(v *view) error { return v.setRemove(key, members) })
}

func (t *tx) SortedSetAdd(key string, score float64, member string) {
	t.add(func(v *view) error { return v.zadd(key, score, member) })
}

func (t *tx) SortedSetRemove(key string, members ...string) {
	t.add(func(v *view) error { return v.zrem(key, members) })
}

func (t *tx) IncrBy(key string, delta int64) {
	t.add(func(v *view) error { return v.incrBy(key, delta) })
}

func (t *tx) Delete(keys ...string) {
	t.add(func(v *view) error {
		for _, k := range keys {
			if err := v.remove(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *tx) Expire(key string, ttl time.Duration) {
	t.add(func(v *view) error { return v.expire(key, ttl) })
}

func (t *tx) Persist(key string) {
	t.add(func(v *view) error { return v.persist(key) })
}

func (t *tx) Publish(channel, message string) {
	t.add(func(v *view) error {
		v.publish(channel, message)
		return nil
	})
}

func (s *Store) Tx(ctx context.Context, fn func(store.Tx) error) error {
	t := &tx{}
	if err := fn(t); err != nil {
		return err
	}
	if len(t.ops) == 0 {
		return nil
	}
	return s.update(ctx, func(v *view) error {
		for _, op := range t.ops {
			if err := op(v); err != nil {
				return err
			}
		}
		return nil
	})
}
