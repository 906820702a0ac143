package pebblekv

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rzbill/flojobs/internal/store"
)

// Mutations shared by direct calls and transactions. Each one runs against
// a view and leaves persistence to the caller.

func (v *view) hashSet(key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	e, err := v.typed(key, kindHash, true)
	if err != nil {
		return err
	}
	for f, val := range values {
		e.hash[f] = val
	}
	v.touch(key)
	return nil
}

func (v *view) hashDelete(key string, fields []string) error {
	e, err := v.typed(key, kindHash, false)
	if err != nil || e == nil {
		return err
	}
	for _, f := range fields {
		delete(e.hash, f)
	}
	v.touch(key)
	return nil
}

func (v *view) listPush(key string, values []string, left bool) error {
	if len(values) == 0 {
		return nil
	}
	e, err := v.typed(key, kindList, true)
	if err != nil {
		return err
	}
	if left {
		// LPUSH a b c leaves c at the head.
		head := make([]string, 0, len(values)+len(e.list))
		for i := len(values) - 1; i >= 0; i-- {
			head = append(head, values[i])
		}
		e.list = append(head, e.list...)
	} else {
		e.list = append(e.list, values...)
	}
	v.touch(key)
	return nil
}

func (v *view) listRemove(key string, count int64, value string) error {
	e, err := v.typed(key, kindList, false)
	if err != nil || e == nil {
		return err
	}
	limit := count
	if limit < 0 {
		limit = -limit
	}
	removed := int64(0)
	keep := make([]bool, len(e.list))
	for i := range keep {
		keep[i] = true
	}
	visit := func(i int) {
		if (limit == 0 || removed < limit) && e.list[i] == value {
			keep[i] = false
			removed++
		}
	}
	if count < 0 {
		for i := len(e.list) - 1; i >= 0; i-- {
			visit(i)
		}
	} else {
		for i := range e.list {
			visit(i)
		}
	}
	if removed == 0 {
		return nil
	}
	out := e.list[:0]
	for i, item := range e.list {
		if keep[i] {
			out = append(out, item)
		}
	}
	e.list = out
	v.touch(key)
	return nil
}

func (v *view) listTrim(key string, start, stop int64) error {
	e, err := v.typed(key, kindList, false)
	if err != nil || e == nil {
		return err
	}
	lo, hi, ok := bounds(int64(len(e.list)), start, stop)
	if !ok {
		e.list = nil
	} else {
		e.list = append([]string(nil), e.list[lo:hi+1]...)
	}
	v.touch(key)
	return nil
}

func (v *view) setAdd(key string, members []string) error {
	if len(members) == 0 {
		return nil
	}
	e, err := v.typed(key, kindSet, true)
	if err != nil {
		return err
	}
	for _, m := range members {
		e.set[m] = struct{}{}
	}
	v.touch(key)
	return nil
}

func (v *view) setRemove(key string, members []string) error {
	e, err := v.typed(key, kindSet, false)
	if err != nil || e == nil {
		return err
	}
	for _, m := range members {
		delete(e.set, m)
	}
	v.touch(key)
	return nil
}

func (v *view) zadd(key string, score float64, member string) error {
	e, err := v.typed(key, kindZSet, true)
	if err != nil {
		return err
	}
	e.zset[member] = score
	v.touch(key)
	return nil
}

func (v *view) zrem(key string, members []string) error {
	e, err := v.typed(key, kindZSet, false)
	if err != nil || e == nil {
		return err
	}
	for _, m := range members {
		delete(e.zset, m)
	}
	v.touch(key)
	return nil
}

func (v *view) incrBy(key string, delta int64) error {
	e, err := v.typed(key, kindString, true)
	if err != nil {
		return err
	}
	var n int64
	if e.str != "" {
		n, err = strconv.ParseInt(e.str, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not an integer", store.ErrWrongType, key)
		}
	}
	e.str = strconv.FormatInt(n+delta, 10)
	v.touch(key)
	return nil
}

func (v *view) expire(key string, ttl time.Duration) error {
	if ttl <= 0 {
		return v.remove(key)
	}
	e, err := v.get(key)
	if err != nil || e == nil {
		return err
	}
	e.expiresAt = v.now + ttl.Milliseconds()
	v.touch(key)
	return nil
}

func (v *view) persist(key string) error {
	e, err := v.get(key)
	if err != nil || e == nil {
		return err
	}
	if e.expiresAt != 0 {
		e.expiresAt = 0
		v.touch(key)
	}
	return nil
}

// bounds resolves inclusive, possibly negative, indices against a length n.
func bounds(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

type scored struct {
	member string
	score  float64
}

func rankZSet(z map[string]float64) []scored {
	out := make([]scored, 0, len(z))
	for m, s := range z {
		out = append(out, scored{member: m, score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].member < out[j].member
	})
	return out
}
