package pebblekv

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rzbill/flojobs/internal/store"
	pebblestore "github.com/rzbill/flojobs/internal/storage/pebble"
	"github.com/rzbill/flojobs/pkg/log"
)

// Options configures the embedded store.
type Options struct {
	Storage pebblestore.Options
	// ReapInterval is how often expired keys are purged. Defaults to 1s.
	ReapInterval time.Duration
	// ReapBatch bounds the keys purged per pass. Defaults to 1000.
	ReapBatch int
	// Now overrides the clock; tests use it to drive expiry.
	Now    func() time.Time
	Logger log.Logger
}

// Store implements store.Store on a local Pebble database. A single mutex
// serializes operations, which makes every call and every Tx atomic.
type Store struct {
	mu     sync.Mutex
	db     *pebblestore.DB
	now    func() time.Time
	logger log.Logger
	closed bool

	subsMu sync.Mutex
	subs   map[string]map[*subscription]struct{}

	reapInterval time.Duration
	reapBatch    int
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

var _ store.Store = (*Store)(nil)

// Open opens the database and starts the expiry reaper.
func Open(opts Options) (*Store, error) {
	db, err := pebblestore.Open(opts.Storage)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.WarnLevel))
	}
	interval := opts.ReapInterval
	if interval <= 0 {
		interval = time.Second
	}
	batch := opts.ReapBatch
	if batch <= 0 {
		batch = 1000
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:           db,
		now:          now,
		logger:       logger.WithComponent("pebblekv"),
		subs:         map[string]map[*subscription]struct{}{},
		reapInterval: interval,
		reapBatch:    batch,
		ctx:          ctx,
		cancel:       cancel,
	}
	s.wg.Add(1)
	go s.reapLoop()
	return s, nil
}

// Close stops the reaper, ends all subscriptions and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.subsMu.Lock()
	for _, set := range s.subs {
		for sub := range set {
			sub.closeLocked()
		}
	}
	s.subs = map[string]map[*subscription]struct{}{}
	s.subsMu.Unlock()

	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.read(func(v *view) error {
		_, err := v.get("__ping__")
		return err
	})
}

// read runs fn against a fresh view. Lazily expired keys found along the
// way are deleted.
func (s *Store) read(fn func(v *view) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	v := newView(s.db, s.now().UnixMilli())
	if err := fn(v); err != nil {
		return err
	}
	return v.commit(context.Background())
}

// update runs fn and commits its changes; publications are delivered after
// the commit succeeds.
func (s *Store) update(ctx context.Context, fn func(v *view) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	v := newView(s.db, s.now().UnixMilli())
	err := fn(v)
	if err == nil {
		err = v.commit(ctx)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, m := range v.pubs {
		s.deliver(m.channel, m.payload)
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	var out string
	var ok bool
	err := s.read(func(v *view) error {
		e, err := v.typed(key, kindString, false)
		if err != nil || e == nil {
			return err
		}
		out, ok = e.str, true
		return nil
	})
	return out, ok, err
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var set bool
	err := s.update(ctx, func(v *view) error {
		e, err := v.get(key)
		if err != nil || e != nil {
			return err
		}
		e = newEntry(kindString)
		e.str = value
		if ttl > 0 {
			e.expiresAt = v.now + ttl.Milliseconds()
		}
		v.cache[key] = e
		v.touch(key)
		set = true
		return nil
	})
	return set, err
}

func (s *Store) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	var done bool
	err := s.update(ctx, func(v *view) error {
		e, err := v.typed(key, kindString, false)
		if err != nil || e == nil || e.str != expected {
			return err
		}
		done = true
		return v.remove(key)
	})
	return done, err
}

func (s *Store) CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	var done bool
	err := s.update(ctx, func(v *view) error {
		e, err := v.typed(key, kindString, false)
		if err != nil || e == nil || e.str != expected {
			return err
		}
		done = true
		return v.expire(key, ttl)
	})
	return done, err
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.update(ctx, func(v *view) error {
		for _, k := range keys {
			if err := v.remove(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := s.read(func(v *view) error {
		e, err := v.get(key)
		if err != nil || e == nil || e.expiresAt == 0 {
			return err
		}
		ttl = time.Duration(e.expiresAt-v.now) * time.Millisecond
		return nil
	})
	return ttl, err
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.update(ctx, func(v *view) error { return v.expire(key, ttl) })
}

func (s *Store) RightPopLeftPush(ctx context.Context, src, dst string) (string, bool, error) {
	var out string
	var ok bool
	err := s.update(ctx, func(v *view) error {
		from, err := v.typed(src, kindList, false)
		if err != nil || from == nil || len(from.list) == 0 {
			return err
		}
		to, err := v.typed(dst, kindList, true)
		if err != nil {
			return err
		}
		out = from.list[len(from.list)-1]
		from.list = from.list[:len(from.list)-1]
		v.touch(src)
		to.list = append([]string{out}, to.list...)
		v.touch(dst)
		ok = true
		return nil
	})
	return out, ok, err
}

func (s *Store) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	out := []string{}
	err := s.read(func(v *view) error {
		e, err := v.typed(key, kindList, false)
		if err != nil || e == nil {
			return err
		}
		lo, hi, ok := bounds(int64(len(e.list)), start, stop)
		if ok {
			out = append(out, e.list[lo:hi+1]...)
		}
		return nil
	})
	return out, err
}

func (s *Store) ListLen(_ context.Context, key string) (int64, error) {
	var n int64
	err := s.read(func(v *view) error {
		e, err := v.typed(key, kindList, false)
		if err != nil || e == nil {
			return err
		}
		n = int64(len(e.list))
		return nil
	})
	return n, err
}

func (s *Store) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	out := map[string]string{}
	err := s.read(func(v *view) error {
		e, err := v.typed(key, kindHash, false)
		if err != nil || e == nil {
			return err
		}
		for f, val := range e.hash {
			out[f] = val
		}
		return nil
	})
	return out, err
}

func (s *Store) HashGet(_ context.Context, key, field string) (string, bool, error) {
	var out string
	var ok bool
	err := s.read(func(v *view) error {
		e, err := v.typed(key, kindHash, false)
		if err != nil || e == nil {
			return err
		}
		out, ok = e.hash[field]
		return nil
	})
	return out, ok, err
}

func (s *Store) HashSet(ctx context.Context, key string, values map[string]string) error {
	return s.update(ctx, func(v *view) error { return v.hashSet(key, values) })
}

func (s *Store) HashSetIfExists(ctx context.Context, key string, values map[string]string) (bool, error) {
	var done bool
	err := s.update(ctx, func(v *view) error {
		e, err := v.typed(key, kindHash, false)
		if err != nil || e == nil {
			return err
		}
		done = true
		return v.hashSet(key, values)
	})
	return done, err
}

func (s *Store) HashLen(_ context.Context, key string) (int64, error) {
	var n int64
	err := s.read(func(v *view) error {
		e, err := v.typed(key, kindHash, false)
		if err != nil || e == nil {
			return err
		}
		n = int64(len(e.hash))
		return nil
	})
	return n, err
}

func (s *Store) SetMembers(_ context.Context, key string) ([]string, error) {
	out := []string{}
	err := s.read(func(v *view) error {
		e, err := v.typed(key, kindSet, false)
		if err != nil || e == nil {
			return err
		}
		for m := range e.set {
			out = append(out, m)
		}
		sort.Strings(out)
		return nil
	})
	return out, err
}

func (s *Store) SetCard(_ context.Context, key string) (int64, error) {
	var n int64
	err := s.read(func(v *view) error {
		e, err := v.typed(key, kindSet, false)
		if err != nil || e == nil {
			return err
		}
		n = int64(len(e.set))
		return nil
	})
	return n, err
}

func (s *Store) SortedSetRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	out := []string{}
	err := s.read(func(v *view) error {
		e, err := v.typed(key, kindZSet, false)
		if err != nil || e == nil {
			return err
		}
		ranked := rankZSet(e.zset)
		lo, hi, ok := bounds(int64(len(ranked)), start, stop)
		if !ok {
			return nil
		}
		for _, r := range ranked[lo : hi+1] {
			out = append(out, r.member)
		}
		return nil
	})
	return out, err
}

func (s *Store) SortedSetRangeByScore(_ context.Context, key string, min, max float64, offset, count int64) ([]string, error) {
	out := []string{}
	if count <= 0 {
		count = math.MaxInt64
		offset = 0
	}
	err := s.read(func(v *view) error {
		e, err := v.typed(key, kindZSet, false)
		if err != nil || e == nil {
			return err
		}
		skipped := int64(0)
		for _, r := range rankZSet(e.zset) {
			if r.score < min || r.score > max {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			if int64(len(out)) >= count {
				break
			}
			out = append(out, r.member)
		}
		return nil
	})
	return out, err
}

func (s *Store) SortedSetCard(_ context.Context, key string) (int64, error) {
	var n int64
	err := s.read(func(v *view) error {
		e, err := v.typed(key, kindZSet, false)
		if err != nil || e == nil {
			return err
		}
		n = int64(len(e.zset))
		return nil
	})
	return n, err
}
