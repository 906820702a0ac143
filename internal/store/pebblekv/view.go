package pebblekv

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/flojobs/internal/store"
	pebblestore "github.com/rzbill/flojobs/internal/storage/pebble"
)

type message struct {
	channel string
	payload string
}

// view is the working set of one operation. It caches decoded entries,
// tracks which keys changed and writes them back in a single batch.
type view struct {
	db      *pebblestore.DB
	now     int64
	cache   map[string]*entry
	origExp map[string]int64
	dirty   map[string]struct{}
	pubs    []message
}

func newView(db *pebblestore.DB, nowMs int64) *view {
	return &view{
		db:      db,
		now:     nowMs,
		cache:   map[string]*entry{},
		origExp: map[string]int64{},
		dirty:   map[string]struct{}{},
	}
}

// get returns the live entry for key or nil. Expired entries are dropped
// and scheduled for deletion.
func (v *view) get(key string) (*entry, error) {
	if e, ok := v.cache[key]; ok {
		return e, nil
	}
	raw, err := v.db.Get(dataKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		v.cache[key] = nil
		v.origExp[key] = 0
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", key, err)
	}
	v.origExp[key] = e.expiresAt
	if e.expiresAt > 0 && e.expiresAt <= v.now {
		v.cache[key] = nil
		v.dirty[key] = struct{}{}
		return nil, nil
	}
	v.cache[key] = e
	return e, nil
}

// typed returns the entry for key if it holds kind k. With create set, a
// missing key is materialized as an empty entry.
func (v *view) typed(key string, k kind, create bool) (*entry, error) {
	e, err := v.get(key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		if !create {
			return nil, nil
		}
		e = newEntry(k)
		v.cache[key] = e
		return e, nil
	}
	if e.kind != k {
		return nil, fmt.Errorf("%w: %q is a %s, not a %s", store.ErrWrongType, key, e.kind, k)
	}
	return e, nil
}

func (v *view) touch(key string) { v.dirty[key] = struct{}{} }

func (v *view) remove(key string) error {
	e, err := v.get(key)
	if err != nil {
		return err
	}
	if e != nil {
		v.cache[key] = nil
		v.touch(key)
	}
	return nil
}

func (v *view) publish(channel, payload string) {
	v.pubs = append(v.pubs, message{channel: channel, payload: payload})
}

func (v *view) commit(ctx context.Context) error {
	if len(v.dirty) == 0 {
		return nil
	}
	return v.db.Update(ctx, func(b *pebble.Batch) error {
		for key := range v.dirty {
			e := v.cache[key]
			if e != nil && e.empty() {
				e = nil
			}
			old := v.origExp[key]
			if old > 0 && (e == nil || e.expiresAt != old) {
				if err := b.Delete(expiryKey(old, key), nil); err != nil {
					return err
				}
			}
			if e == nil {
				if err := b.Delete(dataKey(key), nil); err != nil {
					return err
				}
				continue
			}
			raw, err := encodeEntry(e)
			if err != nil {
				return err
			}
			if err := b.Set(dataKey(key), raw, nil); err != nil {
				return err
			}
			if e.expiresAt > 0 && e.expiresAt != old {
				if err := b.Set(expiryKey(e.expiresAt, key), nil, nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
