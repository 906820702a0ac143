package pebblekv

import (
	"context"
	"time"

	"github.com/rzbill/flojobs/pkg/log"
)

func (s *Store) reapLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			n, err := s.reap(s.ctx)
			if err != nil {
				s.logger.Error("expiry reap failed", log.Err(err))
				continue
			}
			if n > 0 {
				s.logger.Debug("reaped expired keys", log.Int("count", n))
			}
		}
	}
}

// reap deletes up to reapBatch keys whose deadline has passed and returns
// how many were removed.
func (s *Store) reap(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil
	}
	now := s.now().UnixMilli()
	v := newView(s.db, now)

	var stale []string
	upper := expiryKey(now+1, "")
	err := s.db.Scan(expiryPrefix, upper, func(k, _ []byte) (bool, error) {
		_, key, ok := parseExpiryKey(k)
		if ok {
			stale = append(stale, key)
		}
		return len(stale) < s.reapBatch, nil
	})
	if err != nil {
		return 0, err
	}
	for _, key := range stale {
		// get drops the entry if it is still expired; a key whose expiry
		// was moved since is left alone.
		if _, err := v.get(key); err != nil {
			return 0, err
		}
	}
	n := len(v.dirty)
	return n, v.commit(ctx)
}
