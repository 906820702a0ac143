package pebblekv

import (
	"context"
	"sync"

	"github.com/rzbill/flojobs/internal/store"
)

// subscription is an in-process channel subscriber. Delivery never blocks
// the publisher: when the buffer is full the message is dropped, which is
// fine for wake-up style notifications.
type subscription struct {
	s       *Store
	channel string
	ch      chan string
	once    sync.Once
}

func (s *Store) Subscribe(_ context.Context, channel string) (store.Subscription, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, store.ErrClosed
	}
	sub := &subscription{s: s, channel: channel, ch: make(chan string, 16)}
	s.subsMu.Lock()
	set := s.subs[channel]
	if set == nil {
		set = map[*subscription]struct{}{}
		s.subs[channel] = set
	}
	set[sub] = struct{}{}
	s.subsMu.Unlock()
	return sub, nil
}

func (s *Store) Publish(_ context.Context, channel, message string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return store.ErrClosed
	}
	s.deliver(channel, message)
	return nil
}

func (s *Store) deliver(channel, message string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs[channel] {
		select {
		case sub.ch <- message:
		default:
		}
	}
}

func (sub *subscription) Messages() <-chan string { return sub.ch }

func (sub *subscription) Close() error {
	sub.s.subsMu.Lock()
	defer sub.s.subsMu.Unlock()
	if set := sub.s.subs[sub.channel]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(sub.s.subs, sub.channel)
		}
	}
	sub.closeLocked()
	return nil
}

// closeLocked requires subsMu.
func (sub *subscription) closeLocked() {
	sub.once.Do(func() { close(sub.ch) })
}
