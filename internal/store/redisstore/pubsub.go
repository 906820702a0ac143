package redisstore

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/rzbill/flojobs/internal/store"
)

type subscription struct {
	ps   *redis.PubSub
	out  chan string
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Subscribe waits for the server to confirm the subscription before
// returning, so messages published afterwards are not missed.
func (s *Store) Subscribe(ctx context.Context, channel string) (store.Subscription, error) {
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &subscription{
		ps:   ps,
		out:  make(chan string, 16),
		done: make(chan struct{}),
	}
	sub.wg.Add(1)
	go sub.pump(ps.Channel())
	return sub, nil
}

func (sub *subscription) pump(in <-chan *redis.Message) {
	defer sub.wg.Done()
	defer close(sub.out)
	for {
		select {
		case <-sub.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case sub.out <- m.Payload:
			default:
				// Receivers only need a wake-up; a full buffer already has one.
			}
		}
	}
}

func (sub *subscription) Messages() <-chan string { return sub.out }

func (sub *subscription) Close() error {
	var err error
	sub.once.Do(func() {
		close(sub.done)
		err = sub.ps.Close()
		sub.wg.Wait()
	})
	return err
}
