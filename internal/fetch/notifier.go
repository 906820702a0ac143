package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/rzbill/flojobs/internal/store"
	"github.com/rzbill/flojobs/pkg/log"
)

// Notifier turns "job available" messages on one pub/sub channel into
// process-wide wake-ups. Waiters take Changed() before looking for work;
// the channel is closed and replaced on every message, so a message that
// arrives while they are scanning is not lost.
type Notifier struct {
	store   store.Store
	channel string
	logger  log.Logger

	mu       sync.Mutex
	notifyCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNotifier(s store.Store, channel string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.WarnLevel))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		store:    s,
		channel:  channel,
		logger:   logger.WithComponent("fetch-notifier"),
		notifyCh: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes and begins relaying messages. The first subscription is
// made synchronously so errors surface to the caller.
func (n *Notifier) Start(ctx context.Context) error {
	sub, err := n.store.Subscribe(ctx, n.channel)
	if err != nil {
		return err
	}
	n.wg.Add(1)
	go n.run(sub)
	return nil
}

// Stop ends the subscription and wakes every waiter.
func (n *Notifier) Stop() {
	n.cancel()
	n.wg.Wait()
	n.broadcast()
}

// Changed returns a channel that is closed on the next notification.
func (n *Notifier) Changed() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notifyCh
}

// Notify wakes waiters in this process without going through the store.
func (n *Notifier) Notify() { n.broadcast() }

func (n *Notifier) broadcast() {
	n.mu.Lock()
	close(n.notifyCh)
	n.notifyCh = make(chan struct{})
	n.mu.Unlock()
}

func (n *Notifier) run(sub store.Subscription) {
	defer n.wg.Done()
	backoff := 50 * time.Millisecond
	for {
		n.relay(sub)
		_ = sub.Close()
		if n.ctx.Err() != nil {
			return
		}

		// The subscription ended underneath us; resubscribe.
		for {
			n.logger.Warn("fetch notification subscription lost, resubscribing",
				log.Str("channel", n.channel),
				log.Dur("backoff", backoff),
			)
			select {
			case <-n.ctx.Done():
				return
			case <-time.After(backoff):
			}
			var err error
			sub, err = n.store.Subscribe(n.ctx, n.channel)
			if err == nil {
				backoff = 50 * time.Millisecond
				// Anything published while disconnected was missed.
				n.broadcast()
				break
			}
			if backoff *= 2; backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
		}
	}
}

func (n *Notifier) relay(sub store.Subscription) {
	msgs := sub.Messages()
	for {
		select {
		case <-n.ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
			n.broadcast()
		}
	}
}
