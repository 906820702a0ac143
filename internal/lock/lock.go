package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rzbill/flojobs/internal/namespace"
	"github.com/rzbill/flojobs/internal/store"
	"github.com/rzbill/flojobs/pkg/id"
	"github.com/rzbill/flojobs/pkg/log"
)

// ErrLockTimeout is returned when a lock could not be acquired in time.
var ErrLockTimeout = errors.New("lock timeout")

// TimeoutError reports which resource timed out.
type TimeoutError struct {
	Resource string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lock %q not acquired within %s", e.Resource, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrLockTimeout }

// Options tunes acquisition retries.
type Options struct {
	// RetryDelay is the first backoff after a failed attempt. Defaults to 20ms.
	RetryDelay time.Duration
	// MaxRetryDelay caps the exponential backoff. Defaults to 250ms.
	MaxRetryDelay time.Duration
	Logger        log.Logger
}

// Locker hands out lease-based locks stored as single keys holding the
// owner's token, with the store enforcing the lease expiry.
type Locker struct {
	store      store.Store
	keys       namespace.Keys
	instanceID string
	ids        *id.Generator
	opts       Options
	logger     log.Logger
}

// New returns a Locker. instanceID is the storage identity from
// namespace.Ensure and becomes the first half of every owner token.
func New(s store.Store, keys namespace.Keys, instanceID string, opts Options) *Locker {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 20 * time.Millisecond
	}
	if opts.MaxRetryDelay <= 0 {
		opts.MaxRetryDelay = 250 * time.Millisecond
	}
	if opts.MaxRetryDelay < opts.RetryDelay {
		opts.MaxRetryDelay = opts.RetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.WarnLevel))
	}
	return &Locker{
		store:      s,
		keys:       keys,
		instanceID: instanceID,
		ids:        id.NewGenerator(),
		opts:       opts,
		logger:     logger.WithComponent("lock"),
	}
}

// NewOwner creates a lock-holding identity. Locks are re-entrant per Owner:
// acquiring a resource the owner already holds refreshes the lease and
// stacks a hold; the key is deleted when the last hold is released.
func (l *Locker) NewOwner() *Owner {
	return &Owner{
		l:     l,
		token: l.instanceID + ":" + l.ids.Next().String(),
		holds: map[string]int{},
	}
}

// Acquire takes resource for a fresh owner, so two calls never share a lock.
func (l *Locker) Acquire(ctx context.Context, resource string, timeout time.Duration) (*Handle, error) {
	return l.NewOwner().Acquire(ctx, resource, timeout)
}

// Owner is one lock-holding identity. It is safe for concurrent use.
type Owner struct {
	l     *Locker
	token string
	mu    sync.Mutex
	holds map[string]int
}

// Token is the value stored in lock keys held by this owner.
func (o *Owner) Token() string { return o.token }

// Acquire blocks until resource is locked, timeout elapses (ErrLockTimeout)
// or ctx is done (store.ErrOperationCanceled). The lease lasts timeout.
func (o *Owner) Acquire(ctx context.Context, resource string, timeout time.Duration) (*Handle, error) {
	if resource == "" {
		return nil, store.InvalidArgument("resource", "must not be empty")
	}
	if timeout <= 0 {
		return nil, store.InvalidArgument("timeout", "must be positive")
	}
	key := o.l.keys.Lock(resource)

	if h, err := o.reenter(ctx, resource, key, timeout); h != nil || err != nil {
		return h, err
	}

	deadline := time.Now().Add(timeout)
	delay := o.l.opts.RetryDelay
	for attempt := 1; ; attempt++ {
		ok, err := o.l.store.SetNX(ctx, key, o.token, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, store.Canceled(ctx)
			}
			return nil, fmt.Errorf("lock %q: %w", resource, err)
		}
		if ok {
			o.mu.Lock()
			o.holds[resource] = 1
			o.mu.Unlock()
			o.l.logger.Debug("lock acquired", log.Str("resource", resource), log.Int("attempts", attempt))
			return &Handle{owner: o, resource: resource, key: key}, nil
		}
		// Another goroutine of this owner may have won meanwhile.
		if h, err := o.reenter(ctx, resource, key, timeout); h != nil || err != nil {
			return h, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &TimeoutError{Resource: resource, Timeout: timeout}
		}
		wait := jitter(delay)
		if wait > remaining {
			wait = remaining
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, store.Canceled(ctx)
		case <-t.C:
		}
		if delay *= 2; delay > o.l.opts.MaxRetryDelay {
			delay = o.l.opts.MaxRetryDelay
		}
	}
}

// reenter stacks a hold when the owner still holds resource. A lease that
// lapsed in the meantime is forgotten and normal acquisition proceeds.
func (o *Owner) reenter(ctx context.Context, resource, key string, timeout time.Duration) (*Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.holds[resource] == 0 {
		return nil, nil
	}
	ok, err := o.l.store.CompareAndExpire(ctx, key, o.token, timeout)
	if err != nil {
		return nil, fmt.Errorf("lock %q: refresh: %w", resource, err)
	}
	if !ok {
		delete(o.holds, resource)
		return nil, nil
	}
	o.holds[resource]++
	return &Handle{owner: o, resource: resource, key: key}, nil
}

func jitter(d time.Duration) time.Duration {
	half := int64(d) / 2
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int63n(half+1))
}

// Handle is one hold on a lock.
type Handle struct {
	owner    *Owner
	resource string
	key      string
	once     sync.Once
}

func (h *Handle) Resource() string { return h.resource }

// Release drops this hold. It never fails because the lock expired or was
// taken over; only store errors are returned. Releasing twice is a no-op.
func (h *Handle) Release(ctx context.Context) error {
	var err error
	h.once.Do(func() { err = h.release(ctx) })
	return err
}

func (h *Handle) release(ctx context.Context) error {
	o := h.owner
	o.mu.Lock()
	n := o.holds[h.resource]
	if n > 1 {
		o.holds[h.resource] = n - 1
		o.mu.Unlock()
		return nil
	}
	delete(o.holds, h.resource)
	o.mu.Unlock()

	deleted, err := o.l.store.CompareAndDelete(ctx, h.key, o.token)
	if err != nil {
		return fmt.Errorf("lock %q: release: %w", h.resource, err)
	}
	if !deleted {
		o.l.logger.Debug("lock already gone at release", log.Str("resource", h.resource))
	}
	return nil
}
