package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/flojobs/internal/namespace"
	"github.com/rzbill/flojobs/internal/store"
	"github.com/rzbill/flojobs/internal/store/redisstore"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), redisstore.Options{})
	t.Cleanup(func() { _ = s.Close() })
	return New(s, namespace.New("flo"), "inst-1", Options{RetryDelay: 2 * time.Millisecond, MaxRetryDelay: 10 * time.Millisecond}), mr
}

func TestMutualExclusion(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := l.Acquire(ctx, "lock:critical", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(3 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			assert.NoError(t, h.Release(ctx))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestAcquireTimesOut(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, "lock:busy", 10*time.Second)
	require.NoError(t, err)
	defer h.Release(ctx)

	start := time.Now()
	_, err = l.Acquire(ctx, "lock:busy", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "lock:busy", te.Resource)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestAcquireHonorsCancellation(t *testing.T) {
	l, _ := newTestLocker(t)
	h, err := l.Acquire(context.Background(), "lock:busy", 10*time.Second)
	require.NoError(t, err)
	defer h.Release(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err = l.Acquire(ctx, "lock:busy", 10*time.Second)
	assert.ErrorIs(t, err, store.ErrOperationCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvalidArguments(t *testing.T) {
	l, _ := newTestLocker(t)
	_, err := l.Acquire(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = l.Acquire(context.Background(), "x", 0)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestReleaseIsIdempotent(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, "lock:a", time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("flo:lock:a"))

	require.NoError(t, h.Release(ctx))
	require.NoError(t, h.Release(ctx))
	assert.False(t, mr.Exists("flo:lock:a"))
}

func TestReleaseAfterExpiryKeepsNewOwner(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	first, err := l.Acquire(ctx, "lock:a", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	second := l.NewOwner()
	h2, err := second.Acquire(ctx, "lock:a", 10*time.Second)
	require.NoError(t, err)

	require.NoError(t, first.Release(ctx))
	v, err := mr.Get("flo:lock:a")
	require.NoError(t, err)
	assert.Equal(t, second.Token(), v)

	require.NoError(t, h2.Release(ctx))
	assert.False(t, mr.Exists("flo:lock:a"))
}

func TestReentrantPerOwner(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()
	owner := l.NewOwner()

	outer, err := owner.Acquire(ctx, "lock:a", time.Second)
	require.NoError(t, err)
	inner, err := owner.Acquire(ctx, "lock:a", 30*time.Second)
	require.NoError(t, err, "same owner must re-enter without waiting")
	assert.Greater(t, mr.TTL("flo:lock:a"), time.Second, "re-entry refreshes the lease")

	require.NoError(t, inner.Release(ctx))
	assert.True(t, mr.Exists("flo:lock:a"), "outer hold still active")

	require.NoError(t, outer.Release(ctx))
	assert.False(t, mr.Exists("flo:lock:a"))

	other, err := l.Acquire(ctx, "lock:a", time.Second)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))
}

func TestTokenCarriesInstanceID(t *testing.T) {
	l, _ := newTestLocker(t)
	a, b := l.NewOwner(), l.NewOwner()
	assert.Contains(t, a.Token(), "inst-1:")
	assert.NotEqual(t, a.Token(), b.Token())
}
