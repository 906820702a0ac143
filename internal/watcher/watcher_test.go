package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/flojobs/internal/job"
	"github.com/rzbill/flojobs/internal/lock"
	"github.com/rzbill/flojobs/internal/namespace"
	"github.com/rzbill/flojobs/internal/store"
	"github.com/rzbill/flojobs/internal/store/redisstore"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu sync.Mutex
	n  map[string]int
}

func (r *recorder) JobsRecovered(queue string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == nil {
		r.n = map[string]int{}
	}
	r.n[queue] += n
}

type fixture struct {
	mr      *miniredis.Miniredis
	store   store.Store
	keys    namespace.Keys
	locker  *lock.Locker
	clock   *clock
	metrics *recorder
	w       *Watcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	s := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), redisstore.Options{})
	t.Cleanup(func() { _ = s.Close() })
	keys := namespace.New("flo")
	f := &fixture{
		mr:      mr,
		store:   s,
		keys:    keys,
		locker:  lock.New(s, keys, "instance", lock.Options{}),
		clock:   &clock{t: time.Unix(1_700_000_000, 0)},
		metrics: &recorder{},
	}
	f.w = New(s, keys, f.locker, Options{
		InvisibilityTimeout: 30 * time.Minute,
		CheckedTimeout:      time.Minute,
		LockTimeout:         100 * time.Millisecond,
		Now:                 f.clock.Now,
		Metrics:             f.metrics,
	})
	return f
}

// inflight puts id in the in-flight list of queue with the given job fields.
func (f *fixture) inflight(t *testing.T, queue, id string, fields map[string]string) {
	t.Helper()
	all := map[string]string{job.FieldType: "Mailer"}
	for k, v := range fields {
		all[k] = v
	}
	require.NoError(t, f.store.Tx(context.Background(), func(tx store.Tx) error {
		tx.HashSet(f.keys.Job(id), all)
		tx.SetAdd(f.keys.Queues(), queue)
		tx.ListLeftPush(f.keys.Dequeued(queue), id)
		return nil
	}))
}

func TestSweepLeavesFreshJobsAlone(t *testing.T) {
	f := newFixture(t)
	f.inflight(t, "default", "a", map[string]string{job.FieldFetched: job.FormatTime(f.clock.Now())})

	f.clock.Advance(30 * time.Minute)
	n, err := f.w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.False(t, f.mr.Exists("flo:queue:default"))
}

func TestSweepRequeuesAfterInvisibilityTimeout(t *testing.T) {
	f := newFixture(t)
	f.inflight(t, "default", "a", map[string]string{job.FieldFetched: job.FormatTime(f.clock.Now())})

	f.clock.Advance(30*time.Minute + time.Second)
	n, err := f.w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	queued, err := f.mr.List("flo:queue:default")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, queued)
	assert.False(t, f.mr.Exists("flo:queue:default:dequeued"))
	assert.Empty(t, f.mr.HGet("flo:job:a", job.FieldFetched))
	assert.Equal(t, 1, f.metrics.n["default"])
}

func TestSweepChecksUnstampedJobsFirst(t *testing.T) {
	f := newFixture(t)
	f.inflight(t, "default", "a", nil)
	ctx := context.Background()

	n, err := f.w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, job.FormatTime(f.clock.Now()), f.mr.HGet("flo:job:a", job.FieldChecked))

	f.clock.Advance(time.Minute)
	n, err = f.w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(time.Second)
	n, err = f.w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.mr.HGet("flo:job:a", job.FieldChecked))
	queued, err := f.mr.List("flo:queue:default")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, queued)
}

func TestSweepDropsEntriesWithoutJobRecord(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Tx(context.Background(), func(tx store.Tx) error {
		tx.SetAdd(f.keys.Queues(), "default")
		tx.ListLeftPush(f.keys.Dequeued("default"), "gone")
		return nil
	}))

	n, err := f.w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.False(t, f.mr.Exists("flo:queue:default:dequeued"))
	assert.False(t, f.mr.Exists("flo:job:gone"))
}

func TestSweepSkipsLockedQueue(t *testing.T) {
	f := newFixture(t)
	f.inflight(t, "busy", "a", map[string]string{job.FieldFetched: "0"})
	f.inflight(t, "free", "b", map[string]string{job.FieldFetched: "0"})
	ctx := context.Background()

	other := lock.New(f.store, f.keys, "other-instance", lock.Options{})
	h, err := other.Acquire(ctx, LockResource("busy"), time.Minute)
	require.NoError(t, err)
	defer func() { _ = h.Release(ctx) }()

	n, err := f.w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.mr.Exists("flo:queue:busy:dequeued"))
	assert.False(t, f.mr.Exists("flo:queue:free:dequeued"))
}

func TestWatcherStartStop(t *testing.T) {
	f := newFixture(t)
	f.inflight(t, "default", "a", map[string]string{job.FieldFetched: "0"})

	w := New(f.store, f.keys, f.locker, Options{
		Interval:    20 * time.Millisecond,
		LockTimeout: 100 * time.Millisecond,
		Now:         f.clock.Now,
	})
	w.Start()
	defer w.Stop()

	assert.Eventually(t, func() bool {
		return f.mr.Exists("flo:queue:default") && !f.mr.Exists("flo:queue:default:dequeued")
	}, 5*time.Second, 10*time.Millisecond)
}
