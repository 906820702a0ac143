package fetch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/flojobs/internal/job"
	"github.com/rzbill/flojobs/internal/namespace"
	"github.com/rzbill/flojobs/internal/store"
	"github.com/rzbill/flojobs/internal/store/redisstore"
)

type fixture struct {
	store    store.Store
	keys     namespace.Keys
	mr       *miniredis.Miniredis
	notifier *Notifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	s := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), redisstore.Options{})
	t.Cleanup(func() { _ = s.Close() })
	keys := namespace.New("flo")
	n := NewNotifier(s, keys.FetchChannel(), nil)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(n.Stop)
	return &fixture{store: s, keys: keys, mr: mr, notifier: n}
}

func (f *fixture) fetcher(poll time.Duration) *Fetcher {
	return New(f.store, f.keys, f.notifier, Options{PollTimeout: poll})
}

func (f *fixture) enqueue(t *testing.T, queue string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.store.Tx(context.Background(), func(tx store.Tx) error {
			tx.HashSet(f.keys.Job(id), map[string]string{job.FieldType: "Mailer"})
			tx.SetAdd(f.keys.Queues(), queue)
			tx.ListLeftPush(f.keys.Queue(queue), id)
			tx.Publish(f.keys.FetchChannel(), id)
			return nil
		}))
	}
}

func TestFetchNextRequiresQueues(t *testing.T) {
	f := newFixture(t)
	_, err := f.fetcher(0).FetchNext(context.Background(), nil)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = f.fetcher(0).FetchNext(context.Background(), []string{"default", ""})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = f.fetcher(0).FetchNext(context.Background(), []string{"default:dequeued"})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestFetchIsFIFO(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "default", "a", "b", "c")
	fetcher := f.fetcher(0)

	for _, want := range []string{"a", "b", "c"} {
		fj, err := fetcher.FetchNext(context.Background(), []string{"default"})
		require.NoError(t, err)
		assert.Equal(t, want, fj.ID())
		assert.Equal(t, "default", fj.Queue())
	}
	inflight, err := f.mr.List("flo:queue:default:dequeued")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, inflight)
}

func TestFetchScansQueuesInOrder(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "default", "d1")
	f.enqueue(t, "critical", "c1")
	fetcher := f.fetcher(0)
	queues := []string{"critical", "default"}

	fj, err := fetcher.FetchNext(context.Background(), queues)
	require.NoError(t, err)
	assert.Equal(t, "c1", fj.ID())

	fj, err = fetcher.FetchNext(context.Background(), queues)
	require.NoError(t, err)
	assert.Equal(t, "d1", fj.ID())
	assert.Equal(t, "default", fj.Queue())
}

func TestFetchPrefersEarlierQueueAsSoonAsItFills(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "low", "x1", "x2")
	fetcher := f.fetcher(0)
	queues := []string{"high", "low"}

	fj, err := fetcher.FetchNext(context.Background(), queues)
	require.NoError(t, err)
	assert.Equal(t, "x1", fj.ID())
	assert.Equal(t, "low", fj.Queue())

	// low still holds x2, but high now has work and is scanned first.
	f.enqueue(t, "high", "h1")
	fj, err = fetcher.FetchNext(context.Background(), queues)
	require.NoError(t, err)
	assert.Equal(t, "h1", fj.ID())
	assert.Equal(t, "high", fj.Queue())

	fj, err = fetcher.FetchNext(context.Background(), queues)
	require.NoError(t, err)
	assert.Equal(t, "x2", fj.ID())
}

func TestFetchStampsFetched(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "default", "a")
	now := time.UnixMilli(1_700_000_000_123)
	fetcher := New(f.store, f.keys, f.notifier, Options{Now: func() time.Time { return now }})

	fj, err := fetcher.FetchNext(context.Background(), []string{"default"})
	require.NoError(t, err)
	assert.Equal(t, "1700000000123", f.mr.HGet("flo:job:a", job.FieldFetched))
	assert.True(t, fj.FetchedAt().Equal(now))
}

func TestFetchWakesOnNotification(t *testing.T) {
	f := newFixture(t)
	fetcher := f.fetcher(time.Hour)

	got := make(chan string, 1)
	go func() {
		fj, err := fetcher.FetchNext(context.Background(), []string{"default"})
		if err == nil {
			got <- fj.ID()
		}
	}()

	time.Sleep(50 * time.Millisecond)
	f.enqueue(t, "default", "late")

	select {
	case id := <-got:
		assert.Equal(t, "late", id)
	case <-time.After(5 * time.Second):
		t.Fatal("fetcher was not woken by the notification")
	}
}

func TestFetchPollsWithoutNotifier(t *testing.T) {
	f := newFixture(t)
	fetcher := New(f.store, f.keys, nil, Options{PollTimeout: 20 * time.Millisecond})

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = f.store.Tx(context.Background(), func(tx store.Tx) error {
			tx.ListLeftPush(f.keys.Queue("default"), "quiet")
			return nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fj, err := fetcher.FetchNext(ctx, []string{"default"})
	require.NoError(t, err)
	assert.Equal(t, "quiet", fj.ID())
}

func TestFetchCanceled(t *testing.T) {
	f := newFixture(t)
	fetcher := f.fetcher(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := fetcher.FetchNext(ctx, []string{"default"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrOperationCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAcknowledge(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "default", "a")
	ctx := context.Background()

	fj, err := f.fetcher(0).FetchNext(ctx, []string{"default"})
	require.NoError(t, err)
	f.mr.HSet("flo:job:a", job.FieldChecked, "1")

	require.NoError(t, fj.Acknowledge(ctx))
	assert.False(t, f.mr.Exists("flo:queue:default:dequeued"))
	assert.Empty(t, f.mr.HGet("flo:job:a", job.FieldFetched))
	assert.Empty(t, f.mr.HGet("flo:job:a", job.FieldChecked))
	assert.Equal(t, "Mailer", f.mr.HGet("flo:job:a", job.FieldType))

	// the handle is spent
	require.NoError(t, fj.Requeue(ctx))
	assert.False(t, f.mr.Exists("flo:queue:default"))
}

func TestRequeueRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "default", "a", "b")
	ctx := context.Background()
	fetcher := f.fetcher(0)

	fj, err := fetcher.FetchNext(ctx, []string{"default"})
	require.NoError(t, err)
	require.Equal(t, "a", fj.ID())

	require.NoError(t, fj.Requeue(ctx))
	assert.False(t, f.mr.Exists("flo:queue:default:dequeued"))
	assert.Empty(t, f.mr.HGet("flo:job:a", job.FieldFetched))

	// a requeued job goes back on the pop end, ahead of b
	again, err := fetcher.FetchNext(ctx, []string{"default"})
	require.NoError(t, err)
	assert.Equal(t, "a", again.ID())

	// acknowledging the stale handle does nothing
	require.NoError(t, fj.Acknowledge(ctx))
	inflight, err := f.mr.List("flo:queue:default:dequeued")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, inflight)
}

func TestConcurrentFetchersNeverShareAJob(t *testing.T) {
	f := newFixture(t)
	const total = 40
	ids := make([]string, total)
	for i := range ids {
		ids[i] = fmt.Sprintf("job-%02d", i)
	}
	f.enqueue(t, "default", ids...)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fetcher := f.fetcher(10 * time.Millisecond)
			for {
				ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
				fj, err := fetcher.FetchNext(ctx, []string{"default"})
				cancel()
				if err != nil {
					return
				}
				mu.Lock()
				seen[fj.ID()]++
				mu.Unlock()
				_ = fj.Acknowledge(context.Background())
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}
