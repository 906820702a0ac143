package registry

import (
	"context"
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

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T) (*Registry, *clock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), redisstore.Options{})
	t.Cleanup(func() { _ = s.Close() })
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	return New(s, namespace.New("flo"), Options{Now: c.Now}), c, mr
}

func TestAnnounceWritesEverything(t *testing.T) {
	r, _, mr := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Announce(ctx, "s1", ServerContext{WorkerCount: 4, Queues: []string{"critical", "default"}}))

	members, err := mr.Members("flo:servers")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, members)
	assert.Equal(t, "4", mr.HGet("flo:server:s1", "WorkerCount"))
	assert.Equal(t, "1700000000000", mr.HGet("flo:server:s1", "StartedAt"))
	queues, err := mr.List("flo:server:s1:queues")
	require.NoError(t, err)
	assert.Equal(t, []string{"critical", "default"}, queues)

	// re-announcing replaces the queue list
	require.NoError(t, r.Announce(ctx, "s1", ServerContext{WorkerCount: 1, Queues: []string{"mail"}}))
	info, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mail"}, info.Queues)
	assert.Equal(t, 1, info.WorkerCount)
}

func TestAnnounceValidates(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	assert.ErrorIs(t, r.Announce(context.Background(), "", ServerContext{}), store.ErrInvalidArgument)
}

func TestHeartbeatDoesNotResurrect(t *testing.T) {
	r, c, mr := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Heartbeat(ctx, "ghost"))
	assert.False(t, mr.Exists("flo:server:ghost"))

	require.NoError(t, r.Announce(ctx, "s1", ServerContext{WorkerCount: 1}))
	c.Set(c.Now().Add(10 * time.Second))
	require.NoError(t, r.Heartbeat(ctx, "s1"))
	assert.Equal(t, "1700000010000", mr.HGet("flo:server:s1", "Heartbeat"))
}

func TestRemoveServerIdempotent(t *testing.T) {
	r, _, mr := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Announce(ctx, "s1", ServerContext{WorkerCount: 1, Queues: []string{"default"}}))
	require.NoError(t, r.RemoveServer(ctx, "s1"))
	require.NoError(t, r.RemoveServer(ctx, "s1"))

	assert.False(t, mr.Exists("flo:server:s1"))
	assert.False(t, mr.Exists("flo:server:s1:queues"))
	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRemoveTimedOutServersBoundaries(t *testing.T) {
	r, c, _ := newTestRegistry(t)
	ctx := context.Background()
	t0 := c.Now()
	timeout := time.Minute

	require.NoError(t, r.Announce(ctx, "started-only", ServerContext{WorkerCount: 1}))
	require.NoError(t, r.Announce(ctx, "beating", ServerContext{WorkerCount: 1}))
	c.Set(t0.Add(30 * time.Second))
	require.NoError(t, r.Heartbeat(ctx, "beating"))

	// one second before the started-only deadline: nothing to do
	c.Set(t0.Add(timeout - time.Second))
	n, err := r.RemoveTimedOutServers(ctx, timeout)
	require.NoError(t, err)
	assert.Zero(t, n)

	// one second past it: only the server without a recent heartbeat goes
	c.Set(t0.Add(timeout + time.Second))
	n, err = r.RemoveTimedOutServers(ctx, timeout)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "beating", list[0].ID)
	assert.Equal(t, t0.Add(30*time.Second), list[0].LastSeen())

	c.Set(t0.Add(30*time.Second + timeout + time.Second))
	n, err = r.RemoveTimedOutServers(ctx, timeout)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRemoveTimedOutServersDropsDanglingMembers(t *testing.T) {
	r, _, mr := newTestRegistry(t)
	_, err := mr.SAdd("flo:servers", "orphan")
	require.NoError(t, err)

	n, err := r.RemoveTimedOutServers(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("flo:servers"))
}

func TestSweeperRemovesInBackground(t *testing.T) {
	r, c, mr := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Announce(ctx, "s1", ServerContext{WorkerCount: 1}))
	c.Set(c.Now().Add(time.Hour))

	sw := NewSweeper(r, 5*time.Millisecond, time.Minute, nil)
	sw.Start()
	defer sw.Stop()

	assert.Eventually(t, func() bool { return !mr.Exists("flo:server:s1") }, time.Second, 5*time.Millisecond)
}

func TestHeartbeaterStampsServer(t *testing.T) {
	r, c, mr := newTestRegistry(t)
	require.NoError(t, r.Announce(context.Background(), "s1", ServerContext{WorkerCount: 1}))
	c.Set(c.Now().Add(time.Second))

	hb := NewHeartbeater(r, "s1", 5*time.Millisecond, nil)
	hb.Start()
	defer hb.Stop()

	assert.Eventually(t, func() bool { return mr.HGet("flo:server:s1", "Heartbeat") != "" }, time.Second, 5*time.Millisecond)
}
