// Package storetest holds behavior tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/flojobs/internal/store"
)

// Harness is a freshly opened, empty store plus a way to move its clock.
type Harness struct {
	Store   store.Store
	Advance func(time.Duration)
}

// Run executes the shared suite. newHarness is called once per subtest.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	cases := []struct {
		name string
		fn   func(t *testing.T, h Harness)
	}{
		{"StringsAndExpiry", testStringsAndExpiry},
		{"CompareAndSet", testCompareAndSet},
		{"Lists", testLists},
		{"Hashes", testHashes},
		{"Sets", testSets},
		{"SortedSets", testSortedSets},
		{"Counters", testCounters},
		{"TxAbort", testTxAbort},
		{"PubSub", testPubSub},
		{"WrongType", testWrongType},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newHarness(t))
		})
	}
}

func testStringsAndExpiry(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	set, err := s.SetNX(ctx, "lock", "owner-a", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, set)

	set, err = s.SetNX(ctx, "lock", "owner-b", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, set)

	v, ok, err := s.Get(ctx, "lock")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "owner-a", v)

	ttl, err := s.TTL(ctx, "lock")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 10*time.Second)

	h.Advance(11 * time.Second)
	_, ok, err = s.Get(ctx, "lock")
	require.NoError(t, err)
	assert.False(t, ok, "expired key must read as missing")

	set, err = s.SetNX(ctx, "lock", "owner-b", time.Second)
	require.NoError(t, err)
	assert.True(t, set)

	ttl, err = s.TTL(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func testCompareAndSet(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	ok, err := s.CompareAndDelete(ctx, "k", "v")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.SetNX(ctx, "k", "v", time.Minute)
	require.NoError(t, err)

	ok, err = s.CompareAndExpire(ctx, "k", "other", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndExpire(ctx, "k", "v", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Minute)

	ok, err = s.CompareAndDelete(ctx, "k", "other")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndDelete(ctx, "k", "v")
	require.NoError(t, err)
	assert.True(t, ok)

	_, exists, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func testLists(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	_, ok, err := s.RightPopLeftPush(ctx, "q", "q:dequeued")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.ListLeftPush("q", "a")
		tx.ListLeftPush("q", "b", "c")
		return nil
	}))
	got, err := s.ListRange(ctx, "q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, got)

	v, ok, err := s.RightPopLeftPush(ctx, "q", "q:dequeued")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	n, err := s.ListLen(ctx, "q:dequeued")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.ListRightPush("q", "z")
		tx.ListLeftPush("q", "b")
		return nil
	}))
	got, err = s.ListRange(ctx, "q", -2, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "z"}, got)

	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.ListRemove("q", 0, "b")
		return nil
	}))
	got, err = s.ListRange(ctx, "q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "z"}, got)

	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.ListTrim("q", 0, 0)
		return nil
	}))
	got, err = s.ListRange(ctx, "q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got)

	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.ListRemove("q", 1, "c")
		return nil
	}))
	n, err = s.ListLen(ctx, "q")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testHashes(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	all, err := s.HashGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Empty(t, all)

	ok, err := s.HashSetIfExists(ctx, "h", map[string]string{"Heartbeat": "1"})
	require.NoError(t, err)
	assert.False(t, ok)
	n, err := s.HashLen(ctx, "h")
	require.NoError(t, err)
	assert.Zero(t, n, "set-if-exists must not create the hash")

	require.NoError(t, s.HashSet(ctx, "h", map[string]string{"a": "1", "b": "2"}))
	ok, err = s.HashSetIfExists(ctx, "h", map[string]string{"b": "3"})
	require.NoError(t, err)
	assert.True(t, ok)

	v, ok, err := s.HashGet(ctx, "h", "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	_, ok, err = s.HashGet(ctx, "h", "zz")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.HashDelete("h", "a", "b")
		return nil
	}))
	n, err = s.HashLen(ctx, "h")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testSets(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.SetAdd("servers", "s1", "s2")
		tx.SetAdd("servers", "s2")
		return nil
	}))
	members, err := s.SetMembers(ctx, "servers")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, members)

	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.SetRemove("servers", "s1", "missing")
		return nil
	}))
	n, err := s.SetCard(ctx, "servers")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func testSortedSets(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.SortedSetAdd("schedule", 30, "c")
		tx.SortedSetAdd("schedule", 10, "a")
		tx.SortedSetAdd("schedule", 20, "b")
		tx.SortedSetAdd("schedule", 5, "c")
		return nil
	}))
	all, err := s.SortedSetRange(ctx, "schedule", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, all)

	first, err := s.SortedSetRangeByScore(ctx, "schedule", 6, 100, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, first)

	n, err := s.SortedSetCard(ctx, "schedule")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.SortedSetRemove("schedule", "a")
		return nil
	}))
	all, err = s.SortedSetRange(ctx, "schedule", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, all)
}

func testCounters(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.IncrBy("stats:succeeded", 3)
		tx.IncrBy("stats:succeeded", -1)
		tx.Expire("stats:succeeded", time.Hour)
		return nil
	}))
	v, ok, err := s.Get(ctx, "stats:succeeded")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	ttl, err := s.TTL(ctx, "stats:succeeded")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.Persist("stats:succeeded")
		return nil
	}))
	ttl, err = s.TTL(ctx, "stats:succeeded")
	require.NoError(t, err)
	assert.Zero(t, ttl)

	require.NoError(t, s.Delete(ctx, "stats:succeeded", "missing"))
	_, ok, err = s.Get(ctx, "stats:succeeded")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testTxAbort(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	boom := errors.New("boom")
	err := s.Tx(ctx, func(tx store.Tx) error {
		tx.HashSet("job", map[string]string{"State": "Enqueued"})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := s.HashLen(ctx, "job")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testPubSub(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	sub, err := s.Subscribe(ctx, "JobFetchChannel")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, "JobFetchChannel", "direct"))
	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.ListLeftPush("q", "1")
		tx.Publish("JobFetchChannel", "tx")
		return nil
	}))

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case m := <-sub.Messages():
			got = append(got, m)
		case <-timeout:
			t.Fatalf("timed out waiting for messages, got %v", got)
		}
	}
	assert.Equal(t, []string{"direct", "tx"}, got)
}

func testWrongType(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	require.NoError(t, s.Tx(ctx, func(tx store.Tx) error {
		tx.ListLeftPush("list", "x")
		return nil
	}))
	assert.Error(t, s.HashSet(ctx, "list", map[string]string{"a": "b"}))
}
