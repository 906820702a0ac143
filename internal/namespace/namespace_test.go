package namespace

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/flojobs/internal/store/redisstore"
)

func TestKeyLayout(t *testing.T) {
	k := New("hf:")
	assert.Equal(t, "hf", k.Prefix())
	assert.Equal(t, "hf:job:42", k.Job("42"))
	assert.Equal(t, "hf:job:42:state", k.JobState("42"))
	assert.Equal(t, "hf:queue:critical", k.Queue("critical"))
	assert.Equal(t, "hf:queue:critical:dequeued", k.Dequeued("critical"))
	assert.Equal(t, "hf:server:s1", k.Server("s1"))
	assert.Equal(t, "hf:server:s1:queues", k.ServerQueues("s1"))
	assert.Equal(t, "hf:servers", k.Servers())
	assert.Equal(t, "hf:queues", k.Queues())
	assert.Equal(t, "hf:lock:recurring", k.Lock("lock:recurring"))

	assert.Equal(t, DefaultPrefix, New("  ").Prefix())
}

func TestValidQueueName(t *testing.T) {
	assert.True(t, ValidQueueName("critical"))
	assert.True(t, ValidQueueName("dequeued"))
	assert.True(t, ValidQueueName("x:dequeued:later"))
	assert.False(t, ValidQueueName(""))
	assert.False(t, ValidQueueName("x:dequeued"), "would alias Dequeued(\"x\")")
}

func TestPrefixesDoNotCollide(t *testing.T) {
	a, b := New("a"), New("b")
	assert.NotEqual(t, a.Job("1"), b.Job("1"))
	assert.NotEqual(t, a.Servers(), b.Servers())
}

func TestEnsureIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	s := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), redisstore.Options{})
	defer s.Close()
	ctx := context.Background()
	keys := New("flo")

	var wg sync.WaitGroup
	metas := make([]Meta, 8)
	for i := range metas {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := Ensure(ctx, s, keys)
			assert.NoError(t, err)
			metas[i] = m
		}(i)
	}
	wg.Wait()

	require.NotEmpty(t, metas[0].InstanceID)
	for _, m := range metas[1:] {
		assert.Equal(t, metas[0].InstanceID, m.InstanceID)
	}

	again, err := Ensure(ctx, s, keys)
	require.NoError(t, err)
	assert.Equal(t, metas[0].InstanceID, again.InstanceID)
	assert.NotZero(t, again.CreatedAtMs)
	assert.Equal(t, "flo", again.Name)
}
