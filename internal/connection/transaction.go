package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/flojobs/internal/job"
	"github.com/rzbill/flojobs/internal/namespace"
	"github.com/rzbill/flojobs/internal/store"
)

// ErrCommitted is returned by Commit on a transaction that was already
// committed.
var ErrCommitted = errors.New("connection: transaction already committed")

// WriteTransaction buffers writes and applies them atomically on Commit.
// Argument errors are remembered and reported by Commit, which then
// applies nothing. A WriteTransaction is not safe for concurrent use.
type WriteTransaction struct {
	c         *Connection
	ops       []func(store.Tx)
	err       error
	committed bool
}

func (t *WriteTransaction) add(op func(store.Tx)) { t.ops = append(t.ops, op) }

func (t *WriteTransaction) fail(name, reason string) {
	if t.err == nil {
		t.err = store.InvalidArgument(name, reason)
	}
}

func (t *WriteTransaction) requireKey(key string) bool {
	if key == "" {
		t.fail("key", "must not be empty")
		return false
	}
	return true
}

func (t *WriteTransaction) requireID(id string) bool {
	if id == "" {
		t.fail("id", "must not be empty")
		return false
	}
	return true
}

// ExpireJob sets expireIn on the job record, its state and its history.
func (t *WriteTransaction) ExpireJob(id string, expireIn time.Duration) {
	if !t.requireID(id) {
		return
	}
	if expireIn <= 0 {
		t.fail("expireIn", "must be positive")
		return
	}
	k := t.c.keys
	t.add(func(tx store.Tx) {
		tx.Expire(k.Job(id), expireIn)
		tx.Expire(k.JobState(id), expireIn)
		tx.Expire(k.JobHistory(id), expireIn)
	})
}

// PersistJob removes any expiry from the job record, its state and its
// history.
func (t *WriteTransaction) PersistJob(id string) {
	if !t.requireID(id) {
		return
	}
	k := t.c.keys
	t.add(func(tx store.Tx) {
		tx.Persist(k.Job(id))
		tx.Persist(k.JobState(id))
		tx.Persist(k.JobHistory(id))
	})
}

// SetJobState replaces the current state of the job and appends it to the
// history.
func (t *WriteTransaction) SetJobState(id string, state job.StateData) {
	if !t.requireID(id) {
		return
	}
	if state.Name == "" {
		t.fail("state", "name must not be empty")
		return
	}
	fields := make(map[string]string, len(state.Data)+2)
	for k, v := range state.Data {
		fields[k] = v
	}
	fields[job.StateFieldName] = state.Name
	if state.Reason != "" {
		fields[job.StateFieldReason] = state.Reason
	}
	k := t.c.keys
	t.add(func(tx store.Tx) {
		tx.HashSet(k.Job(id), map[string]string{job.FieldState: state.Name})
		tx.Delete(k.JobState(id))
		tx.HashSet(k.JobState(id), fields)
	})
	t.AddJobState(id, state)
}

// AddJobState appends state to the history without changing the current
// state.
func (t *WriteTransaction) AddJobState(id string, state job.StateData) {
	if !t.requireID(id) {
		return
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = t.c.now()
	}
	raw, err := job.MarshalState(state)
	if err != nil {
		t.fail("state", err.Error())
		return
	}
	key := t.c.keys.JobHistory(id)
	t.add(func(tx store.Tx) { tx.ListRightPush(key, raw) })
}

// AddToQueue enqueues id and wakes fetchers once committed.
func (t *WriteTransaction) AddToQueue(queue, id string) {
	if queue == "" {
		t.fail("queue", "must not be empty")
		return
	}
	if !namespace.ValidQueueName(queue) {
		t.fail("queue", "must not end in "+namespace.DequeuedSuffix)
		return
	}
	if !t.requireID(id) {
		return
	}
	k := t.c.keys
	t.add(func(tx store.Tx) {
		tx.SetAdd(k.Queues(), queue)
		tx.ListLeftPush(k.Queue(queue), id)
		tx.Publish(k.FetchChannel(), id)
	})
}

func (t *WriteTransaction) IncrementCounter(key string) { t.counter(key, 1, 0) }

func (t *WriteTransaction) DecrementCounter(key string) { t.counter(key, -1, 0) }

// IncrementCounterWithExpiry also (re)sets the counter's expiry.
func (t *WriteTransaction) IncrementCounterWithExpiry(key string, expireIn time.Duration) {
	t.counter(key, 1, expireIn)
}

func (t *WriteTransaction) DecrementCounterWithExpiry(key string, expireIn time.Duration) {
	t.counter(key, -1, expireIn)
}

func (t *WriteTransaction) counter(key string, delta int64, expireIn time.Duration) {
	if !t.requireKey(key) {
		return
	}
	if expireIn < 0 {
		t.fail("expireIn", "must not be negative")
		return
	}
	full := t.c.keys.Key(key)
	t.add(func(tx store.Tx) {
		tx.IncrBy(full, delta)
		if expireIn > 0 {
			tx.Expire(full, expireIn)
		}
	})
}

// AddToSet adds value with score 0.
func (t *WriteTransaction) AddToSet(key, value string) { t.AddToSetWithScore(key, value, 0) }

func (t *WriteTransaction) AddToSetWithScore(key, value string, score float64) {
	if !t.requireKey(key) {
		return
	}
	full := t.c.keys.Key(key)
	t.add(func(tx store.Tx) { tx.SortedSetAdd(full, score, value) })
}

// AddRangeToSet adds every item with score 0.
func (t *WriteTransaction) AddRangeToSet(key string, items []string) {
	if !t.requireKey(key) {
		return
	}
	full := t.c.keys.Key(key)
	t.add(func(tx store.Tx) {
		for _, it := range items {
			tx.SortedSetAdd(full, 0, it)
		}
	})
}

func (t *WriteTransaction) RemoveFromSet(key, value string) {
	if !t.requireKey(key) {
		return
	}
	full := t.c.keys.Key(key)
	t.add(func(tx store.Tx) { tx.SortedSetRemove(full, value) })
}

// InsertToList pushes value onto the head of the list.
func (t *WriteTransaction) InsertToList(key, value string) {
	if !t.requireKey(key) {
		return
	}
	full := t.c.keys.Key(key)
	t.add(func(tx store.Tx) { tx.ListLeftPush(full, value) })
}

// RemoveFromList removes every occurrence of value.
func (t *WriteTransaction) RemoveFromList(key, value string) {
	if !t.requireKey(key) {
		return
	}
	full := t.c.keys.Key(key)
	t.add(func(tx store.Tx) { tx.ListRemove(full, 0, value) })
}

// TrimList keeps only the items between start and end, inclusive.
func (t *WriteTransaction) TrimList(key string, start, end int64) {
	if !t.requireKey(key) {
		return
	}
	full := t.c.keys.Key(key)
	t.add(func(tx store.Tx) { tx.ListTrim(full, start, end) })
}

func (t *WriteTransaction) SetRangeInHash(key string, values map[string]string) {
	if !t.requireKey(key) {
		return
	}
	if len(values) == 0 {
		return
	}
	full := t.c.keys.Key(key)
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	t.add(func(tx store.Tx) { tx.HashSet(full, copied) })
}

func (t *WriteTransaction) RemoveHash(key string) { t.remove(key) }

func (t *WriteTransaction) RemoveSet(key string) { t.remove(key) }

func (t *WriteTransaction) remove(key string) {
	if !t.requireKey(key) {
		return
	}
	full := t.c.keys.Key(key)
	t.add(func(tx store.Tx) { tx.Delete(full) })
}

func (t *WriteTransaction) ExpireSet(key string, expireIn time.Duration)  { t.expire(key, expireIn) }
func (t *WriteTransaction) ExpireList(key string, expireIn time.Duration) { t.expire(key, expireIn) }
func (t *WriteTransaction) ExpireHash(key string, expireIn time.Duration) { t.expire(key, expireIn) }

func (t *WriteTransaction) expire(key string, expireIn time.Duration) {
	if !t.requireKey(key) {
		return
	}
	if expireIn <= 0 {
		t.fail("expireIn", "must be positive")
		return
	}
	full := t.c.keys.Key(key)
	t.add(func(tx store.Tx) { tx.Expire(full, expireIn) })
}

func (t *WriteTransaction) PersistSet(key string)  { t.persist(key) }
func (t *WriteTransaction) PersistList(key string) { t.persist(key) }
func (t *WriteTransaction) PersistHash(key string) { t.persist(key) }

func (t *WriteTransaction) persist(key string) {
	if !t.requireKey(key) {
		return
	}
	full := t.c.keys.Key(key)
	t.add(func(tx store.Tx) { tx.Persist(full) })
}

// Commit applies every buffered write atomically. Fetch notifications for
// AddToQueue are published only after the writes are visible.
func (t *WriteTransaction) Commit(ctx context.Context) error {
	if t.committed {
		return ErrCommitted
	}
	if t.err != nil {
		return t.err
	}
	if len(t.ops) == 0 {
		t.committed = true
		return nil
	}
	err := t.c.store.Tx(ctx, func(tx store.Tx) error {
		for _, op := range t.ops {
			op(tx)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	t.committed = true
	return nil
}
