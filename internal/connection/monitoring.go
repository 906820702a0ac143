package connection

import (
	"context"
	"sort"
	"time"

	"github.com/rzbill/flojobs/internal/store"
)

// QueueStat counts the jobs of one queue.
type QueueStat struct {
	Name     string `json:"name"`
	Enqueued int64  `json:"enqueued"`
	Fetched  int64  `json:"fetched"`
}

// JobSummary is a job as listed by ListQueueJobs.
type JobSummary struct {
	ID         string            `json:"id"`
	Queue      string            `json:"queue"`
	InFlight   bool              `json:"inFlight"`
	State      string            `json:"state,omitempty"`
	Type       string            `json:"type,omitempty"`
	Method     string            `json:"method,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	FetchedAt  time.Time         `json:"fetchedAt"`
	Parameters map[string]string `json:"parameters,omitempty"`
	LoadError  string            `json:"loadError,omitempty"`
	// Missing is set when the queue references a job whose record is gone.
	Missing bool `json:"missing,omitempty"`
}

// QueueStats reports every queue that has ever been enqueued to, by name.
func (c *Connection) QueueStats(ctx context.Context) ([]QueueStat, error) {
	names, err := c.store.SetMembers(ctx, c.keys.Queues())
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]QueueStat, 0, len(names))
	for _, name := range names {
		st := QueueStat{Name: name}
		if st.Enqueued, err = c.store.ListLen(ctx, c.keys.Queue(name)); err != nil {
			return nil, err
		}
		if st.Fetched, err = c.store.ListLen(ctx, c.keys.Dequeued(name)); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// ListQueueJobs lists the in-flight jobs of queue followed by the waiting
// ones in fetch order, keeping those that match filter. limit <= 0 means
// no limit.
func (c *Connection) ListQueueJobs(ctx context.Context, queue string, filter JobFilter, limit int) ([]JobSummary, error) {
	if queue == "" {
		return nil, store.InvalidArgument("queue", "must not be empty")
	}
	inflight, err := c.store.ListRange(ctx, c.keys.Dequeued(queue), 0, -1)
	if err != nil {
		return nil, err
	}
	waiting, err := c.store.ListRange(ctx, c.keys.Queue(queue), 0, -1)
	if err != nil {
		return nil, err
	}
	// Producers push on the head and fetchers pop the tail.
	for i, j := 0, len(waiting)-1; i < j; i, j = i+1, j-1 {
		waiting[i], waiting[j] = waiting[j], waiting[i]
	}

	now := c.now()
	out := []JobSummary{}
	visit := func(id string, inFlight bool) (bool, error) {
		s, err := c.summarize(ctx, queue, id, inFlight)
		if err != nil {
			return false, err
		}
		if filter.Match(s, now) {
			out = append(out, s)
		}
		return limit > 0 && len(out) >= limit, nil
	}
	for _, id := range inflight {
		if done, err := visit(id, true); err != nil || done {
			return out, err
		}
	}
	for _, id := range waiting {
		if done, err := visit(id, false); err != nil || done {
			return out, err
		}
	}
	return out, nil
}

func (c *Connection) summarize(ctx context.Context, queue, id string, inFlight bool) (JobSummary, error) {
	s := JobSummary{ID: id, Queue: queue, InFlight: inFlight}
	d, err := c.GetJobData(ctx, id)
	if err != nil {
		return s, err
	}
	if d == nil {
		s.Missing = true
		return s, nil
	}
	s.State = d.State
	s.Type = d.Invocation.Type
	s.Method = d.Invocation.Method
	s.CreatedAt = d.CreatedAt
	s.FetchedAt = d.Fetched
	s.Parameters = d.Parameters
	if d.LoadError != nil {
		s.LoadError = d.LoadError.Err.Error()
	}
	return s, nil
}
