package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/flojobs/internal/job"
	"github.com/rzbill/flojobs/internal/namespace"
	"github.com/rzbill/flojobs/internal/store"
	"github.com/rzbill/flojobs/pkg/log"
)

// DefaultPollTimeout bounds a single wait for a fetch notification.
const DefaultPollTimeout = time.Second

// Metrics observes fetch activity. Optional.
type Metrics interface {
	JobFetched(queue string, wait time.Duration)
	JobAcknowledged(queue string)
	JobRequeued(queue string)
}

type noopMetrics struct{}

func (noopMetrics) JobFetched(string, time.Duration) {}
func (noopMetrics) JobAcknowledged(string)           {}
func (noopMetrics) JobRequeued(string)               {}

// Options configures a Fetcher.
type Options struct {
	// PollTimeout is how long to wait for a notification before scanning
	// the queues again. Independent of caller deadlines.
	PollTimeout time.Duration
	Now         func() time.Time
	Logger      log.Logger
	Metrics     Metrics
}

// Fetcher moves jobs from queues to their in-flight lists.
type Fetcher struct {
	store    store.Store
	keys     namespace.Keys
	notifier *Notifier
	poll     time.Duration
	now      func() time.Time
	logger   log.Logger
	metrics  Metrics
}

// New creates a Fetcher. notifier may be nil, in which case waiting falls
// back to plain polling.
func New(s store.Store, keys namespace.Keys, notifier *Notifier, opts Options) *Fetcher {
	f := &Fetcher{
		store:    s,
		keys:     keys,
		notifier: notifier,
		poll:     opts.PollTimeout,
		now:      opts.Now,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if f.poll <= 0 {
		f.poll = DefaultPollTimeout
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.logger == nil {
		f.logger = log.NewLogger(log.WithLevel(log.WarnLevel))
	}
	f.logger = f.logger.WithComponent("fetcher")
	if f.metrics == nil {
		f.metrics = noopMetrics{}
	}
	return f
}

// FetchNext blocks until a job is available on one of queues, scanning
// them in order so earlier queues take priority. The job is moved to the
// queue's in-flight list in the same store operation that removes it from
// the queue.
func (f *Fetcher) FetchNext(ctx context.Context, queues []string) (*FetchedJob, error) {
	if len(queues) == 0 {
		return nil, store.InvalidArgument("queues", "at least one queue is required")
	}
	for _, q := range queues {
		if q == "" {
			return nil, store.InvalidArgument("queues", "queue names must not be empty")
		}
		if !namespace.ValidQueueName(q) {
			return nil, store.InvalidArgument("queues", "queue name "+q+" must not end in "+namespace.DequeuedSuffix)
		}
	}

	started := f.now()
	for {
		if ctx.Err() != nil {
			return nil, store.Canceled(ctx)
		}
		// Taken before the scan so a notification published during it
		// still wakes us.
		var wake <-chan struct{}
		if f.notifier != nil {
			wake = f.notifier.Changed()
		}

		for _, q := range queues {
			id, ok, err := f.store.RightPopLeftPush(ctx, f.keys.Queue(q), f.keys.Dequeued(q))
			if err != nil {
				if ctx.Err() != nil {
					return nil, store.Canceled(ctx)
				}
				return nil, fmt.Errorf("fetch from queue %s: %w", q, err)
			}
			if !ok {
				continue
			}
			return f.claim(ctx, q, id, started)
		}

		timer := time.NewTimer(f.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, store.Canceled(ctx)
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// claim stamps the fetch time. If that write fails the id stays in the
// in-flight list without a Fetched field, where the watcher finds it.
func (f *Fetcher) claim(ctx context.Context, queue, id string, started time.Time) (*FetchedJob, error) {
	now := f.now()
	_, err := f.store.HashSetIfExists(ctx, f.keys.Job(id), map[string]string{
		job.FieldFetched: job.FormatTime(now),
	})
	if err != nil {
		return nil, fmt.Errorf("stamp fetched job %s: %w", id, err)
	}
	f.metrics.JobFetched(queue, now.Sub(started))
	f.logger.Debug("job fetched", log.Str("job_id", id), log.Str("queue", queue))
	return &FetchedJob{f: f, id: id, queue: queue, fetchedAt: now}, nil
}

// FetchedJob is the exclusive handle to one in-flight job. Exactly one of
// Acknowledge or Requeue takes effect; later calls do nothing.
type FetchedJob struct {
	f         *Fetcher
	id        string
	queue     string
	fetchedAt time.Time

	mu    sync.Mutex
	spent bool
}

func (j *FetchedJob) ID() string           { return j.id }
func (j *FetchedJob) Queue() string        { return j.queue }
func (j *FetchedJob) FetchedAt() time.Time { return j.fetchedAt }

// Acknowledge removes the job from the in-flight list. Call it once the
// job has been processed.
func (j *FetchedJob) Acknowledge(ctx context.Context) error {
	applied, err := j.finish(ctx, func(tx store.Tx) {
		tx.ListRemove(j.f.keys.Dequeued(j.queue), -1, j.id)
		tx.HashDelete(j.f.keys.Job(j.id), job.FieldFetched, job.FieldChecked)
	})
	if err != nil {
		return fmt.Errorf("acknowledge job %s: %w", j.id, err)
	}
	if !applied {
		return nil
	}
	j.f.metrics.JobAcknowledged(j.queue)
	return nil
}

// Requeue puts the job back at the head of its queue so it is fetched
// next, and wakes waiting fetchers.
func (j *FetchedJob) Requeue(ctx context.Context) error {
	applied, err := j.finish(ctx, func(tx store.Tx) {
		Requeue(tx, j.f.keys, j.queue, j.id)
	})
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", j.id, err)
	}
	if !applied {
		return nil
	}
	j.f.metrics.JobRequeued(j.queue)
	j.f.logger.Debug("job requeued", log.Str("job_id", j.id), log.Str("queue", j.queue))
	return nil
}

// finish commits a terminal operation unless one already succeeded.
func (j *FetchedJob) finish(ctx context.Context, build func(store.Tx)) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.spent {
		return false, nil
	}
	if err := j.f.store.Tx(ctx, func(tx store.Tx) error {
		build(tx)
		return nil
	}); err != nil {
		return false, err
	}
	j.spent = true
	return true, nil
}

// Requeue adds the writes that move id from the in-flight list of queue
// back onto the pop end of the queue. Shared with the watcher.
func Requeue(tx store.Tx, keys namespace.Keys, queue, id string) {
	tx.ListRightPush(keys.Queue(queue), id)
	tx.ListRemove(keys.Dequeued(queue), -1, id)
	tx.HashDelete(keys.Job(id), job.FieldFetched, job.FieldChecked)
	tx.Publish(keys.FetchChannel(), id)
}
