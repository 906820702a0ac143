package watcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rzbill/flojobs/internal/fetch"
	"github.com/rzbill/flojobs/internal/job"
	"github.com/rzbill/flojobs/internal/lock"
	"github.com/rzbill/flojobs/internal/namespace"
	"github.com/rzbill/flojobs/internal/store"
	"github.com/rzbill/flojobs/pkg/log"
)

// Metrics observes recovered jobs. Optional.
type Metrics interface {
	JobsRecovered(queue string, n int)
}

type noopMetrics struct{}

func (noopMetrics) JobsRecovered(string, int) {}

// Options configures a Watcher.
type Options struct {
	Interval            time.Duration // How often to sweep (default: 1m)
	InvisibilityTimeout time.Duration // How long a fetched job may stay unacknowledged (default: 30m)
	CheckedTimeout      time.Duration // Grace for in-flight jobs that were never stamped (default: 1m)
	LockTimeout         time.Duration // Wait for and lease of the per-queue lock (default: 1m)
	Now                 func() time.Time
	Logger              log.Logger
	Metrics             Metrics
}

// Watcher returns jobs abandoned in in-flight lists to their queues.
type Watcher struct {
	store   store.Store
	keys    namespace.Keys
	locker  *lock.Locker
	opts    Options
	logger  log.Logger
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher.
func New(s store.Store, keys namespace.Keys, locker *lock.Locker, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.InvisibilityTimeout <= 0 {
		opts.InvisibilityTimeout = 30 * time.Minute
	}
	if opts.CheckedTimeout <= 0 {
		opts.CheckedTimeout = time.Minute
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	var m Metrics = noopMetrics{}
	if opts.Metrics != nil {
		m = opts.Metrics
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		store:   s,
		keys:    keys,
		locker:  locker,
		opts:    opts,
		logger:  logger.WithComponent("watcher"),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// LockResource is the lock guarding the in-flight list of queue.
func LockResource(queue string) string { return "queue:" + queue + ":dequeued:lock" }

// Sweep checks the in-flight list of every known queue once and returns
// how many jobs were put back. A queue whose lock is busy is skipped.
func (w *Watcher) Sweep(ctx context.Context) (int, error) {
	queues, err := w.store.SetMembers(ctx, w.keys.Queues())
	if err != nil {
		return 0, fmt.Errorf("list queues: %w", err)
	}
	sort.Strings(queues)

	total := 0
	var errs []error
	for _, q := range queues {
		if ctx.Err() != nil {
			return total, store.Canceled(ctx)
		}
		n, err := w.sweepQueue(ctx, q)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("queue %s: %w", q, err))
		}
	}
	return total, errors.Join(errs...)
}

func (w *Watcher) sweepQueue(ctx context.Context, queue string) (int, error) {
	h, err := w.locker.Acquire(ctx, LockResource(queue), w.opts.LockTimeout)
	if errors.Is(err, lock.ErrLockTimeout) {
		w.logger.Debug("in-flight list busy, skipping", log.Str("queue", queue))
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := h.Release(context.WithoutCancel(ctx)); err != nil {
			w.logger.Warn("release in-flight lock failed", log.Str("queue", queue), log.Err(err))
		}
	}()

	ids, err := w.store.ListRange(ctx, w.keys.Dequeued(queue), 0, -1)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, id := range ids {
		ok, err := w.check(ctx, queue, id)
		if err != nil {
			return requeued, err
		}
		if ok {
			requeued++
		}
	}
	if requeued > 0 {
		w.metrics.JobsRecovered(queue, requeued)
		w.logger.Info("requeued abandoned jobs", log.Str("queue", queue), log.Int("count", requeued))
	}
	return requeued, nil
}

// check decides the fate of one in-flight id and reports whether it was
// requeued.
func (w *Watcher) check(ctx context.Context, queue, id string) (bool, error) {
	fields, err := w.store.HashGetAll(ctx, w.keys.Job(id))
	if err != nil {
		return false, err
	}
	now := w.opts.Now()

	if len(fields) == 0 {
		// The job record expired or was deleted; nothing is left to run.
		err := w.store.Tx(ctx, func(tx store.Tx) error {
			tx.ListRemove(w.keys.Dequeued(queue), -1, id)
			return nil
		})
		if err == nil {
			w.logger.Warn("dropped in-flight entry without job record", log.Str("queue", queue), log.Str("job_id", id))
		}
		return false, err
	}

	if fetched, ok := job.ParseTime(fields[job.FieldFetched]); ok {
		if now.Sub(fetched) <= w.opts.InvisibilityTimeout {
			return false, nil
		}
		return true, w.requeue(ctx, queue, id)
	}

	checked, ok := job.ParseTime(fields[job.FieldChecked])
	if !ok {
		_, err := w.store.HashSetIfExists(ctx, w.keys.Job(id), map[string]string{
			job.FieldChecked: job.FormatTime(now),
		})
		return false, err
	}
	if now.Sub(checked) <= w.opts.CheckedTimeout {
		return false, nil
	}
	return true, w.requeue(ctx, queue, id)
}

func (w *Watcher) requeue(ctx context.Context, queue, id string) error {
	err := w.store.Tx(ctx, func(tx store.Tx) error {
		fetch.Requeue(tx, w.keys, queue, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", id, err)
	}
	w.logger.Debug("requeued job", log.Str("queue", queue), log.Str("job_id", id))
	return nil
}

// Start begins sweeping in the background.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop gracefully stops the watcher.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	interval := w.opts.Interval
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	w.logger.Info("watcher started",
		log.Dur("interval", interval),
		log.Dur("invisibility_timeout", w.opts.InvisibilityTimeout),
	)

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info("watcher stopped")
			return
		case <-time.After(interval + time.Duration(rng.Int63n(int64(interval/10+1)))):
			if _, err := w.Sweep(w.ctx); err != nil && w.ctx.Err() == nil {
				w.logger.Error("sweep failed", log.Err(err))
			}
		}
	}
}
