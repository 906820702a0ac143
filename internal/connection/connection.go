package connection

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rzbill/flojobs/internal/fetch"
	"github.com/rzbill/flojobs/internal/job"
	"github.com/rzbill/flojobs/internal/lock"
	"github.com/rzbill/flojobs/internal/namespace"
	"github.com/rzbill/flojobs/internal/registry"
	"github.com/rzbill/flojobs/internal/store"
	"github.com/rzbill/flojobs/pkg/log"
)

// Options configures a Connection. Zero values select defaults.
type Options struct {
	Codec    job.Codec
	Lock     lock.Options
	Fetch    fetch.Options
	Registry registry.Options
	Now      func() time.Time
	Logger   log.Logger
}

// Connection is the storage facade a job-processing framework talks to.
// It is safe for concurrent use.
type Connection struct {
	store    store.Store
	keys     namespace.Keys
	codec    job.Codec
	locker   *lock.Locker
	notifier *fetch.Notifier
	fetcher  *fetch.Fetcher
	registry *registry.Registry
	now      func() time.Time
	logger   log.Logger
}

// New builds a Connection over s. instanceID is the storage identity
// returned by namespace.Ensure.
func New(s store.Store, keys namespace.Keys, instanceID string, opts Options) *Connection {
	if opts.Codec == nil {
		opts.Codec = job.StringCodec{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithLevel(log.WarnLevel))
	}
	if opts.Lock.Logger == nil {
		opts.Lock.Logger = opts.Logger
	}
	if opts.Fetch.Logger == nil {
		opts.Fetch.Logger = opts.Logger
	}
	if opts.Fetch.Now == nil {
		opts.Fetch.Now = opts.Now
	}
	if opts.Registry.Logger == nil {
		opts.Registry.Logger = opts.Logger
	}
	if opts.Registry.Now == nil {
		opts.Registry.Now = opts.Now
	}

	notifier := fetch.NewNotifier(s, keys.FetchChannel(), opts.Logger)
	return &Connection{
		store:    s,
		keys:     keys,
		codec:    opts.Codec,
		locker:   lock.New(s, keys, instanceID, opts.Lock),
		notifier: notifier,
		fetcher:  fetch.New(s, keys, notifier, opts.Fetch),
		registry: registry.New(s, keys, opts.Registry),
		now:      opts.Now,
		logger:   opts.Logger.WithComponent("connection"),
	}
}

// Start subscribes to fetch notifications. Without it FetchNextJob still
// works but only notices new jobs at its poll interval.
func (c *Connection) Start(ctx context.Context) error {
	if err := c.notifier.Start(ctx); err != nil {
		return fmt.Errorf("subscribe to fetch notifications: %w", err)
	}
	return nil
}

// Close stops notifications and wakes blocked fetchers. The store is left
// open.
func (c *Connection) Close() { c.notifier.Stop() }

func (c *Connection) Keys() namespace.Keys         { return c.keys }
func (c *Connection) Store() store.Store           { return c.store }
func (c *Connection) Locker() *lock.Locker         { return c.locker }
func (c *Connection) Registry() *registry.Registry { return c.registry }

// CreateWriteTransaction starts a batch of writes applied by Commit.
func (c *Connection) CreateWriteTransaction() *WriteTransaction {
	return &WriteTransaction{c: c}
}

// AcquireDistributedLock blocks until resource is locked for this caller.
// Every call is a new owner, so it is not re-entrant: acquiring a resource
// already held through this method waits for timeout. Use NewLockOwner to
// nest acquisitions.
func (c *Connection) AcquireDistributedLock(ctx context.Context, resource string, timeout time.Duration) (*lock.Handle, error) {
	return c.locker.Acquire(ctx, resource, timeout)
}

// NewLockOwner returns an identity whose acquisitions are re-entrant.
func (c *Connection) NewLockOwner() *lock.Owner { return c.locker.NewOwner() }

// FetchNextJob blocks until a job is available on one of queues, which are
// scanned in priority order.
func (c *Connection) FetchNextJob(ctx context.Context, queues []string) (*fetch.FetchedJob, error) {
	return c.fetcher.FetchNext(ctx, queues)
}

func (c *Connection) AnnounceServer(ctx context.Context, serverID string, sc registry.ServerContext) error {
	return c.registry.Announce(ctx, serverID, sc)
}

func (c *Connection) Heartbeat(ctx context.Context, serverID string) error {
	return c.registry.Heartbeat(ctx, serverID)
}

func (c *Connection) RemoveServer(ctx context.Context, serverID string) error {
	return c.registry.RemoveServer(ctx, serverID)
}

func (c *Connection) RemoveTimedOutServers(ctx context.Context, timeout time.Duration) (int, error) {
	return c.registry.RemoveTimedOutServers(ctx, timeout)
}

// CreateExpiredJob stores a new job record that expires after expireIn
// unless it is persisted later, and returns its id. The record and its
// expiry are written together.
func (c *Connection) CreateExpiredJob(ctx context.Context, inv job.InvocationData, params map[string]string, createdAt time.Time, expireIn time.Duration) (string, error) {
	if expireIn <= 0 {
		return "", store.InvalidArgument("expireIn", "must be positive")
	}
	fields, err := c.codec.Encode(inv)
	if err != nil {
		return "", store.InvalidArgument("invocation", err.Error())
	}
	for name, value := range params {
		if name == "" || job.IsReserved(name) {
			return "", store.InvalidArgument("parameters", fmt.Sprintf("%q is not a valid parameter name", name))
		}
		fields[name] = value
	}
	fields[job.FieldCreatedAt] = job.FormatTime(createdAt)

	id := job.NewID()
	key := c.keys.Job(id)
	if err := c.store.Tx(ctx, func(tx store.Tx) error {
		tx.HashSet(key, fields)
		tx.Expire(key, expireIn)
		return nil
	}); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	c.logger.Debug("job created", log.Str("job_id", id), log.Str("type", inv.Type), log.Str("method", inv.Method))
	return id, nil
}

// GetJobData returns the job record or nil when the job does not exist.
// An undecodable payload is reported through Data.LoadError.
func (c *Connection) GetJobData(ctx context.Context, id string) (*job.Data, error) {
	if id == "" {
		return nil, store.InvalidArgument("id", "must not be empty")
	}
	fields, err := c.store.HashGetAll(ctx, c.keys.Job(id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return c.decodeJob(id, fields), nil
}

func (c *Connection) decodeJob(id string, fields map[string]string) *job.Data {
	d := &job.Data{ID: id, State: fields[job.FieldState], Parameters: map[string]string{}}
	inv, err := c.codec.Decode(fields)
	if err != nil {
		d.LoadError = &job.LoadError{JobID: id, Err: err}
	}
	d.Invocation = inv
	d.CreatedAt, _ = job.ParseTime(fields[job.FieldCreatedAt])
	d.Fetched, _ = job.ParseTime(fields[job.FieldFetched])
	for k, v := range fields {
		if !job.IsReserved(k) {
			d.Parameters[k] = v
		}
	}
	return d
}

// GetStateData returns the current state record or nil when there is none.
func (c *Connection) GetStateData(ctx context.Context, id string) (*job.StateData, error) {
	if id == "" {
		return nil, store.InvalidArgument("id", "must not be empty")
	}
	fields, err := c.store.HashGetAll(ctx, c.keys.JobState(id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	sd := &job.StateData{
		Name:   fields[job.StateFieldName],
		Reason: fields[job.StateFieldReason],
		Data:   map[string]string{},
	}
	for k, v := range fields {
		if k != job.StateFieldName && k != job.StateFieldReason {
			sd.Data[k] = v
		}
	}
	return sd, nil
}

// GetStateHistory returns every state the job went through, oldest first.
func (c *Connection) GetStateHistory(ctx context.Context, id string) ([]job.StateData, error) {
	if id == "" {
		return nil, store.InvalidArgument("id", "must not be empty")
	}
	raw, err := c.store.ListRange(ctx, c.keys.JobHistory(id), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]job.StateData, 0, len(raw))
	for _, r := range raw {
		sd, err := job.UnmarshalState(r)
		if err != nil {
			c.logger.Warn("skipping malformed state history entry", log.Str("job_id", id), log.Err(err))
			continue
		}
		out = append(out, sd)
	}
	return out, nil
}

// GetJobParameter returns "" when the job or the parameter is missing.
func (c *Connection) GetJobParameter(ctx context.Context, id, name string) (string, error) {
	if id == "" {
		return "", store.InvalidArgument("id", "must not be empty")
	}
	if name == "" {
		return "", store.InvalidArgument("name", "must not be empty")
	}
	v, _, err := c.store.HashGet(ctx, c.keys.Job(id), name)
	return v, err
}

func (c *Connection) SetJobParameter(ctx context.Context, id, name, value string) error {
	if id == "" {
		return store.InvalidArgument("id", "must not be empty")
	}
	if name == "" || job.IsReserved(name) {
		return store.InvalidArgument("name", fmt.Sprintf("%q is not a valid parameter name", name))
	}
	return c.store.HashSet(ctx, c.keys.Job(id), map[string]string{name: value})
}

// GetCounter returns 0 for a missing counter.
func (c *Connection) GetCounter(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, store.InvalidArgument("key", "must not be empty")
	}
	v, ok, err := c.store.Get(ctx, c.keys.Key(key))
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", key, err)
	}
	return n, nil
}
