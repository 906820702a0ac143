package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rzbill/flojobs/internal/config"
	"github.com/rzbill/flojobs/internal/connection"
	"github.com/rzbill/flojobs/internal/fetch"
	"github.com/rzbill/flojobs/internal/lock"
	"github.com/rzbill/flojobs/internal/metrics"
	"github.com/rzbill/flojobs/internal/namespace"
	"github.com/rzbill/flojobs/internal/registry"
	"github.com/rzbill/flojobs/internal/store"
	"github.com/rzbill/flojobs/internal/store/pebblekv"
	"github.com/rzbill/flojobs/internal/store/redisstore"
	pebblestore "github.com/rzbill/flojobs/internal/storage/pebble"
	"github.com/rzbill/flojobs/internal/watcher"
	"github.com/rzbill/flojobs/pkg/log"
)

// ServerOptions makes the runtime announce itself in the server registry
// and keep heartbeating until Close.
type ServerOptions struct {
	ID          string
	WorkerCount int
	Queues      []string
}

// Options for building the Runtime.
type Options struct {
	Config config.Config
	Logger log.Logger
	// Metrics is optional; when set every component reports to it.
	Metrics *metrics.Collector
	// Store replaces the configured backend. The runtime takes ownership
	// and closes it.
	Store  store.Store
	Server *ServerOptions
}

// Runtime wires storage, config, and the job storage facade for one
// process.
type Runtime struct {
	config  config.Config
	logger  log.Logger
	metrics *metrics.Collector
	store   store.Store
	meta    namespace.Meta
	conn    *connection.Connection

	watcher     *watcher.Watcher
	sweeper     *registry.Sweeper
	heartbeater *registry.Heartbeater
	server      *ServerOptions

	mu      sync.Mutex
	started bool
	closed  bool
}

// Open validates the configuration, opens the storage backend and makes
// sure the namespace exists. Background work begins with Start.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	if opts.Server != nil && opts.Server.ID == "" {
		return nil, store.InvalidArgument("Server.ID", "must not be empty")
	}

	s := opts.Store
	if s == nil {
		var err error
		if s, err = openStore(ctx, cfg, logger, opts.Metrics); err != nil {
			return nil, err
		}
	}

	keys := namespace.New(cfg.Prefix)
	meta, err := namespace.Ensure(ctx, s, keys)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	rt := &Runtime{
		config:  cfg,
		logger:  logger.WithComponent("runtime"),
		metrics: opts.Metrics,
		store:   s,
		meta:    meta,
		server:  opts.Server,
	}

	connOpts := connection.Options{
		Lock: lock.Options{
			RetryDelay:    cfg.Lock.RetryDelay.Std(),
			MaxRetryDelay: cfg.Lock.MaxRetryDelay.Std(),
		},
		Fetch:  fetch.Options{PollTimeout: cfg.Fetch.PollTimeout.Std()},
		Logger: logger,
	}
	watcherOpts := watcher.Options{
		Interval:            cfg.Watcher.Interval.Std(),
		InvisibilityTimeout: cfg.Watcher.InvisibilityTimeout.Std(),
		CheckedTimeout:      cfg.Watcher.CheckedTimeout.Std(),
		LockTimeout:         cfg.Watcher.LockTimeout.Std(),
		Logger:              logger,
	}
	if opts.Metrics != nil {
		connOpts.Fetch.Metrics = opts.Metrics
		connOpts.Registry.Metrics = opts.Metrics
		watcherOpts.Metrics = opts.Metrics
	}
	rt.conn = connection.New(s, keys, meta.InstanceID, connOpts)

	if cfg.Watcher.Enabled {
		rt.watcher = watcher.New(s, keys, rt.conn.Locker(), watcherOpts)
	}
	rt.sweeper = registry.NewSweeper(rt.conn.Registry(), cfg.Servers.SweepInterval.Std(), cfg.Servers.Timeout.Std(), logger)
	if opts.Server != nil {
		rt.heartbeater = registry.NewHeartbeater(rt.conn.Registry(), opts.Server.ID, cfg.Servers.HeartbeatInterval.Std(), logger)
	}

	rt.logger.Info("runtime opened",
		log.Str("backend", backendName(cfg, opts.Store)),
		log.Str("prefix", keys.Prefix()),
		log.Str("instance_id", meta.InstanceID),
	)
	return rt, nil
}

func backendName(cfg config.Config, injected store.Store) string {
	if injected != nil {
		return "custom"
	}
	return cfg.Storage.Backend
}

func openStore(ctx context.Context, cfg config.Config, logger log.Logger, m *metrics.Collector) (store.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendRedis:
		rc := cfg.Storage.Redis
		opts := redisstore.Options{
			Addr:        rc.Addr,
			Username:    rc.Username,
			Password:    rc.Password,
			DB:          rc.DB,
			PoolSize:    rc.PoolSize,
			DialTimeout: rc.DialTimeout.Std(),
			Logger:      logger,
		}
		if m != nil {
			opts.Observer = m
		}
		return redisstore.Open(ctx, opts)
	case config.BackendPebble:
		pc := cfg.Storage.Pebble
		fsync, err := pebblestore.ParseFsyncMode(pc.Fsync)
		if err != nil {
			return nil, err
		}
		storage := pebblestore.Options{
			DataDir:       pc.DataDir,
			Fsync:         fsync,
			FsyncInterval: pc.FsyncInterval.Std(),
		}
		if m != nil {
			storage.Metrics = m
		}
		return pebblekv.Open(pebblekv.Options{
			Storage:      storage,
			ReapInterval: pc.ReapInterval.Std(),
			Logger:       logger,
		})
	default:
		return nil, fmt.Errorf("runtime: unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Start launches the background loops: fetch notifications, the watcher,
// the server sweeper and, when configured, this server's heartbeats.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return store.ErrClosed
	}
	if r.started {
		return nil
	}
	if err := r.conn.Start(ctx); err != nil {
		return err
	}
	if r.server != nil {
		sc := registry.ServerContext{WorkerCount: r.server.WorkerCount, Queues: r.server.Queues}
		if err := r.conn.AnnounceServer(ctx, r.server.ID, sc); err != nil {
			r.conn.Close()
			return err
		}
		r.heartbeater.Start()
	}
	if r.watcher != nil {
		r.watcher.Start()
	}
	r.sweeper.Start()
	r.started = true
	return nil
}

// Close stops background work, deregisters this server and closes the
// store. It is safe to call more than once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if r.started {
		r.sweeper.Stop()
		if r.watcher != nil {
			r.watcher.Stop()
		}
		if r.heartbeater != nil {
			r.heartbeater.Stop()
			if err := r.conn.RemoveServer(context.Background(), r.server.ID); err != nil {
				errs = append(errs, err)
			}
		}
	}
	r.conn.Close()
	if err := r.store.Close(); err != nil {
		errs = append(errs, err)
	}
	r.logger.Info("runtime closed")
	return errors.Join(errs...)
}

// CheckHealth pings the store.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return store.ErrClosed
	}
	return r.store.Ping(ctx)
}

// RefreshQueueMetrics publishes current queue sizes to the metrics
// collector, if any.
func (r *Runtime) RefreshQueueMetrics(ctx context.Context) error {
	if r.metrics == nil {
		return nil
	}
	stats, err := r.conn.QueueStats(ctx)
	if err != nil {
		return err
	}
	for _, st := range stats {
		r.metrics.SetQueueDepth(st.Name, st.Enqueued, st.Fetched)
	}
	return nil
}

func (r *Runtime) Connection() *connection.Connection { return r.conn }

// Watcher is nil when disabled in the configuration.
func (r *Runtime) Watcher() *watcher.Watcher { return r.watcher }

func (r *Runtime) Store() store.Store { return r.store }

func (r *Runtime) Meta() namespace.Meta { return r.meta }

func (r *Runtime) Metrics() *metrics.Collector { return r.metrics }

// Config returns the runtime configuration.
func (r *Runtime) Config() config.Config { return r.config }
