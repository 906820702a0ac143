package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rzbill/flojobs/internal/job"
	"github.com/rzbill/flojobs/internal/namespace"
	"github.com/rzbill/flojobs/internal/store"
	"github.com/rzbill/flojobs/pkg/log"
)

// Server hash fields.
const (
	FieldWorkerCount = "WorkerCount"
	FieldStartedAt   = "StartedAt"
	FieldHeartbeat   = "Heartbeat"
)

// ServerContext is what a server announces about itself.
type ServerContext struct {
	WorkerCount int
	Queues      []string
}

// ServerInfo is a registry entry as read back for monitoring.
type ServerInfo struct {
	ID          string    `json:"id"`
	WorkerCount int       `json:"workerCount"`
	Queues      []string  `json:"queues"`
	StartedAt   time.Time `json:"startedAt"`
	// Heartbeat is zero until the first heartbeat arrives.
	Heartbeat time.Time `json:"heartbeat"`
}

// LastSeen is the later of StartedAt and Heartbeat.
func (s ServerInfo) LastSeen() time.Time {
	if s.Heartbeat.After(s.StartedAt) {
		return s.Heartbeat
	}
	return s.StartedAt
}

// Metrics observes registry activity. Optional.
type Metrics interface {
	ServerAnnounced()
	ServersRemoved(n int)
}

type noopMetrics struct{}

func (noopMetrics) ServerAnnounced()   {}
func (noopMetrics) ServersRemoved(int) {}

// Options configures a Registry.
type Options struct {
	Now     func() time.Time
	Logger  log.Logger
	Metrics Metrics
}

// Registry tracks live servers: one hash and one queue list per server
// plus the set of all server ids.
type Registry struct {
	store   store.Store
	keys    namespace.Keys
	now     func() time.Time
	logger  log.Logger
	metrics Metrics
}

func New(s store.Store, keys namespace.Keys, opts Options) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.WarnLevel))
	}
	var m Metrics = noopMetrics{}
	if opts.Metrics != nil {
		m = opts.Metrics
	}
	return &Registry{store: s, keys: keys, now: now, logger: logger.WithComponent("registry"), metrics: m}
}

// Announce registers serverID. The set membership, the server hash and the
// queue list are written in one transaction, so a server is never visible
// without its queues.
func (r *Registry) Announce(ctx context.Context, serverID string, sc ServerContext) error {
	if serverID == "" {
		return store.InvalidArgument("serverID", "must not be empty")
	}
	if sc.WorkerCount < 0 {
		return store.InvalidArgument("WorkerCount", "must not be negative")
	}
	now := r.now()
	err := r.store.Tx(ctx, func(tx store.Tx) error {
		tx.SetAdd(r.keys.Servers(), serverID)
		tx.HashSet(r.keys.Server(serverID), map[string]string{
			FieldWorkerCount: strconv.Itoa(sc.WorkerCount),
			FieldStartedAt:   job.FormatTime(now),
		})
		tx.Delete(r.keys.ServerQueues(serverID))
		tx.ListRightPush(r.keys.ServerQueues(serverID), sc.Queues...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("announce server %s: %w", serverID, err)
	}
	r.metrics.ServerAnnounced()
	r.logger.Info("server announced",
		log.Str("server_id", serverID),
		log.Int("workers", sc.WorkerCount),
		log.F("queues", sc.Queues),
	)
	return nil
}

// Heartbeat stamps serverID as alive. A server that is no longer
// registered is not recreated; the call is then a no-op.
func (r *Registry) Heartbeat(ctx context.Context, serverID string) error {
	if serverID == "" {
		return store.InvalidArgument("serverID", "must not be empty")
	}
	ok, err := r.store.HashSetIfExists(ctx, r.keys.Server(serverID), map[string]string{
		FieldHeartbeat: job.FormatTime(r.now()),
	})
	if err != nil {
		return fmt.Errorf("heartbeat server %s: %w", serverID, err)
	}
	if !ok {
		r.logger.Debug("heartbeat for unknown server ignored", log.Str("server_id", serverID))
	}
	return nil
}

// RemoveServer deletes every trace of serverID. Removing an unknown server
// succeeds.
func (r *Registry) RemoveServer(ctx context.Context, serverID string) error {
	if serverID == "" {
		return store.InvalidArgument("serverID", "must not be empty")
	}
	err := r.store.Tx(ctx, func(tx store.Tx) error {
		tx.SetRemove(r.keys.Servers(), serverID)
		tx.Delete(r.keys.Server(serverID), r.keys.ServerQueues(serverID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove server %s: %w", serverID, err)
	}
	return nil
}

// RemoveTimedOutServers removes servers whose last sign of life, the later
// of StartedAt and Heartbeat, is more than timeout ago. Servers are
// checked and removed one by one; an interrupted sweep is finished by the
// next one.
func (r *Registry) RemoveTimedOutServers(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		return 0, store.InvalidArgument("timeout", "must be positive")
	}
	ids, err := r.store.SetMembers(ctx, r.keys.Servers())
	if err != nil {
		return 0, fmt.Errorf("list servers: %w", err)
	}
	now := r.now()
	removed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, store.Canceled(ctx)
		}
		fields, err := r.store.HashGetAll(ctx, r.keys.Server(id))
		if err != nil {
			return removed, fmt.Errorf("read server %s: %w", id, err)
		}
		last := lastSeen(fields)
		if !now.After(last.Add(timeout)) {
			continue
		}
		if err := r.RemoveServer(ctx, id); err != nil {
			return removed, err
		}
		removed++
		r.logger.Info("removed timed out server",
			log.Str("server_id", id),
			log.Str("last_seen", last.UTC().Format(time.RFC3339)),
		)
	}
	if removed > 0 {
		r.metrics.ServersRemoved(removed)
	}
	return removed, nil
}

// lastSeen treats missing timestamps as the Unix epoch.
func lastSeen(fields map[string]string) time.Time {
	last := time.Unix(0, 0)
	if t, ok := job.ParseTime(fields[FieldStartedAt]); ok && t.After(last) {
		last = t
	}
	if t, ok := job.ParseTime(fields[FieldHeartbeat]); ok && t.After(last) {
		last = t
	}
	return last
}

// Get returns the entry for serverID or nil when it is not registered.
func (r *Registry) Get(ctx context.Context, serverID string) (*ServerInfo, error) {
	fields, err := r.store.HashGetAll(ctx, r.keys.Server(serverID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	queues, err := r.store.ListRange(ctx, r.keys.ServerQueues(serverID), 0, -1)
	if err != nil {
		return nil, err
	}
	info := &ServerInfo{ID: serverID, Queues: queues}
	info.WorkerCount, _ = strconv.Atoi(fields[FieldWorkerCount])
	info.StartedAt, _ = job.ParseTime(fields[FieldStartedAt])
	info.Heartbeat, _ = job.ParseTime(fields[FieldHeartbeat])
	return info, nil
}

// List returns all registered servers ordered by id.
func (r *Registry) List(ctx context.Context) ([]ServerInfo, error) {
	ids, err := r.store.SetMembers(ctx, r.keys.Servers())
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	out := make([]ServerInfo, 0, len(ids))
	for _, id := range ids {
		info, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if info == nil {
			info = &ServerInfo{ID: id}
		}
		out = append(out, *info)
	}
	return out, nil
}
