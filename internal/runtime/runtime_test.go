package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rzbill/flojobs/internal/config"
	"github.com/rzbill/flojobs/internal/metrics"
	"github.com/rzbill/flojobs/internal/store"
)

func pebbleConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Storage.Pebble.DataDir = t.TempDir()
	cfg.Storage.Pebble.Fsync = "never"
	return cfg
}

func TestOpenCloseHealth(t *testing.T) {
	rt, err := Open(context.Background(), Options{Config: pebbleConfig(t)})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if rt.Meta().InstanceID == "" {
		t.Fatalf("instance id not set")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("health after close = %v", err)
	}
}

func TestInstanceIDSurvivesReopen(t *testing.T) {
	cfg := pebbleConfig(t)
	rt, err := Open(context.Background(), Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first := rt.Meta().InstanceID
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt, err = Open(context.Background(), Options{Config: cfg})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt.Close()
	if rt.Meta().InstanceID != first {
		t.Fatalf("instance id changed: %s -> %s", first, rt.Meta().InstanceID)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "memcached"
	if _, err := Open(context.Background(), Options{Config: cfg}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRedisBackendLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendRedis
	cfg.Storage.Redis.Addr = mr.Addr()
	cfg.Prefix = "rt"

	m := metrics.NewCollector(prometheus.NewRegistry())
	rt, err := Open(context.Background(), Options{
		Config:  cfg,
		Metrics: m,
		Server:  &ServerOptions{ID: "node-1", WorkerCount: 4, Queues: []string{"default"}},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if !mr.Exists("rt:server:node-1") {
		t.Fatalf("server was not announced")
	}

	tx := rt.Connection().CreateWriteTransaction()
	tx.AddToQueue("default", "job-1")
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := rt.RefreshQueueMetrics(ctx); err != nil {
		t.Fatalf("refresh metrics: %v", err)
	}

	fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	fj, err := rt.Connection().FetchNextJob(fctx, []string{"default"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fj.ID() != "job-1" {
		t.Fatalf("fetched %s", fj.ID())
	}

	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if mr.Exists("rt:server:node-1") {
		t.Fatalf("server should be removed on close")
	}
}

func TestOpenFailsWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.Storage.Backend = config.BackendRedis
	cfg.Storage.Redis.Addr = addr
	cfg.Storage.Redis.DialTimeout = config.Duration(200 * time.Millisecond)
	if _, err := Open(context.Background(), Options{Config: cfg}); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestWatcherDisabled(t *testing.T) {
	cfg := pebbleConfig(t)
	cfg.Watcher.Enabled = false
	rt, err := Open(context.Background(), Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if rt.Watcher() != nil {
		t.Fatalf("watcher should be nil when disabled")
	}
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
}
