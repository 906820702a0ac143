package serverrun

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/flojobs/internal/config"
	"github.com/rzbill/flojobs/internal/runtime"
)

func unsetOnCleanup(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		_ = os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range keys {
			_ = os.Unsetenv(k)
		}
	})
}

func TestBuildConfigPrecedence(t *testing.T) {
	unsetOnCleanup(t, "FLO_PREFIX", "FLO_WATCHER_INTERVAL")
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "flojobs.yaml")
	yaml := "prefix: fromfile\nwatcher:\n  interval: 2m\nstorage:\n  pebble:\n    dataDir: " + dir + "\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("FLO_PREFIX=fromenv\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := BuildConfig(Options{ConfigPath: cfgPath, EnvFiles: []string{envPath}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.Prefix != "fromenv" {
		t.Fatalf("env should override file, prefix=%q", cfg.Prefix)
	}
	if cfg.Watcher.Interval.Std() != 2*time.Minute {
		t.Fatalf("file value lost: %v", cfg.Watcher.Interval)
	}

	cfg, err = BuildConfig(Options{
		ConfigPath: cfgPath,
		EnvFiles:   []string{envPath},
		Override:   func(c *cfgpkg.Config) { c.Prefix = "fromflag" },
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.Prefix != "fromflag" {
		t.Fatalf("override should win, prefix=%q", cfg.Prefix)
	}
}

func TestBuildConfigSkipsMissingEnvFile(t *testing.T) {
	dir := t.TempDir()
	_, err := BuildConfig(Options{
		EnvFiles: []string{filepath.Join(dir, "absent.env")},
		Override: func(c *cfgpkg.Config) { c.Storage.Pebble.DataDir = dir },
	})
	if err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestBuildConfigValidates(t *testing.T) {
	dir := t.TempDir()
	_, err := BuildConfig(Options{
		EnvFiles: []string{filepath.Join(dir, "absent.env")},
		Override: func(c *cfgpkg.Config) { c.Storage.Backend = "memcached" },
	})
	if err == nil || !strings.Contains(err.Error(), "storage.backend") {
		t.Fatalf("expected backend validation error, got %v", err)
	}
}

func TestDefaultServerIDUnique(t *testing.T) {
	a, b := DefaultServerID(), DefaultServerID()
	if a == b {
		t.Fatalf("server ids collide: %s", a)
	}
	if !strings.Contains(a, ":") {
		t.Fatalf("unexpected format: %s", a)
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var announced bool
	err := Run(ctx, Options{
		EnvFiles: []string{filepath.Join(dir, "absent.env")},
		Override: func(c *cfgpkg.Config) {
			c.Storage.Pebble.DataDir = dir
			c.Storage.Pebble.Fsync = "never"
			c.Admin.HTTPAddr = "127.0.0.1:0"
			c.Admin.GRPCAddr = "127.0.0.1:0"
			c.Log.Level = "error"
		},
		ServerID:    "test-server",
		WorkerCount: 2,
		Ready: func(rt *runtime.Runtime) {
			info, err := rt.Connection().Registry().Get(context.Background(), "test-server")
			announced = err == nil && info != nil && info.WorkerCount == 2
			cancel()
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !announced {
		t.Fatalf("server was not announced while running")
	}
}
