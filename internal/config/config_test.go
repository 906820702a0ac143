package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Prefix != "flo" {
		t.Fatalf("default prefix = %q", cfg.Prefix)
	}
	if cfg.Storage.Backend != BackendPebble {
		t.Fatalf("default backend = %q", cfg.Storage.Backend)
	}
	if cfg.Watcher.InvisibilityTimeout.Std() != 30*time.Minute {
		t.Fatalf("invisibility timeout default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "flojobs.json")
	data := []byte(`{"prefix":"prod","storage":{"backend":"redis","redis":{"addr":"redis:6379","db":2}},"fetch":{"pollTimeout":"250ms"},"watcher":{"checkedTimeout":90000}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Prefix != "prod" {
		t.Fatalf("expected prod")
	}
	if cfg.Storage.Backend != BackendRedis || cfg.Storage.Redis.Addr != "redis:6379" || cfg.Storage.Redis.DB != 2 {
		t.Fatalf("redis section = %+v", cfg.Storage.Redis)
	}
	if cfg.Fetch.PollTimeout.Std() != 250*time.Millisecond {
		t.Fatalf("poll timeout = %s", cfg.Fetch.PollTimeout)
	}
	if cfg.Watcher.CheckedTimeout.Std() != 90*time.Second {
		t.Fatalf("millisecond durations = %s", cfg.Watcher.CheckedTimeout)
	}
	// untouched sections keep their defaults
	if cfg.Servers.Timeout.Std() != 5*time.Minute {
		t.Fatalf("servers timeout default lost")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "flojobs.yaml")
	data := []byte(`
prefix: staging
storage:
  backend: pebble
  pebble:
    dataDir: /tmp/flojobs
    fsync: always
watcher:
  enabled: false
servers:
  heartbeatInterval: 10s
log:
  level: debug
  format: json
`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Prefix != "staging" || cfg.Storage.Pebble.DataDir != "/tmp/flojobs" || cfg.Storage.Pebble.Fsync != "always" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Watcher.Enabled {
		t.Fatalf("watcher should be disabled")
	}
	if cfg.Servers.HeartbeatInterval.Std() != 10*time.Second {
		t.Fatalf("heartbeat = %s", cfg.Servers.HeartbeatInterval)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("log = %+v", cfg.Log)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	file := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(file, []byte("fetch:\n  pollTimeout: soon\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(file); err == nil {
		t.Fatalf("expected a duration parse error")
	}
	cfg, err := Load("")
	if err != nil || cfg.Prefix != "flo" {
		t.Fatalf("empty path should give defaults: %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("FLO_PREFIX", "env")
	t.Setenv("FLO_STORAGE_BACKEND", "redis")
	t.Setenv("FLO_REDIS_DB", "3")
	t.Setenv("FLO_WATCHER_ENABLED", "false")
	t.Setenv("FLO_INVISIBILITY_TIMEOUT", "10m")
	t.Setenv("FLO_LOG_REDACT_KEYS", "password, token")
	if err := FromEnv(&cfg); err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Prefix != "env" || cfg.Storage.Backend != "redis" || cfg.Storage.Redis.DB != 3 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Watcher.Enabled {
		t.Fatalf("env override bool")
	}
	if cfg.Watcher.InvisibilityTimeout.Std() != 10*time.Minute {
		t.Fatalf("env override duration")
	}
	if len(cfg.Log.RedactKeys) != 2 || cfg.Log.RedactKeys[1] != "token" {
		t.Fatalf("redact keys = %v", cfg.Log.RedactKeys)
	}
}

func TestFromEnvReportsMalformedValues(t *testing.T) {
	cfg := Default()
	t.Setenv("FLO_REDIS_DB", "two")
	t.Setenv("FLO_SERVER_TIMEOUT", "forever")
	t.Setenv("FLO_PREFIX", "still-applied")
	err := FromEnv(&cfg)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "FLO_REDIS_DB") || !strings.Contains(err.Error(), "FLO_SERVER_TIMEOUT") {
		t.Fatalf("error should name both variables: %v", err)
	}
	if cfg.Prefix != "still-applied" {
		t.Fatalf("valid values should still apply")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Prefix = " "
	cfg.Storage.Backend = "etcd"
	cfg.Servers.HeartbeatInterval = Duration(10 * time.Minute)
	cfg.Log.Level = "loud"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"prefix", "storage.backend", "heartbeatInterval", "loud"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}

	cfg = Default()
	cfg.Storage.Backend = BackendRedis
	cfg.Storage.Redis.Addr = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "redis.addr") {
		t.Fatalf("expected redis addr error, got %v", err)
	}

	cfg = Default()
	cfg.Storage.Pebble.Fsync = "sometimes"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected fsync error")
	}
}
