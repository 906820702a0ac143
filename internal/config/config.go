package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/flojobs/internal/namespace"
	pebblestore "github.com/rzbill/flojobs/internal/storage/pebble"
	"github.com/rzbill/flojobs/pkg/log"
)

// Storage backends.
const (
	BackendRedis  = "redis"
	BackendPebble = "pebble"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// Prefix scopes every key; two deployments sharing a Redis must use
	// different prefixes.
	Prefix  string        `json:"prefix" yaml:"prefix"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Fetch   FetchConfig   `json:"fetch" yaml:"fetch"`
	Lock    LockConfig    `json:"lock" yaml:"lock"`
	Watcher WatcherConfig `json:"watcher" yaml:"watcher"`
	Servers ServersConfig `json:"servers" yaml:"servers"`
	Log     log.Config    `json:"log" yaml:"log"`
	Admin   AdminConfig   `json:"admin" yaml:"admin"`
}

type StorageConfig struct {
	Backend string       `json:"backend" yaml:"backend"`
	Redis   RedisConfig  `json:"redis" yaml:"redis"`
	Pebble  PebbleConfig `json:"pebble" yaml:"pebble"`
}

type RedisConfig struct {
	Addr        string   `json:"addr" yaml:"addr"`
	Username    string   `json:"username" yaml:"username"`
	Password    string   `json:"password" yaml:"password"`
	DB          int      `json:"db" yaml:"db"`
	PoolSize    int      `json:"poolSize" yaml:"poolSize"`
	DialTimeout Duration `json:"dialTimeout" yaml:"dialTimeout"`
}

type PebbleConfig struct {
	DataDir string `json:"dataDir" yaml:"dataDir"`
	// Fsync is "always", "interval" or "never".
	Fsync         string   `json:"fsync" yaml:"fsync"`
	FsyncInterval Duration `json:"fsyncInterval" yaml:"fsyncInterval"`
	ReapInterval  Duration `json:"reapInterval" yaml:"reapInterval"`
}

type FetchConfig struct {
	PollTimeout Duration `json:"pollTimeout" yaml:"pollTimeout"`
}

type LockConfig struct {
	RetryDelay    Duration `json:"retryDelay" yaml:"retryDelay"`
	MaxRetryDelay Duration `json:"maxRetryDelay" yaml:"maxRetryDelay"`
}

type WatcherConfig struct {
	Enabled             bool     `json:"enabled" yaml:"enabled"`
	Interval            Duration `json:"interval" yaml:"interval"`
	InvisibilityTimeout Duration `json:"invisibilityTimeout" yaml:"invisibilityTimeout"`
	CheckedTimeout      Duration `json:"checkedTimeout" yaml:"checkedTimeout"`
	LockTimeout         Duration `json:"lockTimeout" yaml:"lockTimeout"`
}

type ServersConfig struct {
	HeartbeatInterval Duration `json:"heartbeatInterval" yaml:"heartbeatInterval"`
	Timeout           Duration `json:"timeout" yaml:"timeout"`
	SweepInterval     Duration `json:"sweepInterval" yaml:"sweepInterval"`
}

type AdminConfig struct {
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
	GRPCAddr string `json:"grpcAddr" yaml:"grpcAddr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Prefix: namespace.DefaultPrefix,
		Storage: StorageConfig{
			Backend: BackendPebble,
			Redis: RedisConfig{
				Addr:        "127.0.0.1:6379",
				DialTimeout: Duration(5 * time.Second),
			},
			Pebble: PebbleConfig{
				DataDir:       DefaultDataDir(),
				Fsync:         "interval",
				FsyncInterval: Duration(5 * time.Millisecond),
				ReapInterval:  Duration(time.Second),
			},
		},
		Fetch: FetchConfig{PollTimeout: Duration(time.Second)},
		Lock: LockConfig{
			RetryDelay:    Duration(20 * time.Millisecond),
			MaxRetryDelay: Duration(250 * time.Millisecond),
		},
		Watcher: WatcherConfig{
			Enabled:             true,
			Interval:            Duration(time.Minute),
			InvisibilityTimeout: Duration(30 * time.Minute),
			CheckedTimeout:      Duration(time.Minute),
			LockTimeout:         Duration(time.Minute),
		},
		Servers: ServersConfig{
			HeartbeatInterval: Duration(30 * time.Second),
			Timeout:           Duration(5 * time.Minute),
			SweepInterval:     Duration(time.Minute),
		},
		Log: log.Config{Level: "info", Format: "text"},
		Admin: AdminConfig{
			HTTPAddr: "127.0.0.1:8080",
			GRPCAddr: "127.0.0.1:50051",
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over
// the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate reports every problem found in cfg.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Prefix) == "" {
		errs = append(errs, errors.New("prefix is required"))
	}
	switch c.Storage.Backend {
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required"))
		}
		if c.Storage.Redis.DB < 0 {
			errs = append(errs, errors.New("storage.redis.db must not be negative"))
		}
	case BackendPebble:
		if c.Storage.Pebble.DataDir == "" {
			errs = append(errs, errors.New("storage.pebble.dataDir is required"))
		}
		if _, err := pebblestore.ParseFsyncMode(c.Storage.Pebble.Fsync); err != nil {
			errs = append(errs, fmt.Errorf("storage.pebble.fsync: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendRedis, BackendPebble, c.Storage.Backend))
	}
	type check struct {
		name string
		d    Duration
	}
	positive := []check{
		{"fetch.pollTimeout", c.Fetch.PollTimeout},
		{"servers.heartbeatInterval", c.Servers.HeartbeatInterval},
		{"servers.timeout", c.Servers.Timeout},
		{"servers.sweepInterval", c.Servers.SweepInterval},
	}
	if c.Watcher.Enabled {
		positive = append(positive,
			check{"watcher.interval", c.Watcher.Interval},
			check{"watcher.invisibilityTimeout", c.Watcher.InvisibilityTimeout},
		)
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}
	if c.Servers.Timeout > 0 && c.Servers.HeartbeatInterval >= c.Servers.Timeout {
		errs = append(errs, errors.New("servers.heartbeatInterval must be shorter than servers.timeout"))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
