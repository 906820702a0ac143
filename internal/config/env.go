package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays FLO_* environment variables onto cfg. Malformed values
// are reported together; well-formed ones are still applied.
func FromEnv(cfg *Config) error {
	var bad []string
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				bad = append(bad, name)
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				bad = append(bad, name)
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				bad = append(bad, name)
				return
			}
			*dst = Duration(d)
		}
	}

	str("FLO_PREFIX", &cfg.Prefix)

	str("FLO_STORAGE_BACKEND", &cfg.Storage.Backend)
	str("FLO_REDIS_ADDR", &cfg.Storage.Redis.Addr)
	str("FLO_REDIS_USERNAME", &cfg.Storage.Redis.Username)
	str("FLO_REDIS_PASSWORD", &cfg.Storage.Redis.Password)
	integer("FLO_REDIS_DB", &cfg.Storage.Redis.DB)
	integer("FLO_REDIS_POOL_SIZE", &cfg.Storage.Redis.PoolSize)
	duration("FLO_REDIS_DIAL_TIMEOUT", &cfg.Storage.Redis.DialTimeout)
	str("FLO_DATA_DIR", &cfg.Storage.Pebble.DataDir)
	str("FLO_FSYNC", &cfg.Storage.Pebble.Fsync)
	duration("FLO_FSYNC_INTERVAL", &cfg.Storage.Pebble.FsyncInterval)

	duration("FLO_FETCH_POLL_TIMEOUT", &cfg.Fetch.PollTimeout)
	duration("FLO_LOCK_RETRY_DELAY", &cfg.Lock.RetryDelay)

	boolean("FLO_WATCHER_ENABLED", &cfg.Watcher.Enabled)
	duration("FLO_WATCHER_INTERVAL", &cfg.Watcher.Interval)
	duration("FLO_INVISIBILITY_TIMEOUT", &cfg.Watcher.InvisibilityTimeout)
	duration("FLO_CHECKED_TIMEOUT", &cfg.Watcher.CheckedTimeout)

	duration("FLO_HEARTBEAT_INTERVAL", &cfg.Servers.HeartbeatInterval)
	duration("FLO_SERVER_TIMEOUT", &cfg.Servers.Timeout)
	duration("FLO_SERVER_SWEEP_INTERVAL", &cfg.Servers.SweepInterval)

	str("FLO_LOG_LEVEL", &cfg.Log.Level)
	str("FLO_LOG_FORMAT", &cfg.Log.Format)
	str("FLO_LOG_OUTPUT", &cfg.Log.Output)
	if v := os.Getenv("FLO_LOG_REDACT_KEYS"); v != "" {
		cfg.Log.RedactKeys = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Log.RedactKeys = append(cfg.Log.RedactKeys, p)
			}
		}
	}

	str("FLO_HTTP_ADDR", &cfg.Admin.HTTPAddr)
	str("FLO_GRPC_ADDR", &cfg.Admin.GRPCAddr)

	if len(bad) > 0 {
		return fmt.Errorf("config: malformed environment variables: %s", strings.Join(bad, ", "))
	}
	return nil
}
