package serverrun

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	cfgpkg "github.com/rzbill/flojobs/internal/config"
	"github.com/rzbill/flojobs/internal/metrics"
	"github.com/rzbill/flojobs/internal/runtime"
	grpcserver "github.com/rzbill/flojobs/internal/server/grpc"
	httpserver "github.com/rzbill/flojobs/internal/server/http"
	logpkg "github.com/rzbill/flojobs/pkg/log"
)

type Options struct {
	// ConfigPath is an optional JSON or YAML file read over the defaults.
	ConfigPath string
	// EnvFiles are loaded into the process environment before FLO_*
	// variables are read. Missing files are skipped. Empty means ".env".
	EnvFiles []string
	// Override runs last, after file and environment; CLI flags use it.
	Override func(*cfgpkg.Config)

	ServerID    string
	WorkerCount int
	Queues      []string

	// Ready, when set, is called once both listeners are being served.
	Ready func(*runtime.Runtime)
}

// BuildConfig resolves configuration in order: defaults, file, .env and
// FLO_* environment, then Override. The result is validated.
func BuildConfig(opts Options) (cfgpkg.Config, error) {
	files := opts.EnvFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfgpkg.Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	cfg, err := cfgpkg.Load(opts.ConfigPath)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	if err := cfgpkg.FromEnv(&cfg); err != nil {
		return cfgpkg.Config{}, err
	}
	if opts.Override != nil {
		opts.Override(&cfg)
	}
	if cfg.Storage.Backend == cfgpkg.BackendPebble && cfg.Storage.Pebble.DataDir == "" {
		cfg.Storage.Pebble.DataDir = cfgpkg.DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return cfgpkg.Config{}, err
	}
	return cfg, nil
}

// DefaultServerID is "<hostname>:<pid>:<random>", unique per process.
func DefaultServerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Run opens the job storage, starts its background work and serves the
// admin HTTP and gRPC health endpoints until ctx is cancelled or the
// process is signalled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := BuildConfig(opts)
	if err != nil {
		return err
	}

	procLogger, err := logpkg.ApplyConfig(&cfg.Log)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(cfg.Log.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	// Pebble logs through the standard library logger.
	logpkg.RedirectStdLog(procLogger)

	serverID := opts.ServerID
	if serverID == "" {
		serverID = DefaultServerID()
	}
	queues := opts.Queues
	if len(queues) == 0 {
		queues = []string{"default"}
	}

	rt, err := runtime.Open(sctx, runtime.Options{
		Config:  cfg,
		Logger:  procLogger,
		Metrics: metrics.NewCollector(nil),
		Server:  &runtime.ServerOptions{ID: serverID, WorkerCount: opts.WorkerCount, Queues: queues},
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.Start(sctx); err != nil {
		return err
	}

	procLogger.Info("Starting flojobs server",
		logpkg.Str("server_id", serverID),
		logpkg.Str("backend", cfg.Storage.Backend),
		logpkg.Str("prefix", cfg.Prefix),
		logpkg.Str("instance_id", rt.Meta().InstanceID),
		logpkg.Str("grpc", cfg.Admin.GRPCAddr),
		logpkg.Str("http", cfg.Admin.HTTPAddr),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)

	gsrv := grpcserver.New(rt, procLogger)
	hsrv := httpserver.New(rt, procLogger)

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := gsrv.ListenAndServe(sctx, cfg.Admin.GRPCAddr); err != nil && sctx.Err() == nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.Admin.HTTPAddr); err != nil && sctx.Err() == nil {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	if opts.Ready != nil {
		opts.Ready(rt)
	}

	var runErr error
	select {
	case <-sctx.Done():
	case runErr = <-errCh:
		procLogger.Error("listener failed", logpkg.Err(runErr))
		stop()
	}
	// Stop the listeners before the runtime closes the store.
	gsrv.Close()
	hsrv.Close()
	wg.Wait()
	procLogger.Info("flojobs server stopped", logpkg.Str("server_id", serverID))
	return runErr
}
