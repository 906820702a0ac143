package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/flojobs/internal/cmd/client"
	serverrun "github.com/rzbill/flojobs/internal/cmd/server"
	cfgpkg "github.com/rzbill/flojobs/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flojobs",
		Short: "flojobs job storage server and CLI",
		Long:  "flojobs persists background jobs in Redis or an embedded Pebble store. This CLI runs the server and inspects its queues.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the job storage runtime with admin HTTP and gRPC endpoints",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			envFiles, _ := cmd.Flags().GetStringSlice("env-file")
			serverID, _ := cmd.Flags().GetString("server-id")
			workers, _ := cmd.Flags().GetInt("workers")
			queues, _ := cmd.Flags().GetStringSlice("queues")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			err := serverrun.Run(ctx, serverrun.Options{
				ConfigPath:  configPath,
				EnvFiles:    envFiles,
				Override:    flagOverrides(cmd),
				ServerID:    serverID,
				WorkerCount: workers,
				Queues:      queues,
			})
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	f := serverStartCmd.Flags()
	f.String("config", os.Getenv("FLO_CONFIG"), "Config file (JSON or YAML)")
	f.StringSlice("env-file", nil, "Env files loaded before FLO_* variables are read (default .env)")
	f.String("backend", "", "Storage backend: redis|pebble")
	f.String("prefix", "", "Key prefix shared by every process using the same storage")
	f.String("redis-addr", "", "Redis address when --backend=redis")
	f.String("data-dir", "", "Pebble data directory (if not specified, uses OS-specific application data directory)")
	f.String("fsync", "", "Pebble fsync mode: always|interval|never")
	f.String("grpc", "", "gRPC health listen address")
	f.String("http", "", "HTTP admin listen address")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json")
	f.String("server-id", "", "Server id announced in the registry (default host:pid:random)")
	f.Int("workers", 0, "Worker count announced in the registry")
	f.StringSlice("queues", nil, "Queues announced in the registry (default \"default\")")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	clientcmd.AddCommands(rootCmd, apiURL)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// flagOverrides applies only the flags the user actually set.
func flagOverrides(cmd *cobra.Command) func(*cfgpkg.Config) {
	return func(cfg *cfgpkg.Config) {
		set := func(name string, dst *string) {
			if cmd.Flags().Changed(name) {
				*dst, _ = cmd.Flags().GetString(name)
			}
		}
		set("backend", &cfg.Storage.Backend)
		set("prefix", &cfg.Prefix)
		set("redis-addr", &cfg.Storage.Redis.Addr)
		set("data-dir", &cfg.Storage.Pebble.DataDir)
		set("fsync", &cfg.Storage.Pebble.Fsync)
		set("grpc", &cfg.Admin.GRPCAddr)
		set("http", &cfg.Admin.HTTPAddr)
		set("log-level", &cfg.Log.Level)
		set("log-format", &cfg.Log.Format)
	}
}

func apiURL() string {
	if v := os.Getenv("FLO_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
