// Package serverrun exposes the Run entrypoint used by the CLI to start the
// job storage runtime with its admin HTTP and gRPC health servers, handling
// configuration, lifecycle and shutdown.
//
// Example:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{ConfigPath: "flojobs.yaml", WorkerCount: 20})
package serverrun
