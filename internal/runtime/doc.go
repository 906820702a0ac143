// Package runtime wires storage, config, and the job storage facade into a
// single process. It exposes Open/Start/Close, health checks, and the
// connection used by the admin servers.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Storage.Pebble.DataDir = "./data"
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//	if err := rt.Start(ctx); err != nil {
//	    return err
//	}
//	fj, err := rt.Connection().FetchNextJob(ctx, []string{"default"})
package runtime
