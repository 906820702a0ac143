// Package grpcserver hosts the standard gRPC health service for flojobs.
// The serving status follows the storage backend: a background probe pings
// it and flips between SERVING and NOT_SERVING.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: config.Default()})
//	s := grpcserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
