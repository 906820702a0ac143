// Package client provides the `flojobs` command-line client.
//
// The CLI reads the admin HTTP API for servers, queues and jobs, and the
// standard gRPC health service for liveness. It is primarily intended for
// operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it
// defaults to http://127.0.0.1:8080 (FLO_HTTP). The gRPC address is read
// from the FLO_GRPC environment variable (default 127.0.0.1:50051).
//
// Usage
//
//	flojobs servers
//	flojobs servers web-1:4242:1a2b3c4d
//	flojobs queues
//	flojobs queues jobs default --limit 20
//	flojobs queues jobs default --filter 'in_flight && now_ms - fetched_ms > 60000'
//	flojobs job 1f0c9a1e-6a57-4e0b-9d39-2c3f1c7a9e11
//	flojobs health --service flojobs.Storage
package client
