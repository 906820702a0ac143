// Package metrics exposes Prometheus metrics for fetching, recovery, the
// server registry and both store backends.
package metrics
