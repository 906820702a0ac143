// Package store defines the key-value primitives that job storage is built
// on and the error values shared by every layer above it.
//
// Two implementations exist: redisstore, for a Redis server shared by many
// processes, and pebblekv, an embedded single-process store on Pebble used
// for development and tests. Compare-and-set style operations are built from
// optimistic transactions, never from server-side scripts.
package store
