// Package redisstore implements store.Store on Redis using go-redis.
//
// Conditional writes (compare-and-delete, compare-and-expire, set-if-exists)
// use WATCH/MULTI/EXEC and retry on conflict up to Options.MaxTxRetries.
// Transactions collect commands and send them in one MULTI/EXEC pipeline.
package redisstore
