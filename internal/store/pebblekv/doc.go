// Package pebblekv implements store.Store on an embedded Pebble database
// for single-process deployments and tests.
//
// Every logical key is one Pebble record holding its kind, its expiry and a
// JSON payload, framed with a CRC32C checksum. Expired keys read as missing
// immediately and are purged by a background reaper that walks an index
// ordered by deadline. Publish/subscribe is in-process only.
package pebblekv
