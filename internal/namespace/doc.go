// Package namespace lays out the store keyspace under a per-instance prefix
// and records the instance's identity.
//
//	keys := namespace.New("flo")
//	keys.Job(id)          // flo:job:<id>
//	keys.Dequeued("mail") // flo:queue:mail:dequeued
package namespace
