// Package registry keeps the set of live job-processing servers.
//
// Each server owns a hash (WorkerCount, StartedAt, Heartbeat) and a list of
// the queues it serves, and its id is a member of the servers set. A server
// that stops heartbeating is removed by RemoveTimedOutServers, usually
// driven by a Sweeper; the server itself keeps its entry fresh with a
// Heartbeater.
package registry
