// Package watcher recovers jobs whose worker vanished between fetch and
// acknowledgement.
//
// Each in-flight list is swept under a distributed lock. A job stamped as
// fetched longer than the invisibility timeout ago is requeued. A job that
// was never stamped, because its worker died between the pop and the stamp,
// is first marked as checked and requeued once the check is older than the
// checked timeout.
package watcher
