// Package fetch implements reliable fetching: a job moves from its queue to
// the queue's in-flight list in one store operation and stays there until
// the worker acknowledges or requeues it. Jobs abandoned by a crashed
// worker are recovered by the watcher package.
package fetch
