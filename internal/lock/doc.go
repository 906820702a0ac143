// Package lock implements a cooperative distributed lock on top of
// store.Store.
//
// A lock is a single key whose value is the owner token
// "<instance-id>:<owner-id>" and whose expiry is the requested timeout.
// Acquisition is SET-if-absent retried with jittered exponential backoff;
// release is verify-then-delete, so a lease that expired and was taken by
// someone else is never removed by its previous holder.
//
//	h, err := locker.Acquire(ctx, "lock:recurring-jobs", 30*time.Second)
//	if errors.Is(err, lock.ErrLockTimeout) { /* someone else is busy */ }
//	defer h.Release(ctx)
package lock
