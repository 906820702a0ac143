// Package connection is the job storage facade: job records, state,
// queues, counters, sets, lists and hashes, distributed locks, reliable
// fetch and the server registry, all over one store.Store.
//
// Writes that must land together go through a WriteTransaction:
//
//	tx := conn.CreateWriteTransaction()
//	tx.SetJobState(id, job.StateData{Name: "Enqueued"})
//	tx.AddToQueue("default", id)
//	err := tx.Commit(ctx)
//
// Workers then block in FetchNextJob and finish each job with Acknowledge
// or Requeue on the returned handle.
package connection
