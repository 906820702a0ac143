// Package pebblestore is a thin wrapper around Pebble: fsync policy, batch
// updates, ordered range scans and a metrics hook. Higher-level data
// structures live in the store/pebblekv package.
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	err = db.Update(ctx, func(b *pebble.Batch) error {
//	    return b.Set([]byte("k"), []byte("v"), nil)
//	})
//	v, err := db.Get([]byte("k"))
package pebblestore
