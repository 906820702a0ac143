package pebblestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
)

type testMetrics struct {
	read         int
	batchCommits int
	batchOps     int
	batchBytes   int
}

func (m *testMetrics) ObserveRead(d time.Duration, bytes int) { m.read += bytes }
func (m *testMetrics) ObserveBatchCommit(d time.Duration, numOps int, bytes int) {
	m.batchCommits++
	m.batchOps += numOps
	m.batchBytes += bytes
}

func newTestDB(t *testing.T) (*DB, *testMetrics) {
	t.Helper()
	metrics := &testMetrics{}
	db, err := Open(Options{
		DataDir:       t.TempDir(),
		Fsync:         FsyncModeInterval,
		FsyncInterval: 2 * time.Millisecond,
		Metrics:       metrics,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, metrics
}

func TestUpdateAndGet(t *testing.T) {
	db, metrics := newTestDB(t)
	ctx := context.Background()

	err := db.Update(ctx, func(b *pebble.Batch) error {
		if err := b.Set([]byte("a"), []byte("1"), nil); err != nil {
			return err
		}
		return b.Set([]byte("b"), []byte("2"), nil)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := db.Get([]byte("b"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "2" {
		t.Fatalf("got %q want 2", got)
	}
	if metrics.batchCommits != 1 || metrics.batchOps != 2 {
		t.Fatalf("want 1 commit of 2 ops, got %d/%d", metrics.batchCommits, metrics.batchOps)
	}
	if metrics.read == 0 {
		t.Fatalf("expected read metrics to record bytes")
	}

	if err := db.Update(ctx, func(b *pebble.Batch) error { return b.Delete([]byte("b"), nil) }); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("b")); !errors.Is(err, pebble.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateDiscardsOnError(t *testing.T) {
	db, metrics := newTestDB(t)
	boom := errors.New("boom")
	err := db.Update(context.Background(), func(b *pebble.Batch) error {
		_ = b.Set([]byte("x"), []byte("1"), nil)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if _, err := db.Get([]byte("x")); !errors.Is(err, pebble.ErrNotFound) {
		t.Fatalf("batch should not have been applied")
	}
	if metrics.batchCommits != 0 {
		t.Fatalf("no commit expected")
	}
}

func TestScanBounds(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	_ = db.Update(ctx, func(b *pebble.Batch) error {
		for _, k := range []string{"k/a", "k/b", "k/c", "x/a"} {
			if err := b.Set([]byte(k), []byte(k), nil); err != nil {
				return err
			}
		}
		return nil
	})

	var seen []string
	err := db.Scan([]byte("k/"), []byte("k0"), func(key, _ []byte) (bool, error) {
		seen = append(seen, string(key))
		return len(seen) < 2, nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(seen) != 2 || seen[0] != "k/a" || seen[1] != "k/b" {
		t.Fatalf("unexpected scan result %v", seen)
	}
}

func TestParseFsyncMode(t *testing.T) {
	for in, want := range map[string]FsyncMode{
		"always": FsyncModeAlways, "Interval": FsyncModeInterval, "never": FsyncModeNever, "": FsyncModeUnspecified,
	} {
		got, err := ParseFsyncMode(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %v, %v", in, got, err)
		}
	}
	if _, err := ParseFsyncMode("sometimes"); err == nil {
		t.Fatalf("expected error")
	}
}
