package orderwal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTestWAL(t *testing.T, opts Options) *WAL {
	t.Helper()
	opts.Create = true
	if !opts.Read {
		opts.Write = true
	}
	w, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestOpenEmptyCloseReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.orderwal")

	w := openTestWAL(t, Options{Path: path, Capacity: 1 << 16})
	if got := w.Reader().Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
	writer, err := w.Writer()
	if err != nil {
		t.Fatalf("Writer: %v", err)
	}
	if err := writer.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := Open(Options{Path: path, Capacity: 1 << 16})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w2.Close()

	value, err := w2.Reader().Get([]byte("a"))
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(value) != "1" {
		t.Fatalf("Get after reopen = %q, want %q", value, "1")
	}
}

func TestInsertGetRoundtrip(t *testing.T) {
	w := openTestWAL(t, Options{Capacity: 1 << 16})
	writer, err := w.Writer()
	if err != nil {
		t.Fatalf("Writer: %v", err)
	}

	entries := map[string]string{"alpha": "1", "beta": "2", "gamma": "3"}
	for k, v := range entries {
		if err := writer.Insert([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Insert(%q): %v", k, err)
		}
	}

	reader := w.Reader()
	for k, v := range entries {
		got, err := reader.Get([]byte(k))
		if err != nil {
			t.Fatalf("Get(%q): %v", k, err)
		}
		if string(got) != v {
			t.Fatalf("Get(%q) = %q, want %q", k, got, v)
		}
	}

	if _, err := reader.Get([]byte("missing")); err != ErrNotFound {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestTombstoneMasksPriorPut(t *testing.T) {
	w := openTestWAL(t, Options{Capacity: 1 << 16})
	writer, _ := w.Writer()

	if err := writer.Insert([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := writer.Remove([]byte("k")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := w.Reader().Get([]byte("k")); err != ErrNotFound {
		t.Fatalf("Get after Remove = %v, want ErrNotFound", err)
	}
}

// TestGetWithTombstoneSurfacesRemovedMarker verifies the *_with_tombstone
// variant of Get returns the raw REMOVED marker instead of collapsing it
// into "not found" the way the ordinary Get does.
func TestGetWithTombstoneSurfacesRemovedMarker(t *testing.T) {
	w := openTestWAL(t, Options{Capacity: 1 << 16})
	writer, _ := w.Writer()

	if err := writer.Insert([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := writer.Remove([]byte("k")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := w.Reader().Get([]byte("k")); err != ErrNotFound {
		t.Fatalf("Get(k) = %v, want ErrNotFound", err)
	}

	got := w.Reader().GetWithTombstone([]byte("k"))
	if !got.Found || !got.Tombstone {
		t.Fatalf("GetWithTombstone(k) = %+v, want Found=true Tombstone=true", got)
	}
}

// TestIterAllVersionsIncludesEveryVersionAndTombstones verifies the
// *_all_versions variant surfaces every stored version for a key,
// including superseded ones and REMOVED markers, unlike Iter which only
// yields the newest visible value per key.
func TestIterAllVersionsIncludesEveryVersionAndTombstones(t *testing.T) {
	w := openTestWAL(t, Options{Capacity: 1 << 16, Kind: KindVersioned})
	writer, _ := w.Writer()

	mustInsertVersioned(t, writer, "a", "old", 1)
	mustInsertVersioned(t, writer, "a", "new", 2)
	if err := writer.RemoveVersioned([]byte("a"), 3); err != nil {
		t.Fatalf("RemoveVersioned: %v", err)
	}

	var versions []uint64
	var tombstones int
	w.Reader().IterAllVersions(func(e AllVersionsEntry) bool {
		versions = append(versions, e.Version)
		if e.Tombstone {
			tombstones++
		}
		return true
	})

	if len(versions) != 3 {
		t.Fatalf("IterAllVersions visited %d entries, want 3 (one per written version)", len(versions))
	}
	if tombstones != 1 {
		t.Fatalf("IterAllVersions saw %d tombstones, want 1", tombstones)
	}
}

func TestRangeDeletionHidesPoint(t *testing.T) {
	w := openTestWAL(t, Options{Capacity: 1 << 16, Kind: KindVersioned})
	writer, _ := w.Writer()

	if err := writer.InsertVersioned([]byte("m"), []byte("v"), 1); err != nil {
		t.Fatalf("InsertVersioned: %v", err)
	}
	if err := writer.RangeRemoveVersioned(Included([]byte("a")), Excluded([]byte("z")), 2); err != nil {
		t.Fatalf("RangeRemoveVersioned: %v", err)
	}

	if _, err := w.Reader().GetVersioned([]byte("m"), 2); err != ErrNotFound {
		t.Fatalf("GetVersioned(2) = %v, want ErrNotFound", err)
	}
	// At version 1, before the range deletion took effect, the point value
	// is still visible.
	got, err := w.Reader().GetVersioned([]byte("m"), 1)
	if err != nil {
		t.Fatalf("GetVersioned(1): %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("GetVersioned(1) = %q, want %q", got, "v")
	}
}

// TestRangeUnsetHidesPoint verifies a range unset hides an older point
// value just as a range deletion does; it does not undo the earlier
// deletion.
func TestRangeUnsetHidesPoint(t *testing.T) {
	w := openTestWAL(t, Options{Capacity: 1 << 16, Kind: KindVersioned})
	writer, _ := w.Writer()

	mustInsertVersioned(t, writer, "m", "v", 1)
	if err := writer.RangeRemoveVersioned(Unbounded(), Unbounded(), 2); err != nil {
		t.Fatalf("RangeRemoveVersioned: %v", err)
	}
	if err := writer.RangeUnsetVersioned(Unbounded(), Unbounded(), 3); err != nil {
		t.Fatalf("RangeUnsetVersioned: %v", err)
	}

	got, err := w.Reader().GetVersioned([]byte("m"), 3)
	if err != ErrNotFound {
		t.Fatalf("GetVersioned(3) = %q, %v, want ErrNotFound", got, err)
	}
	if string(got) != "" {
		t.Fatalf("GetVersioned(3) = %q, want no value", got)
	}
}

func mustInsertVersioned(t *testing.T, w *Writer, key, value string, version uint64) {
	t.Helper()
	if err := w.InsertVersioned([]byte(key), []byte(value), version); err != nil {
		t.Fatalf("InsertVersioned(%q): %v", key, err)
	}
}

func TestUpperLowerBound(t *testing.T) {
	w := openTestWAL(t, Options{Capacity: 1 << 16})
	writer, _ := w.Writer()
	for _, k := range []string{"b", "d", "f"} {
		if err := writer.Insert([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Insert(%q): %v", k, err)
		}
	}

	reader := w.Reader()

	if k, _, ok := reader.UpperBound([]byte("e"), false); !ok || string(k) != "d" {
		t.Fatalf("UpperBound(e) = %q, %v, want d, true", k, ok)
	}
	if k, _, ok := reader.LowerBound([]byte("c"), false); !ok || string(k) != "d" {
		t.Fatalf("LowerBound(c) = %q, %v, want d, true", k, ok)
	}
	if k, _, ok := reader.UpperBound([]byte("d"), true); !ok || string(k) != "b" {
		t.Fatalf("UpperBound(d, exclusive) = %q, %v, want b, true", k, ok)
	}
	if k, _, ok := reader.LowerBound([]byte("d"), true); !ok || string(k) != "f" {
		t.Fatalf("LowerBound(d, exclusive) = %q, %v, want f, true", k, ok)
	}
}

func TestBatchAtomicCommit(t *testing.T) {
	w := openTestWAL(t, Options{Capacity: 1 << 16})
	writer, _ := w.Writer()

	batch := writer.NewBatch()
	batch.Insert([]byte("x"), []byte("1"))
	batch.Insert([]byte("y"), []byte("2"))
	batch.Remove([]byte("z"))
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reader := w.Reader()
	if got, err := reader.Get([]byte("x")); err != nil || string(got) != "1" {
		t.Fatalf("Get(x) = %q, %v", got, err)
	}
	if got, err := reader.Get([]byte("y")); err != nil || string(got) != "2" {
		t.Fatalf("Get(y) = %q, %v", got, err)
	}
	if reader.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (x, y, and the z tombstone)", reader.Len())
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.orderwal")
	w := openTestWAL(t, Options{Path: path, Capacity: 1 << 16, Write: true})
	writer, _ := w.Writer()
	if err := writer.Insert([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	w.Close()

	ro, err := Open(Options{Path: path, Capacity: 1 << 16, Read: true})
	if err != nil {
		t.Fatalf("reopen read-only: %v", err)
	}
	defer ro.Close()

	if _, err := ro.Writer(); err != ErrReadOnly {
		t.Fatalf("Writer() on read-only WAL = %v, want ErrReadOnly", err)
	}
}

// TestCorruptedCommittedRecordFailsOpen verifies that flipping a bit
// inside an already-committed, already-fsynced record (simulating
// post-write corruption, not a torn write) makes Open fail with a
// *CorruptedError rather than silently discarding the record: spec.md
// §4.5/§7 treat corruption at open as always fatal for that handle, and
// a checksum mismatch on a record whose COMMITTED bit is already set is
// never a benign uncommitted tail.
func TestCorruptedCommittedRecordFailsOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.orderwal")

	w := openTestWAL(t, Options{Path: path, Capacity: 1 << 16})
	writer, _ := w.Writer()
	if err := writer.Insert([]byte("good"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	stats := w.Stats()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Flip a bit inside the trailing checksum of the record that was just
	// committed and closed — this is corruption of durable data, not a
	// crash mid-write.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	corruptOffset := int64(stats.Capacity - stats.Remaining - 1)
	if _, err := f.WriteAt([]byte{0xff}, corruptOffset); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	f.Close()

	_, err = Open(Options{Path: path, Capacity: 1 << 16})
	var corrupted *CorruptedError
	if !errors.As(err, &corrupted) {
		t.Fatalf("reopen after corrupting a committed record = %v, want *CorruptedError", err)
	}
}

// TestUncommittedTailIsDiscardedOnRecovery verifies that a reservation
// which never reached the COMMITTED bit (the ordinary crash-mid-write
// case) is silently discarded on reopen rather than treated as an error:
// only a corrupted *committed* record is fatal.
func TestUncommittedTailIsDiscardedOnRecovery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.orderwal")

	w := openTestWAL(t, Options{Path: path, Capacity: 1 << 16})
	writer, _ := w.Writer()
	if err := writer.Insert([]byte("good"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// Reserve space for a second record but never commit it: write just
	// the leading flag byte as 0 (uncommitted), matching what a crash
	// between AllocBytes and the final bit-flip would leave behind.
	stats := w.Stats()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open to append uncommitted tail: %v", err)
	}
	tailOffset := int64(stats.Capacity - stats.Remaining)
	if _, err := f.WriteAt([]byte{0x00, 0xff, 0xff, 0xff}, tailOffset); err != nil {
		t.Fatalf("append uncommitted tail: %v", err)
	}
	f.Close()

	w2, err := Open(Options{Path: path, Capacity: 1 << 16})
	if err != nil {
		t.Fatalf("reopen with uncommitted tail: %v", err)
	}
	defer w2.Close()

	got, err := w2.Reader().Get([]byte("good"))
	if err != nil || string(got) != "1" {
		t.Fatalf("Get(good) = %q, %v, want 1, nil (uncommitted tail discarded, prior record intact)", got, err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	w := openTestWAL(t, Options{Capacity: 1 << 16, Reserved: 256})

	if got, err := w.Metadata(); err != nil || got != nil {
		t.Fatalf("Metadata() before SetMetadata = %v, %v, want nil, nil", got, err)
	}

	payload := []byte(`{"schema":"orders-v3","shard":7}`)
	if err := w.SetMetadata(payload); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	got, err := w.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("Metadata() = %q, want %q", got, payload)
	}
}

func TestMetadataTooLargeForReservedRegion(t *testing.T) {
	w := openTestWAL(t, Options{Capacity: 1 << 16, Reserved: 8})

	payload := make([]byte, 4096)
	if err := w.SetMetadata(payload); err != ErrMetadataTooLarge {
		t.Fatalf("SetMetadata(oversized) = %v, want ErrMetadataTooLarge", err)
	}
}

// TestInsertWithBuilderErrorAbortsRecordAndReclaimsSpace verifies that a
// build callback error is tunneled through as-is and that the
// reservation is rewound rather than left as a committed, but
// never-indexed, record: spec.md §4.2/§7 require the framework to abort
// and rewind on a caller builder error, and invariant #7 requires
// Remaining() to be unchanged afterward.
func TestInsertWithBuilderErrorAbortsRecordAndReclaimsSpace(t *testing.T) {
	w := openTestWAL(t, Options{Capacity: 1 << 16})
	writer, _ := w.Writer()

	before := w.Stats().Remaining
	buildErr := errors.New("builder failed")
	err := writer.InsertWithBuilder([]byte("k"), 4, func(vb *VacantBuffer) (int, error) {
		return 0, buildErr
	})
	if !errors.Is(err, buildErr) {
		t.Fatalf("InsertWithBuilder error = %v, want builder's own error", err)
	}
	if after := w.Stats().Remaining; after != before {
		t.Fatalf("Remaining() after aborted builder = %d, want unchanged %d", after, before)
	}
	if w.Reader().Len() != 0 {
		t.Fatalf("Len() after aborted builder = %d, want 0 (record never indexed)", w.Reader().Len())
	}
	if _, err := w.Reader().Get([]byte("k")); err != ErrNotFound {
		t.Fatalf("Get(k) after aborted builder = %v, want ErrNotFound", err)
	}
}

func TestLargeBatchExceedingCapacityHint(t *testing.T) {
	w := openTestWAL(t, Options{Capacity: 1 << 16})
	writer, _ := w.Writer()

	batch := writer.NewBatchWithCapacity(4)
	batch.Insert([]byte("a-much-longer-key-than-the-hint-allows"), []byte("value"))
	if err := batch.Commit(); err != ErrLargerBatchSize {
		t.Fatalf("Commit() = %v, want ErrLargerBatchSize", err)
	}
}
