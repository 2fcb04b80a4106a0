// Table correctness tests, exercised against a fake backing store instead
// of a real arena: each test registers entries in a slice and drives
// Table through the same KeyFunc/ValueFunc/VersionFunc/BoundsFunc wiring
// the root package's index.go builds over a live arena.
package memtable

import "testing"

type fakeEntry struct {
	key     []byte
	value   []byte
	version uint64
	start   Bound
	end     Bound
	flag    uint8
}

// fakeStore backs a Table the way the root package's arena does, but
// keeps entries in a plain slice indexed by Pointer.Offset.
type fakeStore struct {
	entries []fakeEntry
}

func (s *fakeStore) put(e fakeEntry) Pointer {
	idx := uint32(len(s.entries))
	s.entries = append(s.entries, e)
	return Pointer{Offset: idx, Flag: e.flag}
}

func (s *fakeStore) keyOf(p Pointer) []byte    { return s.entries[p.Offset].key }
func (s *fakeStore) valueOf(p Pointer) []byte  { return s.entries[p.Offset].value }
func (s *fakeStore) versionOf(p Pointer) uint64 { return s.entries[p.Offset].version }
func (s *fakeStore) boundsOf(p Pointer) (Bound, Bound) {
	e := s.entries[p.Offset]
	return e.start, e.end
}

func newTestTable(versioned bool) (*Table, *fakeStore) {
	s := &fakeStore{}
	t := New(versioned, s.keyOf, s.valueOf, s.versionOf, s.boundsOf)
	return t, s
}

func TestGetMissingKeyNotFound(t *testing.T) {
	table, _ := newTestTable(false)
	got := table.Get([]byte("nope"), 0)
	if got.Found {
		t.Fatalf("Get on empty table = %+v, want Found=false", got)
	}
}

func TestInsertPointAndGet(t *testing.T) {
	table, store := newTestTable(false)
	p := store.put(fakeEntry{key: []byte("a"), value: []byte("1")})
	table.InsertPoint(p)

	got := table.Get([]byte("a"), 0)
	if !got.Found || got.Tombstone || string(got.Value) != "1" {
		t.Fatalf("Get(a) = %+v, want Found=true Value=1", got)
	}
}

// TestNewestVersionWinsOnTie verifies that, for a fixed key, the newest
// point entry with version <= queryVersion wins, not the first inserted.
func TestNewestVersionWinsOnTie(t *testing.T) {
	table, store := newTestTable(true)
	table.InsertPoint(store.put(fakeEntry{key: []byte("k"), value: []byte("old"), version: 1}))
	table.InsertPoint(store.put(fakeEntry{key: []byte("k"), value: []byte("new"), version: 5}))

	got := table.Get([]byte("k"), 10)
	if !got.Found || string(got.Value) != "new" {
		t.Fatalf("Get at version 10 = %+v, want new", got)
	}

	got = table.Get([]byte("k"), 3)
	if !got.Found || string(got.Value) != "old" {
		t.Fatalf("Get at version 3 = %+v, want old (version 5 not yet visible)", got)
	}
}

// TestRangeDeletionMasksPoint verifies a range deletion covering a key
// takes precedence over an older point entry for that key.
func TestRangeDeletionMasksPoint(t *testing.T) {
	table, store := newTestTable(true)
	table.InsertPoint(store.put(fakeEntry{key: []byte("m"), value: []byte("v"), version: 1}))
	table.InsertRangeDeletion(store.put(fakeEntry{
		start: Included([]byte("a")), end: Excluded([]byte("z")), version: 2,
	}))

	got := table.Get([]byte("m"), 2)
	if !got.Found || !got.Tombstone {
		t.Fatalf("Get after range deletion = %+v, want Found=true Tombstone=true", got)
	}
	got = table.Get([]byte("m"), 1)
	if !got.Found || got.Tombstone {
		t.Fatalf("Get before range deletion took effect = %+v, want the live point value", got)
	}
}

// TestRangeUnsetHidesPoint verifies a range unset (version 3) over an
// earlier range deletion (version 2) keeps the point entry (version 1)
// below both hidden: an unset is a tombstone overlay, not an undo of the
// deletion.
func TestRangeUnsetHidesPoint(t *testing.T) {
	table, store := newTestTable(true)
	table.InsertPoint(store.put(fakeEntry{key: []byte("m"), value: []byte("v"), version: 1}))
	table.InsertRangeDeletion(store.put(fakeEntry{start: Unbounded(), end: Unbounded(), version: 2}))
	table.InsertRangeUnset(store.put(fakeEntry{start: Unbounded(), end: Unbounded(), version: 3}))

	got := table.Get([]byte("m"), 3)
	if !got.Found || !got.Tombstone || got.Version != 3 {
		t.Fatalf("Get after range unset = %+v, want Found=true Tombstone=true Version=3", got)
	}
}

// TestTiePrecedenceDeletionBeatsSet verifies deletion > unset > set >
// point precedence on an exact version tie.
func TestTiePrecedenceDeletionBeatsSet(t *testing.T) {
	table, store := newTestTable(true)
	table.InsertRangeSet(store.put(fakeEntry{
		start: Unbounded(), end: Unbounded(), value: []byte("overlay"), version: 5,
	}))
	table.InsertRangeDeletion(store.put(fakeEntry{start: Unbounded(), end: Unbounded(), version: 5}))

	got := table.Get([]byte("any"), 5)
	if !got.Found || !got.Tombstone {
		t.Fatalf("Get with deletion/set tied at version 5 = %+v, want deletion to win", got)
	}
}

func TestUpperBoundAndLowerBound(t *testing.T) {
	table, store := newTestTable(false)
	for _, k := range []string{"b", "d", "f"} {
		table.InsertPoint(store.put(fakeEntry{key: []byte(k), value: []byte(k)}))
	}

	if p, ok := table.UpperBound([]byte("e"), false); !ok || string(store.keyOf(p)) != "d" {
		t.Fatalf("UpperBound(e) = %v, want d", p)
	}
	if p, ok := table.LowerBound([]byte("c"), false); !ok || string(store.keyOf(p)) != "d" {
		t.Fatalf("LowerBound(c) = %v, want d", p)
	}
	if p, ok := table.UpperBound([]byte("d"), true); !ok || string(store.keyOf(p)) != "b" {
		t.Fatalf("UpperBound(d, exclusive) = %v, want b", p)
	}
	if p, ok := table.LowerBound([]byte("d"), true); !ok || string(store.keyOf(p)) != "f" {
		t.Fatalf("LowerBound(d, exclusive) = %v, want f", p)
	}
}

func TestFirstLastLen(t *testing.T) {
	table, store := newTestTable(false)
	if _, ok := table.First(); ok {
		t.Fatalf("First() on empty table should be not-found")
	}
	for _, k := range []string{"x", "a", "m"} {
		table.InsertPoint(store.put(fakeEntry{key: []byte(k), value: []byte(k)}))
	}
	if table.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", table.Len())
	}
	first, _ := table.First()
	if string(store.keyOf(first)) != "a" {
		t.Fatalf("First() = %q, want a", store.keyOf(first))
	}
	last, _ := table.Last()
	if string(store.keyOf(last)) != "x" {
		t.Fatalf("Last() = %q, want x", store.keyOf(last))
	}
}

// TestIterSkipsTombstonesAndShadowedVersions verifies Iter only yields
// live, visible entries, and only the newest version per key.
func TestIterSkipsTombstonesAndShadowedVersions(t *testing.T) {
	table, store := newTestTable(true)
	table.InsertPoint(store.put(fakeEntry{key: []byte("a"), value: []byte("old"), version: 1}))
	table.InsertPoint(store.put(fakeEntry{key: []byte("a"), value: []byte("new"), version: 2}))
	table.InsertPoint(store.put(fakeEntry{key: []byte("b"), value: []byte("gone"), version: 1}))
	table.InsertRangeDeletion(store.put(fakeEntry{
		start: Included([]byte("b")), end: Included([]byte("b")), version: 2,
	}))

	var seen []string
	table.Iter(2, func(key, value []byte) bool {
		seen = append(seen, string(key)+"="+string(value))
		return true
	})

	if len(seen) != 1 || seen[0] != "a=new" {
		t.Fatalf("Iter(2) = %v, want [a=new]", seen)
	}
}

// TestRemovedPointIsTombstoneNotLiveEmptyValue verifies that a point
// entry carrying the REMOVED bit resolves as a tombstone, not as a live
// entry with an empty value — the winning point pointer's Flag must be
// inspected, not just its presence in the tree.
func TestRemovedPointIsTombstoneNotLiveEmptyValue(t *testing.T) {
	table, store := newTestTable(false)
	table.InsertPoint(store.put(fakeEntry{key: []byte("k"), value: []byte("v1")}))
	table.InsertPoint(store.put(fakeEntry{key: []byte("k"), flag: entryRemovedBit}))

	got := table.Get([]byte("k"), 0)
	if !got.Found || !got.Tombstone {
		t.Fatalf("Get(k) after Remove = %+v, want Found=true Tombstone=true", got)
	}
}

// TestAscendPointsYieldsAllVersionsIncludingTombstones verifies the raw
// all-versions traversal backing the *_all_versions reader operations:
// every stored version for a key, including a REMOVED marker, with no
// MVCC collapsing.
func TestAscendPointsYieldsAllVersionsIncludingTombstones(t *testing.T) {
	table, store := newTestTable(true)
	table.InsertPoint(store.put(fakeEntry{key: []byte("a"), value: []byte("1"), version: 1}))
	table.InsertPoint(store.put(fakeEntry{key: []byte("a"), version: 2, flag: entryRemovedBit}))
	table.InsertPoint(store.put(fakeEntry{key: []byte("b"), value: []byte("2"), version: 1}))

	var seen []string
	table.AscendPoints(func(p Pointer) bool {
		seen = append(seen, string(store.keyOf(p)))
		return true
	})
	if len(seen) != 3 {
		t.Fatalf("AscendPoints visited %v, want 3 entries (all versions, no collapsing)", seen)
	}
}

func TestRangeOverlayCount(t *testing.T) {
	table, store := newTestTable(true)
	table.InsertRangeDeletion(store.put(fakeEntry{start: Unbounded(), end: Unbounded(), version: 1}))
	table.InsertRangeSet(store.put(fakeEntry{start: Unbounded(), end: Unbounded(), version: 2}))
	table.InsertRangeUnset(store.put(fakeEntry{start: Unbounded(), end: Unbounded(), version: 3}))
	if table.RangeOverlayCount() != 3 {
		t.Fatalf("RangeOverlayCount() = %d, want 3", table.RangeOverlayCount())
	}
}

func TestMinimumMaximumVersion(t *testing.T) {
	table, store := newTestTable(true)
	if table.MinimumVersion() != 0 || table.MaximumVersion() != 0 {
		t.Fatalf("empty table versions = %d/%d, want 0/0", table.MinimumVersion(), table.MaximumVersion())
	}
	table.InsertPoint(store.put(fakeEntry{key: []byte("a"), value: []byte("1"), version: 7}))
	table.InsertPoint(store.put(fakeEntry{key: []byte("b"), value: []byte("2"), version: 3}))
	if table.MinimumVersion() != 3 {
		t.Fatalf("MinimumVersion() = %d, want 3", table.MinimumVersion())
	}
	if table.MaximumVersion() != 7 {
		t.Fatalf("MaximumVersion() = %d, want 7", table.MaximumVersion())
	}
	if !table.MayContainVersion(5) {
		t.Fatalf("MayContainVersion(5) = false, want true")
	}
	if table.MayContainVersion(1) {
		t.Fatalf("MayContainVersion(1) = true, want false (below minVersion)")
	}
}

// Bound constructors mirroring the root package's Included/Excluded/
// Unbounded, used only by this test file to build fakeEntry bounds.
func Included(key []byte) Bound  { return Bound{Kind: BoundIncluded, Key: key} }
func Excluded(key []byte) Bound  { return Bound{Kind: BoundExcluded, Key: key} }
func Unbounded() Bound           { return Bound{Kind: BoundUnbounded} }
