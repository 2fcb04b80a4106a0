// Package memtable is the in-memory ordered index over a WAL's records:
// four ordered sets (points, range deletions, range sets, range unsets)
// backed by google/btree, with MVCC visibility resolution in versioned
// mode.
//
// The package knows nothing about arenas or on-disk layout. It stores a
// Pointer — either a handle into caller-owned storage (Offset/Len/Flag)
// or, for search pivots and synthetic queries, an inline key carried
// directly on the struct. Key/value/bound bytes for stored pointers are
// recovered through the KeyFunc/ValueFunc/BoundsFunc callbacks supplied
// to New, which close over the owning WAL's arena. This mirrors how
// folio's sst/index.go keeps its skip-list ignorant of the page cache
// beneath it, and is the reason Table lives under internal/ rather than
// being exported directly: the root package supplies the dereferencing
// closures, the memtable supplies the ordering.
package memtable

import (
	"bytes"
	"math"
	"sync"

	"github.com/google/btree"
)

const degree = 32

// BoundKind mirrors the root package's BoundKind without importing it
// (this package must not depend on the root package).
type BoundKind uint8

const (
	BoundIncluded BoundKind = iota
	BoundExcluded
	BoundUnbounded
)

// Bound is a range endpoint used for ordering and containment tests.
type Bound struct {
	Kind BoundKind
	Key  []byte
}

// Pointer is the item type stored in and returned by Table. Offset/Len/
// Flag identify a stored entry in caller-owned storage; inlineKey (when
// non-nil) makes this a synthetic pivot used only for searching and
// never inserted into a tree.
type Pointer struct {
	Offset uint32
	Len    uint32
	Flag   uint8

	inlineKey     []byte
	inlineVersion uint64
	isQuery       bool
}

// QueryKey builds a synthetic pivot for a point lookup/seek at key,
// visible as of version.
func QueryKey(key []byte, version uint64) Pointer {
	return Pointer{inlineKey: key, inlineVersion: version, isQuery: true}
}

// IsQuery reports whether p is a synthetic pivot rather than a stored
// entry.
func (p Pointer) IsQuery() bool { return p.isQuery }

// entryRemovedBit mirrors the root package's EntryFlag REMOVED bit
// (spec.md §6.3) without importing it: Pointer.Flag is a raw copy of the
// on-disk entry-flag byte, and that bit's position is part of the wire
// format this package's caller and the root package both agree on.
const entryRemovedBit uint8 = 1 << 1

// removed reports whether the stored point entry this pointer refers to
// is a REMOVED tombstone marker rather than a live value.
func (p Pointer) removed() bool { return p.Flag&entryRemovedBit != 0 }

// KeyFunc recovers a stored pointer's key (or, for range entries, its
// encoded start/end block) from caller-owned storage.
type KeyFunc func(Pointer) []byte

// ValueFunc recovers a stored pointer's value bytes.
type ValueFunc func(Pointer) []byte

// VersionFunc recovers a stored pointer's version (0 in plain mode).
type VersionFunc func(Pointer) uint64

// BoundsFunc recovers a range pointer's start/end bounds.
type BoundsFunc func(Pointer) (start, end Bound)

// Table is the ordered index over one WAL's live entries.
type Table struct {
	mu sync.RWMutex

	keyOf     KeyFunc
	valueOf   ValueFunc
	versionOf VersionFunc
	boundsOf  BoundsFunc
	versioned bool

	points         *btree.BTreeG[Pointer]
	rangeDeletions *btree.BTreeG[Pointer]
	rangeSets      *btree.BTreeG[Pointer]
	rangeUnsets    *btree.BTreeG[Pointer]

	minVersion uint64
	maxVersion uint64
}

// New constructs an empty Table. keyOf/valueOf/boundsOf are only ever
// called with non-query pointers previously passed to this Table's own
// Insert* methods.
func New(versioned bool, keyOf KeyFunc, valueOf ValueFunc, versionOf VersionFunc, boundsOf BoundsFunc) *Table {
	t := &Table{
		keyOf:      keyOf,
		valueOf:    valueOf,
		versionOf:  versionOf,
		boundsOf:   boundsOf,
		versioned:  versioned,
		minVersion: math.MaxUint64,
	}
	t.points = btree.NewG(degree, t.pointLess)
	t.rangeDeletions = btree.NewG(degree, t.rangeLess)
	t.rangeSets = btree.NewG(degree, t.rangeLess)
	t.rangeUnsets = btree.NewG(degree, t.rangeLess)
	return t
}

func (t *Table) key(p Pointer) []byte {
	if p.isQuery {
		return p.inlineKey
	}
	return t.keyOf(p)
}

func (t *Table) version(p Pointer) uint64 {
	if p.isQuery {
		return p.inlineVersion
	}
	return t.versionOf(p)
}

// pointLess orders points ascending by key, then descending by version
// so that, for a fixed key, AscendGreaterOrEqual from a (key, queryVersion)
// pivot lands on the newest version not exceeding queryVersion.
func (t *Table) pointLess(a, b Pointer) bool {
	c := bytes.Compare(t.key(a), t.key(b))
	if c != 0 {
		return c < 0
	}
	return t.version(a) > t.version(b)
}

// rangeLess orders range entries ascending by start bound, then
// descending by version. Two bounds at equal key values compare Equal
// regardless of Included/Excluded kind (resolves the "Included(a) cmp
// Excluded(a)" open question with no special-casing: ordering only ever
// needs a strict weak order over start positions, and containment tests
// separately honor inclusivity).
func (t *Table) rangeLess(a, b Pointer) bool {
	var sa, sb Bound
	if a.isQuery {
		sa = Bound{Kind: BoundIncluded, Key: a.inlineKey}
	} else {
		sa, _ = t.boundsOf(a)
	}
	if b.isQuery {
		sb = Bound{Kind: BoundIncluded, Key: b.inlineKey}
	} else {
		sb, _ = t.boundsOf(b)
	}
	c := compareBoundPosition(sa, sb)
	if c != 0 {
		return c < 0
	}
	return t.version(a) > t.version(b)
}

func compareBoundPosition(a, b Bound) int {
	if a.Kind == BoundUnbounded && b.Kind == BoundUnbounded {
		return 0
	}
	if a.Kind == BoundUnbounded {
		return -1
	}
	if b.Kind == BoundUnbounded {
		return 1
	}
	return bytes.Compare(a.Key, b.Key)
}

func containsStart(start Bound, key []byte) bool {
	switch start.Kind {
	case BoundUnbounded:
		return true
	case BoundIncluded:
		return bytes.Compare(key, start.Key) >= 0
	default: // BoundExcluded
		return bytes.Compare(key, start.Key) > 0
	}
}

func containsEnd(end Bound, key []byte) bool {
	switch end.Kind {
	case BoundUnbounded:
		return true
	case BoundIncluded:
		return bytes.Compare(key, end.Key) <= 0
	default: // BoundExcluded
		return bytes.Compare(key, end.Key) < 0
	}
}

func (t *Table) trackVersion(v uint64) {
	if !t.versioned {
		return
	}
	if v < t.minVersion {
		t.minVersion = v
	}
	if v > t.maxVersion {
		t.maxVersion = v
	}
}

// InsertPoint adds a point entry (value or tombstone; Pointer.Flag
// distinguishes the two at the caller's layer).
func (t *Table) InsertPoint(p Pointer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points.ReplaceOrInsert(p)
	t.trackVersion(t.versionOf(p))
}

// InsertRangeDeletion/InsertRangeSet/InsertRangeUnset add a range overlay
// entry to the corresponding bucket.
func (t *Table) InsertRangeDeletion(p Pointer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rangeDeletions.ReplaceOrInsert(p)
	t.trackVersion(t.versionOf(p))
}

func (t *Table) InsertRangeSet(p Pointer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rangeSets.ReplaceOrInsert(p)
	t.trackVersion(t.versionOf(p))
}

func (t *Table) InsertRangeUnset(p Pointer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rangeUnsets.ReplaceOrInsert(p)
	t.trackVersion(t.versionOf(p))
}

// overlay precedence, strongest first: deletion, unset, set, point.
const (
	kindNone = iota
	kindPoint
	kindSet
	kindUnset
	kindDeletion
)

// Resolved is the outcome of a Get: the entry (if any) visible at the
// query version, with tombstone/deletion status and, for a live value,
// its bytes.
type Resolved struct {
	Found     bool
	Tombstone bool
	Value     []byte
	Version   uint64
}

// Get resolves the value visible for key as of queryVersion, applying
// MVCC precedence across the point bucket and all three range overlay
// buckets: the newest entry wins; ties break deletion > unset > set >
// point.
func (t *Table) Get(key []byte, queryVersion uint64) Resolved {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getLocked(key, queryVersion)
}

// seekPoint finds the newest point entry for key with version <=
// queryVersion.
func (t *Table) seekPoint(key []byte, queryVersion uint64) (Pointer, bool) {
	pivot := QueryKey(key, queryVersion)
	var found Pointer
	ok := false
	t.points.AscendGreaterOrEqual(pivot, func(item Pointer) bool {
		if !bytes.Equal(t.key(item), key) {
			return false
		}
		found, ok = item, true
		return false
	})
	return found, ok
}

func (t *Table) scanRangeContaining(tree *btree.BTreeG[Pointer], key []byte, queryVersion uint64, fn func(Pointer)) {
	tree.Ascend(func(item Pointer) bool {
		v := t.version(item)
		if t.versioned && v > queryVersion {
			return true
		}
		start, end := t.boundsOf(item)
		if containsStart(start, key) && containsEnd(end, key) {
			fn(item)
		}
		return true
	})
}

// UpperBound returns the last point entry with key <= the given key,
// honoring Exclusive by skipping an exact match.
func (t *Table) UpperBound(key []byte, exclusive bool) (Pointer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var result Pointer
	found := false
	t.points.DescendLessOrEqual(QueryKey(key, 0), func(item Pointer) bool {
		if exclusive && bytes.Equal(t.key(item), key) {
			return true
		}
		result, found = item, true
		return false
	})
	if found {
		return result, true
	}
	return Pointer{}, false
}

// LowerBound returns the first point entry with key >= the given key
// (honoring Exclusive by skipping an exact match).
func (t *Table) LowerBound(key []byte, exclusive bool) (Pointer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var result Pointer
	found := false
	t.points.AscendGreaterOrEqual(QueryKey(key, math.MaxUint64), func(item Pointer) bool {
		c := bytes.Compare(t.key(item), key)
		if c == 0 && exclusive {
			return true
		}
		result, found = item, true
		return false
	})
	if found {
		return result, true
	}
	return Pointer{}, false
}

// First/Last return the lexicographically smallest/largest point entry.
func (t *Table) First() (Pointer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.points.Min()
}

func (t *Table) Last() (Pointer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.points.Max()
}

// Len reports the number of stored point entries (all versions).
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.points.Len()
}

// RangeOverlayCount reports the combined number of range deletion/set/
// unset entries.
func (t *Table) RangeOverlayCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rangeDeletions.Len() + t.rangeSets.Len() + t.rangeUnsets.Len()
}

// Iter calls fn for every live point entry in ascending key order,
// resolved as of queryVersion (tombstoned and shadowed entries are
// skipped). Stops early if fn returns false.
func (t *Table) Iter(queryVersion uint64, fn func(key, value []byte) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var lastKey []byte
	t.points.Ascend(func(item Pointer) bool {
		k := t.key(item)
		if lastKey != nil && bytes.Equal(k, lastKey) {
			return true // already resolved this key's newest visible version
		}
		lastKey = append(lastKey[:0], k...)
		resolved := t.getLocked(k, queryVersion)
		if !resolved.Found || resolved.Tombstone {
			return true
		}
		return fn(k, resolved.Value)
	})
}

// getLocked is Get's body without acquiring t.mu, for callers that
// already hold it. The point bucket's winning pointer is checked for the
// REMOVED bit just like the three overlay buckets already carry their
// own tombstone-ness, so a Remove'd key resolves to a tombstone here
// rather than being fed back in as a live (empty) value.
func (t *Table) getLocked(key []byte, queryVersion uint64) Resolved {
	var bestVersion uint64
	bestKind := kindNone
	var bestValue []byte
	bestTombstone := false
	consider := func(version uint64, kind int, value []byte, tombstone bool) {
		if !t.versioned {
			version = 0
		}
		if version > queryVersion {
			return
		}
		if bestKind == kindNone || version > bestVersion || (version == bestVersion && kind > bestKind) {
			bestVersion, bestKind, bestValue, bestTombstone = version, kind, value, tombstone
		}
	}
	if p, ok := t.seekPoint(key, queryVersion); ok {
		consider(t.version(p), kindPoint, t.valueOf(p), p.removed())
	}
	t.scanRangeContaining(t.rangeDeletions, key, queryVersion, func(p Pointer) { consider(t.version(p), kindDeletion, nil, true) })
	t.scanRangeContaining(t.rangeUnsets, key, queryVersion, func(p Pointer) { consider(t.version(p), kindUnset, nil, true) })
	t.scanRangeContaining(t.rangeSets, key, queryVersion, func(p Pointer) { consider(t.version(p), kindSet, t.valueOf(p), false) })
	if bestKind == kindNone {
		return Resolved{}
	}
	if bestTombstone {
		return Resolved{Found: true, Tombstone: true, Version: bestVersion}
	}
	return Resolved{Found: true, Value: bestValue, Version: bestVersion}
}

// AscendPoints calls fn for every stored point pointer in ascending
// (key, version-descending) order: the raw stored order, with no MVCC
// resolution and no tombstone filtering. Backs the *_all_versions reader
// variants (spec.md §4.4), which surface every version ever written for
// a key, including REMOVED markers. Stops early if fn returns false.
func (t *Table) AscendPoints(fn func(Pointer) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.points.Ascend(fn)
}

// AscendPointsRange is AscendPoints restricted to keys between start and
// end, each bound honoring its own Included/Excluded/Unbounded kind.
func (t *Table) AscendPointsRange(start, end Bound, fn func(Pointer) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.points.Ascend(func(item Pointer) bool {
		k := t.key(item)
		if !containsStart(start, k) {
			return true
		}
		if !containsEnd(end, k) {
			return false
		}
		return fn(item)
	})
}

// MinimumVersion/MaximumVersion report the version range ever inserted.
// Only meaningful in versioned mode.
func (t *Table) MinimumVersion() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.minVersion == math.MaxUint64 {
		return 0
	}
	return t.minVersion
}

func (t *Table) MaximumVersion() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxVersion
}

// MayContainVersion reports whether queryVersion falls within the
// table's observed [minVersion, maxVersion] range. A false result means
// queryVersion lies outside every version ever inserted; a true result is
// a hint only.
func (t *Table) MayContainVersion(queryVersion uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.points.Len() == 0 && t.rangeDeletions.Len() == 0 && t.rangeSets.Len() == 0 && t.rangeUnsets.Len() == 0 {
		return false
	}
	return queryVersion >= t.minVersion && queryVersion <= t.maxVersion
}
