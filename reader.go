// Reader is the read-only façade over a WAL: point lookups, bounded
// scans, and (in versioned mode) as-of-version queries. Grounded on
// folio/read.go's cheap-clone handle over shared state.
package orderwal

import (
	"bytes"
	"math"

	"github.com/jpl-au/orderwal/internal/arena"
)

// Reader wraps a *WAL with read-only operations. Safe for concurrent
// use by multiple goroutines and alongside a single Writer.
type Reader struct {
	wal *WAL
}

// Len reports the number of stored point entries across all versions,
// tombstones included.
func (r *Reader) Len() int { return r.wal.index.Len() }

// IsEmpty reports whether the log holds no point entries at all.
func (r *Reader) IsEmpty() bool { return r.Len() == 0 }

// Get resolves key's current value, honoring range overlays and
// tombstones. Returns ErrNotFound if no value is visible.
func (r *Reader) Get(key []byte) ([]byte, error) {
	return r.GetVersioned(key, math.MaxUint64)
}

// GetVersioned resolves key's value as of version.
func (r *Reader) GetVersioned(key []byte, version uint64) ([]byte, error) {
	resolved := r.wal.index.Get(key, version)
	if !resolved.Found || resolved.Tombstone {
		return nil, ErrNotFound
	}
	return resolved.Value, nil
}

// ContainsKey reports whether key currently resolves to a live value.
func (r *Reader) ContainsKey(key []byte) bool {
	_, err := r.Get(key)
	return err == nil
}

// TombstoneEntry is the raw outcome of a *_with_tombstone lookup
// (spec.md §4.4/§4.7): unlike Get/GetVersioned, a REMOVED marker is
// surfaced as Tombstone=true rather than translated into ErrNotFound.
type TombstoneEntry struct {
	Found     bool
	Tombstone bool
	Value     []byte
	Version   uint64
}

// GetWithTombstone is Get's *_with_tombstone variant: it returns the raw
// latest entry for key, including a REMOVED marker, instead of hiding it
// behind ErrNotFound.
func (r *Reader) GetWithTombstone(key []byte) TombstoneEntry {
	return r.GetVersionedWithTombstone(key, math.MaxUint64)
}

// GetVersionedWithTombstone is GetVersioned's *_with_tombstone variant.
func (r *Reader) GetVersionedWithTombstone(key []byte, version uint64) TombstoneEntry {
	resolved := r.wal.index.Get(key, version)
	return TombstoneEntry{
		Found:     resolved.Found,
		Tombstone: resolved.Tombstone,
		Value:     resolved.Value,
		Version:   resolved.Version,
	}
}

// First returns the lexicographically smallest point entry on record
// (not MVCC-resolved: in versioned mode this is the smallest key that
// has ever had a point entry written, which may be shadowed by a range
// deletion).
func (r *Reader) First() (key, value []byte, ok bool) {
	p, found := r.wal.index.First()
	if !found {
		return nil, nil, false
	}
	return fetchKey(r.wal.arena, p), fetchValue(r.wal.arena, p), true
}

// Last is First's counterpart for the largest key.
func (r *Reader) Last() (key, value []byte, ok bool) {
	p, found := r.wal.index.Last()
	if !found {
		return nil, nil, false
	}
	return fetchKey(r.wal.arena, p), fetchValue(r.wal.arena, p), true
}

// UpperBound returns the last point entry with key <= target (or <
// target if exclusive is set).
func (r *Reader) UpperBound(target []byte, exclusive bool) (key, value []byte, ok bool) {
	p, found := r.wal.index.UpperBound(target, exclusive)
	if !found {
		return nil, nil, false
	}
	return fetchKey(r.wal.arena, p), fetchValue(r.wal.arena, p), true
}

// LowerBound returns the first point entry with key >= target (or >
// target if exclusive is set).
func (r *Reader) LowerBound(target []byte, exclusive bool) (key, value []byte, ok bool) {
	p, found := r.wal.index.LowerBound(target, exclusive)
	if !found {
		return nil, nil, false
	}
	return fetchKey(r.wal.arena, p), fetchValue(r.wal.arena, p), true
}

// Iter calls fn for every live, MVCC-resolved point entry in ascending
// key order, stopping early if fn returns false.
func (r *Reader) Iter(fn func(key, value []byte) bool) {
	r.wal.index.Iter(math.MaxUint64, fn)
}

// IterAsOf is Iter resolved as of version rather than the latest state.
func (r *Reader) IterAsOf(version uint64, fn func(key, value []byte) bool) {
	r.wal.index.Iter(version, fn)
}

// AllVersionsEntry is one raw stored point entry returned by
// IterAllVersions/RangeAllVersions.
type AllVersionsEntry struct {
	Key       []byte
	Value     []byte
	Version   uint64
	Tombstone bool
}

func allVersionsEntryOf(a arena.Arena, p RecordPointer) AllVersionsEntry {
	d := fetch(a, p)
	return AllVersionsEntry{Key: d.key, Value: d.value, Version: d.version, Tombstone: d.flag.removed()}
}

// IterAllVersions is Iter's *_all_versions variant (spec.md §4.4): it
// calls fn for every stored point entry in ascending key order (newest
// version first within a key), including every superseded version and
// REMOVED tombstone markers, with no MVCC resolution applied. Stops
// early if fn returns false.
func (r *Reader) IterAllVersions(fn func(AllVersionsEntry) bool) {
	r.wal.index.AscendPoints(func(p RecordPointer) bool {
		return fn(allVersionsEntryOf(r.wal.arena, p))
	})
}

// RangeAllVersions is IterAllVersions restricted to keys between start
// and end, each bound honoring its own inclusivity.
func (r *Reader) RangeAllVersions(start, end Bound, fn func(AllVersionsEntry) bool) {
	r.wal.index.AscendPointsRange(toMemtableBound(start), toMemtableBound(end), func(p RecordPointer) bool {
		return fn(allVersionsEntryOf(r.wal.arena, p))
	})
}

// Range calls fn for every live, MVCC-resolved point entry with a key
// between start and end (each bound honoring its own inclusivity), in
// ascending order.
func (r *Reader) Range(start, end Bound, fn func(key, value []byte) bool) {
	r.wal.index.Iter(math.MaxUint64, func(key, value []byte) bool {
		if !rangeContains(start, end, key) {
			if compareBoundReached(end, key) {
				return false
			}
			return true
		}
		return fn(key, value)
	})
}

func rangeContains(start, end Bound, key []byte) bool {
	if !boundAllowsAtOrAfter(start, key) {
		return false
	}
	return boundAllowsBefore(end, key)
}

func boundAllowsAtOrAfter(b Bound, key []byte) bool {
	switch b.Kind {
	case BoundUnbounded:
		return true
	case BoundIncluded:
		return bytes.Compare(key, b.Key) >= 0
	default:
		return bytes.Compare(key, b.Key) > 0
	}
}

func boundAllowsBefore(b Bound, key []byte) bool {
	switch b.Kind {
	case BoundUnbounded:
		return true
	case BoundIncluded:
		return bytes.Compare(key, b.Key) <= 0
	default:
		return bytes.Compare(key, b.Key) < 0
	}
}

// compareBoundReached reports whether key has already passed end,
// letting Range's Iter callback stop early instead of scanning the
// whole table.
func compareBoundReached(end Bound, key []byte) bool {
	if end.Kind == BoundUnbounded {
		return false
	}
	return bytes.Compare(key, end.Key) > 0
}
