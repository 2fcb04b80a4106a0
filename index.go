// Wiring between the root package's arena-backed RecordPointer and the
// generic ordering/MVCC logic in internal/memtable: the closures below
// are what let memtable.Table stay ignorant of arenas and on-disk
// layout while still ordering and resolving real entries.
package orderwal

import (
	"github.com/jpl-au/orderwal/internal/arena"
	"github.com/jpl-au/orderwal/internal/memtable"
)

func toMemtableBound(b Bound) memtable.Bound {
	switch b.Kind {
	case BoundUnbounded:
		return memtable.Bound{Kind: memtable.BoundUnbounded}
	case BoundExcluded:
		return memtable.Bound{Kind: memtable.BoundExcluded, Key: b.Key}
	default:
		return memtable.Bound{Kind: memtable.BoundIncluded, Key: b.Key}
	}
}

// newIndex builds a memtable.Table bound to a, suitable for one WAL
// instance's whole lifetime.
func newIndex(a arena.Arena, versioned bool) *memtable.Table {
	keyOf := func(p memtable.Pointer) []byte { return fetchKey(a, p) }
	valueOf := func(p memtable.Pointer) []byte { return fetchValue(a, p) }
	versionOf := func(p memtable.Pointer) uint64 { return fetchVersion(a, p) }
	boundsOf := func(p memtable.Pointer) (memtable.Bound, memtable.Bound) {
		start, end := fetchBounds(a, p)
		return toMemtableBound(start), toMemtableBound(end)
	}
	return memtable.New(versioned, keyOf, valueOf, versionOf, boundsOf)
}
