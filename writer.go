// Writer is the mutating façade over a WAL: Insert/Remove/RangeSet/
// RangeUnset/RangeRemove and their versioned counterparts, plus a
// builder-callback variant of Insert for callers who want to encode a
// value directly into the arena instead of handing over a pre-built
// slice. Grounded on folio/write.go's method set, generalized from
// fixed single-value puts to this format's versioned point/range model.
package orderwal

import (
	"encoding/binary"
	"fmt"
)

// Writer wraps a *WAL with the operations that mutate it. Not safe for
// concurrent use by multiple goroutines (spec.md §1: single-writer).
type Writer struct {
	wal *WAL
}

// VacantBuffer is the destination a builder callback writes a value
// into directly, avoiding an extra copy for callers who can encode
// straight into the reserved arena span. The builder must return the
// number of bytes actually written; in builds compiled with the
// orderwal_debug build tag, a reported count below zero or above the
// buffer's length is caught by an assertion (see vacant_debug.go).
type VacantBuffer struct {
	buf []byte
}

// Bytes returns the full capacity available to the builder.
func (v *VacantBuffer) Bytes() []byte { return v.buf }

// Len reports the buffer's capacity.
func (v *VacantBuffer) Len() int { return len(v.buf) }

func (w *Writer) checkWritable() error {
	if w.wal.arena.ReadOnly() {
		return ErrReadOnly
	}
	return nil
}

// Insert writes key=value as a new point entry.
func (w *Writer) Insert(key, value []byte) error {
	return w.insert(key, value, 0, false)
}

// InsertVersioned writes key=value visible at version.
func (w *Writer) InsertVersioned(key, value []byte, version uint64) error {
	return w.insert(key, value, version, true)
}

func (w *Writer) insert(key, value []byte, version uint64, versioned bool) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	if err := validateEntrySizes(len(key), len(value), w.wal.options.MaximumKeySize, w.wal.options.MaximumValueSize); err != nil {
		return err
	}

	flag := EntryFlag(0)
	if versioned {
		flag |= EntryVersioned
	}
	entrySize := encodedEntrySize(uint32(len(key)), uint32(len(value)), versioned)

	p, err := commitSpan(w.wal.arena, w.wal.checksummer, w.wal.options.Sync, entrySize, func(dst []byte) error {
		encodePointEntry(dst, flag, version, key, value)
		return nil
	})
	if err != nil {
		return err
	}
	w.wal.index.InsertPoint(p)
	return nil
}

// InsertWithBuilder reserves valueLen bytes for the value and lets build
// encode directly into them, returning the number of bytes actually
// written (which must not exceed valueLen).
func (w *Writer) InsertWithBuilder(key []byte, valueLen int, build func(*VacantBuffer) (int, error)) error {
	return w.insertWithBuilder(key, valueLen, 0, false, build)
}

// InsertVersionedWithBuilder is InsertWithBuilder's versioned counterpart.
func (w *Writer) InsertVersionedWithBuilder(key []byte, valueLen int, version uint64, build func(*VacantBuffer) (int, error)) error {
	return w.insertWithBuilder(key, valueLen, version, true, build)
}

func (w *Writer) insertWithBuilder(key []byte, valueLen int, version uint64, versioned bool, build func(*VacantBuffer) (int, error)) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	if err := validateEntrySizes(len(key), valueLen, w.wal.options.MaximumKeySize, w.wal.options.MaximumValueSize); err != nil {
		return err
	}

	flag := EntryFlag(0)
	if versioned {
		flag |= EntryVersioned
	}
	entrySize := encodedEntrySize(uint32(len(key)), uint32(valueLen), versioned)

	p, err := commitSpan(w.wal.arena, w.wal.checksummer, w.wal.options.Sync, entrySize, func(dst []byte) error {
		off := EntryFlagSize
		dst[0] = byte(flag)
		if versioned {
			binary.LittleEndian.PutUint64(dst[off:], version)
			off += VersionSize
		}
		off += binary.PutUvarint(dst[off:], mergeLengths(uint32(len(key)), uint32(valueLen)))
		off += copy(dst[off:], key)
		vb := &VacantBuffer{buf: dst[off : off+valueLen]}
		written, buildErr := build(vb)
		if buildErr != nil {
			return buildErr
		}
		assertBuilderWroteWithinBounds(written, valueLen)
		return nil
	})
	if err != nil {
		// A builder error is caught before the span is checksummed or
		// committed (see commitSpan), and the reservation is rewound, so
		// this aborts the record as if it were never attempted — per
		// spec.md §4.2/§7.
		return err
	}
	w.wal.index.InsertPoint(p)
	return nil
}

// Remove marks key as deleted (a point tombstone).
func (w *Writer) Remove(key []byte) error {
	return w.remove(key, 0, false)
}

// RemoveVersioned marks key as deleted as of version.
func (w *Writer) RemoveVersioned(key []byte, version uint64) error {
	return w.remove(key, version, true)
}

func (w *Writer) remove(key []byte, version uint64, versioned bool) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	if err := validateEntrySizes(len(key), 0, w.wal.options.MaximumKeySize, w.wal.options.MaximumValueSize); err != nil {
		return err
	}

	flag := EntryRemoved
	if versioned {
		flag |= EntryVersioned
	}
	entrySize := encodedEntrySize(uint32(len(key)), 0, versioned)

	p, err := commitSpan(w.wal.arena, w.wal.checksummer, w.wal.options.Sync, entrySize, func(dst []byte) error {
		encodePointEntry(dst, flag, version, key, nil)
		return nil
	})
	if err != nil {
		return err
	}
	w.wal.index.InsertPoint(p)
	return nil
}

// RangeSet assigns value to every key between start and end (each bound
// honoring its own inclusivity) as a single range overlay entry.
func (w *Writer) RangeSet(start, end Bound, value []byte) error {
	return w.rangeOp(start, end, value, EntryRangeSet, 0, false)
}

// RangeSetVersioned is RangeSet's versioned counterpart.
func (w *Writer) RangeSetVersioned(start, end Bound, value []byte, version uint64) error {
	return w.rangeOp(start, end, value, EntryRangeSet, version, true)
}

// RangeUnset marks every key between start and end as unset: like
// RangeRemove, it hides point values and range sets written at or below
// its own version.
func (w *Writer) RangeUnset(start, end Bound) error {
	return w.rangeOp(start, end, nil, EntryRangeUnset, 0, false)
}

// RangeUnsetVersioned is RangeUnset's versioned counterpart.
func (w *Writer) RangeUnsetVersioned(start, end Bound, version uint64) error {
	return w.rangeOp(start, end, nil, EntryRangeUnset, version, true)
}

// RangeRemove marks every key between start and end as deleted.
func (w *Writer) RangeRemove(start, end Bound) error {
	return w.rangeOp(start, end, nil, EntryRangeDeletion, 0, false)
}

// RangeRemoveVersioned is RangeRemove's versioned counterpart.
func (w *Writer) RangeRemoveVersioned(start, end Bound, version uint64) error {
	return w.rangeOp(start, end, nil, EntryRangeDeletion, version, true)
}

func (w *Writer) rangeOp(start, end Bound, value []byte, kind EntryFlag, version uint64, versioned bool) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	startLen, endLen := encodedBoundLen(start), encodedBoundLen(end)
	if err := validateRangeKeySize(startLen + endLen); err != nil {
		return err
	}

	flag := kind
	if versioned {
		flag |= EntryVersioned
	}
	entrySize := encodedRangeEntrySize(startLen, endLen, len(value), versioned)

	p, err := commitSpan(w.wal.arena, w.wal.checksummer, w.wal.options.Sync, entrySize, func(dst []byte) error {
		startBuf := make([]byte, startLen)
		endBuf := make([]byte, endLen)
		encodeBound(startBuf, start)
		encodeBound(endBuf, end)
		encodeRangeEntry(dst, flag, version, startBuf, endBuf, value)
		return nil
	})
	if err != nil {
		return err
	}

	switch kind {
	case EntryRangeSet:
		w.wal.index.InsertRangeSet(p)
	case EntryRangeUnset:
		w.wal.index.InsertRangeUnset(p)
	case EntryRangeDeletion:
		w.wal.index.InsertRangeDeletion(p)
	default:
		return fmt.Errorf("orderwal: unknown range entry kind %v", kind)
	}
	return nil
}
