// The commit protocol: reserve space, write the record uncommitted,
// checksum it as if already committed, then flip the commit bit and
// optionally fsync — spec.md §4.2. Grounded on folio/write.go's
// reserve-then-fill pattern over its page arena, generalized from a
// single fixed-layout page to this format's variable-length records.
package orderwal

import (
	"encoding/binary"

	"github.com/jpl-au/orderwal/internal/arena"
	"github.com/jpl-au/orderwal/internal/checksum"
)

// mapAllocError turns an arena allocation failure into the package's
// typed InsufficientSpaceError, never letting an internal sentinel leak
// across the package boundary.
func mapAllocError(err error, requested uint64, a arena.Arena) error {
	if err == arena.ErrReadOnly {
		return ErrReadOnly
	}
	return &InsufficientSpaceError{Requested: requested, Available: uint64(a.Remaining())}
}

// commitSpan reserves total bytes (flag + entrySize + checksum), lets
// writeEntry fill the entry span, checksums the record as if the commit
// bit were already set, then flips the bit for real. It never leaves a
// record readable as committed with a checksum that doesn't match.
//
// writeEntry reports its own failure (e.g. a caller's builder callback
// returning an error) by returning a non-nil error *before* anything is
// checksummed or committed; commitSpan reacts by rewinding the
// reservation so the error is tunneled through as-is with no trace left
// in the arena, per spec.md §4.2/§7. On any other error the reservation
// is simply abandoned (a future Rewind or recovery scan will reclaim or
// skip it).
func commitSpan(a arena.Arena, c checksum.Builder, sync bool, entrySize int, writeEntry func(dst []byte) error) (RecordPointer, error) {
	total := RecordFlagSize + entrySize + ChecksumSize
	buf, offset, err := a.AllocBytes(uint32(total))
	if err != nil {
		return RecordPointer{}, mapAllocError(err, uint64(total), a)
	}

	buf[0] = 0 // uncommitted, not batching
	entryBuf := buf[RecordFlagSize : RecordFlagSize+entrySize]
	if err := writeEntry(entryBuf); err != nil {
		if rerr := a.Rewind(offset); rerr != nil {
			return RecordPointer{}, rerr
		}
		return RecordPointer{}, err
	}

	summer := c.New()
	digest := checksumAsCommitted(summer, buf[0], entryBuf)
	binary.LittleEndian.PutUint64(buf[RecordFlagSize+entrySize:], digest)

	buf[0] |= byte(FlagCommitted)

	if sync {
		if err := a.FlushHeaderAndRange(HeaderSize, offset, uint32(total)); err != nil {
			return RecordPointer{}, err
		}
	}

	return RecordPointer{
		Offset: offset + uint32(RecordFlagSize),
		Len:    uint32(entrySize),
		Flag:   entryBuf[0],
	}, nil
}

// commitBatch reserves total bytes (flag + batch_meta + payload +
// checksum) for a batch envelope, per spec.md §3.3. batch_meta packs
// (numEntries, payloadSize) into one LEB128 varint the way a point
// entry's kvlen packs (key_len, value_len). writeEntries writes every
// inner entry's bytes in order into the payload span and returns the
// RecordPointer for each (relative to the arena, not the payload start),
// so callers get back per-entry pointers to insert into the index even
// though the whole batch shares one flag byte and one checksum.
func commitBatch(a arena.Arena, c checksum.Builder, sync bool, numEntries uint32, payloadSize int, writeEntries func(dst []byte, base uint32) []RecordPointer) ([]RecordPointer, error) {
	total, metaLen := encodedBatchRecordSize(numEntries, payloadSize)
	buf, offset, err := a.AllocBytes(uint32(total))
	if err != nil {
		return nil, mapAllocError(err, uint64(total), a)
	}

	buf[0] = byte(FlagBatching)
	binary.PutUvarint(buf[RecordFlagSize:], mergeLengths(numEntries, uint32(payloadSize)))
	payloadOff := RecordFlagSize + metaLen
	payload := buf[payloadOff : payloadOff+payloadSize]
	pointers := writeEntries(payload, offset+uint32(payloadOff))

	rest := buf[RecordFlagSize : payloadOff+payloadSize]
	summer := c.New()
	digest := checksumAsCommitted(summer, buf[0], rest)
	binary.LittleEndian.PutUint64(buf[payloadOff+payloadSize:], digest)

	// BATCHING stays set alongside COMMITTED: spec.md §3.3/§4.2 step 5
	// says the final commit step "flips BATCHING|COMMITTED", not just
	// COMMITTED — recovery's dispatch on a reopened file depends on this
	// bit still being there to know the batch_meta framing applies.
	buf[0] = byte(FlagCommitted | FlagBatching)

	if sync {
		if err := a.FlushHeaderAndRange(HeaderSize, offset, uint32(total)); err != nil {
			return nil, err
		}
	}

	return pointers, nil
}
