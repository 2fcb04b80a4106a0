// Recovery: scan the arena from dataOffset forward, validating each
// record's checksum and stopping at the first truncated or corrupted
// tail — spec.md §4.5. Grounded on folio/repair.go's forward-scan-then-
// truncate shape, adapted from folio's page-aligned records to this
// format's variable-length ones.
package orderwal

import (
	"encoding/binary"

	"go.uber.org/zap"
)

// entrySpanLen parses just enough of an entry's leading fields (flag,
// optional version, kvlen) to compute the full byte length of the span,
// without allocating or copying.
func entrySpanLen(buf []byte) (int, error) {
	if len(buf) < EntryFlagSize {
		return 0, errCorrupted("entry: truncated flag")
	}
	flag := EntryFlag(buf[0])
	off := EntryFlagSize
	if flag.versioned() {
		if len(buf) < off+VersionSize {
			return 0, errCorrupted("entry: truncated version")
		}
		off += VersionSize
	}
	if len(buf) <= off {
		return 0, errCorrupted("entry: truncated kvlen")
	}
	packed, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return 0, errCorrupted("entry: truncated kvlen")
	}
	off += n
	klen, vlen := splitLengths(packed)
	total := off + int(klen) + int(vlen)
	if total > len(buf) {
		return 0, errCorrupted("entry: truncated body")
	}
	return total, nil
}

// recover scans from w.dataOffset to the arena's capacity, replaying
// every committed record into the index, and rewinds the allocation
// cursor to the first byte past the last valid record (discarding any
// uncommitted tail left by a crash mid-write, per spec.md §4.5 step 4).
//
// A record whose flag byte already has COMMITTED set is a different
// story: that bit means some earlier process finished writing and
// checksumming it, so any truncation or checksum mismatch found while
// replaying it is not a benign torn write but corruption of durable
// data, and spec.md §4.5/§7 require Open to fail for that handle rather
// than silently drop the record.
func (w *WAL) recover() error {
	base := w.arena.RawBase()
	capacity := w.arena.Capacity()
	cursor := w.dataOffset

	for cursor+RecordFlagSize <= capacity {
		flag := RecordFlag(base[cursor])
		if !flag.committed() {
			break
		}

		var consumed uint32
		var err error
		if flag.batching() {
			consumed, err = w.recoverBatch(base, cursor, capacity)
		} else {
			consumed, err = w.recoverRecord(base, cursor, capacity)
		}
		if err != nil {
			w.logger.Warn("orderwal: corrupted committed record found during recovery",
				zap.Uint32("offset", cursor), zap.Error(err))
			return err
		}
		cursor += consumed
	}

	return w.arena.Rewind(cursor)
}

// recoverRecord validates and replays a single non-batch record starting
// at cursor, returning its total on-disk size.
func (w *WAL) recoverRecord(base []byte, cursor, capacity uint32) (uint32, error) {
	bodyStart := cursor + RecordFlagSize
	if bodyStart > capacity {
		return 0, errCorrupted("record: truncated body")
	}
	entryLen, err := entrySpanLen(base[bodyStart:capacity])
	if err != nil {
		return 0, err
	}
	checksumOffset := bodyStart + uint32(entryLen)
	total := RecordFlagSize + entryLen + ChecksumSize
	if cursor+uint32(total) > capacity {
		return 0, errCorrupted("record: truncated checksum")
	}

	want := binary.LittleEndian.Uint64(base[checksumOffset : checksumOffset+ChecksumSize])
	got := w.checksummer.New().Checksum(base[cursor:checksumOffset])
	if got != want {
		return 0, errCorrupted("record: checksum mismatch")
	}

	p := RecordPointer{Offset: bodyStart, Len: uint32(entryLen), Flag: base[bodyStart]}
	w.insertPointer(p)
	return uint32(total), nil
}

// recoverBatch validates and replays every inner entry of a batch
// envelope starting at cursor, returning the envelope's total on-disk
// size. batch_meta (spec.md §3.3) packs (num_entries, payload_bytes) into
// one LEB128 varint; num_entries is cross-checked against the number of
// inner entries actually parsed, catching a corrupted meta field that
// happens to still pass the trailing checksum.
func (w *WAL) recoverBatch(base []byte, cursor, capacity uint32) (uint32, error) {
	metaStart := cursor + RecordFlagSize
	if metaStart > capacity {
		return 0, errCorrupted("batch: truncated meta")
	}
	packed, n := binary.Uvarint(base[metaStart:capacity])
	if n <= 0 {
		return 0, errCorrupted("batch: truncated meta")
	}
	numEntries, payloadLen := splitLengths(packed)
	payloadStart := metaStart + uint32(n)
	payloadEnd := payloadStart + uint32(payloadLen)
	total := uint32(RecordFlagSize) + uint32(n) + uint32(payloadLen) + ChecksumSize
	if cursor+total > capacity {
		return 0, errCorrupted("batch: truncated payload or checksum")
	}

	checksumOffset := payloadEnd
	want := binary.LittleEndian.Uint64(base[checksumOffset : checksumOffset+ChecksumSize])
	got := w.checksummer.New().Checksum(base[cursor:checksumOffset])
	if got != want {
		return 0, errCorrupted("batch: checksum mismatch")
	}

	var seen uint64
	for off := payloadStart; off < payloadEnd; {
		entryLen, err := entrySpanLen(base[off:payloadEnd])
		if err != nil {
			return 0, err
		}
		p := RecordPointer{Offset: off, Len: uint32(entryLen), Flag: base[off]}
		w.insertPointer(p)
		off += uint32(entryLen)
		seen++
	}
	if seen != numEntries {
		return 0, errCorrupted("batch: entry count mismatch")
	}

	return total, nil
}

// insertPointer routes a freshly decoded pointer into the right index
// bucket by its entry kind.
func (w *WAL) insertPointer(p RecordPointer) {
	flag := EntryFlag(p.Flag)
	switch {
	case flag.rangeDeletion():
		w.index.InsertRangeDeletion(p)
	case flag.rangeSet():
		w.index.InsertRangeSet(p)
	case flag.rangeUnset():
		w.index.InsertRangeUnset(p)
	default:
		w.index.InsertPoint(p)
	}
}
