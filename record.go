// Record encoding: the byte layout of a single non-batch record and of a
// batch's inner entries, per spec.md §3.2/§3.3. Grounded on
// folio/record.go's encode/decode pair and on
// _examples/original_source/src/dynamic/wal/entry.rs's packed
// (key_len << 32 | value_len) varint trick for carrying two lengths in
// one LEB128 field.
package orderwal

import (
	"encoding/binary"
	"math"

	"github.com/jpl-au/orderwal/internal/checksum"
)

// mergeLengths packs a key length and a value length into the single
// varint spec.md §3.2 calls kvlen.
func mergeLengths(klen, vlen uint32) uint64 {
	return uint64(klen)<<32 | uint64(vlen)
}

// splitLengths unpacks mergeLengths' result.
func splitLengths(packed uint64) (klen, vlen uint64) {
	return packed >> 32, packed & 0xffffffff
}

// encodedEntrySize returns the size, in bytes, of the
// "entry_flag [version] kvlen key val" span for a point entry, excluding
// any outer record flag/checksum framing.
func encodedEntrySize(klen, vlen uint32, versioned bool) int {
	n := EntryFlagSize
	if versioned {
		n += VersionSize
	}
	n += uvarintLen(mergeLengths(klen, vlen))
	n += int(klen) + int(vlen)
	return n
}

// encodedRangeEntrySize returns the size of the
// "entry_flag [version] kvlen (bounds_len start_bound end_bound) value"
// span for a range entry (deletion/set/unset), where bounds_len is the
// packed (start_len, end_len) varint. valueLen is 0 for deletion/unset.
func encodedRangeEntrySize(startLen, endLen, valueLen int, versioned bool) int {
	n := EntryFlagSize
	if versioned {
		n += VersionSize
	}
	blockLen := uvarintLen(mergeLengths(uint32(startLen), uint32(endLen))) + startLen + endLen
	n += uvarintLen(mergeLengths(uint32(blockLen), uint32(valueLen)))
	n += blockLen + valueLen
	return n
}

// encodedRecordSize is encodedEntrySize plus the outer non-batch record
// framing: a flag byte and a trailing checksum.
func encodedRecordSize(entrySize int) int {
	return RecordFlagSize + entrySize + ChecksumSize
}

// encodedBatchRecordSize is spec.md §3.3's batch_record_size(num_entries,
// payload_bytes) helper: batch_meta packs both fields into one LEB128
// varint via mergeLengths, the same trick a point entry's kvlen field
// uses for (key_len, value_len). It returns the full on-disk record size
// (outer flag + batch_meta + payload + checksum) and batch_meta's own
// length, so callers can locate the payload and checksum offsets without
// re-deriving them.
func encodedBatchRecordSize(numEntries uint32, payloadBytes int) (total, metaLen int) {
	metaLen = uvarintLen(mergeLengths(numEntries, uint32(payloadBytes)))
	total = RecordFlagSize + metaLen + payloadBytes + ChecksumSize
	return total, metaLen
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// encodePointEntry writes a point entry's "entry_flag [version] kvlen
// key val" span into dst, which must be at least
// encodedEntrySize(len(key), len(value), versioned) bytes.
func encodePointEntry(dst []byte, flag EntryFlag, version uint64, key, value []byte) int {
	off := 0
	dst[off] = byte(flag)
	off += EntryFlagSize
	if flag.versioned() {
		binary.LittleEndian.PutUint64(dst[off:], version)
		off += VersionSize
	}
	off += binary.PutUvarint(dst[off:], mergeLengths(uint32(len(key)), uint32(len(value))))
	off += copy(dst[off:], key)
	off += copy(dst[off:], value)
	return off
}

// encodeRangeEntry writes a range entry's span into dst, which must be at
// least encodedRangeEntrySize(...) bytes. start and end are already
// BoundedKey-encoded blocks (see encodeBound); they are preceded by their
// packed (start_len, end_len) varint, the layout decodeRangeBounds reads.
// value is empty for deletion/unset entries.
func encodeRangeEntry(dst []byte, flag EntryFlag, version uint64, start, end, value []byte) int {
	off := 0
	dst[off] = byte(flag)
	off += EntryFlagSize
	if flag.versioned() {
		binary.LittleEndian.PutUint64(dst[off:], version)
		off += VersionSize
	}
	boundsLen := mergeLengths(uint32(len(start)), uint32(len(end)))
	blockLen := uvarintLen(boundsLen) + len(start) + len(end)
	off += binary.PutUvarint(dst[off:], mergeLengths(uint32(blockLen), uint32(len(value))))
	off += binary.PutUvarint(dst[off:], boundsLen)
	off += copy(dst[off:], start)
	off += copy(dst[off:], end)
	off += copy(dst[off:], value)
	return off
}

// checksumAsCommitted computes the checksum a record would have once its
// leading flag byte has FlagCommitted set, regardless of the byte's
// current in-buffer state (spec.md §4.2 step 3: the checksum always
// covers the record as if already committed, computed before the bit is
// actually flipped).
func checksumAsCommitted(c checksum.Checksummer, flagByte byte, rest []byte) uint64 {
	c.Update([]byte{flagByte | byte(FlagCommitted)})
	c.Update(rest)
	return c.Digest()
}

// validateEntrySizes enforces spec.md §5's per-entry size ceilings ahead
// of encoding, so a caller gets a typed error instead of a silently
// truncated write.
func validateEntrySizes(keyLen, valueLen int, maxKey, maxValue uint32) error {
	if keyLen > int(maxKey) {
		return &KeyTooLargeError{Size: uint64(keyLen), Max: uint64(maxKey)}
	}
	if valueLen > int(maxValue) {
		return &ValueTooLargeError{Size: uint64(valueLen), Max: uint64(maxValue)}
	}
	total := encodedRecordSize(encodedEntrySize(uint32(keyLen), uint32(valueLen), true))
	if total > math.MaxUint32 {
		return &EntryTooLargeError{Size: uint64(total), Max: math.MaxUint32}
	}
	return nil
}

// validateRangeKeySize enforces the analogous ceiling for an encoded
// range-bound block.
func validateRangeKeySize(blockLen int) error {
	if blockLen > math.MaxUint32 {
		return &RangeKeyTooLargeError{Size: uint64(blockLen)}
	}
	return nil
}
