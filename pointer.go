// Pointer types: the fixed-size handles the memtable orders.
//
// Grounded on spec.md §3.4/§4.3 and on
// _examples/original_source/src/dynamic/wal/pointer.rs's KeyPointer (flag
// + offset + len) and ValuePointer (offset + len) shapes. One departure
// from the Rust original, recorded here rather than silently: KeyPointer
// there anchors offset at the *key*'s first byte, which works because the
// Rust memtable comparator can walk backward through raw pointer
// arithmetic to recover the version. A Go port has no raw pointers, only
// slice+offset, and re-deriving "where does the version field start"
// from a key offset requires re-parsing the variable-length kvlen varint
// anyway — so this port anchors RecordPointer.Offset at the *entry*'s
// first byte instead (the "entry_flag:1B | version:8B | kvlen | key |
// val" span spec.md §3.3 already defines for batch inner-entries, and
// which a non-batch record's body also matches once its outer flag byte
// and trailing checksum are excluded). This lets one decode path serve
// both batch and non-batch entries and makes version retrieval a single
// forward parse from Offset, with no backward offset arithmetic.
package orderwal

import (
	"encoding/binary"

	"github.com/jpl-au/orderwal/internal/arena"
	"github.com/jpl-au/orderwal/internal/memtable"
)

// RecordPointer is the handle stored in the memtable: either a handle
// into the arena (Offset/Len/Flag) or, for search pivots, a synthetic
// inline key built with memtable.QueryKey. It does not own any bytes;
// Key/Value/Version/Bounds are recovered on demand by dereferencing into
// the arena via fetch.
//
// Offset is the arena offset of this entry's first byte (the entry-flag
// byte; see package doc comment above). Len is the length, in bytes, of
// the entry span starting at Offset: entry_flag(1) [+ version(8)] +
// kvlen(varint) + key + val, or for range entries, entry_flag(1) [+
// version(8)] + kvlen(varint) + encoded (start_bound, end_bound, value).
// Flag is EntryFlag cached for fast dispatch without a dereference.
type RecordPointer = memtable.Pointer

// decodedEntry is the fully-parsed view of the bytes a RecordPointer
// refers to.
type decodedEntry struct {
	flag    EntryFlag
	version uint64
	key     []byte // point: the key; range: the encoded (start,end) block
	value   []byte
}

// fetch parses the entry at p from the arena's raw base. Panics only on
// data corrupted past what recovery already validated (a bug, not a
// reachable runtime condition for callers of the public API, since every
// pointer in the memtable was placed there by the commit protocol or by
// recovery's checksum-verified scan).
func fetch(a arena.Arena, p RecordPointer) decodedEntry {
	base := a.RawBase()
	buf := base[p.Offset : p.Offset+p.Len]

	flag := EntryFlag(p.Flag) // byte 0 of buf; cached on p.Flag to avoid the dereference
	off := EntryFlagSize
	var version uint64
	if flag.versioned() {
		version = binary.LittleEndian.Uint64(buf[off : off+VersionSize])
		off += VersionSize
	}

	// Range entries pack (bounds_block_len, value_len) the same way point
	// entries pack (key_len, value_len): RangeSet carries a value over the
	// whole interval, RangeDeletion/RangeUnset carry an empty one.
	packed, n := binary.Uvarint(buf[off:])
	off += n
	klen, vlen := splitLengths(packed)
	key := buf[off : off+int(klen)]
	off += int(klen)
	value := buf[off : off+int(vlen)]
	return decodedEntry{flag: flag, version: version, key: key, value: value}
}

// fetchKey returns the decoded point key, or the encoded range-bound
// block for a range pointer.
func fetchKey(a arena.Arena, p RecordPointer) []byte {
	return fetch(a, p).key
}

func fetchValue(a arena.Arena, p RecordPointer) []byte {
	return fetch(a, p).value
}

func fetchVersion(a arena.Arena, p RecordPointer) uint64 {
	return fetch(a, p).version
}

func fetchBounds(a arena.Arena, p RecordPointer) (start, end Bound) {
	block := fetchKey(a, p)
	s, e, err := decodeRangeBounds(block)
	if err != nil {
		// Corruption past what recovery's checksum validation already
		// caught; every range pointer in the memtable was placed there by
		// the commit protocol or by recovery's own scan.
		panic(err)
	}
	return s, e
}

// Bound is a range endpoint: Unbounded, or a key with Included/Excluded
// inclusivity (spec.md §3.2, §6's "Bounded key").
type Bound struct {
	Kind BoundKind
	Key  []byte
}

// Unbounded returns an unbounded Bound.
func Unbounded() Bound { return Bound{Kind: BoundUnbounded} }

// Included returns an inclusive Bound over key.
func Included(key []byte) Bound { return Bound{Kind: BoundIncluded, Key: key} }

// Excluded returns an exclusive Bound over key.
func Excluded(key []byte) Bound { return Bound{Kind: BoundExcluded, Key: key} }

// encodeBound writes a single BoundedKey-prefixed bound into dst,
// returning the number of bytes written. dst must have room for
// 1+len(b.Key).
func encodeBound(dst []byte, b Bound) int {
	dst[0] = byte(b.Kind) // pointer flag is always 0 on write, per spec.md §9 OQ1
	if b.Kind == BoundUnbounded {
		return 1
	}
	n := copy(dst[1:], b.Key)
	return 1 + n
}

// decodeBound parses a single BoundedKey-prefixed bound from src.
// Resolves spec.md §9 Open Question 1: a set pointer-indirection bit is
// rejected as corruption rather than silently ignored.
func decodeBound(src []byte) (Bound, error) {
	if len(src) == 0 {
		return Bound{}, errCorrupted("bounded key: empty")
	}
	tag := src[0]
	if tag&boundPointerFlag != 0 {
		return Bound{}, errCorrupted("bounded key: pointer indirection flag set")
	}
	kind := BoundKind(tag & boundKindMask)
	switch kind {
	case BoundUnbounded:
		return Bound{Kind: BoundUnbounded}, nil
	case BoundIncluded, BoundExcluded:
		return Bound{Kind: kind, Key: src[1:]}, nil
	default:
		return Bound{}, errCorrupted("bounded key: invalid kind")
	}
}

// encodedBoundLen reports how many bytes encodeBound would write.
func encodedBoundLen(b Bound) int {
	if b.Kind == BoundUnbounded {
		return 1
	}
	return 1 + len(b.Key)
}

// decodeRangeBounds decodes the two bounds packed into a range entry's
// key span (spec.md §3.2: a LEB128 (start_len<<32)|end_len header
// followed by start_key then end_key bytes, each BoundedKey-prefixed).
func decodeRangeBounds(block []byte) (start, end Bound, err error) {
	packed, n := binary.Uvarint(block)
	slen, elen := splitLengths(packed)
	rest := block[n:]
	if uint64(len(rest)) < slen+elen {
		return Bound{}, Bound{}, errCorrupted("range bounds: truncated")
	}
	start, err = decodeBound(rest[:slen])
	if err != nil {
		return Bound{}, Bound{}, err
	}
	end, err = decodeBound(rest[slen : slen+elen])
	if err != nil {
		return Bound{}, Bound{}, err
	}
	return start, end, nil
}
