// Batch accumulates several operations and commits them as a single
// atomic record: either every operation becomes durable and visible
// together, or (on a crash mid-write) none of them do — spec.md §3.3,
// §4.4. Grounded on folio/db.go's Batch type, generalized from folio's
// fixed single-bucket batch to this format's mixed point/range entries.
package orderwal

type opKind int

const (
	opInsert opKind = iota
	opRemove
	opRangeSet
	opRangeUnset
	opRangeDeletion
)

type batchOp struct {
	kind      opKind
	key       []byte
	value     []byte
	start     Bound
	end       Bound
	version   uint64
	versioned bool
}

// Batch collects operations to commit together. Not safe for concurrent
// use.
type Batch struct {
	w            *Writer
	ops          []batchOp
	capacityHint int
}

// NewBatch returns an empty Batch bound to w.
func (w *Writer) NewBatch() *Batch {
	return &Batch{w: w}
}

// NewBatchWithCapacity is NewBatch, but Commit fails with
// ErrLargerBatchSize if the operations added end up encoding to more
// than capacityHint bytes — useful for callers who pre-reserve arena
// space with a separate allocation strategy.
func (w *Writer) NewBatchWithCapacity(capacityHint int) *Batch {
	return &Batch{w: w, capacityHint: capacityHint}
}

func (b *Batch) Insert(key, value []byte) {
	b.ops = append(b.ops, batchOp{kind: opInsert, key: key, value: value})
}

func (b *Batch) InsertVersioned(key, value []byte, version uint64) {
	b.ops = append(b.ops, batchOp{kind: opInsert, key: key, value: value, version: version, versioned: true})
}

func (b *Batch) Remove(key []byte) {
	b.ops = append(b.ops, batchOp{kind: opRemove, key: key})
}

func (b *Batch) RemoveVersioned(key []byte, version uint64) {
	b.ops = append(b.ops, batchOp{kind: opRemove, key: key, version: version, versioned: true})
}

func (b *Batch) RangeSet(start, end Bound, value []byte) {
	b.ops = append(b.ops, batchOp{kind: opRangeSet, start: start, end: end, value: value})
}

func (b *Batch) RangeSetVersioned(start, end Bound, value []byte, version uint64) {
	b.ops = append(b.ops, batchOp{kind: opRangeSet, start: start, end: end, value: value, version: version, versioned: true})
}

func (b *Batch) RangeUnset(start, end Bound) {
	b.ops = append(b.ops, batchOp{kind: opRangeUnset, start: start, end: end})
}

func (b *Batch) RangeUnsetVersioned(start, end Bound, version uint64) {
	b.ops = append(b.ops, batchOp{kind: opRangeUnset, start: start, end: end, version: version, versioned: true})
}

func (b *Batch) RangeRemove(start, end Bound) {
	b.ops = append(b.ops, batchOp{kind: opRangeDeletion, start: start, end: end})
}

func (b *Batch) RangeRemoveVersioned(start, end Bound, version uint64) {
	b.ops = append(b.ops, batchOp{kind: opRangeDeletion, start: start, end: end, version: version, versioned: true})
}

// Len reports how many operations are queued.
func (b *Batch) Len() int { return len(b.ops) }

func entryFlagFor(op batchOp) EntryFlag {
	var flag EntryFlag
	switch op.kind {
	case opRemove:
		flag = EntryRemoved
	case opRangeSet:
		flag = EntryRangeSet
	case opRangeUnset:
		flag = EntryRangeUnset
	case opRangeDeletion:
		flag = EntryRangeDeletion
	}
	if op.versioned {
		flag |= EntryVersioned
	}
	return flag
}

// Commit encodes every queued operation into a single batch record and
// durably commits it in one reserve→write→checksum→flip-bit step. An
// empty batch is a no-op.
func (b *Batch) Commit() error {
	if err := b.w.checkWritable(); err != nil {
		return err
	}
	if len(b.ops) == 0 {
		return nil
	}

	sizes := make([]int, len(b.ops))
	total := 0
	opts := b.w.wal.options
	for i, op := range b.ops {
		var size int
		switch op.kind {
		case opInsert, opRemove:
			if err := validateEntrySizes(len(op.key), len(op.value), opts.MaximumKeySize, opts.MaximumValueSize); err != nil {
				return err
			}
			size = encodedEntrySize(uint32(len(op.key)), uint32(len(op.value)), op.versioned)
		default:
			sl, el := encodedBoundLen(op.start), encodedBoundLen(op.end)
			if err := validateRangeKeySize(sl + el); err != nil {
				return err
			}
			size = encodedRangeEntrySize(sl, el, len(op.value), op.versioned)
		}
		sizes[i] = size
		total += size
	}
	if b.capacityHint > 0 && total > b.capacityHint {
		return ErrLargerBatchSize
	}

	pointers, err := commitBatch(b.w.wal.arena, b.w.wal.checksummer, opts.Sync, uint32(len(b.ops)), total, func(dst []byte, base uint32) []RecordPointer {
		ptrs := make([]RecordPointer, len(b.ops))
		off := 0
		for i, op := range b.ops {
			entryBuf := dst[off : off+sizes[i]]
			flag := entryFlagFor(op)
			switch op.kind {
			case opInsert, opRemove:
				encodePointEntry(entryBuf, flag, op.version, op.key, op.value)
			default:
				sl, el := encodedBoundLen(op.start), encodedBoundLen(op.end)
				startBuf := make([]byte, sl)
				endBuf := make([]byte, el)
				encodeBound(startBuf, op.start)
				encodeBound(endBuf, op.end)
				encodeRangeEntry(entryBuf, flag, op.version, startBuf, endBuf, op.value)
			}
			ptrs[i] = RecordPointer{Offset: base + uint32(off), Len: uint32(sizes[i]), Flag: entryBuf[0]}
			off += sizes[i]
		}
		return ptrs
	})
	if err != nil {
		return err
	}

	for _, p := range pointers {
		b.w.wal.insertPointer(p)
	}
	return nil
}
