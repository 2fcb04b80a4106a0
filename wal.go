// The top-level WAL handle: owns the arena and the in-memory index, and
// hands out cheap Reader/Writer façades over them. Grounded on
// folio/db.go's Open/Create/Close lifecycle, generalized from folio's
// fixed-page store to this format's append-only arena.
package orderwal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	atomicfile "github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/jpl-au/orderwal/internal/arena"
	"github.com/jpl-au/orderwal/internal/checksum"
	"github.com/jpl-au/orderwal/internal/memtable"
	"github.com/jpl-au/orderwal/internal/reserved"
)

// WAL is a durable, ordered write-ahead log. A zero WAL is not usable;
// construct one with Open.
type WAL struct {
	arena       arena.Arena
	index       *memtable.Table
	options     Options
	checksummer checksum.Builder
	logger      *zap.Logger
	dataOffset  uint32
}

// dataOffset is the arena offset where records begin: the 8-byte file
// header plus the caller-reserved metadata prefix.
func dataOffset(reserved uint32) uint32 {
	return HeaderSize + reserved
}

// Open opens an existing WAL file, or creates one per Options' open
// flags, and replays its record log into memory.
func Open(opts Options) (*WAL, error) {
	opts = opts.withDefaults()

	if opts.Path == "" {
		return openInMemory(opts)
	}

	_, statErr := os.Stat(opts.Path)
	exists := statErr == nil
	if !exists && !opts.Create && !opts.CreateNew {
		return nil, fmt.Errorf("orderwal: open %s: %w", opts.Path, os.ErrNotExist)
	}
	if exists && opts.CreateNew {
		return nil, fmt.Errorf("orderwal: create %s: %w", opts.Path, os.ErrExist)
	}

	if !exists {
		if err := createHeaderFile(opts); err != nil {
			return nil, err
		}
	}

	a, err := arena.New(arena.Options{
		Capacity:   opts.Capacity,
		Path:       opts.Path,
		ReadOnly:   opts.Read && !opts.Write,
		Huge:       opts.Huge,
		Stack:      opts.Stack,
		Populate:   opts.Populate,
		LockMeta:   opts.LockMeta,
		HeaderSize: dataOffset(opts.Reserved),
		Create:     false,
	})
	if err != nil {
		return nil, err
	}

	return openArena(a, opts)
}

// openInMemory constructs a heap or anonymous-mmap backed WAL with no
// durable file.
func openInMemory(opts Options) (*WAL, error) {
	a, err := arena.New(arena.Options{
		Capacity:   opts.Capacity,
		AllowMmap:  opts.AllowMmap,
		Huge:       opts.Huge,
		Stack:      opts.Stack,
		Populate:   opts.Populate,
		LockMeta:   opts.LockMeta,
		HeaderSize: dataOffset(opts.Reserved),
	})
	if err != nil {
		return nil, err
	}
	w := newWAL(a, opts)
	w.writeFreshHeader()
	if err := w.recover(); err != nil {
		a.Close()
		return nil, err
	}
	return w, nil
}

// createHeaderFile atomically creates opts.Path with a valid header and
// reserved-prefix region already in place, so a concurrent reader never
// observes a partially-written header. Grounded on folio/create.go's use
// of natefinch/atomic for the same reason.
func createHeaderFile(opts Options) error {
	buf := make([]byte, dataOffset(opts.Reserved))
	h := encodeHeader(fileHeader{Kind: opts.Kind, MagicVersion: opts.MagicVersion})
	copy(buf, h[:])
	return atomicfile.WriteFile(opts.Path, bytes.NewReader(buf))
}

func newWAL(a arena.Arena, opts Options) *WAL {
	return &WAL{
		arena:       a,
		index:       newIndex(a, opts.Kind == KindVersioned),
		options:     opts,
		checksummer: opts.Checksummer,
		logger:      opts.Logger,
		dataOffset:  dataOffset(opts.Reserved),
	}
}

// writeFreshHeader writes the file header directly into a freshly
// created in-memory arena's backing buffer, bypassing AllocBytes: the
// subsequent recover() call establishes the allocation cursor by
// scanning forward from dataOffset, so there is nothing to bump here
// (file-backed arenas get the same header bytes from createHeaderFile
// before the arena is even opened).
func (w *WAL) writeFreshHeader() {
	h := encodeHeader(fileHeader{Kind: w.options.Kind, MagicVersion: w.options.MagicVersion})
	copy(w.arena.RawBase()[:HeaderSize], h[:])
}

// openArena validates the header already on a (for a file-backed arena,
// written by createHeaderFile before Open mapped it) and replays the
// record log.
func openArena(a arena.Arena, opts Options) (*WAL, error) {
	header := a.RawBase()[:HeaderSize]
	if _, err := decodeHeader(header, opts.Kind, opts.MagicVersion); err != nil {
		a.Close()
		return nil, err
	}

	w := newWAL(a, opts)
	if err := w.recover(); err != nil {
		a.Close()
		return nil, err
	}
	return w, nil
}

// Close releases the underlying arena (unmapping/closing any backing
// file).
func (w *WAL) Close() error {
	return w.arena.Close()
}

// Reader returns a read-only façade over w.
func (w *WAL) Reader() *Reader {
	return &Reader{wal: w}
}

// Writer returns a write façade over w. Returns ErrReadOnly if w was
// opened without write permission.
func (w *WAL) Writer() (*Writer, error) {
	if w.arena.ReadOnly() || (!w.options.Write && !w.options.Append) {
		return nil, ErrReadOnly
	}
	return &Writer{wal: w}, nil
}

// ReservedBytes returns the caller-metadata prefix stored after the
// 8-byte framework header, exactly as it sits on disk (whatever the
// caller last wrote via SetReservedBytes or SetMetadata).
func (w *WAL) ReservedBytes() []byte {
	return w.arena.ReservedSlice(HeaderSize, w.options.Reserved)
}

// SetReservedBytes overwrites the caller-metadata prefix verbatim and
// flushes it. Use SetMetadata/Metadata instead when the payload should
// be compressed to fit a small reserved region.
func (w *WAL) SetReservedBytes(b []byte) error {
	dst, err := w.arena.ReservedSliceMut(HeaderSize, w.options.Reserved)
	if err != nil {
		return err
	}
	n := copy(dst, b)
	if w.options.Sync {
		return w.arena.FlushHeaderAndRange(HeaderSize, HeaderSize, uint32(n))
	}
	return nil
}

// ErrMetadataTooLarge is returned by SetMetadata when payload, once
// compressed, would not fit in the reserved prefix alongside its
// length-prefix.
var ErrMetadataTooLarge = errMetadataTooLarge{}

type errMetadataTooLarge struct{}

func (errMetadataTooLarge) Error() string { return "orderwal: compressed metadata exceeds reserved region" }

// SetMetadata zstd-compresses payload (via internal/reserved) and stores
// it in the reserved prefix behind a 4-byte length, so a caller can use
// the reserved region for structured metadata larger than it could hold
// raw. Returns ErrMetadataTooLarge if the compressed form still doesn't
// fit.
func (w *WAL) SetMetadata(payload []byte) error {
	compressed := reserved.EncodeMeta(payload)
	if uint32(len(compressed))+4 > w.options.Reserved {
		return ErrMetadataTooLarge
	}
	dst, err := w.arena.ReservedSliceMut(HeaderSize, w.options.Reserved)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(dst, uint32(len(compressed)))
	copy(dst[4:], compressed)
	if w.options.Sync {
		return w.arena.FlushHeaderAndRange(HeaderSize, HeaderSize, 4+uint32(len(compressed)))
	}
	return nil
}

// Metadata decompresses and returns the payload last stored via
// SetMetadata, or (nil, nil) if none has been stored yet.
func (w *WAL) Metadata() ([]byte, error) {
	src := w.arena.ReservedSlice(HeaderSize, w.options.Reserved)
	if len(src) < 4 {
		return nil, nil
	}
	n := binary.LittleEndian.Uint32(src)
	if n == 0 {
		return nil, nil
	}
	if uint32(len(src)) < 4+n {
		return nil, errCorrupted("reserved metadata length exceeds reserved region")
	}
	return reserved.DecodeMeta(src[4 : 4+n])
}
