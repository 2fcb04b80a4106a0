package orderwal

import (
	"math"

	"go.uber.org/zap"

	"github.com/jpl-au/orderwal/internal/checksum"
)

// Options configures Open/Create (spec.md §6.2). Its shape is a plain
// struct with scalar fields and zero-value defaults filled in by
// withDefaults, following folio.Config rather than a functional-options
// builder (folio is the teacher; functional options are a different
// pack repo's idiom).
type Options struct {
	// POSIX-style open flags.
	Read       bool
	Write      bool
	Append     bool
	Truncate   bool
	Create     bool
	CreateNew  bool

	// Capacity is the in-memory/anonymous-mmap size (default 1 MiB). For
	// a file-backed arena, a smaller file is grown to Capacity; a file
	// already larger keeps its own size.
	Capacity uint32

	// Reserved is the number of extra header-prefix bytes reserved for
	// caller metadata, after the 8-byte framework header.
	Reserved uint32

	// LockMeta mlocks the header page on Unix to avoid page faults.
	LockMeta bool
	// Huge requests huge pages for an anonymous mapping (Linux only).
	Huge bool
	// Stack requests MAP_STACK for an anonymous mapping.
	Stack bool
	// Populate requests MAP_POPULATE for an anonymous or file mapping.
	Populate bool

	// Sync selects whether fsync/msync runs after each commit.
	Sync bool

	// MagicVersion is a caller-chosen 16-bit version stored in the
	// header, for cross-version format negotiation.
	MagicVersion uint16

	// MaximumKeySize and MaximumValueSize bound a single entry's key and
	// value. Defaults: math.MaxUint16 and math.MaxUint32 respectively.
	MaximumKeySize   uint32
	MaximumValueSize uint32

	// Kind selects plain (points only) or versioned (MVCC + range
	// overlays) mode. Must match the file's persisted kind on reopen.
	Kind Kind

	// Checksummer selects the checksum algorithm; defaults to CRC32.
	Checksummer checksum.Builder

	// Logger receives a Warn event when recovery finds a corrupted
	// committed record. Defaults to a no-op logger.
	Logger *zap.Logger

	// Path is the backing file path. Empty selects an in-memory WAL
	// (heap or anonymous mmap, per AllowMmap).
	Path string
	// AllowMmap selects an anonymous mmap over a heap buffer for
	// in-memory WALs.
	AllowMmap bool
}

func (o Options) withDefaults() Options {
	if o.Capacity == 0 {
		o.Capacity = 1 << 20 // 1 MiB
	}
	if o.MaximumKeySize == 0 {
		o.MaximumKeySize = math.MaxUint16
	}
	if o.MaximumValueSize == 0 {
		o.MaximumValueSize = math.MaxUint32
	}
	if o.Checksummer == nil {
		o.Checksummer = checksum.CRC32()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
