// Package arena implements the bump allocator the WAL core treats as an
// external collaborator (spec.md §1): a single contiguous byte region,
// backed by a heap slice, an anonymous mmap, or a file mmap, that only
// ever grows by appending and only ever shrinks by rewinding to a
// previously-seen offset.
//
// None of the three backends supports concurrent writers — spec.md is
// explicit that the core above this package is single-writer — but all
// three support concurrent readers observing already-committed bytes
// without synchronization, since those bytes are never mutated once
// written (only the commit-bit byte changes after the fact, and that is
// a single-byte, single-writer store).
package arena

import "errors"

// ErrInsufficientSpace is returned by AllocBytes when the region has no
// room left for the requested allocation.
var ErrInsufficientSpace = errors.New("arena: insufficient space")

// ErrReadOnly is returned by any mutating method on a read-only arena.
var ErrReadOnly = errors.New("arena: read-only")

// Backend names the concrete allocator implementation, surfaced through
// Stats for operational visibility.
type Backend int

const (
	// Heap backs the arena with a plain, pre-sized []byte. Used for
	// in-memory WALs (Options.Capacity > 0, no path).
	Heap Backend = iota
	// AnonMmap backs the arena with an anonymous memory mapping.
	AnonMmap
	// FileMmap backs the arena with a memory-mapped file.
	FileMmap
)

func (b Backend) String() string {
	switch b {
	case Heap:
		return "heap"
	case AnonMmap:
		return "anon-mmap"
	case FileMmap:
		return "file-mmap"
	default:
		return "unknown"
	}
}

// Arena is the bump-allocator interface the WAL core consumes. Every
// method here is named directly after the corresponding spec.md §1
// requirement.
type Arena interface {
	// AllocBytes reserves n contiguous bytes and returns the slice plus
	// its offset from the start of the arena. Fails with
	// ErrInsufficientSpace if fewer than n bytes remain.
	AllocBytes(n uint32) (b []byte, offset uint32, err error)

	// Rewind releases any bytes allocated at or after offset, as if they
	// had never been allocated. Used by the commit protocol and recovery
	// to undo a reservation that failed partway through, or to truncate
	// an uncommitted tail.
	Rewind(offset uint32) error

	// FlushRange fsyncs/msyncs the byte range [offset, offset+length) to
	// stable storage. A no-op for heap and anonymous-mmap arenas, which
	// have no backing file.
	FlushRange(offset, length uint32) error

	// FlushHeaderAndRange fsyncs/msyncs both the fixed header range and
	// [offset, offset+length).
	FlushHeaderAndRange(headerSize, offset, length uint32) error

	// Remaining reports how many bytes can still be allocated.
	Remaining() uint32

	// Capacity reports the arena's total size.
	Capacity() uint32

	// Allocated reports the current bump-allocation cursor (equivalently,
	// Capacity()-Remaining()).
	Allocated() uint32

	// ReservedSlice returns the caller-reserved prefix immediately after
	// the framework header (spec.md §6.2 "reserved").
	ReservedSlice(headerSize, reservedLen uint32) []byte

	// ReservedSliceMut is the mutable counterpart of ReservedSlice.
	ReservedSliceMut(headerSize, reservedLen uint32) ([]byte, error)

	// GetPointer returns the absolute base-relative pointer value for
	// offset; in a pure-Go port this is just offset itself, since there
	// is no raw pointer arithmetic — kept as a named method so callers
	// written against the spec's pointer-arithmetic vocabulary (spec.md
	// §4.3, §9: "arena + integer handle") have a single call site.
	GetPointer(offset uint32) uint32

	// GetBytes returns a read-only view of [offset, offset+length).
	GetBytes(offset, length uint32) ([]byte, error)

	// RawBase returns the arena's backing slice in full, for callers
	// that need to hand a byte-addressable view to a comparator. This is
	// the Go stand-in for the Rust original's raw_ptr(): offsets are
	// resolved against this slice instead of pointer arithmetic.
	RawBase() []byte

	// ReadOnly reports whether mutating methods are disabled.
	ReadOnly() bool

	// IsOnDisk reports whether this arena is backed by a file (FileMmap).
	IsOnDisk() bool

	// Path returns the backing file path, or "" for heap/anonymous arenas.
	Path() string

	// Backend reports which concrete implementation is in use.
	Backend() Backend

	// Close releases OS resources (mmap, file handle). Safe to call more
	// than once.
	Close() error
}

// Options configures construction of any Arena backend.
type Options struct {
	// Capacity is the total arena size in bytes. For FileMmap this is
	// the file's mapped size; the file is grown (via truncate) to meet
	// it if it is smaller.
	Capacity uint32
	// Path, if non-empty, selects the FileMmap backend. An empty Path
	// selects AnonMmap (if AllowMmap is true) or Heap otherwise.
	Path string
	// AllowMmap selects AnonMmap over Heap when Path is empty. Exists so
	// callers who explicitly asked for an in-memory (non-file) WAL still
	// get a real mapping when they want one, and a plain heap buffer
	// when they don't (tests overwhelmingly want the latter: cheap,
	// deterministic, no OS mapping to tear down).
	AllowMmap bool
	ReadOnly  bool
	// Huge requests transparent huge pages for an anonymous mapping
	// (Linux only; ignored elsewhere).
	Huge bool
	// Stack requests MAP_STACK for an anonymous mapping.
	Stack bool
	// Populate requests MAP_POPULATE (prefault all pages) for either
	// mmap backend.
	Populate bool
	// LockMeta mlocks the header page so it cannot be paged out, trading
	// a pinned page for freedom from header-read page faults.
	LockMeta bool
	// HeaderSize is the size of the fixed framework header, used only to
	// decide how many leading bytes LockMeta should pin.
	HeaderSize uint32
	// Create requests that a file that does not exist be created
	// (FileMmap only).
	Create bool
}

// New constructs the Arena backend selected by opts.
func New(opts Options) (Arena, error) {
	if opts.Path != "" {
		return newFileMmap(opts)
	}
	if opts.AllowMmap {
		return newAnonMmap(opts)
	}
	return newHeap(opts), nil
}
