//go:build !unix

package arena

import (
	"fmt"
	"os"
	"sync/atomic"
)

// On non-Unix platforms the anonymous backend falls back to a heap
// buffer, and the file-backed arena falls back to an in-memory mirror of
// the file's bytes, written back to disk on FlushRange/Close via
// WriteAt+Sync instead of msync. AllocBytes/Rewind/GetBytes semantics are
// identical to the mmap backend; only the persistence mechanics differ.

func newAnonMmap(opts Options) (Arena, error) {
	return newHeap(opts), nil
}

type fileArena struct {
	f         *os.File
	mirror    []byte
	allocated atomic.Uint32
	readOnly  bool
	path      string
}

func newFileMmap(opts Options) (Arena, error) {
	flags := os.O_RDWR
	if opts.ReadOnly {
		flags = os.O_RDONLY
	}
	if opts.Create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(opts.Path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("arena: open %s: %w", opts.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := opts.Capacity
	if uint32(info.Size()) > size {
		size = uint32(info.Size())
	}
	if !opts.ReadOnly && uint32(info.Size()) < size {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, err
		}
	}

	mirror := make([]byte, size)
	if _, err := f.ReadAt(mirror, 0); err != nil && info.Size() > 0 {
		// A short read on a freshly truncated file is expected (the tail
		// beyond the old EOF reads back as zero already); anything else
		// would have already failed the Stat/Truncate above.
	}

	return &fileArena{f: f, mirror: mirror, readOnly: opts.ReadOnly, path: opts.Path}, nil
}

func (a *fileArena) AllocBytes(n uint32) ([]byte, uint32, error) {
	if a.readOnly {
		return nil, 0, ErrReadOnly
	}
	for {
		cur := a.allocated.Load()
		next := cur + n
		if next < cur || next > uint32(len(a.mirror)) {
			return nil, 0, ErrInsufficientSpace
		}
		if a.allocated.CompareAndSwap(cur, next) {
			return a.mirror[cur:next], cur, nil
		}
	}
}

// Rewind adjusts the bump-allocation cursor only; it never touches byte
// content, so it is permitted even on a read-only arena (recovery must be
// able to establish the correct cursor on a read-only reopen).
func (a *fileArena) Rewind(offset uint32) error {
	a.allocated.Store(offset)
	return nil
}

func (a *fileArena) FlushRange(offset, length uint32) error {
	if a.readOnly {
		return nil
	}
	end := offset + length
	if end > uint32(len(a.mirror)) {
		end = uint32(len(a.mirror))
	}
	if offset < end {
		if _, err := a.f.WriteAt(a.mirror[offset:end], int64(offset)); err != nil {
			return err
		}
	}
	return a.f.Sync()
}

func (a *fileArena) FlushHeaderAndRange(headerSize, offset, length uint32) error {
	if err := a.FlushRange(0, headerSize); err != nil {
		return err
	}
	return a.FlushRange(offset, length)
}

func (a *fileArena) Remaining() uint32           { return uint32(len(a.mirror)) - a.allocated.Load() }
func (a *fileArena) Capacity() uint32            { return uint32(len(a.mirror)) }
func (a *fileArena) Allocated() uint32           { return a.allocated.Load() }
func (a *fileArena) GetPointer(o uint32) uint32  { return o }

func (a *fileArena) GetBytes(offset, length uint32) ([]byte, error) {
	if uint64(offset)+uint64(length) > uint64(len(a.mirror)) {
		return nil, ErrInsufficientSpace
	}
	return a.mirror[offset : offset+length], nil
}

func (a *fileArena) ReservedSlice(headerSize, reservedLen uint32) []byte {
	return a.mirror[headerSize : headerSize+reservedLen]
}

func (a *fileArena) ReservedSliceMut(headerSize, reservedLen uint32) ([]byte, error) {
	if a.readOnly {
		return nil, ErrReadOnly
	}
	return a.mirror[headerSize : headerSize+reservedLen], nil
}

func (a *fileArena) RawBase() []byte { return a.mirror }

func (a *fileArena) ReadOnly() bool   { return a.readOnly }
func (a *fileArena) IsOnDisk() bool   { return true }
func (a *fileArena) Path() string     { return a.path }
func (a *fileArena) Backend() Backend { return FileMmap }
func (a *fileArena) Close() error {
	if a.f == nil {
		return nil
	}
	var err error
	if !a.readOnly {
		err = a.FlushRange(0, uint32(len(a.mirror)))
	}
	if cerr := a.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.f = nil
	return err
}
