//go:build unix

package arena

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// mmapArena backs the arena with either an anonymous mapping or a mapped
// file, depending on whether f is non-nil. Both share the same bump-cursor
// and rewind logic; only Close, FlushRange, and the constructors differ.
type mmapArena struct {
	data      []byte
	allocated atomic.Uint32
	readOnly  bool
	onDisk    bool
	path      string
	f         *os.File
}

func mmapProt(readOnly bool) int {
	if readOnly {
		return unix.PROT_READ
	}
	return unix.PROT_READ | unix.PROT_WRITE
}

func newAnonMmap(opts Options) (Arena, error) {
	if opts.Capacity == 0 {
		return nil, fmt.Errorf("arena: anonymous mmap requires a non-zero capacity")
	}
	flags := unix.MAP_ANON | unix.MAP_SHARED
	if opts.Stack {
		flags |= unix.MAP_STACK
	}
	if opts.Populate {
		flags |= unix.MAP_POPULATE
	}
	data, err := unix.Mmap(-1, 0, int(opts.Capacity), mmapProt(opts.ReadOnly), flags)
	if err != nil {
		return nil, fmt.Errorf("arena: mmap anon: %w", err)
	}
	if opts.Huge {
		_ = unix.Madvise(data, unix.MADV_HUGEPAGE)
	}
	if opts.LockMeta && opts.HeaderSize > 0 && opts.HeaderSize <= uint32(len(data)) {
		_ = unix.Mlock(data[:opts.HeaderSize])
	}
	return &mmapArena{data: data, readOnly: opts.ReadOnly}, nil
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
			return nil, fmt.Errorf("arena: truncate: %w", err)
		}
	}

	mmapFlags := unix.MAP_SHARED
	if opts.Populate {
		mmapFlags |= unix.MAP_POPULATE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), mmapProt(opts.ReadOnly), mmapFlags)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("arena: mmap file: %w", err)
	}
	if opts.LockMeta && opts.HeaderSize > 0 && opts.HeaderSize <= uint32(len(data)) {
		_ = unix.Mlock(data[:opts.HeaderSize])
	}

	return &mmapArena{
		data:     data,
		readOnly: opts.ReadOnly,
		onDisk:   true,
		path:     opts.Path,
		f:        f,
	}, nil
}

func (a *mmapArena) AllocBytes(n uint32) ([]byte, uint32, error) {
	if a.readOnly {
		return nil, 0, ErrReadOnly
	}
	for {
		cur := a.allocated.Load()
		next := cur + n
		if next < cur || next > uint32(len(a.data)) {
			return nil, 0, ErrInsufficientSpace
		}
		if a.allocated.CompareAndSwap(cur, next) {
			return a.data[cur:next], cur, nil
		}
	}
}

// Rewind adjusts the bump-allocation cursor only; it never touches byte
// content, so it is permitted even on a read-only arena (recovery must be
// able to establish the correct cursor on a read-only reopen).
func (a *mmapArena) Rewind(offset uint32) error {
	a.allocated.Store(offset)
	return nil
}

func (a *mmapArena) FlushRange(offset, length uint32) error {
	if !a.onDisk || a.readOnly {
		return nil
	}
	end := offset + length
	if end > uint32(len(a.data)) {
		end = uint32(len(a.data))
	}
	if offset >= end {
		return nil
	}
	return unix.Msync(a.data[offset:end], unix.MS_SYNC)
}

func (a *mmapArena) FlushHeaderAndRange(headerSize, offset, length uint32) error {
	if err := a.FlushRange(0, headerSize); err != nil {
		return err
	}
	return a.FlushRange(offset, length)
}

func (a *mmapArena) Remaining() uint32 { return uint32(len(a.data)) - a.allocated.Load() }

func (a *mmapArena) Capacity() uint32 { return uint32(len(a.data)) }

func (a *mmapArena) Allocated() uint32 { return a.allocated.Load() }

func (a *mmapArena) ReservedSlice(headerSize, reservedLen uint32) []byte {
	return a.data[headerSize : headerSize+reservedLen]
}

func (a *mmapArena) ReservedSliceMut(headerSize, reservedLen uint32) ([]byte, error) {
	if a.readOnly {
		return nil, ErrReadOnly
	}
	return a.data[headerSize : headerSize+reservedLen], nil
}

func (a *mmapArena) GetPointer(offset uint32) uint32 { return offset }

func (a *mmapArena) GetBytes(offset, length uint32) ([]byte, error) {
	if uint64(offset)+uint64(length) > uint64(len(a.data)) {
		return nil, ErrInsufficientSpace
	}
	return a.data[offset : offset+length], nil
}

func (a *mmapArena) RawBase() []byte { return a.data }

func (a *mmapArena) ReadOnly() bool { return a.readOnly }

func (a *mmapArena) IsOnDisk() bool { return a.onDisk }

func (a *mmapArena) Path() string { return a.path }

func (a *mmapArena) Backend() Backend {
	if a.onDisk {
		return FileMmap
	}
	return AnonMmap
}

func (a *mmapArena) Close() error {
	var err error
	if a.data != nil {
		err = unix.Munmap(a.data)
		a.data = nil
	}
	if a.f != nil {
		if cerr := a.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		a.f = nil
	}
	return err
}
