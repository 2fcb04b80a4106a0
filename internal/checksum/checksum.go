// Package checksum provides the pluggable digest the WAL's commit protocol
// uses to detect torn and corrupted records.
//
// A Checksummer is a streaming hasher plus a one-shot convenience method.
// The commit protocol (see the root package's commit.go) feeds it the
// COMMITTED flag byte first, as if the record were already durable, then
// the rest of the record bytes — see Checksummer's doc comment.
package checksum

import "hash/crc32"

// Checksummer is a streaming 64-bit digest plus a one-shot helper.
//
// Update must be callable multiple times to accumulate a digest over
// several byte slices; Digest returns the accumulated value without
// resetting the hasher's internal state (callers construct a fresh
// Checksummer per record via Builder.New). Checksum(b) is equivalent to
// constructing a fresh hasher, calling Update(b) once, and returning
// Digest(), but may be implemented without the streaming overhead.
type Checksummer interface {
	Update(b []byte)
	Digest() uint64
	Checksum(b []byte) uint64
}

// Builder constructs a fresh Checksummer for each record or batch. A
// fresh instance per record matters: crc32.Table (and the other
// algorithms below) are not safe to reuse mid-digest once Digest has
// been read, and two concurrent records must not share mutable hasher
// state.
type Builder interface {
	New() Checksummer
}

// BuilderFunc adapts a plain function to a Builder.
type BuilderFunc func() Checksummer

// New implements Builder.
func (f BuilderFunc) New() Checksummer { return f() }

// crc32Checksummer is the default Checksummer, per spec: "CRC32 is the
// default; the algorithm is pluggable."
type crc32Checksummer struct {
	h uint32
}

// CRC32 returns a Builder for the default checksum algorithm.
func CRC32() Builder {
	return BuilderFunc(func() Checksummer { return &crc32Checksummer{} })
}

func (c *crc32Checksummer) Update(b []byte) {
	c.h = crc32.Update(c.h, crc32.IEEETable, b)
}

func (c *crc32Checksummer) Digest() uint64 {
	return uint64(c.h)
}

func (c *crc32Checksummer) Checksum(b []byte) uint64 {
	return uint64(crc32.ChecksumIEEE(b))
}
