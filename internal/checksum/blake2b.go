package checksum

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// blake2bChecksummer trades speed for collision resistance, for callers
// who checksum records that cross trust boundaries. Grounded on
// folio/hash.go's AlgBlake2b option (blake2b.New(8, nil): an 8-byte, i.e.
// 64-bit, keyless digest).
type blake2bChecksummer struct {
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

// Blake2b64 returns a Builder using golang.org/x/crypto/blake2b, truncated
// to a 64-bit digest.
func Blake2b64() Builder {
	return BuilderFunc(func() Checksummer {
		h, err := blake2b.New(8, nil)
		if err != nil {
			// Only fails for key/size combinations outside blake2b's
			// bounds; 8 bytes with no key is always valid.
			panic(err)
		}
		return &blake2bChecksummer{h: h}
	})
}

func (c *blake2bChecksummer) Update(b []byte) {
	_, _ = c.h.Write(b)
}

func (c *blake2bChecksummer) Digest() uint64 {
	return binary.LittleEndian.Uint64(c.h.Sum(nil))
}

func (c *blake2bChecksummer) Checksum(b []byte) uint64 {
	h, _ := blake2b.New(8, nil)
	_, _ = h.Write(b)
	return binary.LittleEndian.Uint64(h.Sum(nil))
}
