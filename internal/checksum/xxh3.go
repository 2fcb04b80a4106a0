package checksum

import "github.com/zeebo/xxh3"

// xxh3Checksummer is a faster, non-cryptographic alternative to CRC32 for
// callers who checksum large values often. Grounded on folio/hash.go's use
// of zeebo/xxh3 as its default, fastest document-hash algorithm.
type xxh3Checksummer struct {
	h *xxh3.Hasher
}

// XXH3 returns a Builder using github.com/zeebo/xxh3.
func XXH3() Builder {
	return BuilderFunc(func() Checksummer {
		return &xxh3Checksummer{h: xxh3.New()}
	})
}

func (c *xxh3Checksummer) Update(b []byte) {
	_, _ = c.h.Write(b)
}

func (c *xxh3Checksummer) Digest() uint64 {
	return c.h.Sum64()
}

func (c *xxh3Checksummer) Checksum(b []byte) uint64 {
	return xxh3.Hash(b)
}
