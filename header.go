// Header handling for the WAL file.
//
// The header is the fixed 8-byte region spec.md §3.1 describes: a 5-byte
// magic text, a 1-byte kind tag, and a little-endian 2-byte magic
// version. Grounded on folio/header.go's read-validate-encode shape,
// adapted from folio's JSON+padding format to this format's fixed binary
// layout.
package orderwal

import "encoding/binary"

// fileHeader is the decoded form of the 8-byte on-disk header.
type fileHeader struct {
	Kind         Kind
	MagicVersion uint16
}

// encodeHeader writes h into an 8-byte buffer per spec.md §3.1.
func encodeHeader(h fileHeader) [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:MagicTextSize], MagicText)
	buf[MagicTextSize] = byte(h.Kind)
	binary.LittleEndian.PutUint16(buf[MagicTextSize+WalKindSize:], h.MagicVersion)
	return buf
}

// decodeHeader validates and parses an 8-byte header, checking the
// caller-requested kind and magic version (spec.md §4.5 step 1).
func decodeHeader(buf []byte, wantKind Kind, wantMagicVersion uint16) (fileHeader, error) {
	if len(buf) < HeaderSize {
		return fileHeader{}, errCorrupted("header truncated")
	}
	if string(buf[:MagicTextSize]) != MagicText {
		return fileHeader{}, ErrMagicTextMismatch
	}
	kind := Kind(buf[MagicTextSize])
	if kind != wantKind {
		return fileHeader{}, ErrWalKindMismatch
	}
	magicVersion := binary.LittleEndian.Uint16(buf[MagicTextSize+WalKindSize:])
	if magicVersion != wantMagicVersion {
		return fileHeader{}, ErrMagicVersionMismatch
	}
	return fileHeader{Kind: kind, MagicVersion: magicVersion}, nil
}
