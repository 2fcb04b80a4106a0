// Package reserved compresses caller-supplied metadata destined for the
// WAL header's reserved prefix (spec.md §6.2 "reserved").
//
// Grounded on folio/compress.go's zstd technique for history snapshots,
// minus the ascii85 printable-encoding step: the reserved prefix is a raw
// byte region, not a JSON string value, so there is no newline-safety
// requirement to satisfy.
package reserved

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Shared encoder/decoder, allocated once: zstd encoder/decoder
// construction builds internal state tables that are expensive to redo
// per call and both types are documented safe for concurrent use.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil)
)

// EncodeMeta compresses payload for storage in the reserved prefix.
// Returns an empty slice for an empty payload.
func EncodeMeta(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	return encoder.EncodeAll(payload, nil)
}

// DecodeMeta reverses EncodeMeta.
func DecodeMeta(compressed []byte) ([]byte, error) {
	if len(compressed) == 0 {
		return nil, nil
	}
	out, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("reserved: zstd: %w", err)
	}
	return out, nil
}
