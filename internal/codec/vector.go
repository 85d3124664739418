// Package codec serializes vectors and index snapshots to their on-disk
// representations.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector encodes a float32 vector into the BLOB representation stored
// in the record store: a little-endian sequence of IEEE 754 float32 values
// without a length prefix; the length is derived from the BLOB size on
// decode.
func EncodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// DecodeVector decodes a BLOB produced by EncodeVector back into a float32
// slice. A length that is not a multiple of 4 indicates corruption.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("codec: invalid vector blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
