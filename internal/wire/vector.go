// Package wire holds the little-endian binary codecs shared by the payload
// log, snapshot, and HNSW persistence formats. Generalized from the
// teacher's internal/encoding package (vector/metadata (de)serialization)
// into the fixed on-disk layouts spec'd in §4.2 and §4.3.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when a vector is nil, empty, or carries a
// NaN/Inf component.
var ErrInvalidVector = errors.New("invalid vector")

// EncodeVector serializes a float32 vector as a little-endian int32 length
// prefix followed by the raw float32 values.
func EncodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}
	if len(vector) > math.MaxInt32 {
		return nil, fmt.Errorf("vector too large: %d elements exceeds maximum", len(vector))
	}

	buf := make([]byte, 4+4*len(vector))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(vector)))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], math.Float32bits(v))
	}
	return buf, nil
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}
	length := binary.LittleEndian.Uint32(data[0:4])
	if int(length) < 0 || 4+4*int(length) > len(data) {
		return nil, ErrInvalidVector
	}
	if length == 0 {
		return []float32{}, nil
	}
	vec := make([]float32, length)
	for i := range vec {
		off := 4 + 4*i
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
	}
	return vec, nil
}

// ValidateVector rejects nil, empty, NaN- or Inf-carrying vectors.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	for _, v := range vector {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return ErrInvalidVector
		}
	}
	return nil
}

// PutUint64 / PutUint32 are thin helpers kept local so record writers don't
// each re-import encoding/binary directly; callers build records with
// bytes.Buffer and these helpers.
func PutUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func PutUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}
