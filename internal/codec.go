package internal

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

const float32Size = 4

// EncodeVector renders the raw little-endian float32 bytes of v as hex.
func EncodeVector(v []float32) string {
	buf := make([]byte, len(v)*float32Size)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*float32Size:], math.Float32bits(f))
	}
	return hex.EncodeToString(buf)
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(code string) ([]float32, error) {
	raw, err := hex.DecodeString(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	if len(raw)%float32Size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedEncoding, len(raw), float32Size)
	}

	v := make([]float32, len(raw)/float32Size)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*float32Size:]))
	}
	return v, nil
}
