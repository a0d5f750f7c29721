package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Mock derives a deterministic unit vector from the image bytes, so the
// same image always maps to the same identity. Useful for local dev and
// tests without the real model service.
type Mock struct {
	Dim int
}

// NewMock creates a mock provider producing vectors of the given dimension.
func NewMock(dim int) *Mock {
	if dim <= 0 {
		dim = 128
	}
	return &Mock{Dim: dim}
}

// Embed hashes the image into a pseudo-random normalized vector.
// Empty images are treated as "no face".
func (m *Mock) Embed(_ context.Context, image []byte, _ string) (*Result, error) {
	if len(image) == 0 {
		return nil, ErrNoFace
	}

	seed := sha256.Sum256(image)
	state := binary.BigEndian.Uint64(seed[:8])

	vec := make([]float32, m.Dim)
	var norm float64
	for i := range vec {
		// xorshift64 keeps the mock dependency-free and repeatable.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float64(int64(state)) / float64(math.MaxInt64)
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return &Result{Vector: vec, Quality: 0.9}, nil
}
