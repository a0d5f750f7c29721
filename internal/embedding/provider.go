// Package embedding wraps the external face model. The core never
// inspects pixels itself; everything authoritative about a face comes
// back from the provider as a fixed-length vector.
package embedding

import (
	"context"
	"errors"
)

// Result is a successful extraction: one face, one vector.
type Result struct {
	Vector  []float32
	Quality float64
}

// Provider converts a captured image into an embedding vector or
// reports that no usable face was found.
type Provider interface {
	Embed(ctx context.Context, image []byte, filename string) (*Result, error)
}

var (
	// ErrNoFace means the provider found zero usable face regions.
	ErrNoFace = errors.New("no usable face in image")
	// ErrTimeout means the provider did not answer within the call deadline.
	ErrTimeout = errors.New("embedding provider timed out")
	// ErrUnavailable means the provider could not be reached or answered
	// with an infrastructure fault.
	ErrUnavailable = errors.New("embedding provider unavailable")
)
