// Package template stores the reference embeddings enrolled for each
// user. A user has at most one active template; re-enrollment replaces
// it atomically.
package template

import (
	"context"
	"errors"
	"time"
)

// MinSamples is the smallest number of embeddings a template may hold.
const MinSamples = 5

// Embedding is one enrolled reference sample.
type Embedding struct {
	Vector     []float32
	Quality    float64
	CapturedAt time.Time
}

// Template is the full set of reference embeddings for one user.
type Template struct {
	UserID     string
	Embeddings []Embedding
	CreatedAt  time.Time
}

var (
	// ErrInsufficientSamples means fewer than MinSamples embeddings were offered.
	ErrInsufficientSamples = errors.New("not enough face samples to enroll")
	// ErrNotFound means the user has no active template.
	ErrNotFound = errors.New("template not found")
)

// Store persists templates. Enroll is idempotent under retry: a repeat
// call carrying a session token that already enrolled is a no-op
// returning the prior success.
type Store interface {
	Enroll(ctx context.Context, userID, sessionToken string, embeddings []Embedding) error
	GetTemplate(ctx context.Context, userID string) (*Template, error)
	ListTemplates(ctx context.Context) ([]Template, error)
	DeleteTemplate(ctx context.Context, userID string) error
}
