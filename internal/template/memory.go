package template

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store for dev and tests.
type Memory struct {
	mu        sync.RWMutex
	templates map[string]*Template
	tokens    map[string]struct{}

	// OnEnrolled, when set, is told about users whose enrollment
	// completed. The memory user repo hooks this to flip the flag the
	// Postgres impl updates in its transaction.
	OnEnrolled func(userID string)
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		templates: make(map[string]*Template),
		tokens:    make(map[string]struct{}),
	}
}

// Enroll replaces the user's template atomically under the store lock.
func (m *Memory) Enroll(_ context.Context, userID, sessionToken string, embeddings []Embedding) error {
	if len(embeddings) < MinSamples {
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientSamples, len(embeddings), MinSamples)
	}

	m.mu.Lock()
	if sessionToken != "" {
		if _, seen := m.tokens[sessionToken]; seen {
			m.mu.Unlock()
			return nil
		}
		m.tokens[sessionToken] = struct{}{}
	}
	copied := make([]Embedding, len(embeddings))
	copy(copied, embeddings)
	m.templates[userID] = &Template{
		UserID:     userID,
		Embeddings: copied,
		CreatedAt:  time.Now().UTC(),
	}
	m.mu.Unlock()

	if m.OnEnrolled != nil {
		m.OnEnrolled(userID)
	}
	return nil
}

// GetTemplate returns the active template for a user.
func (m *Memory) GetTemplate(_ context.Context, userID string) (*Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tmpl, ok := m.templates[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *tmpl
	return &out, nil
}

// ListTemplates returns all enrolled templates.
func (m *Memory) ListTemplates(_ context.Context) ([]Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Template, 0, len(m.templates))
	for _, tmpl := range m.templates {
		out = append(out, *tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// DeleteTemplate removes the user's template.
func (m *Memory) DeleteTemplate(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.templates, userID)
	return nil
}
