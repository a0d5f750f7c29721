package user

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Repository for dev and tests.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

// NewMemory creates an empty repository.
func NewMemory() *Memory {
	return &Memory{byID: make(map[string]*User), byEmail: make(map[string]string)}
}

// Create inserts a new user.
func (m *Memory) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[u.Email]; exists {
		return ErrExists
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = "user"
	}
	u.CreatedAt = time.Now().UTC()
	stored := *u
	m.byID[u.ID] = &stored
	m.byEmail[u.Email] = u.ID
	return nil
}

// Get returns a user by id.
func (m *Memory) Get(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

// GetByEmail returns a user by email.
func (m *Memory) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	out := *m.byID[id]
	return &out, nil
}

// List returns all users ordered by creation time.
func (m *Memory) List(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(m.byID))
	for _, u := range m.byID {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SetEnrolled flips the enrolled flag; the memory template store calls
// this through its OnEnrolled hook.
func (m *Memory) SetEnrolled(id string, enrolled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		u.Enrolled = enrolled
		if enrolled {
			now := time.Now().UTC()
			u.EnrolledAt = &now
		} else {
			u.EnrolledAt = nil
		}
	}
}
