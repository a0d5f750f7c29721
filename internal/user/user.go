// Package user holds account records. Identity during verification is
// never asserted by the caller; it comes out of the matcher, so this
// package only answers "who is this id/email".
package user

import (
	"context"
	"errors"
	"time"
)

// User is a registered person. Enrolled flips true only after a
// successful enrollment completes.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	DisplayName  string     `json:"display_name"`
	Department   string     `json:"department,omitempty"`
	Role         string     `json:"role"`
	Enrolled     bool       `json:"enrolled"`
	EnrolledAt   *time.Time `json:"enrolled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

var (
	// ErrNotFound means no such user.
	ErrNotFound = errors.New("user not found")
	// ErrExists means the email is already registered.
	ErrExists = errors.New("user already exists")
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]User, error)
}
