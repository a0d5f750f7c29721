// Package ledger appends attendance records, enforcing at most one
// present record per user per calendar day no matter how many callers
// race on the same key.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Status of an attendance record.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// Outcome of a MarkPresent call. AlreadyMarked is a defined success,
// not an error: it signals idempotent dedup to the caller.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeAlreadyMarked Outcome = "already_marked"
)

// Record is one attendance row. Day is a calendar day, not a timestamp.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Day       time.Time `json:"day"`
	TimeIn    time.Time `json:"time_in"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// MarkResult is what every caller gets back, creator or not.
type MarkResult struct {
	Outcome Outcome
	Record  Record
}

// ErrNotFound means no record exists for the requested key.
var ErrNotFound = errors.New("attendance record not found")

// Ledger persists attendance. MarkPresent linearizes writes for the
// same (user, day) key; different keys never block each other.
type Ledger interface {
	MarkPresent(ctx context.Context, userID string, day, timeIn time.Time) (MarkResult, error)
	MarkAbsent(ctx context.Context, userID string, day time.Time) (Record, error)
	GetRecord(ctx context.Context, id string) (Record, error)
	ListDay(ctx context.Context, day time.Time) ([]Record, error)
}

// DayOf truncates a timestamp to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
