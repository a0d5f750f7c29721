package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory implements Ledger in process. LoadOrStore gives the same
// guarantee the database unique constraint does: exactly one winner per
// (user, day) key, with no lock shared across different keys.
type Memory struct {
	records sync.Map // key -> *memEntry
	byID    sync.Map // id -> *memEntry
}

type memEntry struct {
	mu  sync.Mutex
	rec Record
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{}
}

func key(userID string, day time.Time) string {
	return userID + "|" + DayOf(day).Format("2006-01-02")
}

// MarkPresent creates the day's record or reports the existing one.
func (m *Memory) MarkPresent(_ context.Context, userID string, day, timeIn time.Time) (MarkResult, error) {
	candidate := &memEntry{rec: Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Day:       DayOf(day),
		TimeIn:    timeIn.UTC(),
		Status:    StatusPresent,
		CreatedAt: time.Now().UTC(),
	}}

	actual, loaded := m.records.LoadOrStore(key(userID, day), candidate)
	entry := actual.(*memEntry)
	if !loaded {
		m.byID.Store(entry.rec.ID, entry)
		return MarkResult{Outcome: OutcomeCreated, Record: entry.rec}, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.rec.Status == StatusAbsent {
		entry.rec.Status = StatusPresent
		entry.rec.TimeIn = timeIn.UTC()
		return MarkResult{Outcome: OutcomeCreated, Record: entry.rec}, nil
	}
	return MarkResult{Outcome: OutcomeAlreadyMarked, Record: entry.rec}, nil
}

// MarkAbsent records an absent row unless the day already has one.
func (m *Memory) MarkAbsent(_ context.Context, userID string, day time.Time) (Record, error) {
	candidate := &memEntry{rec: Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Day:       DayOf(day),
		Status:    StatusAbsent,
		CreatedAt: time.Now().UTC(),
	}}
	actual, loaded := m.records.LoadOrStore(key(userID, day), candidate)
	entry := actual.(*memEntry)
	if !loaded {
		m.byID.Store(entry.rec.ID, entry)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.rec, nil
}

// GetRecord returns a record by id.
func (m *Memory) GetRecord(_ context.Context, id string) (Record, error) {
	v, ok := m.byID.Load(id)
	if !ok {
		return Record{}, ErrNotFound
	}
	entry := v.(*memEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.rec, nil
}

// ListDay returns all records for one calendar day.
func (m *Memory) ListDay(_ context.Context, day time.Time) ([]Record, error) {
	want := DayOf(day)
	var out []Record
	m.records.Range(func(_, v any) bool {
		entry := v.(*memEntry)
		entry.mu.Lock()
		if entry.rec.Day.Equal(want) {
			out = append(out, entry.rec)
		}
		entry.mu.Unlock()
		return true
	})
	return out, nil
}
