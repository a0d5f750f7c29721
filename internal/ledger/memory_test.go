package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkPresentIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	first := day.Add(9 * time.Hour)
	second := day.Add(14 * time.Hour)

	res1, err := m.MarkPresent(ctx, "alice", day, first)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res1.Outcome)

	res2, err := m.MarkPresent(ctx, "alice", day, second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyMarked, res2.Outcome)
	// The second caller sees the original time_in, not its own.
	assert.Equal(t, first, res2.Record.TimeIn)
	assert.Equal(t, res1.Record.ID, res2.Record.ID)

	records, err := m.ListDay(ctx, day)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusPresent, records[0].Status)
}

func TestMarkPresentConcurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	const n = 32
	results := make([]MarkResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.MarkPresent(ctx, "alice", day, day.Add(time.Duration(i)*time.Second))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}

	created := 0
	for _, res := range results {
		if res.Outcome == OutcomeCreated {
			created++
		}
	}
	assert.Equal(t, 1, created, "exactly one caller must win the key")

	records, err := m.ListDay(ctx, day)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestMarkPresentDifferentKeysIndependent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	resA, err := m.MarkPresent(ctx, "alice", day, day.Add(time.Hour))
	require.NoError(t, err)
	resB, err := m.MarkPresent(ctx, "bob", day, day.Add(time.Hour))
	require.NoError(t, err)
	resNext, err := m.MarkPresent(ctx, "alice", day.AddDate(0, 0, 1), day.Add(25*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, resA.Outcome)
	assert.Equal(t, OutcomeCreated, resB.Outcome)
	assert.Equal(t, OutcomeCreated, resNext.Outcome)
}

func TestMarkPresentOverridesAbsent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := m.MarkAbsent(ctx, "alice", day)
	require.NoError(t, err)

	timeIn := day.Add(10 * time.Hour)
	res, err := m.MarkPresent(ctx, "alice", day, timeIn)
	require.NoError(t, err)
	// A real check-in beats an administrative absent pre-mark.
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, StatusPresent, res.Record.Status)
	assert.Equal(t, timeIn, res.Record.TimeIn)
}

func TestMarkAbsentNeverOverwritesPresent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := m.MarkPresent(ctx, "alice", day, day.Add(9*time.Hour))
	require.NoError(t, err)

	rec, err := m.MarkAbsent(ctx, "alice", day)
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, rec.Status)
}

func TestGetRecord(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	res, err := m.MarkPresent(ctx, "alice", day, day.Add(9*time.Hour))
	require.NoError(t, err)

	rec, err := m.GetRecord(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.UserID)

	_, err = m.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDayOf(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	ts := time.Date(2025, 3, 10, 2, 30, 0, 0, loc) // 2025-03-09 21:30 UTC
	day := DayOf(ts)
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), day)
}
