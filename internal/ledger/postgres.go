package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Postgres implements Ledger on the attendance table. The UNIQUE
// (user_id, day) constraint is the dedup mechanism: concurrent marks
// for the same key collapse into one row, and losers read the winner.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed ledger.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// MarkPresent inserts the day's record, or reports the existing one. A
// record pre-marked absent by an administrator is flipped to present
// atomically and counts as Created.
func (p *Postgres) MarkPresent(ctx context.Context, userID string, day, timeIn time.Time) (MarkResult, error) {
	day = DayOf(day)
	rec := Record{
		ID:     uuid.NewString(),
		UserID: userID,
		Day:    day,
		TimeIn: timeIn.UTC(),
		Status: StatusPresent,
	}

	row := p.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, user_id, day, time_in, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, day) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.UserID, rec.Day, rec.TimeIn, rec.Status)
	switch err := row.Scan(&rec.CreatedAt); {
	case err == nil:
		return MarkResult{Outcome: OutcomeCreated, Record: rec}, nil
	case errors.Is(err, sql.ErrNoRows):
		// Conflict: someone else holds the key. Fall through.
	default:
		return MarkResult{}, fmt.Errorf("insert attendance: %w", err)
	}

	// Absent rows may be overridden by an actual face check-in.
	row = p.db.QueryRowContext(ctx, `
		UPDATE attendance
		SET status = $3, time_in = $4
		WHERE user_id = $1 AND day = $2 AND status = $5
		RETURNING id, created_at
	`, userID, day, StatusPresent, timeIn.UTC(), StatusAbsent)
	switch err := row.Scan(&rec.ID, &rec.CreatedAt); {
	case err == nil:
		return MarkResult{Outcome: OutcomeCreated, Record: rec}, nil
	case errors.Is(err, sql.ErrNoRows):
		// Already present today. Fall through to read it.
	default:
		return MarkResult{}, fmt.Errorf("override absent record: %w", err)
	}

	existing, err := p.getByKey(ctx, userID, day)
	if err != nil {
		return MarkResult{}, err
	}
	return MarkResult{Outcome: OutcomeAlreadyMarked, Record: existing}, nil
}

// MarkAbsent records an administrative absent row; it never overwrites
// a present one.
func (p *Postgres) MarkAbsent(ctx context.Context, userID string, day time.Time) (Record, error) {
	day = DayOf(day)
	rec := Record{ID: uuid.NewString(), UserID: userID, Day: day, Status: StatusAbsent}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, user_id, day, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, day) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.UserID, rec.Day, rec.Status)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p.getByKey(ctx, userID, day)
		}
		return Record{}, fmt.Errorf("insert absent record: %w", err)
	}
	return rec, nil
}

// GetRecord returns a record by id.
func (p *Postgres) GetRecord(ctx context.Context, id string) (Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, day, COALESCE(time_in, 'epoch'), status, created_at
		FROM attendance WHERE id = $1
	`, id)
	return scanRecord(row)
}

// ListDay returns all records for one calendar day.
func (p *Postgres) ListDay(ctx context.Context, day time.Time) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, day, COALESCE(time_in, 'epoch'), status, created_at
		FROM attendance
		WHERE day = $1
		ORDER BY time_in
	`, DayOf(day))
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Day, &rec.TimeIn, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// IncrementDaySummary bumps the worker-maintained present counter.
func (p *Postgres) IncrementDaySummary(ctx context.Context, day time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_days (day, present_count)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET
			present_count = attendance_days.present_count + 1,
			updated_at = NOW()
	`, DayOf(day))
	return err
}

func (p *Postgres) getByKey(ctx context.Context, userID string, day time.Time) (Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, day, COALESCE(time_in, 'epoch'), status, created_at
		FROM attendance WHERE user_id = $1 AND day = $2
	`, userID, day)
	return scanRecord(row)
}

func scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Day, &rec.TimeIn, &rec.Status, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}
