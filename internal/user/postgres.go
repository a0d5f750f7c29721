package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Postgres implements Repository on the users table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed repository.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Create inserts a new user; email collisions surface as ErrExists.
func (p *Postgres) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = "user"
	}
	u.CreatedAt = time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, display_name, department, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Email, u.PasswordHash, u.DisplayName, u.Department, u.Role, u.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("%w: %s", ErrExists, u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Get returns a user by id.
func (p *Postgres) Get(ctx context.Context, id string) (*User, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, selectUser+` WHERE id = $1`, id))
}

// GetByEmail returns a user by email.
func (p *Postgres) GetByEmail(ctx context.Context, email string) (*User, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, selectUser+` WHERE email = $1`, email))
}

// List returns all users ordered by creation time.
func (p *Postgres) List(ctx context.Context) ([]User, error) {
	rows, err := p.db.QueryContext(ctx, selectUser+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Department, &u.Role, &u.Enrolled, &u.EnrolledAt, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

const selectUser = `
	SELECT id, email, password_hash, display_name, department, role, enrolled, enrolled_at, created_at
	FROM users`

func (p *Postgres) scanOne(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Department, &u.Role, &u.Enrolled, &u.EnrolledAt, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
