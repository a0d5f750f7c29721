package template

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Postgres implements Store on top of the face_embeddings table, one
// row per enrolled sample, embeddings in a pgvector column.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Enroll replaces the user's template in a single transaction: claim
// the session token, drop the old rows, insert the new set, flip the
// user's enrolled flag. A token already claimed means a retried call;
// return the prior success without touching the template.
func (p *Postgres) Enroll(ctx context.Context, userID, sessionToken string, embeddings []Embedding) error {
	if len(embeddings) < MinSamples {
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientSamples, len(embeddings), MinSamples)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enroll tx: %w", err)
	}
	defer tx.Rollback()

	if sessionToken != "" {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO enroll_sessions (token, user_id)
			VALUES ($1, $2)
			ON CONFLICT (token) DO NOTHING
		`, sessionToken, userID)
		if err != nil {
			return fmt.Errorf("claim enroll session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM face_embeddings WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("drop old template: %w", err)
	}

	for _, emb := range embeddings {
		capturedAt := emb.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO face_embeddings (id, user_id, embedding, quality, captured_at)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.NewString(), userID, pgvector.NewVector(emb.Vector), emb.Quality, capturedAt)
		if err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET enrolled = TRUE, enrolled_at = NOW() WHERE id = $1
	`, userID); err != nil {
		return fmt.Errorf("mark user enrolled: %w", err)
	}

	return tx.Commit()
}

// GetTemplate returns the active template for a user.
func (p *Postgres) GetTemplate(ctx context.Context, userID string) (*Template, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT embedding, quality, captured_at, created_at
		FROM face_embeddings
		WHERE user_id = $1
		ORDER BY captured_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}
	defer rows.Close()

	tmpl := Template{UserID: userID}
	for rows.Next() {
		var vec pgvector.Vector
		var emb Embedding
		var createdAt time.Time
		if err := rows.Scan(&vec, &emb.Quality, &emb.CapturedAt, &createdAt); err != nil {
			return nil, err
		}
		emb.Vector = vec.Slice()
		tmpl.Embeddings = append(tmpl.Embeddings, emb)
		if tmpl.CreatedAt.IsZero() || createdAt.Before(tmpl.CreatedAt) {
			tmpl.CreatedAt = createdAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tmpl.Embeddings) == 0 {
		return nil, ErrNotFound
	}
	return &tmpl, nil
}

// ListTemplates returns all enrolled templates, grouped per user.
func (p *Postgres) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, embedding, quality, captured_at, created_at
		FROM face_embeddings
		ORDER BY user_id, captured_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var result []Template
	byUser := map[string]int{}
	for rows.Next() {
		var userID string
		var vec pgvector.Vector
		var emb Embedding
		var createdAt time.Time
		if err := rows.Scan(&userID, &vec, &emb.Quality, &emb.CapturedAt, &createdAt); err != nil {
			return nil, err
		}
		emb.Vector = vec.Slice()
		idx, ok := byUser[userID]
		if !ok {
			result = append(result, Template{UserID: userID, CreatedAt: createdAt})
			idx = len(result) - 1
			byUser[userID] = idx
		}
		result[idx].Embeddings = append(result[idx].Embeddings, emb)
	}
	return result, rows.Err()
}

// DeleteTemplate removes the user's template and clears the enrolled flag.
func (p *Postgres) DeleteTemplate(ctx context.Context, userID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM face_embeddings WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET enrolled = FALSE, enrolled_at = NULL WHERE id = $1
	`, userID); err != nil {
		return err
	}
	return tx.Commit()
}
