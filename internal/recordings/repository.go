package recordings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/voicecoach/coach/internal/database"
)

// ErrNotFound is returned for an unknown recording id.
var ErrNotFound = errors.New("recording not found")

type Repository interface {
	Create(ctx context.Context, r *Recording) error
	GetByID(ctx context.Context, id uuid.UUID) (*Recording, error)
	ListAll(ctx context.Context) ([]Recording, error)
	SaveFeedback(ctx context.Context, id uuid.UUID, score int, feedback string) error
	MarkSynced(ctx context.Context, id uuid.UUID, remoteURL string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	db database.DBTX
}

func NewRepository(db database.DBTX) Repository {
	return &postgresRepository{db: db}
}

const columns = `id, title, file_path, duration_ms, exercise_id, is_improvisation,
	score, feedback, remote_url, synced, created_at`

func scan(row pgx.Row, r *Recording) error {
	return row.Scan(&r.ID, &r.Title, &r.FilePath, &r.DurationMs, &r.ExerciseID, &r.IsImprovisation,
		&r.Score, &r.Feedback, &r.RemoteURL, &r.Synced, &r.CreatedAt)
}

func (p *postgresRepository) Create(ctx context.Context, r *Recording) error {
	query := `INSERT INTO recordings (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := p.db.Exec(ctx, query,
		r.ID, r.Title, r.FilePath, r.DurationMs, r.ExerciseID, r.IsImprovisation,
		r.Score, r.Feedback, r.RemoteURL, r.Synced, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting recording: %w", err)
	}
	return nil
}

func (p *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Recording, error) {
	r := &Recording{}
	err := scan(p.db.QueryRow(ctx, `SELECT `+columns+` FROM recordings WHERE id = $1`, id), r)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying recording: %w", err)
	}
	return r, nil
}

func (p *postgresRepository) ListAll(ctx context.Context) ([]Recording, error) {
	rows, err := p.db.Query(ctx, `SELECT `+columns+` FROM recordings ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var r Recording
		if err := scan(rows, &r); err != nil {
			return nil, fmt.Errorf("scanning recording: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *postgresRepository) SaveFeedback(ctx context.Context, id uuid.UUID, score int, feedback string) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE recordings SET score = $2, feedback = $3 WHERE id = $1`, id, score, feedback)
	if err != nil {
		return fmt.Errorf("saving feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgresRepository) MarkSynced(ctx context.Context, id uuid.UUID, remoteURL string) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE recordings SET synced = TRUE, remote_url = $2 WHERE id = $1`, id, remoteURL)
	if err != nil {
		return fmt.Errorf("marking recording synced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting recording: %w", err)
	}
	return nil
}
