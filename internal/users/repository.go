package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/voicecoach/coach/internal/database"
)

type Repository interface {
	Get(ctx context.Context) (*Profile, error)
	Upsert(ctx context.Context, p *Profile) error
	Delete(ctx context.Context) error
}

type postgresRepository struct {
	db database.DBTX
}

func NewRepository(db database.DBTX) Repository {
	return &postgresRepository{db: db}
}

// Get returns the profile, or nil if none was created yet.
func (r *postgresRepository) Get(ctx context.Context) (*Profile, error) {
	query := `
		SELECT id, display_name, email, goal, voice_type, created_at, updated_at
		FROM user_profile
		ORDER BY created_at
		LIMIT 1`

	p := &Profile{}
	err := r.db.QueryRow(ctx, query).Scan(
		&p.ID, &p.DisplayName, &p.Email, &p.Goal, &p.VoiceType, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user profile: %w", err)
	}
	return p, nil
}

func (r *postgresRepository) Upsert(ctx context.Context, p *Profile) error {
	query := `
		INSERT INTO user_profile (id, display_name, email, goal, voice_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			goal = EXCLUDED.goal,
			voice_type = EXCLUDED.voice_type,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		p.ID, p.DisplayName, p.Email, p.Goal, p.VoiceType, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting user profile: %w", err)
	}
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM user_profile`); err != nil {
		return fmt.Errorf("deleting user profile: %w", err)
	}
	return nil
}
