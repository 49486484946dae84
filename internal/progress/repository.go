package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/voicecoach/coach/internal/database"
)

type Repository interface {
	GetProgress(ctx context.Context) (UserProgress, error)
	SaveProgress(ctx context.Context, p UserProgress) error
	GetCourse(ctx context.Context, courseID string) (*CourseProgress, error)
	ListCourses(ctx context.Context) ([]CourseProgress, error)
	UpsertCourse(ctx context.Context, c CourseProgress) error
	ListAchievements(ctx context.Context) ([]Achievement, error)
	UnlockAchievement(ctx context.Context, a Achievement) (bool, error)
}

type postgresRepository struct {
	db database.DBTX
}

func NewRepository(db database.DBTX) Repository {
	return &postgresRepository{db: db}
}

// GetProgress returns the progress row, or a zero value before the first
// practice.
func (r *postgresRepository) GetProgress(ctx context.Context) (UserProgress, error) {
	query := `
		SELECT total_exercises, total_recordings, total_practice_seconds,
		       current_streak, longest_streak, last_practice_date, xp, updated_at
		FROM user_progress WHERE id = 1`

	var p UserProgress
	err := r.db.QueryRow(ctx, query).Scan(
		&p.TotalExercises, &p.TotalRecordings, &p.TotalPracticeSeconds,
		&p.CurrentStreak, &p.LongestStreak, &p.LastPracticeDate, &p.XP, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserProgress{}, nil
		}
		return UserProgress{}, fmt.Errorf("querying user progress: %w", err)
	}
	return p, nil
}

func (r *postgresRepository) SaveProgress(ctx context.Context, p UserProgress) error {
	query := `
		INSERT INTO user_progress (id, total_exercises, total_recordings, total_practice_seconds,
			current_streak, longest_streak, last_practice_date, xp, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			total_exercises = EXCLUDED.total_exercises,
			total_recordings = EXCLUDED.total_recordings,
			total_practice_seconds = EXCLUDED.total_practice_seconds,
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_practice_date = EXCLUDED.last_practice_date,
			xp = EXCLUDED.xp,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		p.TotalExercises, p.TotalRecordings, p.TotalPracticeSeconds,
		p.CurrentStreak, p.LongestStreak, p.LastPracticeDate, p.XP, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving user progress: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetCourse(ctx context.Context, courseID string) (*CourseProgress, error) {
	query := `
		SELECT course_id, completed_lessons, total_lessons, current_lesson, completed, updated_at
		FROM course_progress WHERE course_id = $1`

	c := &CourseProgress{}
	err := r.db.QueryRow(ctx, query, courseID).Scan(
		&c.CourseID, &c.CompletedLessons, &c.TotalLessons, &c.CurrentLesson, &c.Completed, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying course progress: %w", err)
	}
	return c, nil
}

func (r *postgresRepository) ListCourses(ctx context.Context) ([]CourseProgress, error) {
	query := `
		SELECT course_id, completed_lessons, total_lessons, current_lesson, completed, updated_at
		FROM course_progress ORDER BY course_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing course progress: %w", err)
	}
	defer rows.Close()

	var courses []CourseProgress
	for rows.Next() {
		var c CourseProgress
		if err := rows.Scan(&c.CourseID, &c.CompletedLessons, &c.TotalLessons,
			&c.CurrentLesson, &c.Completed, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning course progress: %w", err)
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

func (r *postgresRepository) UpsertCourse(ctx context.Context, c CourseProgress) error {
	query := `
		INSERT INTO course_progress (course_id, completed_lessons, total_lessons, current_lesson, completed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (course_id) DO UPDATE SET
			completed_lessons = EXCLUDED.completed_lessons,
			total_lessons = EXCLUDED.total_lessons,
			current_lesson = EXCLUDED.current_lesson,
			completed = EXCLUDED.completed,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		c.CourseID, c.CompletedLessons, c.TotalLessons, c.CurrentLesson, c.Completed, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting course progress: %w", err)
	}
	return nil
}

func (r *postgresRepository) ListAchievements(ctx context.Context) ([]Achievement, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, description, unlocked_at FROM achievements ORDER BY unlocked_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing achievements: %w", err)
	}
	defer rows.Close()

	var out []Achievement
	for rows.Next() {
		var a Achievement
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.UnlockedAt); err != nil {
			return nil, fmt.Errorf("scanning achievement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UnlockAchievement stores a, reporting false if it was already unlocked.
func (r *postgresRepository) UnlockAchievement(ctx context.Context, a Achievement) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO achievements (id, title, description, unlocked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Title, a.Description, a.UnlockedAt)
	if err != nil {
		return false, fmt.Errorf("unlocking achievement %s: %w", a.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}
