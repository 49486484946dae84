//go:build integration

package database_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/voicecoach/coach/internal/database"
	"github.com/voicecoach/coach/internal/progress"
	"github.com/voicecoach/coach/internal/recordings"
	"github.com/voicecoach/coach/internal/users"
)

func setupPostgres(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "coach_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/coach_test?sslmode=disable", host, port.Port())
	require.NoError(t, database.RunMigrations(dsn, ""))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool, dsn
}

func TestLocalStore(t *testing.T) {
	pool, dsn := setupPostgres(t)
	ctx := context.Background()

	t.Run("migrations are idempotent", func(t *testing.T) {
		require.NoError(t, database.RunMigrations(dsn, ""))
	})

	t.Run("profile", func(t *testing.T) {
		svc := users.NewService(users.NewRepository(pool), nil)

		p, err := svc.Profile(ctx)
		require.NoError(t, err)
		assert.Nil(t, p)

		created, err := svc.Ensure(ctx, "singer@example.com", "Ana")
		require.NoError(t, err)

		updated, err := svc.Update(ctx, func(p *users.Profile) { p.VoiceType = "mezzo" })
		require.NoError(t, err)
		assert.Equal(t, created.ID, updated.ID)

		stored, err := svc.Profile(ctx)
		require.NoError(t, err)
		assert.Equal(t, "mezzo", stored.VoiceType)
	})

	t.Run("progress", func(t *testing.T) {
		clk := quartz.NewMock(t)
		clk.Set(time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC))
		svc := progress.NewService(progress.NewRepository(pool), clk, time.UTC)

		_, unlocked, err := svc.RecordPractice(ctx, 30, true)
		require.NoError(t, err)
		assert.Len(t, unlocked, 2)

		clk.Advance(24 * time.Hour)
		p, _, err := svc.RecordPractice(ctx, 30, false)
		require.NoError(t, err)
		assert.Equal(t, 2, p.CurrentStreak)

		stored, err := svc.Progress(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stored.CurrentStreak)
		require.NotNil(t, stored.LastPracticeDate)
		assert.Equal(t, "2026-10-18", stored.LastPracticeDate.Format("2006-01-02"))

		achievements, err := svc.Achievements(ctx)
		require.NoError(t, err)
		assert.Len(t, achievements, 2)

		_, err = svc.CompleteLesson(ctx, "breathing-101", "lesson-2", 3)
		require.NoError(t, err)
		courses, err := svc.Courses(ctx)
		require.NoError(t, err)
		require.Len(t, courses, 1)
		assert.Equal(t, 1, courses[0].CompletedLessons)
	})

	t.Run("recordings", func(t *testing.T) {
		repo := recordings.NewRepository(pool)
		rec := &recordings.Recording{
			ID:         uuid.New(),
			Title:      "Scales",
			FilePath:   "/data/rec/scales.m4a",
			DurationMs: 42000,
			CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
		}
		require.NoError(t, repo.Create(ctx, rec))
		require.NoError(t, repo.SaveFeedback(ctx, rec.ID, 87, "steady pitch"))
		require.NoError(t, repo.MarkSynced(ctx, rec.ID, "https://objects.example/scales.m4a"))

		got, err := repo.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.Synced)
		require.NotNil(t, got.Score)
		assert.Equal(t, 87, *got.Score)

		all, err := repo.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		err = repo.MarkSynced(ctx, uuid.New(), "x")
		require.ErrorIs(t, err, recordings.ErrNotFound)
	})

	t.Run("transaction rollback", func(t *testing.T) {
		id := uuid.New()
		err := database.WithTx(ctx, pool, func(tx pgx.Tx) error {
			repo := recordings.NewRepository(tx)
			if err := repo.Create(ctx, &recordings.Recording{ID: id, FilePath: "/tmp/a.m4a", CreatedAt: time.Now()}); err != nil {
				return err
			}
			return fmt.Errorf("abort")
		})
		require.Error(t, err)

		_, err = recordings.NewRepository(pool).GetByID(ctx, id)
		require.ErrorIs(t, err, recordings.ErrNotFound)
	})
}
