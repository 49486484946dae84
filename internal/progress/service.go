package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"
)

type Service struct {
	repo  Repository
	clock quartz.Clock
	loc   *time.Location
}

// NewService creates a Service. loc defines the learner's calendar day
// for streaks.
func NewService(repo Repository, clock quartz.Clock, loc *time.Location) *Service {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{repo: repo, clock: clock, loc: loc}
}

func (s *Service) Progress(ctx context.Context) (UserProgress, error) {
	return s.repo.GetProgress(ctx)
}

func (s *Service) Courses(ctx context.Context) ([]CourseProgress, error) {
	return s.repo.ListCourses(ctx)
}

func (s *Service) Achievements(ctx context.Context) ([]Achievement, error) {
	return s.repo.ListAchievements(ctx)
}

// RecordPractice folds a finished exercise into the totals and streak and
// returns the achievements it newly unlocked.
func (s *Service) RecordPractice(ctx context.Context, seconds int, recording bool) (UserProgress, []Achievement, error) {
	now := s.clock.Now()

	p, err := s.repo.GetProgress(ctx)
	if err != nil {
		return UserProgress{}, nil, err
	}
	p = apply(p, Practice{At: now.In(s.loc), Seconds: seconds, Recording: recording})
	p.UpdatedAt = now.UTC()

	if err := s.repo.SaveProgress(ctx, p); err != nil {
		return UserProgress{}, nil, err
	}

	var unlocked []Achievement
	for _, a := range earned(p, now.UTC()) {
		isNew, err := s.repo.UnlockAchievement(ctx, a)
		if err != nil {
			return p, unlocked, err
		}
		if isNew {
			slog.Info("progress: achievement unlocked", "achievement", a.ID)
			unlocked = append(unlocked, a)
		}
	}
	return p, unlocked, nil
}

// CompleteLesson advances a course by one lesson and moves to next.
func (s *Service) CompleteLesson(ctx context.Context, courseID, next string, totalLessons int) (CourseProgress, error) {
	if totalLessons <= 0 {
		return CourseProgress{}, fmt.Errorf("course %s: total lessons must be positive", courseID)
	}

	c, err := s.repo.GetCourse(ctx, courseID)
	if err != nil {
		return CourseProgress{}, err
	}
	if c == nil {
		c = &CourseProgress{CourseID: courseID}
	}

	c.TotalLessons = totalLessons
	c.CompletedLessons = min(c.CompletedLessons+1, totalLessons)
	c.CurrentLesson = next
	c.Completed = c.CompletedLessons == totalLessons
	c.UpdatedAt = s.clock.Now().UTC()

	if err := s.repo.UpsertCourse(ctx, *c); err != nil {
		return CourseProgress{}, err
	}
	return *c, nil
}
