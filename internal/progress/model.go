// Package progress keeps the learner's practice totals, streaks, course
// progress and unlocked achievements in the local database.
package progress

import "time"

// UserProgress is the installation-wide practice summary.
type UserProgress struct {
	TotalExercises       int        `json:"totalExercises"`
	TotalRecordings      int        `json:"totalRecordings"`
	TotalPracticeSeconds int        `json:"totalPracticeSeconds"`
	CurrentStreak        int        `json:"currentStreak"`
	LongestStreak        int        `json:"longestStreak"`
	LastPracticeDate     *time.Time `json:"lastPracticeDate,omitempty"`
	XP                   int        `json:"xp"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// CourseProgress tracks one course.
type CourseProgress struct {
	CourseID         string    `json:"courseId"`
	CompletedLessons int       `json:"completedLessons"`
	TotalLessons     int       `json:"totalLessons"`
	CurrentLesson    string    `json:"currentLesson"`
	Completed        bool      `json:"completed"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Achievement is an unlocked badge.
type Achievement struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	UnlockedAt  time.Time `json:"unlockedAt"`
}

// Practice is one finished exercise.
type Practice struct {
	At        time.Time
	Seconds   int
	Recording bool
}
