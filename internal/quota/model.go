package quota

import (
	"time"

	"github.com/voicecoach/coach/internal/config"
	"github.com/voicecoach/coach/internal/prefs"
)

// Unlimited is returned by Remaining when the user has premium access.
const Unlimited = -1

// dateLayout is the calendar date format used by both trackers.
const dateLayout = "2006-01-02"

// Category is a local daily usage bucket.
type Category string

const (
	CategoryMessages         Category = "messages"
	CategoryExercises        Category = "exercises"
	CategoryAdExercises      Category = "ad_exercises"
	CategoryImprovisations   Category = "improvisations"
	CategoryAdImprovisations Category = "ad_improvisations"
)

// Categories lists every local category.
var Categories = []Category{
	CategoryMessages,
	CategoryExercises,
	CategoryAdExercises,
	CategoryImprovisations,
	CategoryAdImprovisations,
}

func (c Category) prefKey() string {
	switch c {
	case CategoryMessages:
		return prefs.KeyMessagesCount
	case CategoryExercises:
		return prefs.KeyExercisesCount
	case CategoryAdExercises:
		return prefs.KeyAdExercisesCount
	case CategoryImprovisations:
		return prefs.KeyImprovisationsCount
	case CategoryAdImprovisations:
		return prefs.KeyAdImprovisationsCount
	}
	return ""
}

// AnalysisCategory is one of the four server-tracked analysis buckets.
type AnalysisCategory string

const (
	AnalysisExercise        AnalysisCategory = "exercise"
	AnalysisAdExercise      AnalysisCategory = "ad_exercise"
	AnalysisImprovisation   AnalysisCategory = "improvisation"
	AnalysisAdImprovisation AnalysisCategory = "ad_improvisation"
)

// AnalysisCategoryFor maps the two orthogonal flags of an analysis request
// onto its bucket.
func AnalysisCategoryFor(improvisation, adUnlocked bool) AnalysisCategory {
	switch {
	case improvisation && adUnlocked:
		return AnalysisAdImprovisation
	case improvisation:
		return AnalysisImprovisation
	case adUnlocked:
		return AnalysisAdExercise
	default:
		return AnalysisExercise
	}
}

// Local returns the local category that mirrors the analysis bucket.
func (c AnalysisCategory) Local() Category {
	switch c {
	case AnalysisAdExercise:
		return CategoryAdExercises
	case AnalysisImprovisation:
		return CategoryImprovisations
	case AnalysisAdImprovisation:
		return CategoryAdImprovisations
	default:
		return CategoryExercises
	}
}

// Limits holds the configured daily limit of each category.
type Limits map[Category]int

// LimitsFromConfig builds Limits from configuration.
func LimitsFromConfig(cfg config.LimitsConfig) Limits {
	return Limits{
		CategoryMessages:         cfg.Messages,
		CategoryExercises:        cfg.Exercises,
		CategoryAdExercises:      cfg.AdExercises,
		CategoryImprovisations:   cfg.Improvisations,
		CategoryAdImprovisations: cfg.AdImprovisations,
	}
}

// Analysis returns the limit of an analysis bucket.
func (l Limits) Analysis(c AnalysisCategory) int {
	return l[c.Local()]
}

// DailyUsageCounters is the local per-installation usage record. Counts
// are only meaningful while LastResetDate is today.
type DailyUsageCounters struct {
	Counts        map[Category]int `json:"counts"`
	LastResetDate string           `json:"last_reset_date"`
}

// Count returns the counter of c.
func (d DailyUsageCounters) Count(c Category) int {
	return d.Counts[c]
}

// ServerDailyCounters is the document stored at daily_limits/{uid}.
type ServerDailyCounters struct {
	ExerciseCount   int       `json:"exerciseCount"`
	AdExerciseCount int       `json:"adExerciseCount"`
	ImprovCount     int       `json:"improvCount"`
	AdImprovCount   int       `json:"adImprovCount"`
	DateUTC         string    `json:"dateUtc"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Count returns the counter of an analysis bucket.
func (s ServerDailyCounters) Count(c AnalysisCategory) int {
	switch c {
	case AnalysisAdExercise:
		return s.AdExerciseCount
	case AnalysisImprovisation:
		return s.ImprovCount
	case AnalysisAdImprovisation:
		return s.AdImprovCount
	default:
		return s.ExerciseCount
	}
}

func (s *ServerDailyCounters) increment(c AnalysisCategory) {
	switch c {
	case AnalysisAdExercise:
		s.AdExerciseCount++
	case AnalysisImprovisation:
		s.ImprovCount++
	case AnalysisAdImprovisation:
		s.AdImprovCount++
	default:
		s.ExerciseCount++
	}
}

// Status summarizes today's usage for display.
type Status struct {
	Premium bool                     `json:"premium"`
	Date    string                   `json:"date"`
	Local   map[Category]CategoryUse `json:"local"`
	Server  *ServerDailyCounters     `json:"server,omitempty"`
}

// CategoryUse is the usage of one local category.
type CategoryUse struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"` // -1 for unlimited
}
