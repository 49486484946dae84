// Package recordings stores the learner's voice recordings in the local
// database.
package recordings

import (
	"time"

	"github.com/google/uuid"
)

// Recording is a local recording and its sync status. Synced is only set
// once the audio and its metadata both reached the cloud.
type Recording struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	FilePath        string    `json:"-"`
	DurationMs      int64     `json:"durationMs"`
	ExerciseID      string    `json:"exerciseId"`
	IsImprovisation bool      `json:"isImprovisation"`
	Score           *int      `json:"score,omitempty"`
	Feedback        string    `json:"feedback"`
	RemoteURL       string    `json:"audioUrl"`
	Synced          bool      `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
}
