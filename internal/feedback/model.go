// Package feedback asks a chat completion model to coach the learner: it
// scores recordings and answers chat messages, both metered by the daily
// quotas.
package feedback

import (
	"time"

	"github.com/google/uuid"
)

// Chat roles stored in the conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AnalysisRequest describes one recording to analyze. RecordingID is
// optional; when set, the resulting score is saved on the recording.
type AnalysisRequest struct {
	RecordingID   uuid.UUID
	ExerciseID    string `validate:"omitempty,max=120"`
	Transcript    string `validate:"required,max=8000"`
	DurationMs    int64  `validate:"gt=0"`
	Goal          string `validate:"omitempty,max=200"`
	Improvisation bool
	AdUnlocked    bool
}

// Feedback is the model's verdict on a recording. Score is nil when the
// model did not answer in the expected JSON shape; Summary then holds the
// raw reply.
type Feedback struct {
	Score        *int     `json:"score,omitempty"`
	Summary      string   `json:"summary"`
	Strengths    []string `json:"strengths,omitempty"`
	Improvements []string `json:"improvements,omitempty"`
}

// Message is one turn of the coach chat.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
