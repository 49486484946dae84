package users

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the local user profile of this installation.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Goal        string    `json:"goal"`
	VoiceType   string    `json:"voiceType"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
