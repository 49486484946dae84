package nats

import "time"

// StreamEvents is the JetStream stream holding every client event.
const StreamEvents = "COACH_EVENTS"

// Subject constants.
const (
	SubjectPurchaseEvent = "coach.events.purchase"
	SubjectSyncEvent     = "coach.events.sync"
	SubjectQuotaEvent    = "coach.events.quota"
)

// PurchaseEvent is published when a purchase attempt or restore settles.
type PurchaseEvent struct {
	InstallationID string    `json:"installation_id"`
	UserID         string    `json:"user_id,omitempty"`
	ProductIDs     []string  `json:"product_ids,omitempty"`
	Result         string    `json:"result"` // success, cancelled, error, restored
	Message        string    `json:"message,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// SyncEvent is published after each sync sweep.
type SyncEvent struct {
	InstallationID string    `json:"installation_id"`
	UserID         string    `json:"user_id"`
	Success        bool      `json:"success"`
	Uploaded       int       `json:"uploaded"`
	Message        string    `json:"message,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// QuotaEvent is published when a free-tier limit blocks a request.
type QuotaEvent struct {
	InstallationID string    `json:"installation_id"`
	UserID         string    `json:"user_id,omitempty"`
	Category       string    `json:"category"`
	Tracker        string    `json:"tracker"` // local, server
	Timestamp      time.Time `json:"timestamp"`
}
