package store

import "time"

// Outbox entry statuses.
const (
	OutboxQueued = "queued"
	OutboxFailed = "failed"
)

// OutboxEntry represents a persisted outgoing message.
type OutboxEntry struct {
	Seq            int64
	ClientID       string
	ConversationID string
	Content        string
	Status         string // queued, failed
	Attempts       int
	ErrorMessage   string
	QueuedAt       time.Time
}
