package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind           string
	Timestamp      time.Time
	ConversationID string
	Payload        any
}

// Event kinds. Subscribers filter on the dotted prefix.
const (
	ConnStateChanged = "conn.state_changed"
	ConnConnected    = "conn.connected"
	ConnDisconnected = "conn.disconnected"

	RealtimeMessage = "rt.message"

	OutboxQueued    = "outbox.queued"
	OutboxDelivered = "outbox.delivered"
	OutboxFailed    = "outbox.failed"

	CacheInvalidated = "cache.invalidated"
	CacheRefreshed   = "cache.refreshed"

	ConversationRead = "conversation.read"

	ViewChanged = "view.changed"
)
