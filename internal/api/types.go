package api

import (
	"time"

	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/outbox"
)

type Empty struct{}

type StatusResponse struct {
	Profile       string                 `json:"profile"`
	State         string                 `json:"state"`
	Connected     bool                   `json:"connected"`
	PendingCount  int                    `json:"pendingCount"`
	ActiveID      string                 `json:"activeId"`
	LocalUserID   string                 `json:"localUserId"`
	UptimeMs      int64                  `json:"uptimeMs"`
	Failed        []outbox.FailedMessage `json:"failed,omitempty"`
	DroppedEvents uint64                 `json:"droppedEvents"`
}

type ListSummariesResponse struct {
	Summaries []chat.ChatSummary `json:"summaries"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type ListMessagesResponse struct {
	ConversationID string                `json:"conversationId"`
	Messages       []chat.DisplayMessage `json:"messages"`
}

type SendTextRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

type SendTextResponse struct {
	// Delivered is false when the message was queued for later delivery.
	Delivered    bool `json:"delivered"`
	PendingCount int  `json:"pendingCount"`
}

type CreateConversationRequest struct {
	ParticipantID string `json:"participantId"`
}

type CreateConversationResponse struct {
	Conversation chat.ConversationRecord `json:"conversation"`
}

type RetryFailedRequest struct {
	ClientID string `json:"clientId"`
}

type WatchEventsRequest struct {
	// Namespaces filters events by prefix. Empty means conn., outbox. and view.
	Namespaces []string `json:"namespaces,omitempty"`
}

// EventEnvelope is one bus event as streamed to clients.
type EventEnvelope struct {
	EventID          string `json:"eventId"`
	Profile          string `json:"profile"`
	OccurredAtUnixMs int64  `json:"occurredAtUnixMs"`
	Kind             string `json:"kind"`
	ConversationID   string `json:"conversationId,omitempty"`
	PayloadVersion   int    `json:"payloadVersion"`
}

// OccurredAt converts the envelope timestamp.
func (e *EventEnvelope) OccurredAt() time.Time {
	return time.UnixMilli(e.OccurredAtUnixMs)
}
