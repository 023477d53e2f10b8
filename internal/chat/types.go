// Package chat holds the conversation domain shared by every sync component.
package chat

import "time"

// Participant describes one side of a two-party conversation.
type Participant struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// LastMessage is the snapshot of the newest message in a conversation.
type LastMessage struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	SenderID  string `json:"senderId"`
}

// ConversationRecord is a conversation as the backing store reports it.
type ConversationRecord struct {
	ID           string         `json:"id"`
	Participants [2]Participant `json:"participants"`
	LastMessage  *LastMessage   `json:"lastMessage,omitempty"`
	UnreadCount  int            `json:"unreadCount"`
}

// Counterpart returns the participant that is not localUserID.
// ok is false when neither participant differs from the local user.
func (r ConversationRecord) Counterpart(localUserID string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.UserID != "" && p.UserID != localUserID {
			return p, true
		}
	}
	return Participant{}, false
}

// ContactKind classifies a directory entry.
type ContactKind string

const (
	KindTenant          ContactKind = "tenant"
	KindServiceProvider ContactKind = "service_provider"
	KindPropertyManager ContactKind = "property_manager"
	KindOther           ContactKind = "other"
)

// ContactEntry is a read-only contact directory record.
type ContactEntry struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	Email       string      `json:"email"`
	Kind        ContactKind `json:"kind"`
	DisplayName string      `json:"displayName"`
	AvatarURL   string      `json:"avatarUrl,omitempty"`
}

// ConfirmedMessage is a server-issued message. Immutable once received.
type ConfirmedMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// PendingMessage is a locally composed message that has not been delivered.
// ClientID is always a client-generated stand-in, never a server id.
type PendingMessage struct {
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	ClientID       string    `json:"clientId"`
	QueuedAt       time.Time `json:"queuedAt"`
}

// DisplayMessage is the merged projection rendered in a thread.
type DisplayMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Pending        bool      `json:"pending"`
}

// ChatSummary is the display-ready projection of a ConversationRecord.
type ChatSummary struct {
	ID              string `json:"id"`
	CounterpartID   string `json:"counterpartId"`
	Name            string `json:"name"`
	Avatar          string `json:"avatar"`
	Role            string `json:"role"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime string `json:"lastMessageTime"`
	UnreadCount     int    `json:"unreadCount"`
	IsPinned        bool   `json:"isPinned"`
	Online          bool   `json:"online"`
}

// Sender identifies the author of a real-time message.
type Sender struct {
	ID string `json:"id"`
}

// InboundMessage is a validated real-time push.
type InboundMessage struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId"`
	Sender         Sender    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}
