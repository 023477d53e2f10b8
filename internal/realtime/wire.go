package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/convsync/internal/chat"
)

// Envelope types carried on the channel.
const (
	TypeMessage = "message"
	TypePing    = "ping"
	TypePong    = "pong"
)

var (
	// ErrUnknownEvent is returned for envelopes with an unrecognised type.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrMalformed is returned for frames that fail validation.
	ErrMalformed = errors.New("malformed event")
)

// Envelope is the tagged frame exchanged over the channel.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// messageWire is the on-the-wire shape of a message payload.
type messageWire struct {
	ID             string      `json:"id,omitempty"`
	ConversationID string      `json:"conversationId"`
	Sender         chat.Sender `json:"sender"`
	Content        string      `json:"content"`
	CreatedAt      string      `json:"createdAt"`
}

// Event is a decoded inbound frame. Message is set only for TypeMessage.
type Event struct {
	Type    string
	Message *chat.InboundMessage
}

// Decode validates a raw frame. Envelopes with extra top-level keys are
// rejected; message payloads must name a conversation, a sender, content
// and a parsable createdAt.
func Decode(frame []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.DisallowUnknownFields()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypePing, TypePong:
		return Event{Type: env.Type}, nil
	case TypeMessage:
	case "":
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	if len(env.Data) == 0 {
		return Event{}, fmt.Errorf("%w: message without data", ErrMalformed)
	}
	var w messageWire
	if err := json.Unmarshal(env.Data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case strings.TrimSpace(w.ConversationID) == "":
		return Event{}, fmt.Errorf("%w: missing conversationId", ErrMalformed)
	case strings.TrimSpace(w.Sender.ID) == "":
		return Event{}, fmt.Errorf("%w: missing sender.id", ErrMalformed)
	case w.Content == "":
		return Event{}, fmt.Errorf("%w: missing content", ErrMalformed)
	}
	created, ok := chat.ParseTimestamp(w.CreatedAt, time.UTC)
	if !ok {
		return Event{}, fmt.Errorf("%w: createdAt %q", ErrMalformed, w.CreatedAt)
	}

	return Event{
		Type: TypeMessage,
		Message: &chat.InboundMessage{
			ID:             w.ID,
			ConversationID: w.ConversationID,
			Sender:         w.Sender,
			Content:        w.Content,
			CreatedAt:      created,
		},
	}, nil
}

// EncodeMessage builds an outbound message frame.
func EncodeMessage(conversationID, senderID, content string, at time.Time) ([]byte, error) {
	data, err := json.Marshal(messageWire{
		ConversationID: conversationID,
		Sender:         chat.Sender{ID: senderID},
		Content:        content,
		CreatedAt:      at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: TypeMessage, Data: data})
}

