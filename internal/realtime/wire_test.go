package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeMessage(t *testing.T) {
	frame := []byte(`{"type":"message","data":{"id":"m1","conversationId":"c1","sender":{"id":"u2"},"content":"hi","createdAt":"2024-05-01T10:00:00Z"}}`)

	evt, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if evt.Type != TypeMessage || evt.Message == nil {
		t.Fatalf("event = %+v, want message", evt)
	}
	msg := evt.Message
	if msg.ConversationID != "c1" || msg.Sender.ID != "u2" || msg.Content != "hi" || msg.ID != "m1" {
		t.Errorf("message = %+v", msg)
	}
	if !msg.CreatedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", msg.CreatedAt)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `hello`, ErrMalformed},
		{"missing type", `{"data":{}}`, ErrMalformed},
		{"unknown envelope key", `{"type":"message","extra":1}`, ErrMalformed},
		{"unknown type", `{"type":"typing","data":{}}`, ErrUnknownEvent},
		{"no data", `{"type":"message"}`, ErrMalformed},
		{"no conversation", `{"type":"message","data":{"sender":{"id":"u"},"content":"x","createdAt":"2024-05-01T10:00:00Z"}}`, ErrMalformed},
		{"no sender", `{"type":"message","data":{"conversationId":"c","content":"x","createdAt":"2024-05-01T10:00:00Z"}}`, ErrMalformed},
		{"no content", `{"type":"message","data":{"conversationId":"c","sender":{"id":"u"},"createdAt":"2024-05-01T10:00:00Z"}}`, ErrMalformed},
		{"bad timestamp", `{"type":"message","data":{"conversationId":"c","sender":{"id":"u"},"content":"x","createdAt":"yesterday"}}`, ErrMalformed},
		{"sender wrong shape", `{"type":"message","data":{"conversationId":"c","sender":"u","content":"x","createdAt":"2024-05-01T10:00:00Z"}}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodePingIgnored(t *testing.T) {
	evt, err := Decode([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Message != nil {
		t.Error("ping should carry no message")
	}
}

func TestEncodeMessageRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	frame, err := EncodeMessage("c1", "me", "hello", at)
	if err != nil {
		t.Fatal(err)
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatal(err)
	}
	if string(env["type"]) != `"message"` {
		t.Errorf("type = %s", env["type"])
	}

	evt, err := Decode(frame)
	if err != nil {
		t.Fatalf("own frame rejected: %v", err)
	}
	if evt.Message.Sender.ID != "me" || !evt.Message.CreatedAt.Equal(at) {
		t.Errorf("decoded = %+v", evt.Message)
	}
}
