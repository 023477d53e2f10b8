package views

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/convsync/internal/api"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/outbox"
	"github.com/matheus3301/convsync/internal/tui/ui"
)

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "plain", "plain"},
		{"skin tone", "\U0001F44D\U0001F3FB", "\U0001F44D"},
		{"zwj", "a\u200Db", "ab"},
		{"variation selector", "\u2764\uFE0F", "\u2764"},
		{"escape sequence", "hi\x1b[2Jthere", "hi[2Jthere"},
		{"carriage return", "one\r\ntwo", "one\ntwo"},
		{"bidi override", "abc\u202Efed", "abcfed"},
		{"tab kept", "a\tb", "a\tb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeForTerminal(tt.in); got != tt.want {
				t.Errorf("sanitizeForTerminal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestComposerHistory(t *testing.T) {
	c := NewComposer()
	var sent []string
	c.SetOnSend(func(text string) { sent = append(sent, text) })

	for _, line := range []string{"first", "second"} {
		c.SetText(line)
		c.submit()
	}
	if len(sent) != 2 || c.GetText() != "" {
		t.Fatalf("sent = %v, text = %q", sent, c.GetText())
	}

	c.recall(-1)
	if got := c.GetText(); got != "second" {
		t.Errorf("after Up = %q, want second", got)
	}
	c.recall(-1)
	c.recall(-1) // already at oldest
	if got := c.GetText(); got != "first" {
		t.Errorf("after Up x3 = %q, want first", got)
	}
	c.recall(1)
	c.recall(1)
	if got := c.GetText(); got != "" {
		t.Errorf("past newest = %q, want empty", got)
	}
}

func TestComposerIgnoresEmpty(t *testing.T) {
	c := NewComposer()
	calls := 0
	c.SetOnSend(func(string) { calls++ })
	c.submit()
	if calls != 0 || len(c.History()) != 0 {
		t.Errorf("empty submit: calls = %d, history = %v", calls, c.History())
	}
}

func TestUnreadBadge(t *testing.T) {
	tests := map[int]string{0: "", -1: "", 3: " (3)", 120: " (99+)"}
	for n, want := range tests {
		if got := UnreadBadge(n); got != want {
			t.Errorf("UnreadBadge(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestRenderThreadMarksPending(t *testing.T) {
	theme := ui.DefaultTheme()
	msgs := []chat.DisplayMessage{
		{ID: "m1", SenderID: "t1", Content: "hi there", CreatedAt: time.Now()},
		{ID: "local-1", SenderID: "me", Content: "Hello", Pending: true},
	}
	out := RenderThread(msgs, "me", theme)

	if strings.Count(out, PendingMark) != 1 {
		t.Errorf("want exactly one pending mark in:\n%s", out)
	}
	if strings.Index(out, "hi there") > strings.Index(out, "Hello") {
		t.Error("pending message rendered before confirmed history")
	}
	if !strings.Contains(out, "You") {
		t.Error("own message not labelled You")
	}
}

func TestStatusLine(t *testing.T) {
	theme := ui.DefaultTheme()

	offline := StatusLine(api.StatusResponse{State: "RECONNECTING", PendingCount: 2}, theme)
	for _, want := range []string{"offline", "reconnecting", "2 pending", "will send when back online"} {
		if !strings.Contains(offline, want) {
			t.Errorf("offline line %q missing %q", offline, want)
		}
	}

	online := StatusLine(api.StatusResponse{State: "CONNECTED", Connected: true}, theme)
	if !strings.Contains(online, "online") || strings.Contains(online, "pending") {
		t.Errorf("online line = %q", online)
	}

	failed := StatusLine(api.StatusResponse{
		State:  "CONNECTED",
		Failed: []outbox.FailedMessage{{}},
	}, theme)
	if !strings.Contains(failed, "1 failed") {
		t.Errorf("failed line = %q", failed)
	}
}
