package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/convsync/internal/api"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/outbox"
)

type fakeDaemon struct {
	connected bool
	selected  []string
	sent      []string
	retried   []string
	pending   int
	failed    []outbox.FailedMessage
}

func (f *fakeDaemon) GetStatus(context.Context) (*api.StatusResponse, error) {
	return &api.StatusResponse{State: "RECONNECTING", Connected: f.connected, PendingCount: f.pending, Failed: f.failed}, nil
}

func (f *fakeDaemon) ListSummaries(context.Context) (*api.ListSummariesResponse, error) {
	return &api.ListSummariesResponse{Summaries: []chat.ChatSummary{{ID: "A", Name: "Tina"}}}, nil
}

func (f *fakeDaemon) SelectConversation(_ context.Context, id string) error {
	f.selected = append(f.selected, id)
	return nil
}

func (f *fakeDaemon) ListMessages(_ context.Context, id string) (*api.ListMessagesResponse, error) {
	var msgs []chat.DisplayMessage
	for _, s := range f.sent {
		msgs = append(msgs, chat.DisplayMessage{ConversationID: id, Content: s, Pending: !f.connected})
	}
	return &api.ListMessagesResponse{ConversationID: id, Messages: msgs}, nil
}

func (f *fakeDaemon) SendText(_ context.Context, _, content string) (*api.SendTextResponse, error) {
	f.sent = append(f.sent, content)
	if !f.connected {
		f.pending++
	}
	return &api.SendTextResponse{Delivered: f.connected, PendingCount: f.pending}, nil
}

func (f *fakeDaemon) CreateConversation(_ context.Context, p string) (*api.CreateConversationResponse, error) {
	return &api.CreateConversationResponse{Conversation: chat.ConversationRecord{ID: "conv-" + p}}, nil
}

func (f *fakeDaemon) Reconnect(context.Context) error { return nil }

func (f *fakeDaemon) RetryFailed(_ context.Context, id string) error {
	if id == "bad" {
		return errors.New("not found")
	}
	f.retried = append(f.retried, id)
	return nil
}

func TestSendOfflineRaisesNotice(t *testing.T) {
	d := &fakeDaemon{}
	vm := NewViewModel(d)
	ctx := context.Background()

	if err := vm.SendText(ctx, "hi"); err == nil {
		t.Error("SendText() with no open conversation should fail")
	}
	if err := vm.LoadStatus(ctx); err != nil {
		t.Fatal(err)
	}
	if err := vm.Open(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if err := vm.SendText(ctx, "Hello"); err != nil {
		t.Fatal(err)
	}

	if got := vm.Flash.Get(); got != OfflineNotice {
		t.Errorf("flash = %q, want offline notice", got)
	}
	if vm.Status().PendingCount != 1 {
		t.Errorf("pending = %d, want 1", vm.Status().PendingCount)
	}
	msgs := vm.Messages()
	if len(msgs) != 1 || !msgs[0].Pending {
		t.Errorf("messages = %+v, want one pending", msgs)
	}
}

func TestSendOnlineNoNotice(t *testing.T) {
	d := &fakeDaemon{connected: true}
	vm := NewViewModel(d)
	ctx := context.Background()
	if err := vm.Open(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if err := vm.SendText(ctx, "Hello"); err != nil {
		t.Fatal(err)
	}
	if got := vm.Flash.Get(); got != "" {
		t.Errorf("flash = %q, want none", got)
	}
}

func TestCreateOpensConversation(t *testing.T) {
	d := &fakeDaemon{}
	vm := NewViewModel(d)
	if err := vm.Create(context.Background(), "t9"); err != nil {
		t.Fatal(err)
	}
	if vm.ActiveID() != "conv-t9" {
		t.Errorf("ActiveID() = %q", vm.ActiveID())
	}
	if len(d.selected) != 1 || d.selected[0] != "conv-t9" {
		t.Errorf("selected = %v", d.selected)
	}
}

func TestRetryAllFailed(t *testing.T) {
	d := &fakeDaemon{failed: []outbox.FailedMessage{
		{PendingMessage: chat.PendingMessage{ClientID: "local-1"}},
		{PendingMessage: chat.PendingMessage{ClientID: "local-2"}},
	}}
	vm := NewViewModel(d)
	ctx := context.Background()
	if err := vm.LoadStatus(ctx); err != nil {
		t.Fatal(err)
	}
	n, err := vm.RetryFailed(ctx, "")
	if err != nil || n != 2 {
		t.Fatalf("RetryFailed() = %d, %v; want 2, nil", n, err)
	}
	if n, err := vm.RetryFailed(ctx, "bad"); err == nil || n != 0 {
		t.Errorf("RetryFailed(bad) = %d, %v; want error", n, err)
	}
}

func TestActiveName(t *testing.T) {
	vm := NewViewModel(&fakeDaemon{})
	ctx := context.Background()
	_ = vm.LoadSummaries(ctx)
	_ = vm.Open(ctx, "A")
	if vm.ActiveName() != "Tina" {
		t.Errorf("ActiveName() = %q, want Tina", vm.ActiveName())
	}
	_ = vm.Open(ctx, "Z")
	if vm.ActiveName() != "Z" {
		t.Errorf("ActiveName() = %q, want fallback to id", vm.ActiveName())
	}
}

func TestFlashExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	f := Flash{now: func() time.Time { return now }}
	f.Set("hello", time.Second)
	if f.Get() != "hello" {
		t.Error("flash missing before expiry")
	}
	now = now.Add(2 * time.Second)
	if f.Get() != "" {
		t.Error("flash still set after expiry")
	}
}
