package api

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/core"
	"github.com/matheus3301/convsync/internal/outbox"
	"github.com/matheus3301/convsync/internal/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeSurface struct {
	mu       sync.Mutex
	active   string
	pending  []chat.PendingMessage
	read     []string
	summary  []chat.ChatSummary
	kicked   int
	retryErr error
}

func (f *fakeSurface) Snapshot() core.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return core.View{
		ActiveID:     f.active,
		PendingCount: len(f.pending),
		State:        status.Reconnecting,
		LocalUserID:  "me",
	}
}

func (f *fakeSurface) Summaries() []chat.ChatSummary { return f.summary }

func (f *fakeSurface) ActiveID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeSurface) ActiveMessages() []chat.DisplayMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chat.DisplayMessage
	for _, p := range f.pending {
		out = append(out, chat.DisplayMessage{
			ID:             p.ClientID,
			ConversationID: p.ConversationID,
			SenderID:       "me",
			Content:        p.Content,
			Pending:        true,
		})
	}
	return out
}

func (f *fakeSurface) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *fakeSurface) SelectConversation(id string) {
	f.mu.Lock()
	f.active = id
	f.mu.Unlock()
}

func (f *fakeSurface) TrySend(conv, content string) (bool, error) {
	if content == "" {
		return false, core.ErrEmptyMessage
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, chat.PendingMessage{
		ConversationID: conv,
		Content:        content,
		ClientID:       outbox.ClientIDPrefix + "1",
	})
	return false, nil
}

func (f *fakeSurface) MarkRead(id string) {
	f.mu.Lock()
	f.read = append(f.read, id)
	f.mu.Unlock()
}

func (f *fakeSurface) CreateConversation(_ context.Context, p string) (chat.ConversationRecord, error) {
	return chat.ConversationRecord{ID: "conv-" + p}, nil
}

func (f *fakeSurface) Reconnect() {
	f.mu.Lock()
	f.kicked++
	f.mu.Unlock()
}

func (f *fakeSurface) RetryFailed(string) error { return f.retryErr }

func setup(t *testing.T) (*ChatClient, *fakeSurface, *bus.Bus) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	surface := &fakeSurface{
		summary: []chat.ChatSummary{{ID: "A", Name: "Ana Tenant", Role: "Tenant", UnreadCount: 2}},
	}
	b := bus.New()
	RegisterChatServer(srv, NewChatService(surface, b, "test"))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewChatClient(conn), surface, b
}

func TestStatusAndSummaries(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()

	st, err := c.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.Profile != "test" || st.State != string(status.Reconnecting) || st.LocalUserID != "me" {
		t.Errorf("status = %+v", st)
	}

	list, err := c.ListSummaries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []chat.ChatSummary{{ID: "A", Name: "Ana Tenant", Role: "Tenant", UnreadCount: 2}}
	if diff := cmp.Diff(want, list.Summaries); diff != "" {
		t.Errorf("summaries mismatch (-want +got):\n%s", diff)
	}
}

func TestSendQueuesWhileOffline(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()

	if err := c.SelectConversation(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	resp, err := c.SendText(ctx, "A", "Hello")
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if resp.Delivered || resp.PendingCount != 1 {
		t.Errorf("SendText() = %+v, want queued with 1 pending", resp)
	}

	msgs, err := c.ListMessages(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs.Messages) != 1 || !msgs.Messages[0].Pending || msgs.Messages[0].Content != "Hello" {
		t.Errorf("messages = %+v, want one pending Hello", msgs.Messages)
	}
}

func TestErrorCodes(t *testing.T) {
	c, surface, _ := setup(t)
	ctx := context.Background()

	_, err := c.SendText(ctx, "A", "")
	if got := grpcstatus.Code(err); got != codes.InvalidArgument {
		t.Errorf("empty send code = %v, want InvalidArgument", got)
	}

	_, err = c.ListMessages(ctx, "not-selected")
	if got := grpcstatus.Code(err); got != codes.FailedPrecondition {
		t.Errorf("unselected list code = %v, want FailedPrecondition", got)
	}

	surface.retryErr = outbox.ErrNotFound
	err = c.RetryFailed(ctx, "local-x")
	if got := grpcstatus.Code(err); got != codes.NotFound {
		t.Errorf("retry code = %v, want NotFound", got)
	}

	err = c.MarkRead(ctx, "")
	if got := grpcstatus.Code(err); got != codes.InvalidArgument {
		t.Errorf("mark read code = %v, want InvalidArgument", got)
	}
}

func TestMarkReadAndReconnect(t *testing.T) {
	c, surface, _ := setup(t)
	ctx := context.Background()

	if err := c.MarkRead(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	if err := c.Reconnect(ctx); err != nil {
		t.Fatal(err)
	}
	surface.mu.Lock()
	defer surface.mu.Unlock()
	if len(surface.read) != 1 || surface.read[0] != "B" {
		t.Errorf("read = %v, want [B]", surface.read)
	}
	if surface.kicked != 1 {
		t.Errorf("reconnect calls = %d, want 1", surface.kicked)
	}
}

func TestCreateConversation(t *testing.T) {
	c, _, _ := setup(t)
	resp, err := c.CreateConversation(context.Background(), "tenant-7")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Conversation.ID != "conv-tenant-7" {
		t.Errorf("conversation id = %q", resp.Conversation.ID)
	}
}

func TestWatchEvents(t *testing.T) {
	c, _, b := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rx, err := c.WatchEvents(ctx, "outbox.")
	if err != nil {
		t.Fatalf("WatchEvents() error = %v", err)
	}

	// The subscription is registered by the handler; publish until it lands.
	got := make(chan *EventEnvelope, 1)
	go func() {
		evt, err := rx.Recv()
		if err == nil {
			got <- evt
		}
	}()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case evt := <-got:
			if evt.Kind != bus.OutboxQueued || evt.ConversationID != "A" || evt.Profile != "test" {
				t.Errorf("event = %+v", evt)
			}
			if evt.EventID == "" {
				t.Error("event id not set")
			}
			return
		case <-tick.C:
			b.Emit(bus.ViewChanged, "ignored", nil)
			b.Emit(bus.OutboxQueued, "A", nil)
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}
}
