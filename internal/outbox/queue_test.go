package outbox

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/store"
)

// fakeTransport records sends and lets tests flip connectivity and rejection.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	reject    map[string]bool // content -> reject
	sent      []string
	delay     time.Duration
	onCheck   func() // run outside the lock on every Connected call
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	hook := f.onCheck
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Send(_ string, content string) bool {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected || f.reject[content] {
		return false
	}
	f.sent = append(f.sent, content)
	return true
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeTransport) sentCopy() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func contents(seq []chat.PendingMessage) []string {
	out := make([]string, len(seq))
	for i, m := range seq {
		out[i] = m.Content
	}
	return out
}

func TestTrySendConnectedNotQueued(t *testing.T) {
	tr := &fakeTransport{connected: true}
	q := New(tr, nil, nil, nil, Options{})

	if !q.TrySend("c1", "hi") {
		t.Fatal("TrySend() = false on a connected channel")
	}
	if q.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", q.PendingCount())
	}
}

// TestTrySendOffline covers sending while disconnected: the message is
// queued with a local id and shows up in the conversation's projection.
func TestTrySendOffline(t *testing.T) {
	tr := &fakeTransport{}
	q := New(tr, nil, nil, nil, Options{})

	if q.TrySend("c1", "Hello") {
		t.Fatal("TrySend() = true while disconnected")
	}
	if q.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", q.PendingCount())
	}
	got := slices.Collect(q.PendingFor("c1"))
	if len(got) != 1 || got[0].Content != "Hello" {
		t.Fatalf("PendingFor(c1) = %+v", got)
	}
	if !strings.HasPrefix(got[0].ClientID, ClientIDPrefix) {
		t.Errorf("ClientID = %q, want local prefix", got[0].ClientID)
	}
}

func TestTrySendRejectedIsQueued(t *testing.T) {
	tr := &fakeTransport{connected: true, reject: map[string]bool{"x": true}}
	q := New(tr, nil, nil, nil, Options{})

	if q.TrySend("c1", "x") {
		t.Fatal("TrySend() = true for a rejected send")
	}
	if q.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1", q.PendingCount())
	}
}

func TestPendingOrderMatchesEnqueueOrder(t *testing.T) {
	q := New(&fakeTransport{}, nil, nil, nil, Options{})

	want := []string{"one", "two", "three", "four"}
	for i, w := range want {
		q.TrySend("c1", w)
		q.TrySend("c2", "other-"+string(rune('a'+i)))
	}

	if diff := cmp.Diff(want, contents(slices.Collect(q.PendingFor("c1")))); diff != "" {
		t.Errorf("PendingFor(c1) order mismatch (-want +got):\n%s", diff)
	}
	if q.PendingCount() != 8 {
		t.Errorf("PendingCount = %d, want 8", q.PendingCount())
	}
}

func TestPendingForIsRestartable(t *testing.T) {
	q := New(&fakeTransport{}, nil, nil, nil, Options{})
	q.TrySend("c1", "a")
	seq := q.PendingFor("c1")

	if n := len(slices.Collect(seq)); n != 1 {
		t.Fatalf("first pass = %d, want 1", n)
	}
	q.TrySend("c1", "b")
	if n := len(slices.Collect(seq)); n != 2 {
		t.Errorf("second pass = %d, want 2 (fresh snapshot)", n)
	}

	// Early break must not deadlock the queue.
	for range seq {
		break
	}
	q.TrySend("c1", "c")
}

// TestTrySendBehindPending verifies a new message never overtakes older
// pending ones in the same conversation.
func TestTrySendBehindPending(t *testing.T) {
	tr := &fakeTransport{}
	q := New(tr, nil, nil, nil, Options{})
	q.TrySend("c1", "first")

	tr.setConnected(true)
	if q.TrySend("c1", "second") {
		t.Fatal("TrySend() sent directly while older messages were pending")
	}
	if !q.TrySend("c2", "elsewhere") {
		t.Error("other conversations should still send directly")
	}

	q.Flush(context.Background())
	q.Stop()

	var c1 []string
	for _, m := range tr.sentCopy() {
		if m != "elsewhere" {
			c1 = append(c1, m)
		}
	}
	if diff := cmp.Diff([]string{"first", "second"}, c1); diff != "" {
		t.Errorf("c1 send order mismatch (-want +got):\n%s", diff)
	}
	if n := len(tr.sentCopy()); n != 3 {
		t.Errorf("sent %d messages, want 3", n)
	}
}

// TestTrySendBehindPendingFlushesPromptly verifies a message queued behind
// older ones goes out without waiting for the flush ticker.
func TestTrySendBehindPendingFlushesPromptly(t *testing.T) {
	tr := &fakeTransport{}
	q := New(tr, nil, nil, nil, Options{FlushInterval: time.Hour})
	if err := q.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer q.Stop()

	q.TrySend("c1", "first")
	tr.setConnected(true)
	if q.TrySend("c1", "second") {
		t.Fatal("TrySend() sent directly while older messages were pending")
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.PendingCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if diff := cmp.Diff([]string{"first", "second"}, tr.sentCopy()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestFlushDeliversInOrder(t *testing.T) {
	b := bus.New()
	delivered, unsub := b.Subscribe("outbox.delivered", 10)
	defer unsub()

	tr := &fakeTransport{}
	q := New(tr, nil, b, nil, Options{})
	q.TrySend("c1", "a")
	q.TrySend("c1", "b")

	tr.setConnected(true)
	q.Flush(context.Background())

	if q.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", q.PendingCount())
	}
	if diff := cmp.Diff([]string{"a", "b"}, tr.sentCopy()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
	for _, want := range []string{"a", "b"} {
		select {
		case evt := <-delivered:
			msg := evt.Payload.(chat.PendingMessage)
			if msg.Content != want {
				t.Errorf("delivered %q, want %q", msg.Content, want)
			}
		case <-time.After(time.Second):
			t.Fatal("missing delivered event")
		}
	}
}

// TestDeliveredRemovedBeforeEvent verifies the pending entry is gone by the
// time outbox.delivered is observed, so a refresh cannot double it.
func TestDeliveredRemovedBeforeEvent(t *testing.T) {
	b := bus.New()
	delivered, unsub := b.Subscribe("outbox.delivered", 1)
	defer unsub()

	tr := &fakeTransport{}
	q := New(tr, nil, b, nil, Options{})
	q.TrySend("c1", "a")
	tr.setConnected(true)
	go q.Flush(context.Background())

	select {
	case <-delivered:
		if n := len(slices.Collect(q.PendingFor("c1"))); n != 0 {
			t.Errorf("pending entries at delivery event = %d, want 0", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivered event")
	}
}

func TestFlushStopsConversationAtFirstFailure(t *testing.T) {
	tr := &fakeTransport{reject: map[string]bool{"a2": true}}
	q := New(tr, nil, nil, nil, Options{})
	q.TrySend("a", "a1")
	q.TrySend("a", "a2")
	q.TrySend("a", "a3")
	q.TrySend("b", "b1")

	tr.setConnected(true)
	q.Flush(context.Background())

	if diff := cmp.Diff([]string{"a1", "b1"}, tr.sentCopy()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a2", "a3"}, contents(slices.Collect(q.PendingFor("a")))); diff != "" {
		t.Errorf("remaining order changed (-want +got):\n%s", diff)
	}
}

func TestConcurrentFlushNoDuplicates(t *testing.T) {
	tr := &fakeTransport{delay: 2 * time.Millisecond}
	q := New(tr, nil, nil, nil, Options{})
	for i := range 10 {
		q.TrySend("c1", string(rune('a'+i)))
	}
	tr.setConnected(true)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Flush(context.Background())
		}()
	}
	wg.Wait()

	sent := tr.sentCopy()
	if len(sent) != 10 {
		t.Fatalf("sent %d messages, want 10 (duplicates or drops): %v", len(sent), sent)
	}
	if !slices.IsSorted(sent) {
		t.Errorf("sent out of order: %v", sent)
	}
}

func TestMaxAttemptsFails(t *testing.T) {
	b := bus.New()
	failed, unsub := b.Subscribe("outbox.failed", 1)
	defer unsub()

	tr := &fakeTransport{connected: true, reject: map[string]bool{"x": true}}
	q := New(tr, nil, b, nil, Options{MaxAttempts: 2})
	q.TrySend("c1", "x")

	q.Flush(context.Background())
	if q.PendingCount() != 1 {
		t.Fatalf("after 1 attempt PendingCount = %d, want 1", q.PendingCount())
	}
	q.Flush(context.Background())
	if q.PendingCount() != 0 {
		t.Errorf("after 2 attempts PendingCount = %d, want 0", q.PendingCount())
	}
	if f := q.Failed(); len(f) != 1 || f[0].Attempts != 2 {
		t.Errorf("Failed() = %+v", f)
	}
	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Error("no outbox.failed event")
	}

	// Retry puts it back and delivers once the channel accepts it.
	tr.mu.Lock()
	tr.reject = nil
	tr.mu.Unlock()
	if err := q.Retry(q.Failed()[0].ClientID); err != nil {
		t.Fatal(err)
	}
	q.Stop()
	if len(q.Failed()) != 0 || q.PendingCount() != 0 {
		t.Errorf("after retry failed=%d pending=%d, want 0/0", len(q.Failed()), q.PendingCount())
	}
	if err := q.Retry("local-missing"); err != ErrNotFound {
		t.Errorf("Retry(unknown) = %v, want ErrNotFound", err)
	}
}

func TestUnboundedRetryNeverFails(t *testing.T) {
	tr := &fakeTransport{connected: true, reject: map[string]bool{"x": true}}
	q := New(tr, nil, nil, nil, Options{})
	q.TrySend("c1", "x")
	for range 20 {
		q.Flush(context.Background())
	}
	if q.PendingCount() != 1 || len(q.Failed()) != 0 {
		t.Errorf("pending=%d failed=%d, want 1/0", q.PendingCount(), len(q.Failed()))
	}
}

func TestClear(t *testing.T) {
	db := testDB(t)
	q := New(&fakeTransport{}, db, nil, nil, Options{})
	q.TrySend("c1", "a")
	q.TrySend("c2", "b")

	q.Clear()
	if q.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", q.PendingCount())
	}
	rows, err := db.ListOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("persisted rows = %d, want 0", len(rows))
	}
}

// TestClearDuringFlush drops the queue after a sweep has taken its batch.
// Entries cleared mid-sweep are neither sent nor reported delivered.
func TestClearDuringFlush(t *testing.T) {
	b := bus.New()
	delivered, unsub := b.Subscribe("outbox.delivered", 10)
	defer unsub()

	db := testDB(t)
	tr := &fakeTransport{}
	q := New(tr, db, b, nil, Options{})
	q.TrySend("c1", "a")
	q.TrySend("c1", "b")
	q.TrySend("c2", "c")
	tr.setConnected(true)

	var once sync.Once
	tr.mu.Lock()
	tr.onCheck = func() {
		if len(tr.sentCopy()) == 1 {
			once.Do(q.Clear)
		}
	}
	tr.mu.Unlock()

	q.Flush(context.Background())

	if diff := cmp.Diff([]string{"a"}, tr.sentCopy()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
	if q.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", q.PendingCount())
	}
	var got []string
	for len(delivered) > 0 {
		got = append(got, (<-delivered).Payload.(chat.PendingMessage).Content)
	}
	if diff := cmp.Diff([]string{"a"}, got); diff != "" {
		t.Errorf("delivered events mismatch (-want +got):\n%s", diff)
	}
	rows, err := db.ListOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("persisted rows = %d, want 0", len(rows))
	}
}

func TestRestoreAcrossRestart(t *testing.T) {
	db := testDB(t)
	first := New(&fakeTransport{}, db, nil, nil, Options{})
	first.TrySend("c1", "a")
	first.TrySend("c1", "b")

	second := New(&fakeTransport{}, db, nil, nil, Options{})
	if err := second.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer second.Stop()

	if diff := cmp.Diff([]string{"a", "b"}, contents(slices.Collect(second.PendingFor("c1")))); diff != "" {
		t.Errorf("restored mismatch (-want +got):\n%s", diff)
	}
}

// TestFlushOnReconnect verifies the background loop replays the queue when
// the channel announces it is back.
func TestFlushOnReconnect(t *testing.T) {
	b := bus.New()
	tr := &fakeTransport{}
	q := New(tr, nil, b, nil, Options{FlushInterval: time.Hour})
	if err := q.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer q.Stop()

	q.TrySend("c1", "Hello")
	tr.setConnected(true)
	b.Emit(bus.ConnConnected, "c1", nil)

	deadline := time.Now().Add(2 * time.Second)
	for q.PendingCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if q.PendingCount() != 0 {
		t.Fatalf("PendingCount = %d after reconnect, want 0", q.PendingCount())
	}
	if diff := cmp.Diff([]string{"Hello"}, tr.sentCopy()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}
