package readstate

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/matheus3301/convsync/internal/bus"
)

type fakeStore struct {
	mu       stdsync.Mutex
	calls    map[string]int
	failures int
	block    chan struct{}
}

func (s *fakeStore) MarkAsRead(_ context.Context, id string) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[id]++
	if s.failures > 0 {
		s.failures--
		return errors.New("503")
	}
	return nil
}

func (s *fakeStore) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

// fakeCache tracks unread counters the way the SQLite cache would.
type fakeCache struct {
	mu          stdsync.Mutex
	unread      map[string]int
	invalidated int
}

func (c *fakeCache) ZeroUnread(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unread[id] = 0
	return nil
}

func (c *fakeCache) InvalidateConversations() {
	c.mu.Lock()
	c.invalidated++
	c.mu.Unlock()
}

func (c *fakeCache) get(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread[id]
}

func fastOpts() Options {
	return Options{MaxElapsed: time.Second, InitialInterval: time.Millisecond}
}

func TestMarkReadZeroesOnlyThatConversation(t *testing.T) {
	cache := &fakeCache{unread: map[string]int{"A": 3, "B": 2}}
	tr := NewTracker(&fakeStore{}, cache, nil, nil, fastOpts())

	tr.MarkRead("A")
	if cache.get("A") != 0 {
		t.Errorf("A unread = %d, want 0 immediately", cache.get("A"))
	}
	tr.MarkRead("B")
	tr.Wait()
	if cache.get("A") != 0 || cache.get("B") != 0 {
		t.Errorf("unread A=%d B=%d, want 0/0", cache.get("A"), cache.get("B"))
	}

	cache2 := &fakeCache{unread: map[string]int{"A": 3, "B": 2}}
	tr2 := NewTracker(&fakeStore{}, cache2, nil, nil, fastOpts())
	tr2.MarkRead("B")
	tr2.Wait()
	if cache2.get("A") != 3 {
		t.Errorf("selecting B changed A to %d", cache2.get("A"))
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	cache := &fakeCache{unread: map[string]int{"A": 3}}
	st := &fakeStore{block: make(chan struct{})}
	tr := NewTracker(st, cache, nil, nil, fastOpts())

	tr.MarkRead("A")
	tr.MarkRead("A")
	close(st.block)
	tr.Wait()

	if st.count("A") != 1 {
		t.Errorf("backing store calls = %d, want 1 for back-to-back marks", st.count("A"))
	}
	if cache.get("A") != 0 {
		t.Errorf("unread = %d, want 0", cache.get("A"))
	}

	// A later mark on an already-read conversation leaves it read.
	tr.MarkRead("A")
	tr.Wait()
	if cache.get("A") != 0 {
		t.Errorf("unread = %d after repeat, want 0", cache.get("A"))
	}
}

func TestMarkReadRetriesAndAnnounces(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("conversation.", 1)
	defer unsub()

	cache := &fakeCache{unread: map[string]int{"A": 1}}
	st := &fakeStore{failures: 2}
	tr := NewTracker(st, cache, b, nil, fastOpts())

	tr.MarkRead("A")
	tr.Wait()

	if st.count("A") != 3 {
		t.Errorf("calls = %d, want 3 (two failures then success)", st.count("A"))
	}
	select {
	case evt := <-events:
		if evt.Kind != bus.ConversationRead || evt.ConversationID != "A" {
			t.Errorf("event = %+v", evt)
		}
	default:
		t.Error("no conversation.read event")
	}
	if cache.invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", cache.invalidated)
	}
}

func TestMarkReadEmptyIsNoop(t *testing.T) {
	cache := &fakeCache{unread: map[string]int{}}
	st := &fakeStore{}
	tr := NewTracker(st, cache, nil, nil, fastOpts())
	tr.MarkRead("")
	tr.Wait()
	if st.count("") != 0 {
		t.Error("empty id reached the backing store")
	}
}
