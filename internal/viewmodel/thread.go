package viewmodel

import (
	"iter"
	"slices"
	"sync"

	"github.com/matheus3301/convsync/internal/chat"
)

// PendingSource yields the queued messages of one conversation.
type PendingSource interface {
	PendingFor(conversationID string) iter.Seq[chat.PendingMessage]
}

// Thread holds the merged display sequence of the active conversation and
// signals when it changes.
type Thread struct {
	mu sync.RWMutex

	pending        PendingSource
	localUserID    string
	conversationID string
	confirmed      []chat.ConfirmedMessage
	display        []chat.DisplayMessage

	refreshCh chan struct{}
}

// NewThread creates a Thread reading pending messages from src.
func NewThread(src PendingSource) *Thread {
	return &Thread{
		pending:   src,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals a recomputed sequence.
func (t *Thread) RefreshCh() <-chan struct{} {
	return t.refreshCh
}

func (t *Thread) signalRefresh() {
	select {
	case t.refreshCh <- struct{}{}:
	default:
	}
}

// ConversationID returns the active conversation.
func (t *Thread) ConversationID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conversationID
}

// SetLocalUser sets the sender id used for pending messages.
func (t *Thread) SetLocalUser(userID string) {
	t.mu.Lock()
	t.localUserID = userID
	t.mu.Unlock()
	t.Recompute()
}

// Select switches the active conversation and drops the previous history.
func (t *Thread) Select(conversationID string) {
	t.mu.Lock()
	if t.conversationID == conversationID {
		t.mu.Unlock()
		return
	}
	t.conversationID = conversationID
	t.confirmed = nil
	t.mu.Unlock()
	t.Recompute()
}

// SetConfirmed replaces the confirmed history. It is ignored when
// conversationID is no longer active, so a late fetch cannot leak into
// another thread.
func (t *Thread) SetConfirmed(conversationID string, msgs []chat.ConfirmedMessage) bool {
	t.mu.Lock()
	if t.conversationID != conversationID {
		t.mu.Unlock()
		return false
	}
	t.confirmed = slices.Clone(msgs)
	t.mu.Unlock()
	t.Recompute()
	return true
}

// Recompute rebuilds the display sequence from the current inputs.
func (t *Thread) Recompute() {
	t.mu.Lock()
	conv := t.conversationID
	var seq iter.Seq[chat.PendingMessage]
	if conv != "" && t.pending != nil {
		seq = t.pending.PendingFor(conv)
	}
	if conv == "" {
		t.display = nil
	} else {
		t.display = Merge(conv, t.localUserID, t.confirmed, seq)
	}
	t.mu.Unlock()
	t.signalRefresh()
}

// Messages returns a copy of the current display sequence.
func (t *Thread) Messages() []chat.DisplayMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.display)
}
