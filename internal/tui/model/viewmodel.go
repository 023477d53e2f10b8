package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/convsync/internal/api"
	"github.com/matheus3301/convsync/internal/chat"
)

// OfflineNotice is shown when a send was queued instead of delivered.
const OfflineNotice = "Not connected: will send when back online"

// Daemon is the part of the daemon API the terminal surface uses.
type Daemon interface {
	GetStatus(ctx context.Context) (*api.StatusResponse, error)
	ListSummaries(ctx context.Context) (*api.ListSummariesResponse, error)
	SelectConversation(ctx context.Context, conversationID string) error
	ListMessages(ctx context.Context, conversationID string) (*api.ListMessagesResponse, error)
	SendText(ctx context.Context, conversationID, content string) (*api.SendTextResponse, error)
	CreateConversation(ctx context.Context, participantID string) (*api.CreateConversationResponse, error)
	Reconnect(ctx context.Context) error
	RetryFailed(ctx context.Context, clientID string) error
}

// ViewModel caches the daemon's view and signals UI refreshes.
type ViewModel struct {
	mu sync.RWMutex

	daemon    Daemon
	status    *api.StatusResponse
	summaries []chat.ChatSummary
	messages  []chat.DisplayMessage
	activeID  string
	Flash     Flash

	refreshCh chan struct{}
}

// NewViewModel creates a view model backed by d.
func NewViewModel(d Daemon) *ViewModel {
	return &ViewModel{
		daemon:    d,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadStatus fetches connectivity and queue state.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	resp, err := vm.daemon.GetStatus(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadSummaries fetches the conversation list.
func (vm *ViewModel) LoadSummaries(ctx context.Context) error {
	resp, err := vm.daemon.ListSummaries(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.summaries = resp.Summaries
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Open selects a conversation on the daemon and loads its thread.
func (vm *ViewModel) Open(ctx context.Context, conversationID string) error {
	if err := vm.daemon.SelectConversation(ctx, conversationID); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.activeID = conversationID
	vm.messages = nil
	vm.mu.Unlock()
	return vm.LoadMessages(ctx)
}

// LoadMessages refreshes the active thread.
func (vm *ViewModel) LoadMessages(ctx context.Context) error {
	active := vm.ActiveID()
	if active == "" {
		return nil
	}
	resp, err := vm.daemon.ListMessages(ctx, active)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.activeID == active {
		vm.messages = resp.Messages
	}
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// SendText sends to the active conversation. A queued message is not an
// error; it raises the offline notice instead.
func (vm *ViewModel) SendText(ctx context.Context, text string) error {
	active := vm.ActiveID()
	if active == "" {
		return fmt.Errorf("no conversation open")
	}
	resp, err := vm.daemon.SendText(ctx, active, text)
	if err != nil {
		return err
	}
	if !resp.Delivered {
		vm.Flash.Set(OfflineNotice, 5*time.Second)
	}
	vm.mu.Lock()
	if vm.status != nil {
		vm.status.PendingCount = resp.PendingCount
	}
	vm.mu.Unlock()
	return vm.LoadMessages(ctx)
}

// Create starts a conversation with participantID and opens it.
func (vm *ViewModel) Create(ctx context.Context, participantID string) error {
	resp, err := vm.daemon.CreateConversation(ctx, participantID)
	if err != nil {
		return err
	}
	if err := vm.LoadSummaries(ctx); err != nil {
		return err
	}
	return vm.Open(ctx, resp.Conversation.ID)
}

// Reconnect asks the daemon to retry the channel now.
func (vm *ViewModel) Reconnect(ctx context.Context) error {
	if err := vm.daemon.Reconnect(ctx); err != nil {
		return err
	}
	vm.Flash.Set("Reconnecting...", 3*time.Second)
	return nil
}

// RetryFailed re-queues every failed message, or only clientID when given.
func (vm *ViewModel) RetryFailed(ctx context.Context, clientID string) (int, error) {
	ids := []string{clientID}
	if clientID == "" {
		ids = ids[:0]
		for _, f := range vm.Status().Failed {
			ids = append(ids, f.ClientID)
		}
	}
	for i, id := range ids {
		if err := vm.daemon.RetryFailed(ctx, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

// ActiveID returns the open conversation.
func (vm *ViewModel) ActiveID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeID
}

// Summaries returns the cached list.
func (vm *ViewModel) Summaries() []chat.ChatSummary {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.summaries
}

// Messages returns the cached thread.
func (vm *ViewModel) Messages() []chat.DisplayMessage {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.messages
}

// Status returns the cached status; never nil.
func (vm *ViewModel) Status() api.StatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil {
		return api.StatusResponse{State: "UNKNOWN"}
	}
	return *vm.status
}

// ActiveName resolves the display name of the open conversation.
func (vm *ViewModel) ActiveName() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, s := range vm.summaries {
		if s.ID == vm.activeID {
			return s.Name
		}
	}
	return vm.activeID
}
