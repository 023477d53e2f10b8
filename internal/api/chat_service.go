package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/convsync/internal/backend"
	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/core"
	"github.com/matheus3301/convsync/internal/outbox"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Surface is the core contract the service exposes.
type Surface interface {
	Snapshot() core.View
	Summaries() []chat.ChatSummary
	ActiveID() string
	ActiveMessages() []chat.DisplayMessage
	PendingCount() int
	SelectConversation(id string)
	TrySend(conversationID, content string) (bool, error)
	MarkRead(conversationID string)
	CreateConversation(ctx context.Context, participantID string) (chat.ConversationRecord, error)
	Reconnect()
	RetryFailed(clientID string) error
}

// DefaultNamespaces are streamed when a watcher names none.
var DefaultNamespaces = []string{"conn.", "outbox.", "view."}

// ChatService implements ChatServer on top of a Surface.
type ChatService struct {
	surface   Surface
	bus       *bus.Bus
	profile   string
	startedAt time.Time
}

// NewChatService creates the service for one profile.
func NewChatService(s Surface, b *bus.Bus, profile string) *ChatService {
	return &ChatService{
		surface:   s,
		bus:       b,
		profile:   profile,
		startedAt: time.Now(),
	}
}

func (s *ChatService) GetStatus(_ context.Context, _ *Empty) (*StatusResponse, error) {
	v := s.surface.Snapshot()
	return &StatusResponse{
		Profile:       s.profile,
		State:         string(v.State),
		Connected:     v.Connected,
		PendingCount:  v.PendingCount,
		ActiveID:      v.ActiveID,
		LocalUserID:   v.LocalUserID,
		UptimeMs:      time.Since(s.startedAt).Milliseconds(),
		Failed:        v.Failed,
		DroppedEvents: s.bus.Dropped(),
	}, nil
}

func (s *ChatService) ListSummaries(_ context.Context, _ *Empty) (*ListSummariesResponse, error) {
	return &ListSummariesResponse{Summaries: s.surface.Summaries()}, nil
}

func (s *ChatService) SelectConversation(_ context.Context, req *ConversationRequest) (*Empty, error) {
	s.surface.SelectConversation(req.ConversationID)
	return &Empty{}, nil
}

func (s *ChatService) ListMessages(_ context.Context, req *ConversationRequest) (*ListMessagesResponse, error) {
	active := s.surface.ActiveID()
	if req.ConversationID != "" && req.ConversationID != active {
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "conversation %q is not selected", req.ConversationID)
	}
	return &ListMessagesResponse{
		ConversationID: active,
		Messages:       s.surface.ActiveMessages(),
	}, nil
}

func (s *ChatService) SendText(_ context.Context, req *SendTextRequest) (*SendTextResponse, error) {
	delivered, err := s.surface.TrySend(req.ConversationID, req.Content)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendTextResponse{
		Delivered:    delivered,
		PendingCount: s.surface.PendingCount(),
	}, nil
}

func (s *ChatService) MarkRead(_ context.Context, req *ConversationRequest) (*Empty, error) {
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation id is required")
	}
	s.surface.MarkRead(req.ConversationID)
	return &Empty{}, nil
}

func (s *ChatService) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*CreateConversationResponse, error) {
	if strings.TrimSpace(req.ParticipantID) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "participant id is required")
	}
	rec, err := s.surface.CreateConversation(ctx, req.ParticipantID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateConversationResponse{Conversation: rec}, nil
}

func (s *ChatService) Reconnect(_ context.Context, _ *Empty) (*Empty, error) {
	s.surface.Reconnect()
	return &Empty{}, nil
}

func (s *ChatService) RetryFailed(_ context.Context, req *RetryFailedRequest) (*Empty, error) {
	if err := s.surface.RetryFailed(req.ClientID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) WatchEvents(req *WatchEventsRequest, stream EventStream) error {
	namespaces := req.Namespaces
	if len(namespaces) == 0 {
		namespaces = DefaultNamespaces
	}

	merged := make(chan bus.Event, 256)
	for _, ns := range namespaces {
		ch, unsub := s.bus.Subscribe(ns, 256)
		defer unsub()
		go forward(stream.Context(), ch, merged)
	}

	for {
		select {
		case evt := <-merged:
			if err := stream.Send(&EventEnvelope{
				EventID:          uuid.New().String(),
				Profile:          s.profile,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Kind:             evt.Kind,
				ConversationID:   evt.ConversationID,
				PayloadVersion:   1,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func forward(ctx context.Context, in <-chan bus.Event, out chan<- bus.Event) {
	for {
		select {
		case evt := <-in:
			select {
			case out <- evt:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}

func toStatus(err error) error {
	var se *backend.StatusError
	switch {
	case errors.Is(err, core.ErrEmptyMessage), errors.Is(err, core.ErrNoConversation):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, outbox.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, core.ErrNotAuthenticated):
		return grpcstatus.Error(codes.Unauthenticated, err.Error())
	case errors.As(err, &se):
		return grpcstatus.Errorf(codes.Unavailable, "backing store: %v", err)
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}
