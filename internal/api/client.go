package api

import (
	"context"

	"google.golang.org/grpc"
)

// ChatClient is the client side of the daemon API. Calls are sent with the
// JSON content subtype.
type ChatClient struct {
	cc grpc.ClientConnInterface
}

// NewChatClient wraps an established connection.
func NewChatClient(cc grpc.ClientConnInterface) *ChatClient {
	return &ChatClient{cc: cc}
}

func (c *ChatClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
}

func (c *ChatClient) GetStatus(ctx context.Context) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.invoke(ctx, "GetStatus", &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatClient) ListSummaries(ctx context.Context) (*ListSummariesResponse, error) {
	out := new(ListSummariesResponse)
	if err := c.invoke(ctx, "ListSummaries", &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatClient) SelectConversation(ctx context.Context, conversationID string) error {
	return c.invoke(ctx, "SelectConversation", &ConversationRequest{ConversationID: conversationID}, &Empty{})
}

func (c *ChatClient) ListMessages(ctx context.Context, conversationID string) (*ListMessagesResponse, error) {
	out := new(ListMessagesResponse)
	if err := c.invoke(ctx, "ListMessages", &ConversationRequest{ConversationID: conversationID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatClient) SendText(ctx context.Context, conversationID, content string) (*SendTextResponse, error) {
	out := new(SendTextResponse)
	in := &SendTextRequest{ConversationID: conversationID, Content: content}
	if err := c.invoke(ctx, "SendText", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatClient) MarkRead(ctx context.Context, conversationID string) error {
	return c.invoke(ctx, "MarkRead", &ConversationRequest{ConversationID: conversationID}, &Empty{})
}

func (c *ChatClient) CreateConversation(ctx context.Context, participantID string) (*CreateConversationResponse, error) {
	out := new(CreateConversationResponse)
	if err := c.invoke(ctx, "CreateConversation", &CreateConversationRequest{ParticipantID: participantID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatClient) Reconnect(ctx context.Context) error {
	return c.invoke(ctx, "Reconnect", &Empty{}, &Empty{})
}

func (c *ChatClient) RetryFailed(ctx context.Context, clientID string) error {
	return c.invoke(ctx, "RetryFailed", &RetryFailedRequest{ClientID: clientID}, &Empty{})
}

// EventReceiver reads a WatchEvents stream.
type EventReceiver struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event.
func (r *EventReceiver) Recv() (*EventEnvelope, error) {
	m := new(EventEnvelope)
	if err := r.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// WatchEvents opens the event stream. Cancel ctx to close it.
func (c *ChatClient) WatchEvents(ctx context.Context, namespaces ...string) (*EventReceiver, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("WatchEvents"), grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchEventsRequest{Namespaces: namespaces}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventReceiver{stream: stream}, nil
}
