package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "convsync.v1.ChatService"

// ChatServer is the server side of the daemon API.
type ChatServer interface {
	GetStatus(context.Context, *Empty) (*StatusResponse, error)
	ListSummaries(context.Context, *Empty) (*ListSummariesResponse, error)
	SelectConversation(context.Context, *ConversationRequest) (*Empty, error)
	ListMessages(context.Context, *ConversationRequest) (*ListMessagesResponse, error)
	SendText(context.Context, *SendTextRequest) (*SendTextResponse, error)
	MarkRead(context.Context, *ConversationRequest) (*Empty, error)
	CreateConversation(context.Context, *CreateConversationRequest) (*CreateConversationResponse, error)
	Reconnect(context.Context, *Empty) (*Empty, error)
	RetryFailed(context.Context, *RetryFailedRequest) (*Empty, error)
	WatchEvents(*WatchEventsRequest, EventStream) error
}

// EventStream is the server end of WatchEvents.
type EventStream interface {
	Send(*EventEnvelope) error
	Context() context.Context
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(e *EventEnvelope) error {
	return s.ServerStream.SendMsg(e)
}

// ServiceDesc describes ChatService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", ChatServer.GetStatus),
		unary("ListSummaries", ChatServer.ListSummaries),
		unary("SelectConversation", ChatServer.SelectConversation),
		unary("ListMessages", ChatServer.ListMessages),
		unary("SendText", ChatServer.SendText),
		unary("MarkRead", ChatServer.MarkRead),
		unary("CreateConversation", ChatServer.CreateConversation),
		unary("Reconnect", ChatServer.Reconnect),
		unary("RetryFailed", ChatServer.RetryFailed),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "convsync/v1/chat",
}

// RegisterChatServer registers srv on s.
func RegisterChatServer(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(ChatServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServer).WatchEvents(in, &eventStream{stream})
}
