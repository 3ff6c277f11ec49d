package api

import (
	"context"

	"google.golang.org/grpc"
)

const (
	sessionServiceName = "paperchat.v1.SessionService"
	chatServiceName    = "paperchat.v1.ChatService"
)

// SessionServer is the daemon's session surface.
type SessionServer interface {
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	Login(context.Context, *LoginRequest) (*StatusResponse, error)
	Logout(context.Context, *Empty) (*Empty, error)
}

// ChatServer is the daemon's chat surface.
type ChatServer interface {
	Open(context.Context, *OpenRequest) (*OpenResponse, error)
	Close(context.Context, *Empty) (*Empty, error)
	Send(context.Context, *SendRequest) (*SendResponse, error)
	Typing(context.Context, *Empty) (*Empty, error)
	MarkRead(context.Context, *MarkReadRequest) (*MarkReadResponse, error)
	Retry(context.Context, *MessageRequest) (*Empty, error)
	Delete(context.Context, *MessageRequest) (*Empty, error)
	Clear(context.Context, *Empty) (*Empty, error)
	Dismiss(context.Context, *DismissRequest) (*Empty, error)
	OpenNotification(context.Context, *MessageRequest) (*OpenResponse, error)
	Snapshot(context.Context, *Empty) (*SnapshotResponse, error)
	Recent(context.Context, *RecentRequest) (*RecentResponse, error)
	Search(context.Context, *SearchRequest) (*MessagesResponse, error)
	SearchUsers(context.Context, *SearchRequest) (*UsersResponse, error)
	Users(context.Context, *Empty) (*UsersResponse, error)
	Conversations(context.Context, *ConversationsRequest) (*ConversationsResponse, error)
	Watch(*WatchRequest, grpc.ServerStream) error
}

// unary adapts a typed method to grpc's untyped unary handler.
func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			})
		},
	}
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: sessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(sessionServiceName, "Status", SessionServer.Status),
		unary(sessionServiceName, "Login", SessionServer.Login),
		unary(sessionServiceName, "Logout", SessionServer.Logout),
	},
}

var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: chatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(chatServiceName, "Open", ChatServer.Open),
		unary(chatServiceName, "Close", ChatServer.Close),
		unary(chatServiceName, "Send", ChatServer.Send),
		unary(chatServiceName, "Typing", ChatServer.Typing),
		unary(chatServiceName, "MarkRead", ChatServer.MarkRead),
		unary(chatServiceName, "Retry", ChatServer.Retry),
		unary(chatServiceName, "Delete", ChatServer.Delete),
		unary(chatServiceName, "Clear", ChatServer.Clear),
		unary(chatServiceName, "Dismiss", ChatServer.Dismiss),
		unary(chatServiceName, "OpenNotification", ChatServer.OpenNotification),
		unary(chatServiceName, "Snapshot", ChatServer.Snapshot),
		unary(chatServiceName, "Recent", ChatServer.Recent),
		unary(chatServiceName, "Search", ChatServer.Search),
		unary(chatServiceName, "SearchUsers", ChatServer.SearchUsers),
		unary(chatServiceName, "Users", ChatServer.Users),
		unary(chatServiceName, "Conversations", ChatServer.Conversations),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(WatchRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(ChatServer).Watch(in, stream)
			},
		},
	},
}

// RegisterSessionServer registers s on srv.
func RegisterSessionServer(srv grpc.ServiceRegistrar, s SessionServer) {
	srv.RegisterService(&sessionServiceDesc, s)
}

// RegisterChatServer registers s on srv.
func RegisterChatServer(srv grpc.ServiceRegistrar, s ChatServer) {
	srv.RegisterService(&chatServiceDesc, s)
}
