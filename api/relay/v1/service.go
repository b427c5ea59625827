package relayv1

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "relay.v1.Relay"

// FullMethod returns the gRPC path of a relay method.
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// RelayServer is the server API of the relay.
type RelayServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	PublicKey(context.Context, *PublicKeyRequest) (*PublicKeyResponse, error)

	AccessDirect(context.Context, *AccessDirectRequest) (*ConversationResponse, error)
	CreateGroup(context.Context, *CreateGroupRequest) (*ConversationResponse, error)
	GetChat(context.Context, *ChatRequest) (*ConversationResponse, error)
	ListChats(context.Context, *Empty) (*ConversationsResponse, error)
	Groups(context.Context, *Empty) (*GroupsResponse, error)
	AdminPending(context.Context, *Empty) (*ConversationsResponse, error)

	RequestJoin(context.Context, *ChatRequest) (*MembershipResponse, error)
	Approve(context.Context, *ApproveRequest) (*Empty, error)
	Decline(context.Context, *DeclineRequest) (*Empty, error)
	Exit(context.Context, *ChatRequest) (*Empty, error)
	MembershipState(context.Context, *ChatRequest) (*MembershipResponse, error)

	Send(context.Context, *SendRequest) (*MessageResponse, error)
	Page(context.Context, *PageRequest) (*PageResponse, error)
	MarkRead(context.Context, *ChatRequest) (*CountResponse, error)
	UnreadCount(context.Context, *ChatRequest) (*CountResponse, error)
	ListUnread(context.Context, *ListUnreadRequest) (*MessagesResponse, error)
	DeleteAll(context.Context, *ChatRequest) (*CountResponse, error)

	GetPresence(context.Context, *PresenceRequest) (*PresenceResponse, error)
}

func unary[Req, Resp any](method string, call func(RelayServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv.(RelayServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(RelayServer), ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc describes the relay service for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", RelayServer.Register),
		unary("Login", RelayServer.Login),
		unary("PublicKey", RelayServer.PublicKey),
		unary("AccessDirect", RelayServer.AccessDirect),
		unary("CreateGroup", RelayServer.CreateGroup),
		unary("GetChat", RelayServer.GetChat),
		unary("ListChats", RelayServer.ListChats),
		unary("Groups", RelayServer.Groups),
		unary("AdminPending", RelayServer.AdminPending),
		unary("RequestJoin", RelayServer.RequestJoin),
		unary("Approve", RelayServer.Approve),
		unary("Decline", RelayServer.Decline),
		unary("Exit", RelayServer.Exit),
		unary("MembershipState", RelayServer.MembershipState),
		unary("Send", RelayServer.Send),
		unary("Page", RelayServer.Page),
		unary("MarkRead", RelayServer.MarkRead),
		unary("UnreadCount", RelayServer.UnreadCount),
		unary("ListUnread", RelayServer.ListUnread),
		unary("DeleteAll", RelayServer.DeleteAll),
		unary("GetPresence", RelayServer.GetPresence),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "relay/v1/relay.proto",
}

// RegisterRelayServer registers srv on s.
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&ServiceDesc, srv)
}
