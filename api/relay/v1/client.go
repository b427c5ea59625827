package relayv1

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls the relay over a gRPC connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, "Register", in, opts)
}

func (c *Client) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, "Login", in, opts)
}

func (c *Client) PublicKey(ctx context.Context, in *PublicKeyRequest, opts ...grpc.CallOption) (*PublicKeyResponse, error) {
	return invoke[PublicKeyResponse](ctx, c.cc, "PublicKey", in, opts)
}

func (c *Client) AccessDirect(ctx context.Context, in *AccessDirectRequest, opts ...grpc.CallOption) (*ConversationResponse, error) {
	return invoke[ConversationResponse](ctx, c.cc, "AccessDirect", in, opts)
}

func (c *Client) CreateGroup(ctx context.Context, in *CreateGroupRequest, opts ...grpc.CallOption) (*ConversationResponse, error) {
	return invoke[ConversationResponse](ctx, c.cc, "CreateGroup", in, opts)
}

func (c *Client) GetChat(ctx context.Context, in *ChatRequest, opts ...grpc.CallOption) (*ConversationResponse, error) {
	return invoke[ConversationResponse](ctx, c.cc, "GetChat", in, opts)
}

func (c *Client) ListChats(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ConversationsResponse, error) {
	return invoke[ConversationsResponse](ctx, c.cc, "ListChats", in, opts)
}

func (c *Client) Groups(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*GroupsResponse, error) {
	return invoke[GroupsResponse](ctx, c.cc, "Groups", in, opts)
}

func (c *Client) AdminPending(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ConversationsResponse, error) {
	return invoke[ConversationsResponse](ctx, c.cc, "AdminPending", in, opts)
}

func (c *Client) RequestJoin(ctx context.Context, in *ChatRequest, opts ...grpc.CallOption) (*MembershipResponse, error) {
	return invoke[MembershipResponse](ctx, c.cc, "RequestJoin", in, opts)
}

func (c *Client) Approve(ctx context.Context, in *ApproveRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "Approve", in, opts)
}

func (c *Client) Decline(ctx context.Context, in *DeclineRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "Decline", in, opts)
}

func (c *Client) Exit(ctx context.Context, in *ChatRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "Exit", in, opts)
}

func (c *Client) MembershipState(ctx context.Context, in *ChatRequest, opts ...grpc.CallOption) (*MembershipResponse, error) {
	return invoke[MembershipResponse](ctx, c.cc, "MembershipState", in, opts)
}

func (c *Client) Send(ctx context.Context, in *SendRequest, opts ...grpc.CallOption) (*MessageResponse, error) {
	return invoke[MessageResponse](ctx, c.cc, "Send", in, opts)
}

func (c *Client) Page(ctx context.Context, in *PageRequest, opts ...grpc.CallOption) (*PageResponse, error) {
	return invoke[PageResponse](ctx, c.cc, "Page", in, opts)
}

func (c *Client) MarkRead(ctx context.Context, in *ChatRequest, opts ...grpc.CallOption) (*CountResponse, error) {
	return invoke[CountResponse](ctx, c.cc, "MarkRead", in, opts)
}

func (c *Client) UnreadCount(ctx context.Context, in *ChatRequest, opts ...grpc.CallOption) (*CountResponse, error) {
	return invoke[CountResponse](ctx, c.cc, "UnreadCount", in, opts)
}

func (c *Client) ListUnread(ctx context.Context, in *ListUnreadRequest, opts ...grpc.CallOption) (*MessagesResponse, error) {
	return invoke[MessagesResponse](ctx, c.cc, "ListUnread", in, opts)
}

func (c *Client) DeleteAll(ctx context.Context, in *ChatRequest, opts ...grpc.CallOption) (*CountResponse, error) {
	return invoke[CountResponse](ctx, c.cc, "DeleteAll", in, opts)
}

func (c *Client) GetPresence(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*PresenceResponse, error) {
	return invoke[PresenceResponse](ctx, c.cc, "GetPresence", in, opts)
}
