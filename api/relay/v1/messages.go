package relayv1

import "time"

// Ids travel as canonical uuid strings; byte fields as base64.

type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// WrappedKey is a group key sealed for one member.
type WrappedKey struct {
	MemberID string   `json:"memberId"`
	Key      Envelope `json:"key"`
}

type Conversation struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	IsGroup     bool         `json:"isGroup"`
	AdminID     string       `json:"adminId,omitempty"`
	Members     []string     `json:"members"`
	Pending     []string     `json:"pending,omitempty"`
	Keys        []WrappedKey `json:"keys,omitempty"`
	UnreadCount int64        `json:"unreadCount,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type GroupInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AdminID     string `json:"adminId"`
	MemberCount int    `json:"memberCount"`
}

type ReadMarker struct {
	ReaderID string    `json:"readerId"`
	ReadAt   time.Time `json:"readAt"`
}

type Message struct {
	ID        string       `json:"id"`
	ChatID    string       `json:"chatId"`
	SenderID  string       `json:"senderId"`
	Payload   Envelope     `json:"payload"`
	CreatedAt time.Time    `json:"createdAt"`
	ReadBy    []ReadMarker `json:"readBy,omitempty"`
}

type Presence struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Empty is the reply of calls that return nothing.
type Empty struct{}

type RegisterRequest struct {
	Username          string `json:"username"`
	Password          string `json:"password"`
	PublicKey         []byte `json:"publicKey"`
	WrappedPrivateKey []byte `json:"wrappedPrivateKey"`
	Salt              []byte `json:"salt"`
	IV                []byte `json:"iv"`
}

type RegisterResponse struct {
	UserID string `json:"userId"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the wrapped key material; the client unlocks it locally.
type LoginResponse struct {
	AccessToken       string    `json:"accessToken"`
	ExpiresAt         time.Time `json:"expiresAt"`
	UserID            string    `json:"userId"`
	PublicKey         []byte    `json:"publicKey"`
	WrappedPrivateKey []byte    `json:"wrappedPrivateKey"`
	Salt              []byte    `json:"salt"`
	IV                []byte    `json:"iv"`
}

type PublicKeyRequest struct {
	UserID string `json:"userId"`
}

type PublicKeyResponse struct {
	UserID    string `json:"userId"`
	PublicKey []byte `json:"publicKey"`
}

type AccessDirectRequest struct {
	PeerID string `json:"peerId"`
}

// CreateGroupRequest lists one wrapped key per member, the caller's own included.
type CreateGroupRequest struct {
	Name string       `json:"name"`
	Keys []WrappedKey `json:"keys"`
}

type ChatRequest struct {
	ChatID string `json:"chatId"`
}

type ConversationResponse struct {
	Conversation Conversation `json:"conversation"`
}

type ConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

type GroupsResponse struct {
	Groups []GroupInfo `json:"groups"`
}

// ApproveRequest carries the group key re-wrapped for UserID.
type ApproveRequest struct {
	ChatID string   `json:"chatId"`
	UserID string   `json:"userId"`
	Key    Envelope `json:"key"`
}

type DeclineRequest struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type MembershipResponse struct {
	State string `json:"state"` // none | pending | member
}

type SendRequest struct {
	ChatID  string   `json:"chatId"`
	Payload Envelope `json:"payload"`
}

type MessageResponse struct {
	Message Message `json:"message"`
}

type PageRequest struct {
	ChatID string `json:"chatId"`
	Page   int    `json:"page,omitempty"`
	Size   int    `json:"size,omitempty"`
}

type PageResponse struct {
	Messages   []Message `json:"messages"`
	Page       int       `json:"page"`
	TotalPages int       `json:"totalPages"`
}

type ListUnreadRequest struct {
	ChatID string `json:"chatId"`
	Limit  int    `json:"limit,omitempty"`
}

type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type PresenceRequest struct {
	UserIDs []string `json:"userIds"`
}

type PresenceResponse struct {
	Statuses []Presence `json:"statuses"`
}
