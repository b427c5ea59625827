// Package realtime delivers events to live websocket connections.
//
// Every connection is a Session. A Session starts Authenticated (the bearer token was
// accepted at the handshake), becomes Subscribed after "setup" and then joins any number
// of conversation rooms. The Hub owns two registries: personal channels (identity to
// sessions) and conversation rooms (conversation to sessions). Events travel through a
// Bus so that several relay nodes can share one fan-out.
package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cipher-relay/internal/errs"
)

// Client events.
const (
	EventSetup      = "setup"
	EventJoinChat   = "join chat"
	EventLeaveChat  = "leave chat"
	EventTyping     = "typing"
	EventStopTyping = "stop typing"
	EventNewMessage = "newMessage"
)

// Server events.
const (
	EventConnected           = "connected"
	EventMessageReceived     = "message received"
	EventMessageSent         = "message sent"
	EventConversationDeleted = "conversationDeleted"
	EventPresence            = "presence:update"
	EventError               = "error"
)

// Error codes carried by EventError.
const (
	CodeBadRequest    = "bad_request"
	CodeSetupRequired = "setup_required"
	CodeUnknownEvent  = "unknown_event"
	CodeForbidden     = "forbidden"
	CodeNotFound      = "not_found"
	CodeMalformedKey  = "malformed_key"
	CodeInternal      = "internal"
)

// Frame is the single wire shape in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SetupPayload optionally restates the identity; it must match the token.
type SetupPayload struct {
	UserID uuid.UUID `json:"userId"`
}

// ChatRef names a conversation.
type ChatRef struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

// TypingPayload is relayed to the rest of the room.
type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
}

// NewMessagePayload is an envelope a client asks the relay to store and fan out.
type NewMessagePayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Ciphertext     []byte    `json:"ciphertext"`
	Nonce          []byte    `json:"nonce"`
}

// MessagePayload is a stored message as pushed to recipients.
type MessagePayload struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	SenderID       uuid.UUID `json:"senderId"`
	Ciphertext     []byte    `json:"ciphertext"`
	Nonce          []byte    `json:"nonce"`
	CreatedAt      time.Time `json:"createdAt"`
}

// DeletedPayload announces a wiped conversation history.
type DeletedPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	DeletedBy      uuid.UUID `json:"deletedBy"`
}

// PresencePayload is broadcast on every online and offline transition.
type PresencePayload struct {
	UserID   uuid.UUID  `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen"`
}

// ConnectedPayload acknowledges setup.
type ConnectedPayload struct {
	UserID uuid.UUID `json:"userId"`
}

// ErrorPayload reports a rejected client event. The connection stays open.
type ErrorPayload struct {
	Code    string `json:"code"`
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// EncodeFrame renders an event with its payload.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, errs.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, errs.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, errs.ErrMalformedKey):
		return CodeMalformedKey
	case errors.Is(err, errs.ErrInvalidArgument):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}
