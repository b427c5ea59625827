package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/cipher-relay/internal/model"
)

// State is the position of a Session in its lifecycle.
type State int

// States. Unauthenticated connections never get a Session: the handshake rejects them.
const (
	StateAuthenticated State = iota + 1
	StateSubscribed
)

// Membership answers whether an identity may join a conversation room.
type Membership interface {
	IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
}

// MessageSender stores an envelope and triggers its fan-out.
type MessageSender interface {
	Send(ctx context.Context, senderID, chatID uuid.UUID, env model.Envelope) (*model.Message, error)
}

// Session is one authenticated connection. handle and detach run on the session's
// read goroutine only; enqueue may be called from anywhere.
type Session struct {
	id     string
	userID uuid.UUID
	hub    *Hub
	chats  Membership
	msgs   MessageSender
	log    *zap.Logger

	state State

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(userID uuid.UUID, hub *Hub, chats Membership, msgs MessageSender, log *zap.Logger, buffer int) *Session {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	id := uuid.Must(uuid.NewV4()).String()
	return &Session{
		id:     id,
		userID: userID,
		hub:    hub,
		chats:  chats,
		msgs:   msgs,
		log:    log.With(zap.String("session", id), zap.String("user", userID.String())),
		state:  StateAuthenticated,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// ID returns the session id used to exclude the originator from relays.
func (s *Session) ID() string { return s.id }

// enqueue queues a frame for the writer; a full queue drops it.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) emit(event string, data any) {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		s.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	if !s.enqueue(frame) {
		s.log.Warn("drop frame", zap.String("event", event))
	}
}

func (s *Session) fail(event, code, msg string) {
	s.emit(EventError, ErrorPayload{Code: code, Event: event, Message: msg})
}

func (s *Session) failErr(event string, err error) {
	code := codeFor(err)
	if code == CodeInternal {
		s.log.Error("event failed", zap.String("event", event), zap.Error(err))
		s.fail(event, code, "internal error")
		return
	}
	s.fail(event, code, err.Error())
}

// close stops the writer. It is idempotent.
func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// handle dispatches one client frame.
func (s *Session) handle(ctx context.Context, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
		s.fail("", CodeBadRequest, "frame must be {\"event\", \"data\"}")
		return
	}
	if s.state < StateSubscribed && f.Event != EventSetup {
		s.fail(f.Event, CodeSetupRequired, "send setup first")
		return
	}

	switch f.Event {
	case EventSetup:
		s.setup(ctx, f.Data)
	case EventJoinChat:
		s.joinChat(ctx, f.Data)
	case EventLeaveChat:
		s.leaveChat(f.Data)
	case EventTyping, EventStopTyping:
		s.typing(ctx, f.Event, f.Data)
	case EventNewMessage:
		s.newMessage(ctx, f.Data)
	default:
		s.fail(f.Event, CodeUnknownEvent, fmt.Sprintf("unknown event %q", f.Event))
	}
}

func (s *Session) setup(ctx context.Context, data json.RawMessage) {
	if len(data) > 0 && string(data) != "null" {
		var p SetupPayload
		if err := json.Unmarshal(data, &p); err != nil {
			s.fail(EventSetup, CodeBadRequest, "bad setup payload")
			return
		}
		if p.UserID != uuid.Nil && p.UserID != s.userID {
			s.fail(EventSetup, CodeForbidden, "identity does not match token")
			return
		}
	}
	if s.state == StateSubscribed {
		s.emit(EventConnected, ConnectedPayload{UserID: s.userID})
		return
	}
	s.state = StateSubscribed
	s.hub.subscribe(ctx, s)
	s.emit(EventConnected, ConnectedPayload{UserID: s.userID})
	s.log.Debug("session subscribed")
}

func (s *Session) chatRef(event string, data json.RawMessage) (uuid.UUID, bool) {
	var ref ChatRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.ConversationID == uuid.Nil {
		s.fail(event, CodeBadRequest, "conversationId is required")
		return uuid.Nil, false
	}
	return ref.ConversationID, true
}

func (s *Session) joinChat(ctx context.Context, data json.RawMessage) {
	chatID, ok := s.chatRef(EventJoinChat, data)
	if !ok {
		return
	}
	member, err := s.chats.IsMember(ctx, chatID, s.userID)
	if err != nil {
		s.failErr(EventJoinChat, err)
		return
	}
	if !member {
		s.fail(EventJoinChat, CodeForbidden, "not a member of the conversation")
		return
	}
	s.hub.joinRoom(chatID, s)
}

func (s *Session) leaveChat(data json.RawMessage) {
	chatID, ok := s.chatRef(EventLeaveChat, data)
	if !ok {
		return
	}
	s.hub.leaveRoom(chatID, s)
}

// typing relays to the room except this session. The originator owns the stop signal.
func (s *Session) typing(ctx context.Context, event string, data json.RawMessage) {
	chatID, ok := s.chatRef(event, data)
	if !ok {
		return
	}
	if !s.hub.inRoom(chatID, s) {
		s.fail(event, CodeForbidden, "join the conversation first")
		return
	}
	s.hub.publish(ctx, ScopeRoom, []uuid.UUID{chatID}, s.id, event,
		TypingPayload{ConversationID: chatID, UserID: s.userID})
}

func (s *Session) newMessage(ctx context.Context, data json.RawMessage) {
	var p NewMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == uuid.Nil {
		s.fail(EventNewMessage, CodeBadRequest, "conversationId, ciphertext and nonce are required")
		return
	}
	m, err := s.msgs.Send(ctx, s.userID, p.ConversationID, model.Envelope{Ciphertext: p.Ciphertext, Nonce: p.Nonce})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.failErr(EventNewMessage, err)
		return
	}
	s.emit(EventMessageSent, messagePayload(*m))
}
