package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/cipher-relay/internal/token"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = pongWait * 9 / 10
	maxFrameSize      = 64 << 10
	defaultSendBuffer = 64
)

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	Verify(tok string) (uuid.UUID, error)
}

// HandlerConfig tunes the websocket endpoint.
type HandlerConfig struct {
	SendBuffer  int                      // outbound frames queued per session
	CheckOrigin func(*http.Request) bool // nil allows any origin
}

// Handler upgrades authenticated requests and runs one Session per connection.
type Handler struct {
	hub      *Hub
	tokens   TokenVerifier
	chats    Membership
	msgs     MessageSender
	log      *zap.Logger
	buffer   int
	upgrader websocket.Upgrader
}

// NewHandler constructs the websocket endpoint.
func NewHandler(hub *Hub, tokens TokenVerifier, chats Membership, msgs MessageSender, log *zap.Logger, cfg HandlerConfig) *Handler {
	check := cfg.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub:    hub,
		tokens: tokens,
		chats:  chats,
		msgs:   msgs,
		log:    log,
		buffer: cfg.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     check,
		},
	}
}

// bearer reads the token from the Authorization header, falling back to ?token=
// for clients that cannot set headers on a websocket handshake.
func bearer(r *http.Request) string {
	if t, ok := token.FromHeader(r.Header.Get("Authorization")); ok {
		return t
	}
	return r.URL.Query().Get("token")
}

// ServeHTTP rejects the handshake with 401 before upgrading when the token is absent or invalid.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokens.Verify(bearer(r))
	if err != nil {
		h.log.Info("ws handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}

	s := newSession(userID, h.hub, h.chats, h.msgs, h.log, h.buffer)
	if !h.hub.attach(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	s.log.Debug("ws connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.writePump(conn)
	go func() {
		<-s.done
		cancel()
	}()
	s.readPump(ctx, conn)

	s.close()
	// ctx is already cancelled here; presence must still be released.
	dctx, dcancel := context.WithTimeout(context.Background(), writeWait)
	h.hub.detach(dctx, s)
	dcancel()
	s.log.Debug("ws disconnected")
}

func (s *Session) readPump(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("ws read", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			s.fail("", CodeBadRequest, "text frames only")
			continue
		}
		s.handle(ctx, data)
	}
}

func (s *Session) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case frame := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
