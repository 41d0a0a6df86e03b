package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"order-hub/internal/auth"
	"order-hub/internal/repo"

	"github.com/gorilla/websocket"
	jujuerrors "github.com/juju/errors"
)

const (
	defaultReadTimeout = 60 * time.Second
	maxFrameBytes      = 64 << 10
)

// RoomAuthorizer resolves entities by tenant so a connection can only join
// rooms of conversations and orders its tenant owns.
type RoomAuthorizer interface {
	GetConversation(ctx context.Context, tenantID, id string) (*repo.Conversation, error)
	GetOrder(ctx context.Context, tenantID, id string) (*repo.Order, error)
}

// Handler upgrades authenticated requests to websocket connections.
type Handler struct {
	hub             *Hub
	broadcaster     *Broadcaster
	tokens          *auth.Tokens
	authorizer      RoomAuthorizer
	logger          *slog.Logger
	upgrader        websocket.Upgrader
	inflightTimeout time.Duration
}

// NewHandler builds the websocket endpoint.
func NewHandler(hub *Hub, broadcaster *Broadcaster, tokens *auth.Tokens, authorizer RoomAuthorizer, logger *slog.Logger) *Handler {
	return &Handler{
		hub:         hub,
		broadcaster: broadcaster,
		tokens:      tokens,
		authorizer:  authorizer,
		logger:      logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Bearer tokens, not cookies, authenticate the socket.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		inflightTimeout: 5 * time.Second,
	}
}

type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	OrderID        string `json:"orderId,omitempty"`
	IsTyping       *bool  `json:"isTyping,omitempty"`
}

type ackFrame struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	UserID   string `json:"userId,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// ServeHTTP authenticates the handshake, then processes frames until the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.tokens.Verify(auth.FromRequest(r))
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(id, ws)
	h.hub.Attach(conn)
	defer func() {
		h.hub.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
	})

	h.reply(conn, ackFrame{Type: "connected", Room: TenantRoom(id.TenantID), UserID: id.UserID, TenantID: id.TenantID})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug("websocket read ended", "user_id", id.UserID, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.replyError(conn, "bad_request", "invalid payload")
			continue
		}

		switch frame.Type {
		case "join":
			h.handleJoin(r.Context(), conn, frame)
		case "leave":
			h.handleLeave(conn, frame)
		case "typing":
			h.handleTyping(conn, frame)
		case "ping":
			h.reply(conn, ackFrame{Type: "pong"})
		default:
			h.replyError(conn, "unsupported_type", "unknown frame type")
		}
	}
}

func (h *Handler) handleJoin(ctx context.Context, conn *Connection, frame inboundFrame) {
	room, err := h.authorizeRoom(ctx, conn.Identity, frame)
	if err != nil {
		h.replyErr(conn, err)
		return
	}
	h.hub.Join(room, conn)
	h.reply(conn, ackFrame{Type: "joined", Room: room})
}

func (h *Handler) handleLeave(conn *Connection, frame inboundFrame) {
	room, err := roomFor(frame)
	if err != nil {
		h.replyErr(conn, err)
		return
	}
	h.hub.Leave(room, conn)
	h.reply(conn, ackFrame{Type: "left", Room: room})
}

func (h *Handler) handleTyping(conn *Connection, frame inboundFrame) {
	if frame.ConversationID == "" {
		h.replyError(conn, "bad_request", "conversationId is required")
		return
	}
	room := ConversationRoom(frame.ConversationID)
	if !h.hub.IsMember(room, conn) {
		h.replyError(conn, "forbidden", "join the conversation before typing")
		return
	}
	typing := true
	if frame.IsTyping != nil {
		typing = *frame.IsTyping
	}
	h.broadcaster.EmitExcept(room, EventUserTyping, conn.Identity.UserID, UserTyping{
		ConversationID: frame.ConversationID,
		UserID:         conn.Identity.UserID,
		IsTyping:       typing,
	})
}

func (h *Handler) authorizeRoom(ctx context.Context, id auth.Identity, frame inboundFrame) (string, error) {
	room, err := roomFor(frame)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, h.inflightTimeout)
	defer cancel()

	switch {
	case frame.ConversationID != "":
		_, err = h.authorizer.GetConversation(ctx, id.TenantID, frame.ConversationID)
	case frame.OrderID != "":
		_, err = h.authorizer.GetOrder(ctx, id.TenantID, frame.OrderID)
	}
	if jujuerrors.Is(err, jujuerrors.NotFound) {
		// Another tenant's entity looks the same as a missing one.
		return "", jujuerrors.Forbiddenf("room %s", room)
	}
	if err != nil {
		return "", err
	}
	return room, nil
}

func roomFor(frame inboundFrame) (string, error) {
	switch {
	case frame.ConversationID != "" && frame.OrderID != "":
		return "", jujuerrors.NotValidf("frame naming both a conversation and an order")
	case frame.ConversationID != "":
		return ConversationRoom(frame.ConversationID), nil
	case frame.OrderID != "":
		return OrderRoom(frame.OrderID), nil
	default:
		return "", jujuerrors.NotValidf("frame without conversationId or orderId")
	}
}

func (h *Handler) replyErr(conn *Connection, err error) {
	switch {
	case jujuerrors.Is(err, jujuerrors.Forbidden):
		h.replyError(conn, "forbidden", err.Error())
	case jujuerrors.Is(err, jujuerrors.NotValid):
		h.replyError(conn, "bad_request", err.Error())
	default:
		h.logger.Error("room authorization failed", "user_id", conn.Identity.UserID, "error", err)
		h.replyError(conn, "internal_error", "unexpected error")
	}
}

func (h *Handler) reply(conn *Connection, frame any) {
	if payload, err := json.Marshal(frame); err == nil {
		_ = conn.Send(payload)
	}
}

func (h *Handler) replyError(conn *Connection, code, message string) {
	h.reply(conn, errorFrame{Type: "error", Code: code, Error: message})
}
