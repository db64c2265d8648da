package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/armando3069/zottis/internal/auth"
	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/conversation"
	"github.com/armando3069/zottis/internal/message"
)

const queryTimeout = 10 * time.Second

type conversationReader interface {
	ListForUser(ctx context.Context, userID string, platform channel.Platform) ([]conversation.Conversation, error)
	GetForUser(ctx context.Context, userID, id string) (conversation.Conversation, error)
}

type messageReader interface {
	ListByConversation(ctx context.Context, conversationID string) ([]message.Message, error)
}

type getMessagesRequest struct {
	ConversationID string `json:"conversationId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Handler upgrades GET /ws and serves the query events of a session.
type Handler struct {
	hub           *Hub
	conversations conversationReader
	messages      messageReader
	jwtSecret     string
	upgrader      websocket.Upgrader
	logger        *slog.Logger
}

// NewHandler creates the websocket handler.
func NewHandler(log *slog.Logger, hub *Hub, conversations conversationReader, messages messageReader, jwtSecret string) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		hub:           hub,
		conversations: conversations,
		messages:      messages,
		jwtSecret:     jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.With(slog.String("handler", "realtime")),
	}
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.Serve)
}

// Serve godoc
// @Summary Open a realtime session
// @Description Token is read from the token or auth query parameter, or a Bearer Authorization header
// @Tags realtime
// @Param token query string false "JWT"
// @Success 101
// @Router /ws [get]
func (h *Handler) Serve(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return nil
	}
	userID, err := auth.ParseUserID(handshakeToken(c.Request()), h.jwtSecret)
	if err != nil {
		deadline := time.Now().Add(writeWait)
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), deadline)
		_ = ws.Close()
		return nil
	}

	client := NewClient(userID, ws)
	h.hub.Join(client)
	h.logger.Info("realtime session opened", slog.String("user_id", userID), slog.String("client_id", client.ID))

	go client.writePump()
	client.readPump(func(data []byte) {
		h.handleFrame(client, data)
	})

	h.hub.Leave(client)
	client.Close(websocket.CloseNormalClosure, "")
	h.logger.Info("realtime session closed", slog.String("user_id", userID), slog.String("client_id", client.ID))
	return nil
}

func (h *Handler) handleFrame(client *Client, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.reply(client, EventError, errorPayload{Message: "invalid frame"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	switch frame.Event {
	case EventGetConversations:
		items, err := h.conversations.ListForUser(ctx, client.UserID, "")
		if err != nil {
			h.logger.Error("list conversations failed", slog.String("user_id", client.UserID), slog.Any("error", err))
			h.reply(client, EventError, errorPayload{Message: "failed to load conversations"})
			return
		}
		h.reply(client, EventConversations, items)
	case EventGetMessages:
		var req getMessagesRequest
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &req); err != nil {
				h.reply(client, EventError, errorPayload{Message: "invalid getMessages payload"})
				return
			}
		}
		req.ConversationID = strings.TrimSpace(req.ConversationID)
		if req.ConversationID == "" {
			h.reply(client, EventError, errorPayload{Message: "conversationId is required"})
			return
		}
		if _, err := h.conversations.GetForUser(ctx, client.UserID, req.ConversationID); err != nil {
			if !conversation.IsNotFound(err) {
				h.logger.Error("load conversation failed", slog.String("conversation_id", req.ConversationID), slog.Any("error", err))
			}
			h.reply(client, EventError, errorPayload{Message: "conversation not found"})
			return
		}
		items, err := h.messages.ListByConversation(ctx, req.ConversationID)
		if err != nil {
			h.logger.Error("list messages failed", slog.String("conversation_id", req.ConversationID), slog.Any("error", err))
			h.reply(client, EventError, errorPayload{Message: "failed to load messages"})
			return
		}
		h.reply(client, EventMessages, items)
	default:
		h.reply(client, EventError, errorPayload{Message: "unknown event " + frame.Event})
	}
}

func (h *Handler) reply(client *Client, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Warn("encode realtime frame failed", slog.String("event", event), slog.Any("error", err))
		return
	}
	_ = client.Send(frame)
}

func handshakeToken(r *http.Request) string {
	q := r.URL.Query()
	if token := strings.TrimSpace(q.Get("token")); token != "" {
		return token
	}
	if token := strings.TrimSpace(q.Get("auth")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("Authorization"))
}
