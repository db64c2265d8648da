package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/auth"
	"github.com/armando3069/zottis/internal/autoreply"
	"github.com/armando3069/zottis/internal/conversation"
	"github.com/armando3069/zottis/internal/message"
)

type replyGenerator interface {
	GenerateReply(ctx context.Context, userID, conversationID, text string) (string, error)
	ReplyToLatest(ctx context.Context, account accounts.Account, conv conversation.Conversation) (message.Message, error)
}

type AssistantHandler struct {
	replies       replyGenerator
	state         autoreply.State
	conversations conversationReader
	accounts      accountGetter
	logger        *slog.Logger
}

// TestReplyRequest accepts the question as message or text.
type TestReplyRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	Text           string `json:"text"`
}

func (r TestReplyRequest) question() string {
	if q := strings.TrimSpace(r.Message); q != "" {
		return q
	}
	return strings.TrimSpace(r.Text)
}

type AutoReplyToggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type AutoReplyStatusResponse struct {
	Enabled bool `json:"enabled"`
}

type TestReplyResponse struct {
	Reply string `json:"reply"`
}

func NewAssistantHandler(log *slog.Logger, replies replyGenerator, state autoreply.State, conversations conversationReader, accountStore accountGetter) *AssistantHandler {
	return &AssistantHandler{
		replies:       replies,
		state:         state,
		conversations: conversations,
		accounts:      accountStore,
		logger:        log.With(slog.String("handler", "assistant")),
	}
}

func (h *AssistantHandler) Register(e *echo.Echo) {
	group := e.Group("/ai-assistant")
	group.POST("/test-reply", h.TestReply)
	group.POST("/auto-reply/enable", h.SetAutoReply)
	group.GET("/auto-reply/status", h.AutoReplyStatus)
	group.POST("/conversations/:id/auto-reply", h.TriggerAutoReply)
}

// TestReply godoc
// @Summary Generate a reply without sending it
// @Tags assistant
// @Param payload body TestReplyRequest true "Question and optional conversation"
// @Success 200 {object} TestReplyResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /ai-assistant/test-reply [post]
func (h *AssistantHandler) TestReply(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req TestReplyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	question := req.question()
	if question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	ctx := c.Request().Context()
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID != "" {
		if _, err := h.conversations.GetForUser(ctx, userID, conversationID); err != nil {
			return httpError(err)
		}
	}
	reply, err := h.replies.GenerateReply(ctx, userID, conversationID, question)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, TestReplyResponse{Reply: reply})
}

// SetAutoReply godoc
// @Summary Enable or disable automatic replies
// @Tags assistant
// @Param payload body AutoReplyToggleRequest true "Flag"
// @Success 200 {object} AutoReplyStatusResponse
// @Router /ai-assistant/auto-reply/enable [post]
func (h *AssistantHandler) SetAutoReply(c echo.Context) error {
	if _, err := auth.UserIDFromContext(c); err != nil {
		return err
	}
	var req AutoReplyToggleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.state.SetEnabled(c.Request().Context(), *req.Enabled); err != nil {
		return httpError(err)
	}
	h.logger.Info("auto-reply toggled", slog.Bool("enabled", *req.Enabled))
	return c.JSON(http.StatusOK, AutoReplyStatusResponse{Enabled: *req.Enabled})
}

// AutoReplyStatus godoc
// @Summary Report whether automatic replies are enabled
// @Tags assistant
// @Success 200 {object} AutoReplyStatusResponse
// @Router /ai-assistant/auto-reply/status [get]
func (h *AssistantHandler) AutoReplyStatus(c echo.Context) error {
	if _, err := auth.UserIDFromContext(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AutoReplyStatusResponse{Enabled: h.state.Enabled(c.Request().Context())})
}

// TriggerAutoReply godoc
// @Summary Reply to the latest message of a conversation now
// @Tags assistant
// @Param id path string true "Conversation id"
// @Success 200 {object} message.Message
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /ai-assistant/conversations/{id}/auto-reply [post]
func (h *AssistantHandler) TriggerAutoReply(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	conv, err := h.conversations.GetForUser(ctx, userID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	account, err := h.accounts.Get(ctx, conv.PlatformAccountID)
	if err != nil {
		return httpError(err)
	}
	msg, err := h.replies.ReplyToLatest(ctx, account, conv)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, msg)
}
