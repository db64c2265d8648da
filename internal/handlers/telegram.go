package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/auth"
	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/channel/adapters/telegram"
)

const (
	headerTelegramSecret = "X-Telegram-Bot-Api-Secret-Token"
	headerPlatformSecret = "X-Platform-Secret-Token"
)

type TelegramHandler struct {
	accounts      accountConnector
	conversations conversationReader
	messages      messageLister
	sender        replySender
	webhooks      webhookSink
	logger        *slog.Logger
}

type ConnectTelegramRequest struct {
	BotToken string `json:"botToken" validate:"required"`
}

func NewTelegramHandler(log *slog.Logger, accountService accountConnector, conversations conversationReader, messages messageLister, sender replySender, webhooks webhookSink) *TelegramHandler {
	return &TelegramHandler{
		accounts:      accountService,
		conversations: conversations,
		messages:      messages,
		sender:        sender,
		webhooks:      webhooks,
		logger:        log.With(slog.String("handler", "telegram")),
	}
}

func (h *TelegramHandler) Register(e *echo.Echo) {
	e.POST("/telegram/webhook/:botId", h.Webhook)
	e.POST("/webhook/:botId", h.Webhook)

	group := e.Group("/telegram")
	group.POST("/connect", h.Connect)
	group.GET("/conversations", h.ListConversations)
	group.GET("/conversations/:id/messages", h.ListMessages)
	group.POST("/reply", h.Reply)
}

// Webhook godoc
// @Summary Receive a Telegram update
// @Description Always answers 200 so Telegram does not retry
// @Tags telegram
// @Param botId path string true "Bot id"
// @Success 200 {object} map[string]bool
// @Router /telegram/webhook/{botId} [post]
func (h *TelegramHandler) Webhook(c echo.Context) error {
	botID := strings.TrimSpace(c.Param("botId"))
	var update tgbotapi.Update
	if err := c.Bind(&update); err != nil {
		h.logger.Warn("telegram update decode failed", slog.String("bot_id", botID), slog.Any("error", err))
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
	secret := c.Request().Header.Get(headerTelegramSecret)
	if secret == "" {
		secret = c.Request().Header.Get(headerPlatformSecret)
	}
	var msgs []channel.InboundMessage
	if msg, ok := telegram.NormalizeUpdate(update); ok {
		msgs = append(msgs, msg)
	}
	h.webhooks.HandleWebhook(context.WithoutCancel(c.Request().Context()), channel.PlatformTelegram, botID, secret, msgs)
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// Connect godoc
// @Summary Connect a Telegram bot
// @Description Validate the token, register the webhook and store the account
// @Tags telegram
// @Param payload body ConnectTelegramRequest true "Bot token"
// @Success 200 {object} accounts.SafeAccount
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /telegram/connect [post]
func (h *TelegramHandler) Connect(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req ConnectTelegramRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	account, err := h.accounts.Connect(c.Request().Context(), accounts.ConnectInput{
		UserID:     userID,
		Platform:   channel.PlatformTelegram,
		Credential: channel.Credential{AccessToken: strings.TrimSpace(req.BotToken)},
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, account)
}

// ListConversations godoc
// @Summary List Telegram conversations
// @Tags telegram
// @Success 200 {array} conversation.Conversation
// @Router /telegram/conversations [get]
func (h *TelegramHandler) ListConversations(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	items, err := h.conversations.ListForUser(c.Request().Context(), userID, channel.PlatformTelegram)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// ListMessages godoc
// @Summary List messages of a conversation
// @Tags telegram
// @Param id path string true "Conversation id"
// @Success 200 {array} message.Message
// @Failure 404 {object} ErrorResponse
// @Router /telegram/conversations/{id}/messages [get]
func (h *TelegramHandler) ListMessages(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	conv, err := h.conversations.GetForUser(ctx, userID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	items, err := h.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// Reply godoc
// @Summary Reply to a Telegram conversation
// @Tags telegram
// @Param payload body ReplyRequest true "Reply"
// @Success 200 {object} message.Message
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /telegram/reply [post]
func (h *TelegramHandler) Reply(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req ReplyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	msg, err := h.sender.Reply(c.Request().Context(), userID, req.ConversationID, channel.PlatformTelegram, req.Text)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, msg)
}
